package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/doarbem/donations-backend/api/responses"
	"github.com/doarbem/donations-backend/pkg/logger"
)

// Pinger is the readiness surface a dependency exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthLive reports process liveness.
func HealthLive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HealthReady pings the hard dependencies. Any failure flips readiness so the
// load balancer drains the instance before webhooks start erroring.
func HealthReady(logg *logger.Logger, db Pinger, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		probe := func(name string, p Pinger) {
			if p == nil {
				checks[name] = "skipped"
				return
			}
			if err := p.Ping(ctx); err != nil {
				healthy = false
				checks[name] = "down"
				if logg != nil {
					logCtx := logg.WithFields(ctx, map[string]any{"dependency": name})
					logg.Error(logCtx, "readiness probe failed", err)
				}
				return
			}
			checks[name] = "ok"
		}

		probe("database", db)
		probe("redis", cache)

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		responses.WriteSuccess(w, status, checks)
	}
}
