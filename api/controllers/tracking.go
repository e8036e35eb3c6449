package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/doarbem/donations-backend/internal/receipts"
	"github.com/doarbem/donations-backend/pkg/config"
	"github.com/doarbem/donations-backend/pkg/logger"
)

// transparentPixel is a 1x1 transparent GIF.
var transparentPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// ReceiptOpen serves the receipt's tracking pixel. Unknown tokens still get
// the pixel so the endpoint does not leak which tokens exist.
func ReceiptOpen(repo *receipts.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := chi.URLParam(r, "token")

		if token != "" {
			if err := repo.RecordOpen(ctx, token, time.Now().UTC()); err != nil && logg != nil {
				logg.Error(ctx, "failed to record receipt open", err)
			}
		}

		w.Header().Set("Content-Type", "image/gif")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		w.WriteHeader(http.StatusOK)
		w.Write(transparentPixel)
	}
}

// ReceiptClick records the click and forwards to the configured landing page.
func ReceiptClick(repo *receipts.Repository, cfg config.ReceiptConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		token := chi.URLParam(r, "token")

		if token != "" {
			if err := repo.RecordClick(ctx, token, time.Now().UTC()); err != nil && logg != nil {
				logg.Error(ctx, "failed to record receipt click", err)
			}
		}

		destination := cfg.ClickRedirectURL
		if destination == "" {
			destination = "/"
		}
		http.Redirect(w, r, destination, http.StatusFound)
	}
}
