package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doarbem/donations-backend/api/controllers"
	webhookcontrollers "github.com/doarbem/donations-backend/api/controllers/webhooks"
	"github.com/doarbem/donations-backend/api/middleware"
	checkoutsvc "github.com/doarbem/donations-backend/internal/checkout"
	"github.com/doarbem/donations-backend/internal/providers"
	"github.com/doarbem/donations-backend/internal/receipts"
	"github.com/doarbem/donations-backend/pkg/config"
	"github.com/doarbem/donations-backend/pkg/enums"
	"github.com/doarbem/donations-backend/pkg/logger"
	"github.com/doarbem/donations-backend/pkg/metrics"
)

// webhookOrder fixes the mount order so the route table is stable.
var webhookOrder = []enums.Provider{
	enums.ProviderStripe,
	enums.ProviderPayPal,
	enums.ProviderSquare,
	enums.ProviderNuvei,
	enums.ProviderLytex,
	enums.ProviderTransfeera,
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	cacheP controllers.Pinger,
	checkoutService *checkoutsvc.Service,
	reconcileService webhookcontrollers.Processor,
	adapters map[enums.Provider]providers.Adapter,
	receiptsRepo *receipts.Repository,
	webhookMetrics *metrics.WebhookMetrics,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive())
		r.Get("/ready", controllers.HealthReady(logg, dbP, cacheP))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/checkout", controllers.Checkout(checkoutService, logg))

		r.Route("/webhooks", func(r chi.Router) {
			for _, provider := range webhookOrder {
				adapter, ok := adapters[provider]
				if !ok {
					continue
				}
				r.Post("/"+string(provider), webhookcontrollers.Handler(adapter, reconcileService, webhookMetrics, logg))
			}
		})
	})

	if receiptsRepo != nil {
		r.Route("/t", func(r chi.Router) {
			r.Get("/o/{token}", controllers.ReceiptOpen(receiptsRepo, logg))
			r.Get("/c/{token}", controllers.ReceiptClick(receiptsRepo, cfg.Receipt, logg))
		})
	}

	return r
}
