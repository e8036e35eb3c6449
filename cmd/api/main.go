package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/doarbem/donations-backend/api/routes"
	"github.com/doarbem/donations-backend/internal/checkout"
	"github.com/doarbem/donations-backend/internal/donations"
	"github.com/doarbem/donations-backend/internal/fanout"
	"github.com/doarbem/donations-backend/internal/providers"
	"github.com/doarbem/donations-backend/internal/providers/oauth"
	"github.com/doarbem/donations-backend/internal/receipts"
	"github.com/doarbem/donations-backend/internal/reconcile"
	"github.com/doarbem/donations-backend/pkg/bigquery"
	"github.com/doarbem/donations-backend/pkg/config"
	"github.com/doarbem/donations-backend/pkg/db"
	"github.com/doarbem/donations-backend/pkg/enums"
	"github.com/doarbem/donations-backend/pkg/idempotency"
	"github.com/doarbem/donations-backend/pkg/logger"
	"github.com/doarbem/donations-backend/pkg/metrics"
	"github.com/doarbem/donations-backend/pkg/migrate"
	"github.com/doarbem/donations-backend/pkg/outbox"
	"github.com/doarbem/donations-backend/pkg/redis"
	pkgsquare "github.com/doarbem/donations-backend/pkg/square"
	pkgstripe "github.com/doarbem/donations-backend/pkg/stripe"
)

const providerHTTPTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := context.Background()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	cache, err := idempotency.NewCache(redisClient, redis.IsNil)
	if err != nil {
		logg.Error(ctx, "failed to build idempotency cache", err)
		os.Exit(1)
	}

	adapters, err := buildAdapters(ctx, cfg, cache, redisClient, logg)
	if err != nil {
		logg.Error(ctx, "failed to build provider adapters", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	donationRepo := donations.NewRepository(dbClient.DB())
	matcher, err := donations.NewMatcher(donationRepo, cfg.Matcher, logg)
	if err != nil {
		logg.Error(ctx, "failed to build matcher", err)
		os.Exit(1)
	}

	conversions, err := fanout.NewConversionsClient(cfg.Conversions, logg)
	if err != nil {
		logg.Error(ctx, "failed to build conversions client", err)
		os.Exit(1)
	}
	tracking, err := fanout.NewTrackingClient(cfg.Tracking, logg)
	if err != nil {
		logg.Error(ctx, "failed to build tracking client", err)
		os.Exit(1)
	}

	var auditClient *bigquery.Client
	if cfg.GCP.ProjectID != "" && cfg.BigQuery.DonationEventsTable != "" {
		auditClient, err = bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
		if err != nil {
			logg.Error(ctx, "failed to build bigquery audit client", err)
			os.Exit(1)
		}
		defer auditClient.Close()
	}

	receiptsRepo := receipts.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	receiptService, err := receipts.NewService(receipts.ServiceParams{
		DB:     dbClient,
		Repo:   receiptsRepo,
		Outbox: outboxService,
		Config: cfg.Receipt,
		Logger: logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to build receipt service", err)
		os.Exit(1)
	}

	dispatcher, err := fanout.NewDispatcher(fanout.DispatcherParams{
		Conversions: conversions,
		Tracking:    tracking,
		Receipts:    receiptService,
		Audit:       auditClient,
		BigQuery:    cfg.BigQuery,
		Receipt:     cfg.Receipt,
		Metrics:     webhookMetrics,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to build dispatcher", err)
		os.Exit(1)
	}

	reconcileService, err := reconcile.NewService(reconcile.ServiceParams{
		Cache:       cache,
		Keys:        redisClient,
		Matcher:     matcher,
		Repo:        donationRepo,
		Dispatcher:  dispatcher,
		Metrics:     webhookMetrics,
		Config:      cfg.Webhook,
		ProductCode: cfg.Receipt.ProductCode,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to build reconcile service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Repo:     donationRepo,
		Cache:    cache,
		Keys:     redisClient,
		Adapters: adapters,
		Config:   cfg.Checkout,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to build checkout service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	startCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(startCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			checkoutService,
			reconcileService,
			adapters,
			receiptsRepo,
			webhookMetrics,
			registry,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(startCtx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

// buildAdapters wires every gateway with configured credentials. Gateways
// without credentials are skipped so a deployment can run a subset.
func buildAdapters(
	ctx context.Context,
	cfg *config.Config,
	cache *idempotency.Cache,
	redisClient *redis.Client,
	logg *logger.Logger,
) (map[enums.Provider]providers.Adapter, error) {
	adapters := map[enums.Provider]providers.Adapter{}

	if cfg.Stripe.APIKey != "" {
		stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, err
		}
		adapter, err := providers.NewStripeAdapter(stripeClient, logg)
		if err != nil {
			return nil, err
		}
		adapters[enums.ProviderStripe] = adapter
	}

	if cfg.PayPal.ClientID != "" {
		tokens, err := oauth.NewTokenSource(
			cache,
			redisClient.OAuthTokenKey("paypal", cfg.PayPal.Env),
			providers.FetchPayPalToken(cfg.PayPal, providerHTTPTimeout),
		)
		if err != nil {
			return nil, err
		}
		adapter, err := providers.NewPayPalAdapter(cfg.PayPal, tokens, logg)
		if err != nil {
			return nil, err
		}
		adapters[enums.ProviderPayPal] = adapter
	}

	if cfg.Square.AccessToken != "" {
		squareClient, err := pkgsquare.NewClient(ctx, cfg.Square, logg)
		if err != nil {
			return nil, err
		}
		adapter, err := providers.NewSquareAdapter(squareClient, cfg.Square.LocationID, logg)
		if err != nil {
			return nil, err
		}
		adapters[enums.ProviderSquare] = adapter
	}

	if cfg.Nuvei.MerchantID != "" {
		adapter, err := providers.NewNuveiAdapter(cfg.Nuvei, logg)
		if err != nil {
			return nil, err
		}
		adapters[enums.ProviderNuvei] = adapter
	}

	if cfg.Lytex.ClientID != "" {
		tokens, err := oauth.NewTokenSource(
			cache,
			redisClient.OAuthTokenKey("lytex", "production"),
			providers.FetchLytexToken(cfg.Lytex, providerHTTPTimeout),
		)
		if err != nil {
			return nil, err
		}
		adapter, err := providers.NewLytexAdapter(cfg.Lytex, tokens, logg)
		if err != nil {
			return nil, err
		}
		adapters[enums.ProviderLytex] = adapter
	}

	if cfg.Transfeera.ClientID != "" {
		tokens, err := oauth.NewTokenSource(
			cache,
			redisClient.OAuthTokenKey("transfeera", cfg.Transfeera.Env),
			providers.FetchTransfeeraToken(cfg.Transfeera, providerHTTPTimeout),
		)
		if err != nil {
			return nil, err
		}
		adapter, err := providers.NewTransfeeraAdapter(cfg.Transfeera, tokens, logg)
		if err != nil {
			return nil, err
		}
		adapters[enums.ProviderTransfeera] = adapter
	}

	return adapters, nil
}
