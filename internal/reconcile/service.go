package reconcile

import (
	"context"
	"time"

	"github.com/doarbem/donations-backend/internal/checkout"
	"github.com/doarbem/donations-backend/internal/donations"
	"github.com/doarbem/donations-backend/internal/fanout"
	"github.com/doarbem/donations-backend/internal/normalize"
	"github.com/doarbem/donations-backend/internal/providers"
	"github.com/doarbem/donations-backend/pkg/config"
	"github.com/doarbem/donations-backend/pkg/enums"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	"github.com/doarbem/donations-backend/pkg/idempotency"
	"github.com/doarbem/donations-backend/pkg/logger"
	"github.com/doarbem/donations-backend/pkg/metrics"
)

// cacheKeys is the slice of the redis client the service needs.
type cacheKeys interface {
	WebhookSeenKey(provider, captureID string) string
	CheckoutContextKey(externalID string) string
}

// dispatcher lets tests observe the fan-out without real downstreams.
type dispatcher interface {
	Dispatch(ctx context.Context, payload normalize.PaidDonation)
}

// Service turns one parsed provider callback into a settled donation row and
// a fan-out. The dedup claim is the only cross-delivery coordination: the
// first delivery to win the SetNX proceeds, redeliveries are no-ops, and a
// failed run releases the claim so the provider's retry can land.
type Service struct {
	cache       *idempotency.Cache
	keys        cacheKeys
	matcher     *donations.Matcher
	repo        *donations.Repository
	dispatcher  dispatcher
	metrics     *metrics.WebhookMetrics
	cfg         config.WebhookConfig
	productCode string
	logg        *logger.Logger
}

type ServiceParams struct {
	Cache       *idempotency.Cache
	Keys        cacheKeys
	Matcher     *donations.Matcher
	Repo        *donations.Repository
	Dispatcher  *fanout.Dispatcher
	Metrics     *metrics.WebhookMetrics
	Config      config.WebhookConfig
	ProductCode string
	Logger      *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Cache == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency cache required")
	}
	if params.Keys == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cache key builder required")
	}
	if params.Matcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "matcher required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "donation repository required")
	}
	if params.Dispatcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "dispatcher required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	cfg := params.Config
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 72 * time.Hour
	}
	return &Service{
		cache:       params.Cache,
		keys:        params.Keys,
		matcher:     params.Matcher,
		repo:        params.Repo,
		dispatcher:  params.Dispatcher,
		metrics:     params.Metrics,
		cfg:         cfg,
		productCode: params.ProductCode,
		logg:        params.Logger,
	}, nil
}

// Process reconciles one capture. A nil capture (ping or irrelevant event)
// and a deduped redelivery both return nil so the ingress acks with 200.
func (s *Service) Process(ctx context.Context, capture *providers.RawCapture) error {
	if capture == nil {
		return nil
	}

	provider := string(capture.Provider)
	start := time.Now()
	defer func() {
		s.metrics.ObserveDuration(provider, time.Since(start))
	}()

	dedupID := captureDedupID(capture)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"provider":   provider,
		"capture_id": dedupID,
		"status":     string(capture.Status),
	})

	key := s.keys.WebhookSeenKey(provider, dedupID)
	inserted, err := s.cache.PutIfAbsent(ctx, key, "1", s.cfg.DedupTTL)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook dedup guard")
	}
	if !inserted {
		s.metrics.IncDeduped(provider)
		s.logg.Info(logCtx, "webhook already processed, skipping")
		return nil
	}

	if err := s.settle(ctx, capture); err != nil {
		// Release the claim so the provider's webhook retry is not a no-op.
		if forgetErr := s.cache.Forget(ctx, key); forgetErr != nil {
			s.logg.Error(logCtx, "failed to release dedup claim", forgetErr)
		}
		s.logg.Error(logCtx, "webhook processing failed", err)
		return err
	}

	s.metrics.IncProcessed(provider)
	s.logg.Info(logCtx, "webhook processed")
	return nil
}

func (s *Service) settle(ctx context.Context, capture *providers.RawCapture) error {
	record, created, err := s.matcher.Match(ctx, *capture)
	if err != nil {
		return err
	}
	if created {
		s.metrics.IncFallbackCreated(string(capture.Provider))
	}

	patch := capturePatch(capture)
	if snapshot, ok := s.loadContext(ctx, record.ExternalID); ok {
		enriched := snapshot.AsPatch()
		enriched.Status = patch.Status
		enriched.AmountCents = patch.AmountCents
		enriched.Currency = patch.Currency
		enriched.EventTime = patch.EventTime
		enriched.PayPalOrderID = patch.PayPalOrderID
		enriched.PayPalCaptureID = patch.PayPalCaptureID
		enriched.TransactionID = patch.TransactionID
		enriched.GivePaymentID = patch.GivePaymentID
		// Webhook contact fields win over the cached snapshot where present.
		if patch.FirstName != "" {
			enriched.FirstName = patch.FirstName
		}
		if patch.LastName != "" {
			enriched.LastName = patch.LastName
		}
		if patch.Email != "" {
			enriched.Email = patch.Email
		}
		if patch.Phone != "" {
			enriched.Phone = patch.Phone
		}
		if patch.CPF != "" {
			enriched.CPF = patch.CPF
		}
		if patch.Method != "" {
			enriched.Method = patch.Method
		}
		enriched.Recurring = enriched.Recurring || patch.Recurring
		patch = enriched
	}

	if updates := donations.ApplyPatch(record, patch); len(updates) > 0 {
		if err := s.repo.UpdateColumns(ctx, record.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist reconciled donation")
		}
	}

	payload := normalize.Normalize(record, s.productCode)
	s.dispatcher.Dispatch(ctx, payload)
	return nil
}

func (s *Service) loadContext(ctx context.Context, externalID string) (checkout.Context, bool) {
	if externalID == "" {
		return checkout.Context{}, false
	}
	value, ok, err := s.cache.Get(ctx, s.keys.CheckoutContextKey(externalID))
	if err != nil || !ok {
		if err != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{"external_id": externalID})
			s.logg.Warn(logCtx, "checkout context lookup failed")
		}
		return checkout.Context{}, false
	}
	snapshot, err := checkout.DecodeContext(value)
	if err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"external_id": externalID})
		s.logg.Warn(logCtx, "checkout context is not valid json, ignoring")
		return checkout.Context{}, false
	}
	return snapshot, true
}

// captureDedupID picks the most specific identifier the provider gave us.
func captureDedupID(capture *providers.RawCapture) string {
	if capture.CaptureID != "" {
		return capture.CaptureID
	}
	if capture.OrderOrIntentID != "" {
		return capture.OrderOrIntentID
	}
	return capture.ExternalIDHint
}

func capturePatch(capture *providers.RawCapture) donations.Patch {
	patch := donations.Patch{
		Status:      capture.Status,
		AmountCents: capture.AmountCents,
		Currency:    capture.Currency,
		Email:       capture.PayerEmail,
		FirstName:   capture.PayerFirstName,
		LastName:    capture.PayerLastName,
		Phone:       capture.PayerPhone,
		Method:      capture.Method,
		Recurring:   capture.Recurring,
		EventTime:   capture.CreatedAtUnix,
	}
	switch capture.Provider {
	case enums.ProviderPayPal:
		patch.PayPalCaptureID = capture.CaptureID
		patch.PayPalOrderID = capture.OrderOrIntentID
	case enums.ProviderLytex:
		patch.GivePaymentID = capture.CaptureID
	default:
		patch.TransactionID = capture.CaptureID
		if patch.TransactionID == "" {
			patch.TransactionID = capture.OrderOrIntentID
		}
	}
	return patch
}
