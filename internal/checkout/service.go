package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/doarbem/donations-backend/internal/donations"
	"github.com/doarbem/donations-backend/internal/providers"
	"github.com/doarbem/donations-backend/pkg/config"
	"github.com/doarbem/donations-backend/pkg/db/models"
	"github.com/doarbem/donations-backend/pkg/enums"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	"github.com/doarbem/donations-backend/pkg/idempotency"
	"github.com/doarbem/donations-backend/pkg/logger"
)

// Request is the provider-agnostic checkout input after HTTP validation.
type Request struct {
	Provider   enums.Provider
	ExternalID string

	AmountCents int64
	Currency    string

	FirstName string
	LastName  string
	Email     string
	Phone     string
	CPF       string

	UTMSource   string
	UTMCampaign string
	UTMMedium   string
	UTMContent  string
	UTMTerm     string
	UTMID       string
	FBP         string
	FBC         string
	FBCLID      string
	IP          string
	UserAgent   string
	PageURL     string

	Country    string
	Region     string
	RegionCode string
	City       string

	Method    string
	Recurring bool

	SourceToken string
	ReturnURL   string
	CancelURL   string
}

// Result is what the storefront needs to continue the payment flow.
type Result struct {
	ExternalID        string               `json:"external_id"`
	Provider          enums.Provider       `json:"provider"`
	Status            enums.DonationStatus `json:"status"`
	ProviderReference string               `json:"provider_reference,omitempty"`
	ClientSecret      string               `json:"client_secret,omitempty"`
	RedirectURL       string               `json:"redirect_url,omitempty"`
}

// contextKeys is the slice of the redis client the service needs.
type contextKeys interface {
	CheckoutContextKey(externalID string) string
}

// Service creates the donation row, stashes the attribution context, and
// opens the order/intent with the selected gateway.
type Service struct {
	repo     *donations.Repository
	cache    *idempotency.Cache
	keys     contextKeys
	adapters map[enums.Provider]providers.Adapter
	cfg      config.CheckoutConfig
	logg     *logger.Logger
}

type ServiceParams struct {
	Repo     *donations.Repository
	Cache    *idempotency.Cache
	Keys     contextKeys
	Adapters map[enums.Provider]providers.Adapter
	Config   config.CheckoutConfig
	Logger   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "donation repository required")
	}
	if params.Cache == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency cache required")
	}
	if params.Keys == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cache key builder required")
	}
	if len(params.Adapters) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "at least one provider adapter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		repo:     params.Repo,
		cache:    params.Cache,
		keys:     params.Keys,
		adapters: params.Adapters,
		cfg:      params.Config,
		logg:     params.Logger,
	}, nil
}

// Start upserts the donation row, caches the checkout context, and asks the
// gateway for an order/intent. The row stays in initiate_checkout until the
// provider webhook settles it.
func (s *Service) Start(ctx context.Context, req Request) (*Result, error) {
	adapter, ok := s.adapters[req.Provider]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported provider %q", req.Provider))
	}
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		externalID = uuid.NewString()
	}

	record, err := s.upsertRecord(ctx, externalID, req)
	if err != nil {
		return nil, err
	}

	s.storeContext(ctx, externalID, req)

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"external_id": externalID,
		"provider":    string(req.Provider),
		"amount":      req.AmountCents,
	})

	charge, err := adapter.CreateCharge(ctx, providers.ChargeRequest{
		ExternalID:  externalID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:       req.Phone,
		CPF:         req.CPF,
		Recurring:   req.Recurring,
		ReturnURL:   req.ReturnURL,
		CancelURL:   req.CancelURL,
		SourceToken: req.SourceToken,
	})
	if err != nil {
		s.logg.Error(logCtx, "provider charge creation failed", err)
		return nil, err
	}

	if charge.ProviderReference != "" {
		patch := donations.Patch{}
		switch req.Provider {
		case enums.ProviderPayPal:
			patch.PayPalOrderID = charge.ProviderReference
		case enums.ProviderLytex:
			patch.GivePaymentID = charge.ProviderReference
		default:
			patch.TransactionID = charge.ProviderReference
		}
		if updates := donations.ApplyPatch(record, patch); len(updates) > 0 {
			if err := s.repo.UpdateColumns(ctx, record.ID, updates); err != nil {
				s.logg.Error(logCtx, "failed to store provider reference", err)
			}
		}
	}

	s.logg.Info(logCtx, "checkout started")
	return &Result{
		ExternalID:        externalID,
		Provider:          req.Provider,
		Status:            record.Status,
		ProviderReference: charge.ProviderReference,
		ClientSecret:      charge.ClientSecret,
		RedirectURL:       charge.RedirectURL,
	}, nil
}

func (s *Service) upsertRecord(ctx context.Context, externalID string, req Request) (*models.Donation, error) {
	patch := patchFromRequest(req)

	record, err := s.repo.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load donation")
	}
	if record == nil {
		record = &models.Donation{
			ExternalID: externalID,
			Provider:   req.Provider,
			Status:     enums.DonationStatusInitiateCheckout,
		}
		donations.ApplyPatch(record, patch)
		if err := s.repo.Create(ctx, record); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create donation")
		}
		return record, nil
	}

	updates := donations.ApplyPatch(record, patch)
	if len(updates) > 0 {
		if err := s.repo.UpdateColumns(ctx, record.ID, updates); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update donation")
		}
	}
	return record, nil
}

// storeContext is best effort: a webhook can still settle the donation
// without the cached snapshot, it just arrives with thinner attribution.
func (s *Service) storeContext(ctx context.Context, externalID string, req Request) {
	snapshot := Context{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:       req.Phone,
		CPF:         req.CPF,
		UTMSource:   req.UTMSource,
		UTMCampaign: req.UTMCampaign,
		UTMMedium:   req.UTMMedium,
		UTMContent:  req.UTMContent,
		UTMTerm:     req.UTMTerm,
		UTMID:       req.UTMID,
		FBP:         req.FBP,
		FBC:         req.FBC,
		FBCLID:      req.FBCLID,
		IP:          req.IP,
		UserAgent:   req.UserAgent,
		PageURL:     req.PageURL,
		Country:     req.Country,
		Region:      req.Region,
		RegionCode:  req.RegionCode,
		City:        req.City,
		Method:      req.Method,
		Recurring:   req.Recurring,
	}

	encoded, err := snapshot.Encode()
	if err == nil {
		err = s.cache.Put(ctx, s.keys.CheckoutContextKey(externalID), encoded, s.cfg.ContextTTL)
	}
	if err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"external_id": externalID})
		s.logg.Warn(logCtx, "failed to cache checkout context")
	}
}

func patchFromRequest(req Request) donations.Patch {
	return donations.Patch{
		Provider:    req.Provider,
		Status:      enums.DonationStatusInitiateCheckout,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:       req.Phone,
		CPF:         req.CPF,
		UTMSource:   req.UTMSource,
		UTMCampaign: req.UTMCampaign,
		UTMMedium:   req.UTMMedium,
		UTMContent:  req.UTMContent,
		UTMTerm:     req.UTMTerm,
		UTMID:       req.UTMID,
		FBP:         req.FBP,
		FBC:         req.FBC,
		FBCLID:      req.FBCLID,
		IP:          req.IP,
		UserAgent:   req.UserAgent,
		PageURL:     req.PageURL,
		Country:     req.Country,
		Region:      req.Region,
		RegionCode:  req.RegionCode,
		City:        req.City,
		Method:      req.Method,
		Recurring:   req.Recurring,
	}
}
