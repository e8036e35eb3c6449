package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/doarbem/donations-backend/pkg/enums"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	"github.com/doarbem/donations-backend/pkg/logger"
	pkgstripe "github.com/doarbem/donations-backend/pkg/stripe"
)

// StripeAdapter charges via PaymentIntents and parses signed event callbacks.
type StripeAdapter struct {
	client *pkgstripe.Client
	logg   *logger.Logger
}

func NewStripeAdapter(client *pkgstripe.Client, logg *logger.Logger) (*StripeAdapter, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &StripeAdapter{client: client, logg: logg}, nil
}

func (a *StripeAdapter) Name() enums.Provider {
	return enums.ProviderStripe
}

func (a *StripeAdapter) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{"external_id": req.ExternalID},
	}
	params.Context = ctx
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}

	return &ChargeResult{
		ProviderReference: pi.ID,
		ClientSecret:      pi.ClientSecret,
	}, nil
}

func (a *StripeAdapter) ParseCallback(ctx context.Context, body []byte, headers http.Header) (*RawCapture, error) {
	sigHeader := headers.Get("Stripe-Signature")
	if sigHeader == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing")
	}

	event, err := webhook.ConstructEvent(body, sigHeader, a.client.SigningSecret())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "verify stripe signature")
	}

	var status enums.DonationStatus
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		status = enums.DonationStatusPaid
	case stripe.EventTypePaymentIntentPaymentFailed:
		status = enums.DonationStatusFailed
	default:
		logCtx := a.logg.WithFields(ctx, map[string]any{"event_type": string(event.Type)})
		a.logg.Info(logCtx, "stripe event ignored")
		return nil, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}

	capture := &RawCapture{
		Provider:        enums.ProviderStripe,
		CaptureID:       event.ID,
		OrderOrIntentID: pi.ID,
		Status:          status,
		AmountCents:     pi.Amount,
		Currency:        strings.ToUpper(string(pi.Currency)),
		PayerEmail:      pi.ReceiptEmail,
		CreatedAtUnix:   event.Created,
		ExternalIDHint:  pi.Metadata["external_id"],
		Method:          "stripe",
	}
	return capture, nil
}
