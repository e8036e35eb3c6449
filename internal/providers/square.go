package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/doarbem/donations-backend/pkg/enums"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	"github.com/doarbem/donations-backend/pkg/logger"
	pkgsquare "github.com/doarbem/donations-backend/pkg/square"
)

const squareSignatureHeader = "X-Square-Hmacsha256-Signature"

// SquareAdapter charges through the Square Payments API and parses
// payment.updated webhook deliveries.
type SquareAdapter struct {
	client     *pkgsquare.Client
	locationID string
	logg       *logger.Logger
}

func NewSquareAdapter(client *pkgsquare.Client, locationID string, logg *logger.Logger) (*SquareAdapter, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "square client required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &SquareAdapter{client: client, locationID: locationID, logg: logg}, nil
}

func (a *SquareAdapter) Name() enums.Provider {
	return enums.ProviderSquare
}

func (a *SquareAdapter) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if req.SourceToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square source token required")
	}

	customer, err := a.client.EnsureCustomer(ctx, pkgsquare.CustomerCreateParams{
		Email:       req.Email,
		PhoneNumber: req.Phone,
		GivenName:   req.FirstName,
		FamilyName:  req.LastName,
		ReferenceID: req.ExternalID,
	})
	if err != nil {
		return nil, err
	}

	payment, err := a.client.CreatePayment(ctx, pkgsquare.PaymentCreateParams{
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		LocationID:  a.locationID,
		CustomerID:  derefString(customer.ID),
		SourceID:    req.SourceToken,
		ReferenceID: req.ExternalID,
	})
	if err != nil {
		return nil, err
	}

	return &ChargeResult{ProviderReference: derefString(payment.ID)}, nil
}

// squareEvent is the slice of a payment.updated delivery the reconciler needs.
type squareEvent struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		Object struct {
			Payment struct {
				ID          string `json:"id"`
				OrderID     string `json:"order_id"`
				Status      string `json:"status"`
				ReferenceID string `json:"reference_id"`
				BuyerEmail  string `json:"buyer_email_address"`
				CreatedAt   string `json:"created_at"`
				AmountMoney struct {
					Amount   int64  `json:"amount"`
					Currency string `json:"currency"`
				} `json:"amount_money"`
			} `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

func (a *SquareAdapter) ParseCallback(ctx context.Context, body []byte, headers http.Header) (*RawCapture, error) {
	if err := a.verifySignature(body, headers); err != nil {
		return nil, err
	}

	var event squareEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square event")
	}

	if !strings.HasPrefix(event.Type, "payment.") {
		logCtx := a.logg.WithFields(ctx, map[string]any{"event_type": event.Type})
		a.logg.Info(logCtx, "square event ignored")
		return nil, nil
	}

	payment := event.Data.Object.Payment
	var status enums.DonationStatus
	switch strings.ToUpper(payment.Status) {
	case "COMPLETED", "SUCCEEDED":
		status = enums.DonationStatusPaid
	case "CANCELED", "VOIDED", "FAILED":
		status = enums.DonationStatusFailed
	default:
		// pending/approved payments report again once settled
		logCtx := a.logg.WithFields(ctx, map[string]any{
			"event_type":     event.Type,
			"payment_status": payment.Status,
		})
		a.logg.Info(logCtx, "square payment not settled, ignoring")
		return nil, nil
	}

	createdAt := parseRFC3339Unix(payment.CreatedAt)
	if createdAt == 0 {
		createdAt = parseRFC3339Unix(event.CreatedAt)
	}

	return &RawCapture{
		Provider:        enums.ProviderSquare,
		CaptureID:       payment.ID,
		OrderOrIntentID: payment.OrderID,
		Status:          status,
		AmountCents:     payment.AmountMoney.Amount,
		Currency:        strings.ToUpper(payment.AmountMoney.Currency),
		PayerEmail:      payment.BuyerEmail,
		CreatedAtUnix:   createdAt,
		ExternalIDHint:  payment.ReferenceID,
		Method:          "square",
	}, nil
}

func (a *SquareAdapter) verifySignature(body []byte, headers http.Header) error {
	secret := a.client.SigningSecret()
	if secret == "" {
		return pkgerrors.New(pkgerrors.CodeInternal, "square webhook secret not configured")
	}
	provided := headers.Get(squareSignatureHeader)
	if provided == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "missing square signature header")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return pkgerrors.New(pkgerrors.CodeValidation, "square signature mismatch")
	}
	return nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
