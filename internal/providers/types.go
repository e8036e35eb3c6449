package providers

import (
	"context"
	"net/http"

	"github.com/doarbem/donations-backend/pkg/enums"
)

// ChargeRequest is the provider-agnostic input for creating an order/intent.
type ChargeRequest struct {
	ExternalID  string
	AmountCents int64
	Currency    string
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	CPF         string
	Recurring   bool
	ReturnURL   string
	CancelURL   string
	// SourceToken is a client-side payment token (card nonce, payment method id)
	// for providers that charge synchronously.
	SourceToken string
}

// ChargeResult is what the checkout flow hands back to the client.
type ChargeResult struct {
	ProviderReference string
	ClientSecret      string
	RedirectURL       string
}

// RawCapture is the normalized extraction of one provider callback. Adapters
// return nil (no error) for events that are not capture/payment completions;
// the ingress acknowledges those with 200 so the provider stops retrying.
type RawCapture struct {
	Provider        enums.Provider
	CaptureID       string
	OrderOrIntentID string
	Status          enums.DonationStatus
	AmountCents     int64
	Currency        string
	PayerEmail      string
	PayerFirstName  string
	PayerLastName   string
	PayerPhone      string
	CreatedAtUnix   int64
	ExternalIDHint  string
	RawNote         string
	Recurring       bool
	Method          string
}

// Adapter is implemented once per payment gateway.
type Adapter interface {
	Name() enums.Provider
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	ParseCallback(ctx context.Context, body []byte, headers http.Header) (*RawCapture, error)
}
