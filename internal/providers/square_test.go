package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/doarbem/donations-backend/pkg/config"
	"github.com/doarbem/donations-backend/pkg/enums"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	pkgsquare "github.com/doarbem/donations-backend/pkg/square"
)

const squareTestSecret = "whsec-test"

func newSquareAdapter(t *testing.T) *SquareAdapter {
	t.Helper()
	client, err := pkgsquare.NewClient(context.Background(), config.SquareConfig{
		AccessToken:   "sq-test-token",
		WebhookSecret: squareTestSecret,
		Env:           "sandbox",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	adapter, err := NewSquareAdapter(client, "LOC-1", testLogger())
	if err != nil {
		t.Fatalf("NewSquareAdapter: %v", err)
	}
	return adapter
}

func squareEventBody(t *testing.T, paymentStatus string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"event_id":   "evt-1",
		"type":       "payment.updated",
		"created_at": "2026-02-10T12:30:00Z",
		"data": map[string]any{
			"object": map[string]any{
				"payment": map[string]any{
					"id":                  "PAY-1",
					"order_id":            "ORD-1",
					"status":              paymentStatus,
					"reference_id":        "ext-42",
					"buyer_email_address": "donor@example.com",
					"created_at":          "2026-02-10T12:29:50Z",
					"amount_money":        map[string]any{"amount": 3000, "currency": "usd"},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func signSquareBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(squareTestSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestSquareParseCallbackCompleted(t *testing.T) {
	adapter := newSquareAdapter(t)
	body := squareEventBody(t, "COMPLETED")
	headers := http.Header{}
	headers.Set(squareSignatureHeader, signSquareBody(body))

	capture, err := adapter.ParseCallback(context.Background(), body, headers)
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if capture == nil {
		t.Fatal("expected capture")
	}
	if capture.Status != enums.DonationStatusPaid {
		t.Fatalf("unexpected status %q", capture.Status)
	}
	if capture.CaptureID != "PAY-1" || capture.OrderOrIntentID != "ORD-1" {
		t.Fatalf("unexpected ids %q %q", capture.CaptureID, capture.OrderOrIntentID)
	}
	if capture.AmountCents != 3000 || capture.Currency != "USD" {
		t.Fatalf("unexpected money %d %q", capture.AmountCents, capture.Currency)
	}
	if capture.ExternalIDHint != "ext-42" {
		t.Fatalf("unexpected hint %q", capture.ExternalIDHint)
	}
}

func TestSquareParseCallbackCanceledMapsFailed(t *testing.T) {
	adapter := newSquareAdapter(t)
	body := squareEventBody(t, "CANCELED")
	headers := http.Header{}
	headers.Set(squareSignatureHeader, signSquareBody(body))

	capture, err := adapter.ParseCallback(context.Background(), body, headers)
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if capture.Status != enums.DonationStatusFailed {
		t.Fatalf("unexpected status %q", capture.Status)
	}
}

func TestSquareParseCallbackPendingIgnored(t *testing.T) {
	adapter := newSquareAdapter(t)
	body := squareEventBody(t, "PENDING")
	headers := http.Header{}
	headers.Set(squareSignatureHeader, signSquareBody(body))

	capture, err := adapter.ParseCallback(context.Background(), body, headers)
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if capture != nil {
		t.Fatalf("expected nil capture, got %+v", capture)
	}
}

func TestSquareParseCallbackRejectsBadSignature(t *testing.T) {
	adapter := newSquareAdapter(t)
	body := squareEventBody(t, "COMPLETED")

	headers := http.Header{}
	headers.Set(squareSignatureHeader, "deadbeef")
	_, err := adapter.ParseCallback(context.Background(), body, headers)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = adapter.ParseCallback(context.Background(), body, http.Header{})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for missing header, got %v", err)
	}
}
