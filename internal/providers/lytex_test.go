package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/doarbem/donations-backend/pkg/config"
	"github.com/doarbem/donations-backend/pkg/enums"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
)

const lytexTestToken = "lytex-webhook-token"

func newLytexAdapter(t *testing.T, baseURL string) *LytexAdapter {
	t.Helper()
	adapter, err := NewLytexAdapter(config.LytexConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		WebhookToken: lytexTestToken,
		BaseURL:      baseURL,
	}, staticTokenSource(t, "bearer-token"), testLogger())
	if err != nil {
		t.Fatalf("NewLytexAdapter: %v", err)
	}
	return adapter
}

func lytexEventBody(t *testing.T, status string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"type": "invoice.updated",
		"data": map[string]any{
			"_id":         "INV-1",
			"referenceId": "ext-42",
			"status":      status,
			"totalValue":  3000,
			"paidAt":      "2026-02-10T12:30:00Z",
			"client": map[string]string{
				"name":      "Ana Maria Silva",
				"email":     "donor@example.com",
				"cellphone": "+5511999990000",
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestLytexParseCallbackPaid(t *testing.T) {
	adapter := newLytexAdapter(t, "https://api.lytex.com.br")
	headers := http.Header{}
	headers.Set(lytexTokenHeader, lytexTestToken)

	capture, err := adapter.ParseCallback(context.Background(), lytexEventBody(t, "paid"), headers)
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if capture == nil {
		t.Fatal("expected capture")
	}
	if capture.Status != enums.DonationStatusPaid {
		t.Fatalf("unexpected status %q", capture.Status)
	}
	if capture.Currency != "BRL" {
		t.Fatalf("unexpected currency %q", capture.Currency)
	}
	if capture.AmountCents != 3000 {
		t.Fatalf("unexpected amount %d", capture.AmountCents)
	}
	if capture.PayerFirstName != "Ana" || capture.PayerLastName != "Maria Silva" {
		t.Fatalf("unexpected payer split %q %q", capture.PayerFirstName, capture.PayerLastName)
	}
	if capture.ExternalIDHint != "ext-42" {
		t.Fatalf("unexpected hint %q", capture.ExternalIDHint)
	}
}

func TestLytexParseCallbackExpiredMapsFailed(t *testing.T) {
	adapter := newLytexAdapter(t, "https://api.lytex.com.br")
	headers := http.Header{}
	headers.Set(lytexTokenHeader, lytexTestToken)

	capture, err := adapter.ParseCallback(context.Background(), lytexEventBody(t, "expired"), headers)
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if capture.Status != enums.DonationStatusFailed {
		t.Fatalf("unexpected status %q", capture.Status)
	}
}

func TestLytexParseCallbackIgnoresOpenInvoices(t *testing.T) {
	adapter := newLytexAdapter(t, "https://api.lytex.com.br")
	headers := http.Header{}
	headers.Set(lytexTokenHeader, lytexTestToken)

	capture, err := adapter.ParseCallback(context.Background(), lytexEventBody(t, "open"), headers)
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if capture != nil {
		t.Fatalf("expected nil capture, got %+v", capture)
	}
}

func TestLytexParseCallbackRejectsBadToken(t *testing.T) {
	adapter := newLytexAdapter(t, "https://api.lytex.com.br")

	headers := http.Header{}
	headers.Set(lytexTokenHeader, "nope")
	_, err := adapter.ParseCallback(context.Background(), lytexEventBody(t, "paid"), headers)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLytexCreateChargeCreatesInvoice(t *testing.T) {
	var gotReferenceID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/invoices" {
			http.NotFound(w, r)
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer bearer-token" {
			t.Errorf("unexpected auth header %q", auth)
		}
		var payload struct {
			ReferenceID string `json:"referenceId"`
			Items       []struct {
				Value int64 `json:"value"`
			} `json:"items"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		gotReferenceID = payload.ReferenceID
		if len(payload.Items) != 1 || payload.Items[0].Value != 3000 {
			t.Errorf("unexpected items %+v", payload.Items)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"_id":          "INV-1",
			"linkCheckout": "https://pay.example.com/inv-1",
		})
	}))
	defer srv.Close()

	adapter := newLytexAdapter(t, srv.URL)
	result, err := adapter.CreateCharge(context.Background(), ChargeRequest{
		ExternalID:  "ext-42",
		AmountCents: 3000,
		Currency:    "BRL",
		FirstName:   "Ana",
		LastName:    "Silva",
		Email:       "donor@example.com",
	})
	if err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	if result.ProviderReference != "INV-1" {
		t.Fatalf("unexpected reference %q", result.ProviderReference)
	}
	if result.RedirectURL != "https://pay.example.com/inv-1" {
		t.Fatalf("unexpected redirect %q", result.RedirectURL)
	}
	if gotReferenceID != "ext-42" {
		t.Fatalf("unexpected reference id %q", gotReferenceID)
	}
}
