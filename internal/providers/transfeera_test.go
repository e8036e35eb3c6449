package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/doarbem/donations-backend/pkg/config"
	"github.com/doarbem/donations-backend/pkg/enums"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
)

const transfeeraTestToken = "transfeera-webhook-token"

func newTransfeeraAdapter(t *testing.T) *TransfeeraAdapter {
	t.Helper()
	adapter, err := NewTransfeeraAdapter(config.TransfeeraConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		WebhookToken: transfeeraTestToken,
		PixKey:       "pix-key@example.com",
	}, staticTokenSource(t, "bearer-token"), testLogger())
	if err != nil {
		t.Fatalf("NewTransfeeraAdapter: %v", err)
	}
	return adapter
}

func transfeeraEventBody(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"pix": []map[string]any{{
			"endToEndId": "E123",
			"txid":       "ext42donation",
			"valor":      "30.00",
			"horario":    "2026-02-10T12:30:00Z",
			"pagador": map[string]string{
				"nome": "Ana Silva",
				"cpf":  "12345678901",
			},
		}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestTransfeeraParseCallbackPixReceived(t *testing.T) {
	adapter := newTransfeeraAdapter(t)
	headers := http.Header{}
	headers.Set(transfeeraTokenHeader, transfeeraTestToken)

	capture, err := adapter.ParseCallback(context.Background(), transfeeraEventBody(t), headers)
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if capture == nil {
		t.Fatal("expected capture")
	}
	if capture.Status != enums.DonationStatusPaid {
		t.Fatalf("unexpected status %q", capture.Status)
	}
	if capture.CaptureID != "E123" || capture.OrderOrIntentID != "ext42donation" {
		t.Fatalf("unexpected ids %q %q", capture.CaptureID, capture.OrderOrIntentID)
	}
	if capture.AmountCents != 3000 || capture.Currency != "BRL" {
		t.Fatalf("unexpected money %d %q", capture.AmountCents, capture.Currency)
	}
	if capture.Method != "pix" {
		t.Fatalf("unexpected method %q", capture.Method)
	}
	if capture.PayerFirstName != "Ana" || capture.PayerLastName != "Silva" {
		t.Fatalf("unexpected payer %q %q", capture.PayerFirstName, capture.PayerLastName)
	}
}

func TestTransfeeraParseCallbackEmptyPixIgnored(t *testing.T) {
	adapter := newTransfeeraAdapter(t)
	headers := http.Header{}
	headers.Set(transfeeraTokenHeader, transfeeraTestToken)

	capture, err := adapter.ParseCallback(context.Background(), []byte(`{"pix":[]}`), headers)
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if capture != nil {
		t.Fatalf("expected nil capture, got %+v", capture)
	}
}

func TestTransfeeraParseCallbackRejectsBadToken(t *testing.T) {
	adapter := newTransfeeraAdapter(t)

	headers := http.Header{}
	headers.Set(transfeeraTokenHeader, "nope")
	_, err := adapter.ParseCallback(context.Background(), transfeeraEventBody(t), headers)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTransfeeraCreateChargeReturnsCopyPaste(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPut {
			t.Errorf("unexpected method %s", r.Method)
		}
		var payload struct {
			Chave string `json:"chave"`
			Valor struct {
				Original string `json:"original"`
			} `json:"valor"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload.Chave != "pix-key@example.com" {
			t.Errorf("unexpected pix key %q", payload.Chave)
		}
		if payload.Valor.Original != "30.00" {
			t.Errorf("unexpected amount %q", payload.Valor.Original)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"txid":          "ext42abcdefghijklmnopqrstuvwxyz",
			"pixCopiaECola": "00020126pixcode",
		})
	}))
	defer srv.Close()

	adapter := newTransfeeraAdapter(t)
	adapter.baseURL = srv.URL

	result, err := adapter.CreateCharge(context.Background(), ChargeRequest{
		ExternalID:  "ext-42-donation-abcdefghijklmnop",
		AmountCents: 3000,
		Currency:    "BRL",
	})
	if err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	if result.ClientSecret != "00020126pixcode" {
		t.Fatalf("unexpected copy paste code %q", result.ClientSecret)
	}
	if !strings.HasPrefix(gotPath, "/pix/v1/cob/") {
		t.Fatalf("unexpected path %q", gotPath)
	}
}

func TestPixTxID(t *testing.T) {
	txid := pixTxID("ext-42")
	if len(txid) != 26 {
		t.Fatalf("expected padded txid, got %q", txid)
	}
	if strings.ContainsAny(txid, "-_.") {
		t.Fatalf("txid carries forbidden chars: %q", txid)
	}

	long := pixTxID(strings.Repeat("a", 50))
	if len(long) != 35 {
		t.Fatalf("expected truncated txid, got %d chars", len(long))
	}
}
