package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/doarbem/donations-backend/pkg/config"
)

func TestTrackingSendsOrderPayload(t *testing.T) {
	var gotToken string
	var got struct {
		OrderID       string `json:"orderId"`
		Platform      string `json:"platform"`
		PaymentMethod string `json:"paymentMethod"`
		Status        string `json:"status"`
		IsTest        bool   `json:"isTest"`
		Customer      struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"customer"`
		Products []struct {
			Name         string `json:"name"`
			Quantity     int    `json:"quantity"`
			PriceInCents int64  `json:"priceInCents"`
		} `json:"products"`
		Commission struct {
			TotalPriceInCents     int64  `json:"totalPriceInCents"`
			GatewayFeeInCents     int64  `json:"gatewayFeeInCents"`
			UserCommissionInCents int64  `json:"userCommissionInCents"`
			Currency              string `json:"currency"`
		} `json:"commission"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("x-api-token")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewTrackingClient(config.TrackingConfig{
		Endpoint:           srv.URL,
		APIToken:           "track-token",
		Platform:           "doarbem",
		GatewayFeeBasisPts: 300,
	}, testFanoutLogger())
	if err != nil {
		t.Fatalf("NewTrackingClient: %v", err)
	}

	payload := paidPayload("B1S")
	payload.PayerName = "Ana Silva"
	payload.Method = "stripe"
	if err := client.Send(context.Background(), payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotToken != "track-token" {
		t.Fatalf("unexpected api token %q", gotToken)
	}
	if got.OrderID != "ext-42" || got.Platform != "doarbem" || got.PaymentMethod != "stripe" {
		t.Fatalf("unexpected order fields %+v", got)
	}
	if got.Status != "paid" || got.IsTest {
		t.Fatalf("unexpected status fields %+v", got)
	}
	if got.Customer.Name != "Ana Silva" || got.Customer.Email != "donor@example.com" {
		t.Fatalf("unexpected customer %+v", got.Customer)
	}
	if len(got.Products) != 1 || got.Products[0].PriceInCents != 3000 || got.Products[0].Quantity != 1 {
		t.Fatalf("unexpected products %+v", got.Products)
	}
	if got.Products[0].Name != "SPR $30.00" {
		t.Fatalf("unexpected product name %q", got.Products[0].Name)
	}
	if got.Commission.TotalPriceInCents != 3000 {
		t.Fatalf("unexpected commission total %d", got.Commission.TotalPriceInCents)
	}
	if got.Commission.GatewayFeeInCents != 90 {
		t.Fatalf("unexpected gateway fee %d", got.Commission.GatewayFeeInCents)
	}
	if got.Commission.UserCommissionInCents != 2910 {
		t.Fatalf("unexpected user commission %d", got.Commission.UserCommissionInCents)
	}
	if got.Commission.Currency != "USD" {
		t.Fatalf("unexpected currency %q", got.Commission.Currency)
	}
}

func TestTrackingPropagatesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad order", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client, err := NewTrackingClient(config.TrackingConfig{
		Endpoint: srv.URL,
		APIToken: "track-token",
	}, testFanoutLogger())
	if err != nil {
		t.Fatalf("NewTrackingClient: %v", err)
	}

	if err := client.Send(context.Background(), paidPayload("B1S")); err == nil {
		t.Fatal("expected error from rejected order")
	}
}
