package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/doarbem/donations-backend/pkg/db/models"
	"github.com/doarbem/donations-backend/pkg/enums"
)

func hashOf(t *testing.T, input string) string {
	t.Helper()
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func TestNormalizeReconcilesAmountFromCents(t *testing.T) {
	record := &models.Donation{
		ID:          uuid.New(),
		ExternalID:  "ext-42",
		Status:      enums.DonationStatusPaid,
		AmountCents: 3050,
		Currency:    "usd",
	}

	payload := Normalize(record, "SPR")
	if payload.Amount.StringFixed(2) != "30.50" {
		t.Fatalf("unexpected amount %s", payload.Amount)
	}
	if payload.AmountCents != 3050 {
		t.Fatalf("unexpected cents %d", payload.AmountCents)
	}
	if payload.Currency != "USD" {
		t.Fatalf("unexpected currency %q", payload.Currency)
	}
}

func TestNormalizeReconcilesCentsFromAmount(t *testing.T) {
	record := &models.Donation{
		ID:         uuid.New(),
		ExternalID: "ext-42",
		Amount:     decimal.RequireFromString("30.50"),
	}

	payload := Normalize(record, "SPR")
	if payload.AmountCents != 3050 {
		t.Fatalf("unexpected cents %d", payload.AmountCents)
	}
}

func TestProductLabel(t *testing.T) {
	amount := decimal.RequireFromString("30")

	if got := ProductLabel("SPR", "USD", amount, false); got != "SPR $30.00" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := ProductLabel("SPR", "BRL", amount, false); got != "SPR R$30.00" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := ProductLabel("SPR", "USD", amount, true); got != "SPR $30.00 R" {
		t.Fatalf("unexpected label %q", got)
	}
	if got := ProductLabel("SPR", "EUR", amount, false); got != "SPR $30.00" {
		t.Fatalf("unknown currency should use default symbol, got %q", got)
	}
}

func TestNormalizeRecurringFromMethod(t *testing.T) {
	record := &models.Donation{
		ID:          uuid.New(),
		ExternalID:  "ext-42",
		AmountCents: 3000,
		Method:      "paypal recurring",
	}

	payload := Normalize(record, "SPR")
	if !payload.Recurring {
		t.Fatal("expected recurring from method string")
	}
	if payload.ProductLabel != "SPR $30.00 R" {
		t.Fatalf("unexpected label %q", payload.ProductLabel)
	}
}

func TestNormalizeHashesAreSparse(t *testing.T) {
	record := &models.Donation{
		ID:          uuid.New(),
		ExternalID:  "ext-42",
		AmountCents: 3000,
		Email:       "  Donor@Example.COM ",
		Phone:       "+55 (11) 99999-0000",
		FirstName:   "Ana",
	}

	payload := Normalize(record, "SPR")
	if payload.Hashes.Email != hashOf(t, "donor@example.com") {
		t.Fatalf("unexpected email hash %q", payload.Hashes.Email)
	}
	if payload.Hashes.Phone != hashOf(t, "5511999990000") {
		t.Fatalf("unexpected phone hash %q", payload.Hashes.Phone)
	}
	if payload.Hashes.FirstName != hashOf(t, "ana") {
		t.Fatalf("unexpected first name hash %q", payload.Hashes.FirstName)
	}
	if payload.Hashes.LastName != "" {
		t.Fatalf("expected empty last name hash, got %q", payload.Hashes.LastName)
	}
	if payload.Hashes.ExternalID != hashOf(t, "donor@example.com5511999990000") {
		t.Fatalf("unexpected external id hash %q", payload.Hashes.ExternalID)
	}
}

func TestNormalizeHashesEmptyWhenNoIdentity(t *testing.T) {
	record := &models.Donation{ID: uuid.New(), ExternalID: "ext-42", AmountCents: 3000}

	payload := Normalize(record, "SPR")
	if payload.Hashes != (Hashes{}) {
		t.Fatalf("expected empty hash block, got %+v", payload.Hashes)
	}
}

func TestEventIDStable(t *testing.T) {
	a := EventID("ext-42", "Purchase")
	b := EventID("ext-42", "Purchase")
	if a != b {
		t.Fatalf("event id not stable: %q vs %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("unexpected event id length %d", len(a))
	}
	if a == EventID("ext-42", "Donate") {
		t.Fatal("event name must change the id")
	}
	if a == EventID("ext-43", "Purchase") {
		t.Fatal("external id must change the id")
	}
}

func TestNormalizePayerName(t *testing.T) {
	record := &models.Donation{ID: uuid.New(), ExternalID: "e", FirstName: " Ana ", LastName: ""}
	if got := Normalize(record, "SPR").PayerName; got != "Ana" {
		t.Fatalf("unexpected payer name %q", got)
	}
}
