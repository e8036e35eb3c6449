package donations

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/doarbem/donations-backend/internal/providers"
	"github.com/doarbem/donations-backend/pkg/config"
	"github.com/doarbem/donations-backend/pkg/db/models"
	"github.com/doarbem/donations-backend/pkg/enums"
	"github.com/doarbem/donations-backend/pkg/logger"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.Donation{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return NewRepository(conn)
}

func newTestMatcher(t *testing.T, repo *Repository) *Matcher {
	t.Helper()
	matcher, err := NewMatcher(repo, config.MatcherConfig{
		FuzzyWindow:    6 * time.Hour,
		FuzzyScanLimit: 100,
	}, logger.New(logger.Options{ServiceName: "matcher-test", Output: io.Discard}))
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return matcher
}

func TestMatchPrefersExternalID(t *testing.T) {
	repo := newTestRepo(t)
	matcher := newTestMatcher(t, repo)
	ctx := context.Background()

	seed := &models.Donation{
		ExternalID: "ext-42",
		Provider:   enums.ProviderStripe,
		Status:     enums.DonationStatusInitiateCheckout,
		Email:      "donor@example.com",
	}
	if err := repo.Create(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	row, created, err := matcher.Match(ctx, providers.RawCapture{
		Provider:       enums.ProviderStripe,
		CaptureID:      "evt_1",
		Status:         enums.DonationStatusPaid,
		ExternalIDHint: "ext-42",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if created {
		t.Fatal("expected existing row, not fallback")
	}
	if row.ID != seed.ID {
		t.Fatalf("matched wrong row: %v vs %v", row.ID, seed.ID)
	}
}

func TestMatchByProviderTransactionID(t *testing.T) {
	repo := newTestRepo(t)
	matcher := newTestMatcher(t, repo)
	ctx := context.Background()

	txID := "pi_999"
	seed := &models.Donation{
		ExternalID:    "ext-7",
		Provider:      enums.ProviderStripe,
		Status:        enums.DonationStatusInitiateCheckout,
		TransactionID: &txID,
	}
	if err := repo.Create(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	row, created, err := matcher.Match(ctx, providers.RawCapture{
		Provider:        enums.ProviderStripe,
		CaptureID:       "evt_2",
		OrderOrIntentID: "pi_999",
		Status:          enums.DonationStatusPaid,
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if created || row.ID != seed.ID {
		t.Fatalf("expected provider id match, created=%v", created)
	}
}

func TestMatchByPayPalIDs(t *testing.T) {
	repo := newTestRepo(t)
	matcher := newTestMatcher(t, repo)
	ctx := context.Background()

	orderID := "ORD-1"
	seed := &models.Donation{
		ExternalID:    "ext-8",
		Provider:      enums.ProviderPayPal,
		Status:        enums.DonationStatusInitiateCheckout,
		PayPalOrderID: &orderID,
	}
	if err := repo.Create(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	row, created, err := matcher.Match(ctx, providers.RawCapture{
		Provider:        enums.ProviderPayPal,
		CaptureID:       "CAP-2",
		OrderOrIntentID: "ORD-1",
		Status:          enums.DonationStatusPaid,
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if created || row.ID != seed.ID {
		t.Fatalf("expected paypal order id match, created=%v", created)
	}
}

func TestMatchFuzzyFallback(t *testing.T) {
	repo := newTestRepo(t)
	matcher := newTestMatcher(t, repo)
	ctx := context.Background()

	seed := &models.Donation{
		ExternalID:  "ext-9",
		Provider:    enums.ProviderNuvei,
		Status:      enums.DonationStatusInitiateCheckout,
		Email:       "donor@example.com",
		FirstName:   "Âna",
		AmountCents: 3000,
	}
	if err := repo.Create(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	row, created, err := matcher.Match(ctx, providers.RawCapture{
		Provider:       enums.ProviderNuvei,
		CaptureID:      "TX-3",
		Status:         enums.DonationStatusPaid,
		AmountCents:    3000,
		PayerEmail:     "Donor@Example.com",
		PayerFirstName: "ana",
		CreatedAtUnix:  time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if created {
		t.Fatal("expected fuzzy match, got fallback")
	}
	if row.ID != seed.ID {
		t.Fatalf("matched wrong row: %v vs %v", row.ID, seed.ID)
	}
}

func TestMatchFuzzySkipsPaidRows(t *testing.T) {
	repo := newTestRepo(t)
	matcher := newTestMatcher(t, repo)
	ctx := context.Background()

	seed := &models.Donation{
		ExternalID:  "ext-10",
		Provider:    enums.ProviderNuvei,
		Status:      enums.DonationStatusPaid,
		Email:       "donor@example.com",
		FirstName:   "Ana",
		AmountCents: 3000,
	}
	if err := repo.Create(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	row, created, err := matcher.Match(ctx, providers.RawCapture{
		Provider:       enums.ProviderNuvei,
		CaptureID:      "TX-4",
		Status:         enums.DonationStatusPaid,
		AmountCents:    3000,
		PayerEmail:     "donor@example.com",
		PayerFirstName: "Ana",
		CreatedAtUnix:  time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !created {
		t.Fatal("paid row must not fuzzy-match, expected fallback creation")
	}
	if row.ID == seed.ID {
		t.Fatal("matched the paid row")
	}
}

func TestMatchFallbackCreatesRecord(t *testing.T) {
	repo := newTestRepo(t)
	matcher := newTestMatcher(t, repo)
	ctx := context.Background()

	row, created, err := matcher.Match(ctx, providers.RawCapture{
		Provider:       enums.ProviderSquare,
		CaptureID:      "PAY-5",
		Status:         enums.DonationStatusPaid,
		AmountCents:    3000,
		Currency:       "usd",
		PayerEmail:     "Lost@Example.com",
		PayerFirstName: "Lia",
		Method:         "square",
		CreatedAtUnix:  time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !created {
		t.Fatal("expected fallback record")
	}
	if row.ExternalID != "PAY-5" {
		t.Fatalf("expected capture id as external id, got %q", row.ExternalID)
	}
	if row.Email != "lost@example.com" {
		t.Fatalf("expected lowered email, got %q", row.Email)
	}
	if row.Currency != "USD" {
		t.Fatalf("expected upper currency, got %q", row.Currency)
	}
	if row.TransactionID == nil || *row.TransactionID != "PAY-5" {
		t.Fatalf("expected transaction id set, got %v", row.TransactionID)
	}
	if row.Amount.StringFixed(2) != "30.00" {
		t.Fatalf("unexpected amount %s", row.Amount)
	}

	found, err := repo.FindByExternalID(ctx, "PAY-5")
	if err != nil {
		t.Fatalf("FindByExternalID: %v", err)
	}
	if found == nil {
		t.Fatal("fallback record not persisted")
	}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"  Ana  ":       "ana",
		"Âna-Maria":     "anamaria",
		"JOSÉ":          "jose",
		"O'Brien":       "obrien",
		"":              "",
		"François 2nd!": "francois2nd",
	}
	for input, want := range cases {
		if got := NormalizeName(input); got != want {
			t.Fatalf("NormalizeName(%q) = %q, want %q", input, got, want)
		}
	}
}
