package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/doarbem/donations-backend/internal/checkout"
	"github.com/doarbem/donations-backend/internal/donations"
	"github.com/doarbem/donations-backend/internal/normalize"
	"github.com/doarbem/donations-backend/internal/providers"
	"github.com/doarbem/donations-backend/pkg/config"
	"github.com/doarbem/donations-backend/pkg/db/models"
	"github.com/doarbem/donations-backend/pkg/enums"
	"github.com/doarbem/donations-backend/pkg/idempotency"
	"github.com/doarbem/donations-backend/pkg/logger"
	"github.com/doarbem/donations-backend/pkg/metrics"
)

var errCacheMiss = errors.New("cache miss")

type memStore struct {
	values map[string]string
}

func newMemStore() *memStore {
	return &memStore{values: map[string]string{}}
}

func (s *memStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	s.values[key] = fmt.Sprint(value)
	return nil
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	value, ok := s.values[key]
	if !ok {
		return "", errCacheMiss
	}
	return value, nil
}

func (s *memStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = fmt.Sprint(value)
	return true, nil
}

func (s *memStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

type stubKeys struct{}

func (stubKeys) WebhookSeenKey(provider, captureID string) string {
	return "seen:" + provider + ":" + captureID
}

func (stubKeys) CheckoutContextKey(externalID string) string {
	return "ctx:" + externalID
}

type stubDispatcher struct {
	payloads []normalize.PaidDonation
}

func (d *stubDispatcher) Dispatch(_ context.Context, payload normalize.PaidDonation) {
	d.payloads = append(d.payloads, payload)
}

type testHarness struct {
	service    *Service
	conn       *gorm.DB
	store      *memStore
	dispatched *stubDispatcher
}

func newTestService(t *testing.T) *testHarness {
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

	logg := logger.New(logger.Options{ServiceName: "reconcile-test", Output: io.Discard})
	store := newMemStore()
	cache, err := idempotency.NewCache(store, func(err error) bool {
		return errors.Is(err, errCacheMiss)
	})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	repo := donations.NewRepository(conn)
	matcher, err := donations.NewMatcher(repo, config.MatcherConfig{}, logg)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}

	dispatched := &stubDispatcher{}
	service := &Service{
		cache:       cache,
		keys:        stubKeys{},
		matcher:     matcher,
		repo:        repo,
		dispatcher:  dispatched,
		metrics:     metrics.NewWebhookMetrics(prometheus.NewRegistry()),
		cfg:         config.WebhookConfig{DedupTTL: time.Hour},
		productCode: "SPR",
		logg:        logg,
	}
	return &testHarness{service: service, conn: conn, store: store, dispatched: dispatched}
}

func paidCapture() *providers.RawCapture {
	return &providers.RawCapture{
		Provider:        enums.ProviderStripe,
		CaptureID:       "pi_123",
		OrderOrIntentID: "pi_123",
		Status:          enums.DonationStatusPaid,
		AmountCents:     3000,
		Currency:        "USD",
		PayerEmail:      "donor@example.com",
		PayerFirstName:  "Ana",
		CreatedAtUnix:   1770000000,
		ExternalIDHint:  "ext-42",
		Method:          "stripe",
	}
}

func TestProcessSettlesAndDispatches(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	seed := &models.Donation{
		ExternalID:  "ext-42",
		Provider:    enums.ProviderStripe,
		Status:      enums.DonationStatusInitiateCheckout,
		AmountCents: 3000,
		Currency:    "USD",
		Email:       "donor@example.com",
		UTMCampaign: "spring-b1s",
	}
	if err := h.conn.Create(seed).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := h.service.Process(ctx, paidCapture()); err != nil {
		t.Fatalf("Process: %v", err)
	}

	var row models.Donation
	if err := h.conn.Where("external_id = ?", "ext-42").First(&row).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if row.Status != enums.DonationStatusPaid {
		t.Fatalf("expected paid, got %q", row.Status)
	}
	if row.TransactionID == nil || *row.TransactionID != "pi_123" {
		t.Fatalf("expected transaction id pi_123, got %v", row.TransactionID)
	}
	if row.EventTime != 1770000000 {
		t.Fatalf("expected event time set, got %d", row.EventTime)
	}
	if row.UTMCampaign != "spring-b1s" {
		t.Fatalf("attribution was wiped: %q", row.UTMCampaign)
	}

	if len(h.dispatched.payloads) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(h.dispatched.payloads))
	}
	payload := h.dispatched.payloads[0]
	if payload.Status != enums.DonationStatusPaid || payload.AmountCents != 3000 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.ProductLabel != "SPR $30.00" {
		t.Fatalf("unexpected product label %q", payload.ProductLabel)
	}
}

func TestProcessDedupsRedelivery(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	if err := h.service.Process(ctx, paidCapture()); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if err := h.service.Process(ctx, paidCapture()); err != nil {
		t.Fatalf("redelivery should ack clean: %v", err)
	}

	if len(h.dispatched.payloads) != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", len(h.dispatched.payloads))
	}

	var count int64
	if err := h.conn.Model(&models.Donation{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one donation row, got %d", count)
	}
}

func TestProcessReleasesClaimOnFailure(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	if err := h.conn.Migrator().DropTable(&models.Donation{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	if err := h.service.Process(ctx, paidCapture()); err == nil {
		t.Fatal("expected failure with donations table gone")
	}
	if _, ok := h.store.values["seen:stripe:pi_123"]; ok {
		t.Fatal("dedup claim should be released after a failed run")
	}

	if err := h.conn.AutoMigrate(&models.Donation{}); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	if err := h.service.Process(ctx, paidCapture()); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if len(h.dispatched.payloads) != 1 {
		t.Fatalf("expected the retry to dispatch, got %d", len(h.dispatched.payloads))
	}
}

func TestProcessIgnoresNilCapture(t *testing.T) {
	h := newTestService(t)

	if err := h.service.Process(context.Background(), nil); err != nil {
		t.Fatalf("Process(nil): %v", err)
	}
	if len(h.dispatched.payloads) != 0 {
		t.Fatal("nil capture must not dispatch")
	}
}

func TestProcessEnrichesFromCheckoutContext(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	snapshot := checkout.Context{
		FirstName:   "Ana",
		Email:       "checkout@example.com",
		UTMCampaign: "spring-b2s",
		FBP:         "fb.1.123",
		IP:          "203.0.113.9",
		PageURL:     "https://donate.example.com/spring",
	}
	encoded, err := snapshot.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h.store.values["ctx:ext-42"] = encoded

	capture := paidCapture()
	capture.PayerEmail = "webhook@example.com"
	if err := h.service.Process(ctx, capture); err != nil {
		t.Fatalf("Process: %v", err)
	}

	var row models.Donation
	if err := h.conn.Where("external_id = ?", "ext-42").First(&row).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if row.UTMCampaign != "spring-b2s" || row.FBP != "fb.1.123" || row.PageURL != "https://donate.example.com/spring" {
		t.Fatalf("context fields not applied: %+v", row)
	}
	if row.Email != "webhook@example.com" {
		t.Fatalf("webhook contact should win, got %q", row.Email)
	}

	if len(h.dispatched.payloads) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(h.dispatched.payloads))
	}
	if h.dispatched.payloads[0].UTMCampaign != "spring-b2s" {
		t.Fatalf("payload missing enrichment %+v", h.dispatched.payloads[0])
	}
}

func TestProcessFallbackCreatesRecord(t *testing.T) {
	h := newTestService(t)
	ctx := context.Background()

	capture := paidCapture()
	capture.ExternalIDHint = ""
	if err := h.service.Process(ctx, capture); err != nil {
		t.Fatalf("Process: %v", err)
	}

	var row models.Donation
	if err := h.conn.First(&row).Error; err != nil {
		t.Fatalf("fallback row missing: %v", err)
	}
	if row.Status != enums.DonationStatusPaid || row.AmountCents != 3000 {
		t.Fatalf("unexpected fallback row %+v", row)
	}
	if len(h.dispatched.payloads) != 1 {
		t.Fatalf("fallback must still dispatch, got %d", len(h.dispatched.payloads))
	}
}
