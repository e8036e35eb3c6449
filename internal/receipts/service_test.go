package receipts

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/doarbem/donations-backend/internal/normalize"
	"github.com/doarbem/donations-backend/pkg/config"
	dbpkg "github.com/doarbem/donations-backend/pkg/db"
	"github.com/doarbem/donations-backend/pkg/db/models"
	"github.com/doarbem/donations-backend/pkg/enums"
	"github.com/doarbem/donations-backend/pkg/logger"
	"github.com/doarbem/donations-backend/pkg/outbox"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.EmailReceipt{}, &models.OutboxEvent{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}

	logg := logger.New(logger.Options{ServiceName: "receipts-test", Output: io.Discard})
	service, err := NewService(ServiceParams{
		DB:     dbpkg.NewFromConn(conn),
		Repo:   NewRepository(conn),
		Outbox: outbox.NewService(outbox.NewRepository(conn), logg),
		Config: config.ReceiptConfig{ProductCode: "SPR", MinAmount: 100, SubjectBrand: "DoarBem"},
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service, conn
}

func paidPayload() normalize.PaidDonation {
	return normalize.PaidDonation{
		DonationID:  uuid.NewString(),
		ExternalID:  "ext-42",
		Provider:    enums.ProviderStripe,
		Status:      enums.DonationStatusPaid,
		Amount:      decimal.RequireFromString("30.00"),
		AmountCents: 3000,
		Currency:    "USD",
		PayerName:   "Ana Silva",
		Email:       "donor@example.com",
		Method:      "stripe",
		EventTime:   time.Date(2026, 2, 10, 12, 30, 0, 0, time.UTC).Unix(),
	}
}

func TestSendCreatesReceiptAndOutboxJob(t *testing.T) {
	service, conn := newTestService(t)
	ctx := context.Background()

	if err := service.Send(ctx, paidPayload()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var receipt models.EmailReceipt
	if err := conn.First(&receipt).Error; err != nil {
		t.Fatalf("load receipt: %v", err)
	}
	if receipt.ExternalID != "ext-42" || receipt.ToEmail != "donor@example.com" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if receipt.Token == "" {
		t.Fatal("expected tracking token")
	}
	if receipt.SentAt.IsZero() {
		t.Fatal("expected sent_at")
	}

	var events []models.OutboxEvent
	if err := conn.Find(&events).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one outbox event, got %d", len(events))
	}
	if events[0].EventType != enums.EventReceiptEmailRequested {
		t.Fatalf("unexpected event type %q", events[0].EventType)
	}
	if events[0].AggregateID != receipt.ID {
		t.Fatalf("event aggregate %v does not match receipt %v", events[0].AggregateID, receipt.ID)
	}
	body := string(events[0].Payload)
	if !strings.Contains(body, receipt.Token) {
		t.Fatalf("payload missing track token: %s", body)
	}
	if !strings.Contains(body, "$30.00") {
		t.Fatalf("payload missing amount label: %s", body)
	}
}

func TestSendIsIdempotentPerPair(t *testing.T) {
	service, conn := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := service.Send(ctx, paidPayload()); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	var receiptCount, eventCount int64
	if err := conn.Model(&models.EmailReceipt{}).Count(&receiptCount).Error; err != nil {
		t.Fatalf("count receipts: %v", err)
	}
	if err := conn.Model(&models.OutboxEvent{}).Count(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if receiptCount != 1 || eventCount != 1 {
		t.Fatalf("expected one receipt and one job, got %d receipts %d jobs", receiptCount, eventCount)
	}
}

func TestSendDifferentEmailsGetSeparateReceipts(t *testing.T) {
	service, conn := newTestService(t)
	ctx := context.Background()

	if err := service.Send(ctx, paidPayload()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	other := paidPayload()
	other.Email = "second@example.com"
	if err := service.Send(ctx, other); err != nil {
		t.Fatalf("Send second: %v", err)
	}

	var count int64
	if err := conn.Model(&models.EmailReceipt{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected two receipts, got %d", count)
	}
}

func TestSendSkipsInvalidEmail(t *testing.T) {
	service, conn := newTestService(t)

	payload := paidPayload()
	payload.Email = "not-an-address"
	if err := service.Send(context.Background(), payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var count int64
	if err := conn.Model(&models.EmailReceipt{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no receipt for invalid email, got %d", count)
	}
}

func TestMessageForAmountBands(t *testing.T) {
	low := MessageForAmount(500)
	mid := MessageForAmount(2500)
	high := MessageForAmount(10000)
	if low == mid || mid == high || low == high {
		t.Fatal("expected distinct messages per band")
	}
	if MessageForAmount(2499) != low {
		t.Fatal("2499 should fall in the low band")
	}
	if MessageForAmount(9999) != mid {
		t.Fatal("9999 should fall in the mid band")
	}
}

func TestRepositoryOpenClickCounters(t *testing.T) {
	_, conn := newTestService(t)
	ctx := context.Background()

	repo := NewRepository(conn)
	row := &models.EmailReceipt{
		Token:      "tok-1",
		ExternalID: "ext-1",
		ToEmail:    "donor@example.com",
		SentAt:     time.Now(),
	}
	if err := conn.Create(row).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	if err := repo.RecordOpen(ctx, "tok-1", at); err != nil {
		t.Fatalf("RecordOpen: %v", err)
	}
	if err := repo.RecordOpen(ctx, "tok-1", at.Add(time.Hour)); err != nil {
		t.Fatalf("RecordOpen: %v", err)
	}
	if err := repo.RecordClick(ctx, "tok-1", at.Add(2*time.Hour)); err != nil {
		t.Fatalf("RecordClick: %v", err)
	}

	found, err := repo.FindByToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("FindByToken: %v", err)
	}
	if found == nil {
		t.Fatal("receipt not found")
	}
	if found.OpenCount != 2 || found.ClickCount != 1 {
		t.Fatalf("unexpected counters open=%d click=%d", found.OpenCount, found.ClickCount)
	}
	if found.FirstOpenAt == nil || !found.FirstOpenAt.Equal(at) {
		t.Fatalf("unexpected first open %v", found.FirstOpenAt)
	}
	if found.LastOpenAt == nil || !found.LastOpenAt.Equal(at.Add(time.Hour)) {
		t.Fatalf("unexpected last open %v", found.LastOpenAt)
	}

	missing, err := repo.FindByToken(ctx, "unknown")
	if err != nil {
		t.Fatalf("FindByToken unknown: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown token, got %+v", missing)
	}
}
