package fanout

import (
	"context"
	"time"

	"github.com/doarbem/donations-backend/internal/normalize"
	"github.com/doarbem/donations-backend/pkg/bigquery"
	"github.com/doarbem/donations-backend/pkg/config"
	"github.com/doarbem/donations-backend/pkg/enums"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	"github.com/doarbem/donations-backend/pkg/logger"
	"github.com/doarbem/donations-backend/pkg/metrics"
)

// ReceiptSender enqueues the thank-you email for a paid donation.
type ReceiptSender interface {
	Send(ctx context.Context, payload normalize.PaidDonation) error
}

// conversionsSender and trackingSender shape the two marketing clients for
// dispatcher tests.
type conversionsSender interface {
	Send(ctx context.Context, eventName string, payload normalize.PaidDonation) error
}

type trackingSender interface {
	Send(ctx context.Context, payload normalize.PaidDonation) error
}

// DonationEventRow is the BigQuery audit row written per dispatched payload.
type DonationEventRow struct {
	DonationID   string    `bigquery:"donation_id"`
	ExternalID   string    `bigquery:"external_id"`
	Provider     string    `bigquery:"provider"`
	Status       string    `bigquery:"status"`
	AmountCents  int64     `bigquery:"amount_cents"`
	Currency     string    `bigquery:"currency"`
	Method       string    `bigquery:"method"`
	Recurring    bool      `bigquery:"recurring"`
	UTMCampaign  string    `bigquery:"utm_campaign"`
	EventTime    int64     `bigquery:"event_time"`
	DispatchedAt time.Time `bigquery:"dispatched_at"`
}

// Dispatcher fans a normalized paid donation out to the conversions API, the
// order-tracking API, and the receipt pipeline, plus an audit row. The
// branches are independent: one failing never blocks the others.
type Dispatcher struct {
	conversions conversionsSender
	tracking    trackingSender
	receipts    ReceiptSender
	audit       *bigquery.Client
	auditTable  string
	minAmount   int64
	metrics     *metrics.WebhookMetrics
	logg        *logger.Logger
}

type DispatcherParams struct {
	Conversions *ConversionsClient
	Tracking    *TrackingClient
	Receipts    ReceiptSender
	Audit       *bigquery.Client
	BigQuery    config.BigQueryConfig
	Receipt     config.ReceiptConfig
	Metrics     *metrics.WebhookMetrics
	Logger      *logger.Logger
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Conversions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "conversions client required")
	}
	if params.Tracking == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tracking client required")
	}
	if params.Receipts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "receipt sender required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	minAmount := params.Receipt.MinAmount
	if minAmount <= 0 {
		minAmount = 100
	}
	return &Dispatcher{
		conversions: params.Conversions,
		tracking:    params.Tracking,
		receipts:    params.Receipts,
		audit:       params.Audit,
		auditTable:  params.BigQuery.DonationEventsTable,
		minAmount:   minAmount,
		metrics:     params.Metrics,
		logg:        params.Logger,
	}, nil
}

// Dispatch runs the fan-out. It returns nil when the payload is skipped by
// the business floor; branch failures are logged and counted, never
// propagated, because the money has already moved.
func (d *Dispatcher) Dispatch(ctx context.Context, payload normalize.PaidDonation) {
	if payload.Status != enums.DonationStatusPaid || payload.AmountCents < d.minAmount {
		logCtx := d.logg.WithFields(ctx, map[string]any{
			"external_id":  payload.ExternalID,
			"status":       string(payload.Status),
			"amount_cents": payload.AmountCents,
		})
		d.logg.Info(logCtx, "fan-out skipped, payload below dispatch floor")
		return
	}

	if err := d.conversions.Send(ctx, EventNamePurchase, payload); err != nil {
		d.branchFailed(ctx, "conversions", payload.ExternalID, err)
	}
	// the legacy gateway flow historically reported a second Donate event
	if payload.Provider == enums.ProviderLytex {
		if err := d.conversions.Send(ctx, EventNameDonate, payload); err != nil {
			d.branchFailed(ctx, "conversions", payload.ExternalID, err)
		}
	}

	if err := d.tracking.Send(ctx, payload); err != nil {
		d.branchFailed(ctx, "tracking", payload.ExternalID, err)
	}

	if err := d.receipts.Send(ctx, payload); err != nil {
		d.branchFailed(ctx, "receipt", payload.ExternalID, err)
	}

	d.auditRow(ctx, payload)
}

func (d *Dispatcher) branchFailed(ctx context.Context, destination, externalID string, err error) {
	d.metrics.IncFanoutFailure(destination)
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"destination": destination,
		"external_id": externalID,
	})
	d.logg.Error(logCtx, "fan-out branch failed", err)
}

func (d *Dispatcher) auditRow(ctx context.Context, payload normalize.PaidDonation) {
	if d.audit == nil || d.auditTable == "" {
		return
	}
	row := DonationEventRow{
		DonationID:   payload.DonationID,
		ExternalID:   payload.ExternalID,
		Provider:     string(payload.Provider),
		Status:       string(payload.Status),
		AmountCents:  payload.AmountCents,
		Currency:     payload.Currency,
		Method:       payload.Method,
		Recurring:    payload.Recurring,
		UTMCampaign:  payload.UTMCampaign,
		EventTime:    payload.EventTime,
		DispatchedAt: time.Now().UTC(),
	}
	if err := d.audit.InsertRows(ctx, d.auditTable, []any{row}); err != nil {
		d.branchFailed(ctx, "bigquery", payload.ExternalID, err)
	}
}
