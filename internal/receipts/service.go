package receipts

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/doarbem/donations-backend/internal/normalize"
	"github.com/doarbem/donations-backend/pkg/config"
	dbpkg "github.com/doarbem/donations-backend/pkg/db"
	"github.com/doarbem/donations-backend/pkg/db/models"
	"github.com/doarbem/donations-backend/pkg/enums"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	"github.com/doarbem/donations-backend/pkg/logger"
	"github.com/doarbem/donations-backend/pkg/outbox"
	"github.com/doarbem/donations-backend/pkg/outbox/payloads"
	"github.com/doarbem/donations-backend/pkg/security"
)

// Amount bands for the thank-you message, in cents.
const (
	tierMidThreshold  = 2500
	tierHighThreshold = 10000
)

// Service generates at most one receipt email per (external_id, to_email)
// pair. The receipt row and the outbox job are written in one transaction;
// a later send failure does not roll the row back.
type Service struct {
	db     *dbpkg.Client
	repo   *Repository
	outbox *outbox.Service
	cfg    config.ReceiptConfig
	logg   *logger.Logger

	now func() time.Time
}

type ServiceParams struct {
	DB     *dbpkg.Client
	Repo   *Repository
	Outbox *outbox.Service
	Config config.ReceiptConfig
	Logger *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "db client required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		db:     params.DB,
		repo:   params.Repo,
		outbox: params.Outbox,
		cfg:    params.Config,
		logg:   params.Logger,
		now:    time.Now,
	}, nil
}

// Send validates, dedups, and enqueues the receipt. Invalid addresses and
// already-receipted pairs are no-ops, not errors.
func (s *Service) Send(ctx context.Context, payload normalize.PaidDonation) error {
	toEmail := strings.ToLower(strings.TrimSpace(payload.Email))
	if _, err := mail.ParseAddress(toEmail); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"external_id": payload.ExternalID,
			"email":       payload.Email,
		})
		s.logg.Warn(logCtx, "receipt skipped, invalid email address")
		return nil
	}

	exists, err := s.repo.Exists(ctx, payload.ExternalID, toEmail)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "receipt dedup check")
	}
	if exists {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"external_id": payload.ExternalID,
			"email":       toEmail,
		})
		s.logg.Info(logCtx, "receipt already generated, skipping")
		return nil
	}

	donationID, err := uuid.Parse(payload.DonationID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "parse donation id")
	}

	token, err := security.NewTrackingToken()
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate tracking token")
	}
	now := s.now().UTC()
	row := &models.EmailReceipt{
		Token:      token,
		ExternalID: payload.ExternalID,
		ToEmail:    toEmail,
		SentAt:     now,
	}

	donatedAt := now
	if payload.EventTime > 0 {
		donatedAt = time.Unix(payload.EventTime, 0).UTC()
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.CreateTx(tx, row); err != nil {
			return err
		}
		event := payloads.ReceiptEmailRequestedEvent{
			ReceiptID:      row.ID,
			DonationID:     donationID,
			ExternalID:     payload.ExternalID,
			To:             toEmail,
			Subject:        fmt.Sprintf("%s agradece sua doacao", s.cfg.SubjectBrand),
			HumanNow:       now.Format("02/01/2006 15:04"),
			PayerName:      payload.PayerName,
			AmountLabel:    normalize.CurrencySymbol(payload.Currency) + payload.Amount.StringFixed(2),
			DonatedAt:      donatedAt.Format("02/01/2006 15:04"),
			Method:         payload.Method,
			TrackToken:     token,
			DynamicMessage: MessageForAmount(payload.AmountCents),
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReceiptEmailRequested,
			AggregateType: enums.AggregateEmailReceipt,
			AggregateID:   row.ID,
			Data:          event,
			Version:       1,
		})
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue receipt email")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"external_id": payload.ExternalID,
		"email":       toEmail,
		"receipt_id":  row.ID.String(),
	})
	s.logg.Info(logCtx, "receipt email enqueued")
	return nil
}

// MessageForAmount selects the thank-you copy by donation size.
func MessageForAmount(amountCents int64) string {
	switch {
	case amountCents >= tierHighThreshold:
		return "Sua generosidade extraordinaria transforma vidas. Muito obrigado por acreditar nessa causa."
	case amountCents >= tierMidThreshold:
		return "Sua contribuicao faz uma diferenca real. Obrigado por caminhar conosco."
	default:
		return "Cada doacao importa. Obrigado por fazer parte."
	}
}
