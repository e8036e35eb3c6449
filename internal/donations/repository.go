package donations

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/doarbem/donations-backend/pkg/db/models"
	"github.com/doarbem/donations-backend/pkg/enums"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByExternalID returns nil without error when no row exists.
func (r *Repository) FindByExternalID(ctx context.Context, externalID string) (*models.Donation, error) {
	var row models.Donation
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// FindByProviderIDs looks a donation up by the provider-specific transaction
// columns. Which columns are consulted depends on the provider.
func (r *Repository) FindByProviderIDs(ctx context.Context, provider enums.Provider, captureID, orderID string) (*models.Donation, error) {
	if captureID == "" && orderID == "" {
		return nil, nil
	}

	query := r.db.WithContext(ctx)
	switch provider {
	case enums.ProviderPayPal:
		switch {
		case captureID != "" && orderID != "":
			query = query.Where("paypal_capture_id = ? OR paypal_order_id = ?", captureID, orderID)
		case captureID != "":
			query = query.Where("paypal_capture_id = ?", captureID)
		default:
			query = query.Where("paypal_order_id = ?", orderID)
		}
	case enums.ProviderLytex:
		if captureID == "" {
			return nil, nil
		}
		query = query.Where("give_payment_id = ?", captureID)
	default:
		if captureID != "" && orderID != "" {
			query = query.Where("transaction_id IN ?", []string{captureID, orderID})
		} else if captureID != "" {
			query = query.Where("transaction_id = ?", captureID)
		} else {
			query = query.Where("transaction_id = ?", orderID)
		}
	}

	var row models.Donation
	err := query.First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// RecentCandidates returns the most recent unpaid donations matching payer
// email and amount within the given window, newest first, capped at limit.
func (r *Repository) RecentCandidates(ctx context.Context, email string, amountCents int64, center time.Time, window time.Duration, limit int) ([]models.Donation, error) {
	var rows []models.Donation
	err := r.db.WithContext(ctx).
		Where("email = ?", email).
		Where("amount_cents = ?", amountCents).
		Where("status <> ?", enums.DonationStatusPaid).
		Where("created_at BETWEEN ? AND ?", center.Add(-window), center.Add(window)).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) Create(ctx context.Context, row *models.Donation) error {
	return r.db.WithContext(ctx).Create(row).Error
}

// UpdateColumns applies a partial update. Callers build the column map
// through ApplyPatch so anti-wipe rules hold.
func (r *Repository) UpdateColumns(ctx context.Context, id any, columns map[string]any) error {
	if len(columns) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Donation{}).
		Where("id = ?", id).
		Updates(columns).Error
}
