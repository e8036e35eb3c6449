package receipts

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/doarbem/donations-backend/pkg/db/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Exists reports whether a receipt was already generated for the pair.
func (r *Repository) Exists(ctx context.Context, externalID, toEmail string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EmailReceipt{}).
		Where("external_id = ? AND to_email = ?", externalID, toEmail).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) CreateTx(tx *gorm.DB, row *models.EmailReceipt) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(row).Error
}

// FindByToken returns nil without error when the token is unknown.
func (r *Repository) FindByToken(ctx context.Context, token string) (*models.EmailReceipt, error) {
	var row models.EmailReceipt
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// RecordOpen bumps the open counters for a tracking token.
func (r *Repository) RecordOpen(ctx context.Context, token string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.EmailReceipt{}).
		Where("token = ?", token).
		Updates(map[string]any{
			"open_count":    gorm.Expr("open_count + 1"),
			"first_open_at": gorm.Expr("COALESCE(first_open_at, ?)", at),
			"last_open_at":  at,
		}).Error
}

// RecordClick bumps the click counters for a tracking token.
func (r *Repository) RecordClick(ctx context.Context, token string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.EmailReceipt{}).
		Where("token = ?", token).
		Updates(map[string]any{
			"click_count":    gorm.Expr("click_count + 1"),
			"first_click_at": gorm.Expr("COALESCE(first_click_at, ?)", at),
			"last_click_at":  at,
		}).Error
}
