package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EmailReceipt records one thank-you email per (external_id, to_email) pair.
// Existence of the pair is the email dedup guard; the row is created before
// the send job runs and is not rolled back if the send ultimately fails.
type EmailReceipt struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Token      string    `gorm:"column:token;not null;uniqueIndex"`
	ExternalID string    `gorm:"column:external_id;not null;uniqueIndex:idx_email_receipts_external_to"`
	ToEmail    string    `gorm:"column:to_email;not null;uniqueIndex:idx_email_receipts_external_to"`

	SentAt       time.Time  `gorm:"column:sent_at;not null"`
	OpenCount    int        `gorm:"column:open_count;not null;default:0"`
	ClickCount   int        `gorm:"column:click_count;not null;default:0"`
	FirstOpenAt  *time.Time `gorm:"column:first_open_at"`
	LastOpenAt   *time.Time `gorm:"column:last_open_at"`
	FirstClickAt *time.Time `gorm:"column:first_click_at"`
	LastClickAt  *time.Time `gorm:"column:last_click_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides GORM's default pluralization.
func (EmailReceipt) TableName() string {
	return "email_receipts"
}

// BeforeCreate fills the id on drivers without a uuid column default.
func (r *EmailReceipt) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
