package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/doarbem/donations-backend/pkg/enums"
)

// Donation is the canonical record for one donation attempt. It is created at
// checkout time with status initiate_checkout and mutated in place when the
// provider webhook confirms (or fails) the payment. Rows are never deleted.
type Donation struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ExternalID string    `gorm:"column:external_id;not null;uniqueIndex"`

	Provider        enums.Provider `gorm:"column:provider;not null;index"`
	PayPalOrderID   *string        `gorm:"column:paypal_order_id;index"`
	PayPalCaptureID *string        `gorm:"column:paypal_capture_id;index"`
	TransactionID   *string        `gorm:"column:transaction_id;index"`
	GivePaymentID   *string        `gorm:"column:give_payment_id"`

	Status      enums.DonationStatus `gorm:"column:status;not null;default:'initiate_checkout';index"`
	Amount      decimal.Decimal      `gorm:"column:amount;type:numeric(12,2);not null"`
	AmountCents int64                `gorm:"column:amount_cents;not null"`
	Currency    string               `gorm:"column:currency;not null;default:'USD'"`

	FirstName string `gorm:"column:first_name"`
	LastName  string `gorm:"column:last_name"`
	Email     string `gorm:"column:email;index"`
	Phone     string `gorm:"column:phone"`
	CPF       string `gorm:"column:cpf"`

	UTMSource   string `gorm:"column:utm_source"`
	UTMCampaign string `gorm:"column:utm_campaign"`
	UTMMedium   string `gorm:"column:utm_medium"`
	UTMContent  string `gorm:"column:utm_content"`
	UTMTerm     string `gorm:"column:utm_term"`
	UTMID       string `gorm:"column:utm_id"`
	FBP         string `gorm:"column:fbp"`
	FBC         string `gorm:"column:fbc"`
	FBCLID      string `gorm:"column:fbclid"`
	IP          string `gorm:"column:ip"`
	UserAgent   string `gorm:"column:client_user_agent"`
	PageURL     string `gorm:"column:page_url"`

	Country    string `gorm:"column:country"`
	Region     string `gorm:"column:region"`
	RegionCode string `gorm:"column:region_code"`
	City       string `gorm:"column:city"`

	Method    string `gorm:"column:method"`
	Recurring bool   `gorm:"column:recurring;not null;default:false"`
	// EventTime is the authoritative "when this happened" unix timestamp,
	// distinct from the row's CreatedAt.
	EventTime int64 `gorm:"column:event_time"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides GORM's default pluralization.
func (Donation) TableName() string {
	return "donations"
}

// BeforeCreate fills the id on drivers without a uuid column default.
func (d *Donation) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
