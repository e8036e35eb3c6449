package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/doarbem/donations-backend/pkg/db/models"
	"github.com/doarbem/donations-backend/pkg/enums"
)

// Hashes is the hashed identity block for the ads conversions API. Fields
// stay empty when the source value is empty, producing a sparse object.
type Hashes struct {
	Email      string
	Phone      string
	FirstName  string
	LastName   string
	ExternalID string
}

// PaidDonation is the single canonical payload every downstream consumer
// works from: conversions, order tracking, audit, and the receipt email.
type PaidDonation struct {
	DonationID string
	ExternalID string
	Provider   enums.Provider

	Status      enums.DonationStatus
	Amount      decimal.Decimal
	AmountCents int64
	Currency    string

	ProductLabel  string
	PayerName     string
	PayerDocument string
	FirstName     string
	LastName      string
	Email         string
	Phone         string

	Hashes Hashes

	UTMSource   string
	UTMCampaign string
	UTMMedium   string
	UTMContent  string
	UTMTerm     string
	UTMID       string
	FBP         string
	FBC         string
	FBCLID      string
	IP          string
	UserAgent   string
	PageURL     string

	Country    string
	Region     string
	RegionCode string
	City       string

	Method    string
	Recurring bool
	EventTime int64
}

// Normalize reconciles the matched record into the canonical payload.
// productCode is the short product prefix used in the label.
func Normalize(record *models.Donation, productCode string) PaidDonation {
	amount, cents := reconcileAmount(record.Amount, record.AmountCents)

	currency := strings.ToUpper(strings.TrimSpace(record.Currency))
	if currency == "" {
		currency = "USD"
	}

	recurring := record.Recurring || strings.Contains(strings.ToLower(record.Method), "recurring")

	email := strings.ToLower(strings.TrimSpace(record.Email))
	phoneDigits := digitsOnly(record.Phone)

	payload := PaidDonation{
		DonationID:    record.ID.String(),
		ExternalID:    record.ExternalID,
		Provider:      record.Provider,
		Status:        record.Status,
		Amount:        amount,
		AmountCents:   cents,
		Currency:      currency,
		ProductLabel:  ProductLabel(productCode, currency, amount, recurring),
		PayerName:     strings.TrimSpace(strings.TrimSpace(record.FirstName) + " " + strings.TrimSpace(record.LastName)),
		PayerDocument: strings.TrimSpace(record.CPF),
		FirstName:     record.FirstName,
		LastName:      record.LastName,
		Email:         email,
		Phone:         record.Phone,
		UTMSource:     record.UTMSource,
		UTMCampaign:   record.UTMCampaign,
		UTMMedium:     record.UTMMedium,
		UTMContent:    record.UTMContent,
		UTMTerm:       record.UTMTerm,
		UTMID:         record.UTMID,
		FBP:           record.FBP,
		FBC:           record.FBC,
		FBCLID:        record.FBCLID,
		IP:            record.IP,
		UserAgent:     record.UserAgent,
		PageURL:       record.PageURL,
		Country:       record.Country,
		Region:        record.Region,
		RegionCode:    record.RegionCode,
		City:          record.City,
		Method:        record.Method,
		Recurring:     recurring,
		EventTime:     record.EventTime,
	}

	if email != "" {
		payload.Hashes.Email = sha256Hex(email)
	}
	if phoneDigits != "" {
		payload.Hashes.Phone = sha256Hex(phoneDigits)
	}
	if first := strings.ToLower(strings.TrimSpace(record.FirstName)); first != "" {
		payload.Hashes.FirstName = sha256Hex(first)
	}
	if last := strings.ToLower(strings.TrimSpace(record.LastName)); last != "" {
		payload.Hashes.LastName = sha256Hex(last)
	}
	if email != "" || phoneDigits != "" {
		payload.Hashes.ExternalID = sha256Hex(email + phoneDigits)
	}

	return payload
}

// reconcileAmount rebuilds whichever of the two representations is missing.
// amount_cents stays authoritative for arithmetic.
func reconcileAmount(amount decimal.Decimal, cents int64) (decimal.Decimal, int64) {
	if cents == 0 && amount.IsPositive() {
		cents = amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	}
	if amount.IsZero() && cents > 0 {
		amount = decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
	}
	return amount, cents
}

// ProductLabel renders "<code> <symbol><amount>" with a trailing " R" marker
// for recurring donations, e.g. "SPR $30.00" or "SPR R$25.00 R".
func ProductLabel(code, currency string, amount decimal.Decimal, recurring bool) string {
	label := code + " " + CurrencySymbol(currency) + amount.StringFixed(2)
	if recurring {
		label += " R"
	}
	return label
}

// CurrencySymbol maps ISO codes to display symbols, defaulting to "$".
func CurrencySymbol(currency string) string {
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case "BRL":
		return "R$"
	default:
		return "$"
	}
}

// EventID derives a stable conversions event id for one (external_id,
// event_name) pair so redelivered webhooks produce the same id and the ads
// platform can dedup them.
func EventID(externalID, eventName string) string {
	return sha256Hex(externalID + "|" + eventName)[:32]
}

func sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

func digitsOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
