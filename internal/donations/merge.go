package donations

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/doarbem/donations-backend/pkg/db/models"
	"github.com/doarbem/donations-backend/pkg/enums"
)

// Patch carries the fields a webhook or checkout call may contribute to an
// existing donation. Empty strings and zero values mean "not provided".
type Patch struct {
	Provider        enums.Provider
	Status          enums.DonationStatus
	AmountCents     int64
	Currency        string
	PayPalOrderID   string
	PayPalCaptureID string
	TransactionID   string
	GivePaymentID   string
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	CPF             string
	UTMSource       string
	UTMCampaign     string
	UTMMedium       string
	UTMContent      string
	UTMTerm         string
	UTMID           string
	FBP             string
	FBC             string
	FBCLID          string
	IP              string
	UserAgent       string
	PageURL         string
	Country         string
	Region          string
	RegionCode      string
	City            string
	Method          string
	Recurring       bool
	EventTime       int64
}

// ApplyPatch merges the patch into the record and returns the column map for
// a partial update. A populated column is never overwritten with an empty
// incoming value, and a paid record is never downgraded to a non-terminal
// status. Terminal statuses (paid, failed) always win.
func ApplyPatch(record *models.Donation, patch Patch) map[string]any {
	columns := map[string]any{}

	if next, ok := nextStatus(record.Status, patch.Status); ok {
		record.Status = next
		columns["status"] = next
	}

	// Donors occasionally retry a stalled checkout through another gateway.
	if patch.Provider != "" && patch.Provider != record.Provider {
		record.Provider = patch.Provider
		columns["provider"] = patch.Provider
	}

	if patch.AmountCents > 0 && patch.AmountCents != record.AmountCents {
		record.AmountCents = patch.AmountCents
		record.Amount = decimal.NewFromInt(patch.AmountCents).Div(decimal.NewFromInt(100))
		columns["amount_cents"] = record.AmountCents
		columns["amount"] = record.Amount
	}

	setString(columns, "currency", &record.Currency, strings.ToUpper(patch.Currency))
	setOptional(columns, "paypal_order_id", &record.PayPalOrderID, patch.PayPalOrderID)
	setOptional(columns, "paypal_capture_id", &record.PayPalCaptureID, patch.PayPalCaptureID)
	setOptional(columns, "transaction_id", &record.TransactionID, patch.TransactionID)
	setOptional(columns, "give_payment_id", &record.GivePaymentID, patch.GivePaymentID)

	setString(columns, "first_name", &record.FirstName, patch.FirstName)
	setString(columns, "last_name", &record.LastName, patch.LastName)
	setString(columns, "email", &record.Email, patch.Email)
	setString(columns, "phone", &record.Phone, patch.Phone)
	setString(columns, "cpf", &record.CPF, patch.CPF)

	setString(columns, "utm_source", &record.UTMSource, patch.UTMSource)
	setString(columns, "utm_campaign", &record.UTMCampaign, patch.UTMCampaign)
	setString(columns, "utm_medium", &record.UTMMedium, patch.UTMMedium)
	setString(columns, "utm_content", &record.UTMContent, patch.UTMContent)
	setString(columns, "utm_term", &record.UTMTerm, patch.UTMTerm)
	setString(columns, "utm_id", &record.UTMID, patch.UTMID)
	setString(columns, "fbp", &record.FBP, patch.FBP)
	setString(columns, "fbc", &record.FBC, patch.FBC)
	setString(columns, "fbclid", &record.FBCLID, patch.FBCLID)
	setString(columns, "ip", &record.IP, patch.IP)
	setString(columns, "client_user_agent", &record.UserAgent, patch.UserAgent)
	setString(columns, "page_url", &record.PageURL, patch.PageURL)

	setString(columns, "country", &record.Country, patch.Country)
	setString(columns, "region", &record.Region, patch.Region)
	setString(columns, "region_code", &record.RegionCode, patch.RegionCode)
	setString(columns, "city", &record.City, patch.City)

	setString(columns, "method", &record.Method, patch.Method)

	if patch.Recurring && !record.Recurring {
		record.Recurring = true
		columns["recurring"] = true
	}
	if patch.EventTime > 0 && patch.EventTime != record.EventTime {
		record.EventTime = patch.EventTime
		columns["event_time"] = patch.EventTime
	}

	return columns
}

// nextStatus implements the downgrade guard: terminal statuses always apply,
// anything else applies only while the record is not yet paid.
func nextStatus(current, incoming enums.DonationStatus) (enums.DonationStatus, bool) {
	if incoming == "" || incoming == current {
		return current, false
	}
	if incoming == enums.DonationStatusPaid || incoming == enums.DonationStatusFailed {
		return incoming, true
	}
	if current == enums.DonationStatusPaid {
		return current, false
	}
	return incoming, true
}

func setString(columns map[string]any, column string, field *string, incoming string) {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" || incoming == *field {
		return
	}
	*field = incoming
	columns[column] = incoming
}

func setOptional(columns map[string]any, column string, field **string, incoming string) {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" {
		return
	}
	if *field != nil && **field == incoming {
		return
	}
	value := incoming
	*field = &value
	columns[column] = incoming
}
