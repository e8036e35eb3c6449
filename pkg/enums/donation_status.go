package enums

// DonationStatus tracks the lifecycle of a donation record. Providers may
// report statuses outside this set; those pass through as-is, so callers
// must not assume IsValid holds for stored values.
type DonationStatus string

const (
	DonationStatusInitiateCheckout DonationStatus = "initiate_checkout"
	DonationStatusPaid             DonationStatus = "paid"
	DonationStatusFailed           DonationStatus = "failed"
)

var knownDonationStatuses = []DonationStatus{
	DonationStatusInitiateCheckout,
	DonationStatusPaid,
	DonationStatusFailed,
}

// String implements fmt.Stringer.
func (s DonationStatus) String() string {
	return string(s)
}

// IsKnown reports whether the status is one of the canonical values rather
// than a provider passthrough.
func (s DonationStatus) IsKnown() bool {
	for _, candidate := range knownDonationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsPaid reports whether the status is terminal-success.
func (s DonationStatus) IsPaid() bool {
	return s == DonationStatusPaid
}
