package payloads

import "github.com/google/uuid"

// ReceiptEmailRequestedEvent carries everything the worker needs to render
// and send one thank-you email. The receipt row already exists when this
// event is emitted; the worker must not create or roll it back.
type ReceiptEmailRequestedEvent struct {
	ReceiptID      uuid.UUID `json:"receiptId"`
	DonationID     uuid.UUID `json:"donationId"`
	ExternalID     string    `json:"externalId"`
	To             string    `json:"to"`
	Subject        string    `json:"subject"`
	HumanNow       string    `json:"humanNow"`
	PayerName      string    `json:"payerName"`
	AmountLabel    string    `json:"amountLabel"`
	DonatedAt      string    `json:"donatedAt"`
	Method         string    `json:"method"`
	TrackToken     string    `json:"trackToken"`
	DynamicMessage string    `json:"dynamicMessage"`
}
