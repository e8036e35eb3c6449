package checkout

import (
	"encoding/json"

	"github.com/doarbem/donations-backend/internal/donations"
)

// Context is the attribution and contact snapshot captured when the order is
// created. It is cached for a few hours because the provider webhook that
// confirms the payment usually carries far less context than the checkout
// call did.
type Context struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	CPF       string `json:"cpf,omitempty"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMID       string `json:"utm_id,omitempty"`
	FBP         string `json:"fbp,omitempty"`
	FBC         string `json:"fbc,omitempty"`
	FBCLID      string `json:"fbclid,omitempty"`
	IP          string `json:"ip,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	PageURL     string `json:"page_url,omitempty"`

	Country    string `json:"country,omitempty"`
	Region     string `json:"region,omitempty"`
	RegionCode string `json:"region_code,omitempty"`
	City       string `json:"city,omitempty"`

	Method    string `json:"method,omitempty"`
	Recurring bool   `json:"recurring,omitempty"`
}

// Encode serializes the context for cache storage.
func (c Context) Encode() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeContext parses a cached context value.
func DecodeContext(value string) (Context, error) {
	var ctx Context
	err := json.Unmarshal([]byte(value), &ctx)
	return ctx, err
}

// AsPatch converts the snapshot into a donation patch. The merge layer's
// anti-wipe rule makes applying it over fresher webhook data safe.
func (c Context) AsPatch() donations.Patch {
	return donations.Patch{
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		Email:       c.Email,
		Phone:       c.Phone,
		CPF:         c.CPF,
		UTMSource:   c.UTMSource,
		UTMCampaign: c.UTMCampaign,
		UTMMedium:   c.UTMMedium,
		UTMContent:  c.UTMContent,
		UTMTerm:     c.UTMTerm,
		UTMID:       c.UTMID,
		FBP:         c.FBP,
		FBC:         c.FBC,
		FBCLID:      c.FBCLID,
		IP:          c.IP,
		UserAgent:   c.UserAgent,
		PageURL:     c.PageURL,
		Country:     c.Country,
		Region:      c.Region,
		RegionCode:  c.RegionCode,
		City:        c.City,
		Method:      c.Method,
		Recurring:   c.Recurring,
	}
}
