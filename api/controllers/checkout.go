package controllers

import (
	"net/http"

	"github.com/doarbem/donations-backend/api/responses"
	"github.com/doarbem/donations-backend/api/validators"
	"github.com/doarbem/donations-backend/internal/checkout"
	"github.com/doarbem/donations-backend/pkg/enums"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	"github.com/doarbem/donations-backend/pkg/logger"
)

type checkoutRequest struct {
	Provider    string `json:"provider" validate:"required"`
	ExternalID  string `json:"external_id,omitempty" validate:"omitempty,max=64"`
	AmountCents int64  `json:"amount_cents" validate:"required,min=1"`
	Currency    string `json:"currency,omitempty" validate:"omitempty,len=3"`

	FirstName string `json:"first_name,omitempty" validate:"omitempty,max=120"`
	LastName  string `json:"last_name,omitempty" validate:"omitempty,max=120"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone,omitempty" validate:"omitempty,max=32"`
	CPF       string `json:"cpf,omitempty" validate:"omitempty,max=18"`

	UTMSource   string `json:"utm_source,omitempty"`
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
	UTMContent  string `json:"utm_content,omitempty"`
	UTMTerm     string `json:"utm_term,omitempty"`
	UTMID       string `json:"utm_id,omitempty"`
	FBP         string `json:"fbp,omitempty"`
	FBC         string `json:"fbc,omitempty"`
	FBCLID      string `json:"fbclid,omitempty"`
	PageURL     string `json:"page_url,omitempty" validate:"omitempty,url"`

	Country    string `json:"country,omitempty"`
	Region     string `json:"region,omitempty"`
	RegionCode string `json:"region_code,omitempty"`
	City       string `json:"city,omitempty"`

	Method    string `json:"method,omitempty"`
	Recurring bool   `json:"recurring,omitempty"`

	SourceToken string `json:"source_token,omitempty"`
	ReturnURL   string `json:"return_url,omitempty" validate:"omitempty,url"`
	CancelURL   string `json:"cancel_url,omitempty" validate:"omitempty,url"`
}

// Checkout opens a donation order/intent with the selected gateway.
func Checkout(service *checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(w, err)
			return
		}

		provider, err := enums.ParseProvider(req.Provider)
		if err != nil {
			responses.WriteError(w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider"))
			return
		}

		result, err := service.Start(ctx, checkout.Request{
			Provider:    provider,
			ExternalID:  req.ExternalID,
			AmountCents: req.AmountCents,
			Currency:    req.Currency,
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Email:       req.Email,
			Phone:       req.Phone,
			CPF:         req.CPF,
			UTMSource:   req.UTMSource,
			UTMCampaign: req.UTMCampaign,
			UTMMedium:   req.UTMMedium,
			UTMContent:  req.UTMContent,
			UTMTerm:     req.UTMTerm,
			UTMID:       req.UTMID,
			FBP:         req.FBP,
			FBC:         req.FBC,
			FBCLID:      req.FBCLID,
			IP:          clientIP(r),
			UserAgent:   r.UserAgent(),
			PageURL:     req.PageURL,
			Country:     req.Country,
			Region:      req.Region,
			RegionCode:  req.RegionCode,
			City:        req.City,
			Method:      req.Method,
			Recurring:   req.Recurring,
			SourceToken: req.SourceToken,
			ReturnURL:   req.ReturnURL,
			CancelURL:   req.CancelURL,
		})
		if err != nil {
			if logg != nil {
				logg.Error(ctx, "checkout failed", err)
			}
			responses.WriteError(w, err)
			return
		}

		responses.WriteSuccess(w, http.StatusCreated, result)
	}
}

// clientIP prefers the proxy-forwarded address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		for i := 0; i < len(forwarded); i++ {
			if forwarded[i] == ',' {
				return forwarded[:i]
			}
		}
		return forwarded
	}
	return r.RemoteAddr
}
