package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/doarbem/donations-backend/internal/providers/oauth"
	"github.com/doarbem/donations-backend/pkg/config"
	"github.com/doarbem/donations-backend/pkg/enums"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	"github.com/doarbem/donations-backend/pkg/logger"
)

// PayPalAdapter drives the Orders v2 REST API and verifies webhook
// deliveries through PayPal's verify-webhook-signature endpoint.
type PayPalAdapter struct {
	cfg     config.PayPalConfig
	baseURL string
	http    *http.Client
	tokens  *oauth.TokenSource
	logg    *logger.Logger
}

func NewPayPalAdapter(cfg config.PayPalConfig, tokens *oauth.TokenSource, logg *logger.Logger) (*PayPalAdapter, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "paypal credentials required")
	}
	if tokens == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "paypal token source required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &PayPalAdapter{
		cfg:     cfg,
		baseURL: cfg.BaseURL(),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		logg:    logg,
	}, nil
}

// FetchToken exchanges client credentials for a bearer token. Wire this as
// the TokenSource fetch func.
func FetchPayPalToken(cfg config.PayPalConfig, httpTimeout time.Duration) oauth.FetchFunc {
	client := &http.Client{Timeout: httpTimeout}
	return func(ctx context.Context) (string, time.Duration, error) {
		form := url.Values{"grant_type": {"client_credentials"}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL()+"/v1/oauth2/token", strings.NewReader(form.Encode()))
		if err != nil {
			return "", 0, err
		}
		req.SetBasicAuth(cfg.ClientID, cfg.ClientSecret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := client.Do(req)
		if err != nil {
			return "", 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "paypal token exchange")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return "", 0, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("paypal token exchange returned %d: %s", resp.StatusCode, body))
		}

		var out struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode paypal token")
		}
		return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, nil
	}
}

func (a *PayPalAdapter) Name() enums.Provider {
	return enums.ProviderPayPal
}

func (a *PayPalAdapter) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	amount := decimal.NewFromInt(req.AmountCents).Div(decimal.NewFromInt(100))
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"custom_id": req.ExternalID,
			"amount": map[string]string{
				"currency_code": strings.ToUpper(req.Currency),
				"value":         amount.StringFixed(2),
			},
		}},
		"application_context": map[string]string{
			"brand_name": a.cfg.BrandName,
			"return_url": req.ReturnURL,
			"cancel_url": req.CancelURL,
		},
	}

	var out struct {
		ID    string `json:"id"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := a.post(ctx, "/v2/checkout/orders", body, &out); err != nil {
		return nil, err
	}

	result := &ChargeResult{ProviderReference: out.ID}
	for _, link := range out.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			result.RedirectURL = link.Href
			break
		}
	}
	return result, nil
}

// paypalEvent is the slice of the webhook body the reconciler needs.
type paypalEvent struct {
	ID         string `json:"id"`
	EventType  string `json:"event_type"`
	CreateTime string `json:"create_time"`
	Resource   struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		CustomID string `json:"custom_id"`
		Amount   struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
		Payer struct {
			EmailAddress string `json:"email_address"`
			Name         struct {
				GivenName string `json:"given_name"`
				Surname   string `json:"surname"`
			} `json:"name"`
		} `json:"payer"`
		BillingAgreementID string `json:"billing_agreement_id"`
	} `json:"resource"`
}

func (a *PayPalAdapter) ParseCallback(ctx context.Context, body []byte, headers http.Header) (*RawCapture, error) {
	if a.cfg.VerifyWebhook {
		if err := a.verifySignature(ctx, body, headers); err != nil {
			return nil, err
		}
	} else {
		a.logg.Warn(ctx, "paypal webhook signature verification disabled")
	}

	var event paypalEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode paypal event")
	}

	var status enums.DonationStatus
	recurring := false
	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		status = enums.DonationStatusPaid
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		status = enums.DonationStatusFailed
	case "PAYMENT.SALE.COMPLETED":
		// subscription cycle payments arrive as sale events
		status = enums.DonationStatusPaid
		recurring = true
	default:
		logCtx := a.logg.WithFields(ctx, map[string]any{"event_type": event.EventType})
		a.logg.Info(logCtx, "paypal event ignored")
		return nil, nil
	}
	if event.Resource.BillingAgreementID != "" {
		recurring = true
	}

	method := "paypal"
	if recurring {
		method = "paypal recurring"
	}

	capture := &RawCapture{
		Provider:        enums.ProviderPayPal,
		CaptureID:       event.Resource.ID,
		OrderOrIntentID: event.Resource.SupplementaryData.RelatedIDs.OrderID,
		Status:          status,
		AmountCents:     centsFromDecimalString(event.Resource.Amount.Value),
		Currency:        strings.ToUpper(event.Resource.Amount.CurrencyCode),
		PayerEmail:      event.Resource.Payer.EmailAddress,
		PayerFirstName:  event.Resource.Payer.Name.GivenName,
		PayerLastName:   event.Resource.Payer.Name.Surname,
		CreatedAtUnix:   parseRFC3339Unix(event.CreateTime),
		ExternalIDHint:  event.Resource.CustomID,
		Recurring:       recurring,
		Method:          method,
	}
	return capture, nil
}

func (a *PayPalAdapter) verifySignature(ctx context.Context, body []byte, headers http.Header) error {
	if a.cfg.WebhookID == "" {
		return pkgerrors.New(pkgerrors.CodeInternal, "paypal webhook id not configured")
	}

	payload := map[string]any{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        a.cfg.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := a.post(ctx, "/v1/notification/verify-webhook-signature", payload, &out); err != nil {
		return err
	}
	if out.VerificationStatus != "SUCCESS" {
		return pkgerrors.New(pkgerrors.CodeValidation, "paypal webhook signature verification failed")
	}
	return nil
}

func (a *PayPalAdapter) post(ctx context.Context, path string, body any, out any) error {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode paypal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build paypal request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "paypal request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		_ = a.tokens.Invalidate(ctx)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("paypal %s returned %d: %s", path, resp.StatusCode, respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode paypal response")
	}
	return nil
}

func centsFromDecimalString(value string) int64 {
	if strings.TrimSpace(value) == "" {
		return 0
	}
	dec, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return dec.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func parseRFC3339Unix(value string) int64 {
	if value == "" {
		return 0
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0
	}
	return ts.Unix()
}

func parseUnixString(value string) int64 {
	if value == "" {
		return 0
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
