package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/doarbem/donations-backend/internal/providers/oauth"
	"github.com/doarbem/donations-backend/pkg/config"
	"github.com/doarbem/donations-backend/pkg/enums"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	"github.com/doarbem/donations-backend/pkg/logger"
	"github.com/doarbem/donations-backend/pkg/security"
)

const lytexTokenHeader = "X-Webhook-Token"

// LytexAdapter creates invoices on the Lytex billing API and parses its
// webhook deliveries. Webhooks are authenticated by a static header token.
type LytexAdapter struct {
	cfg    config.LytexConfig
	http   *http.Client
	tokens *oauth.TokenSource
	logg   *logger.Logger
}

func NewLytexAdapter(cfg config.LytexConfig, tokens *oauth.TokenSource, logg *logger.Logger) (*LytexAdapter, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "lytex credentials required")
	}
	if tokens == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "lytex token source required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &LytexAdapter{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
		logg:   logg,
	}, nil
}

// FetchLytexToken exchanges client credentials for a bearer token. Wire this
// as the TokenSource fetch func.
func FetchLytexToken(cfg config.LytexConfig, httpTimeout time.Duration) oauth.FetchFunc {
	client := &http.Client{Timeout: httpTimeout}
	return func(ctx context.Context) (string, time.Duration, error) {
		payload, err := json.Marshal(map[string]string{
			"grantType":    "clientCredentials",
			"clientId":     cfg.ClientID,
			"clientSecret": cfg.ClientSecret,
		})
		if err != nil {
			return "", 0, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/v2/auth/obtain_token", bytes.NewReader(payload))
		if err != nil {
			return "", 0, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lytex token exchange")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return "", 0, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("lytex token exchange returned %d: %s", resp.StatusCode, body))
		}

		var out struct {
			AccessToken string `json:"accessToken"`
			ExpiresIn   int64  `json:"expireInSeconds"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode lytex token")
		}
		return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, nil
	}
}

func (a *LytexAdapter) Name() enums.Provider {
	return enums.ProviderLytex
}

func (a *LytexAdapter) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	token, err := a.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"referenceId": req.ExternalID,
		"client": map[string]string{
			"name":      strings.TrimSpace(req.FirstName + " " + req.LastName),
			"email":     req.Email,
			"cellphone": req.Phone,
			"cpfCnpj":   req.CPF,
		},
		"items": []map[string]any{{
			"name":     "Doacao",
			"value":    req.AmountCents,
			"quantity": 1,
		}},
		"paymentMethods": map[string]any{
			"pix":    map[string]bool{"enable": true},
			"boleto": map[string]bool{"enable": false},
		},
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode lytex invoice")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v2/invoices", bytes.NewReader(raw))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build lytex request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lytex create invoice")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		_ = a.tokens.Invalidate(ctx)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("lytex create invoice returned %d: %s", resp.StatusCode, respBody))
	}

	var out struct {
		ID           string `json:"_id"`
		LinkCheckout string `json:"linkCheckout"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode lytex invoice")
	}

	return &ChargeResult{
		ProviderReference: out.ID,
		RedirectURL:       out.LinkCheckout,
	}, nil
}

// lytexEvent is the slice of a Lytex webhook the reconciler needs.
type lytexEvent struct {
	Type string `json:"type"`
	Data struct {
		ID          string `json:"_id"`
		ReferenceID string `json:"referenceId"`
		Status      string `json:"status"`
		TotalValue  int64  `json:"totalValue"`
		PaidAt      string `json:"paidAt"`
		Client      struct {
			Name      string `json:"name"`
			Email     string `json:"email"`
			Cellphone string `json:"cellphone"`
		} `json:"client"`
	} `json:"data"`
}

func (a *LytexAdapter) ParseCallback(ctx context.Context, body []byte, headers http.Header) (*RawCapture, error) {
	if !security.SecureCompare(headers.Get(lytexTokenHeader), a.cfg.WebhookToken) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid lytex webhook token")
	}

	var event lytexEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode lytex event")
	}

	var status enums.DonationStatus
	switch strings.ToLower(event.Data.Status) {
	case "paid", "liquidated":
		status = enums.DonationStatusPaid
	case "expired", "canceled", "cancelled":
		status = enums.DonationStatusFailed
	default:
		logCtx := a.logg.WithFields(ctx, map[string]any{
			"event_type":     event.Type,
			"invoice_status": event.Data.Status,
		})
		a.logg.Info(logCtx, "lytex event ignored")
		return nil, nil
	}

	first, last := splitName(event.Data.Client.Name)
	return &RawCapture{
		Provider:       enums.ProviderLytex,
		CaptureID:      event.Data.ID,
		Status:         status,
		AmountCents:    event.Data.TotalValue,
		Currency:       "BRL",
		PayerEmail:     event.Data.Client.Email,
		PayerFirstName: first,
		PayerLastName:  last,
		PayerPhone:     event.Data.Client.Cellphone,
		CreatedAtUnix:  parseRFC3339Unix(event.Data.PaidAt),
		ExternalIDHint: event.Data.ReferenceID,
		Method:         "lytex",
	}, nil
}

func splitName(full string) (string, string) {
	parts := strings.Fields(strings.TrimSpace(full))
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
