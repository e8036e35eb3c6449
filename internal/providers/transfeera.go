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

const transfeeraTokenHeader = "X-Webhook-Token"

// TransfeeraAdapter creates Pix charges through the Transfeera API and parses
// Pix received webhooks. Webhooks are authenticated by a static header token.
type TransfeeraAdapter struct {
	cfg     config.TransfeeraConfig
	baseURL string
	http    *http.Client
	tokens  *oauth.TokenSource
	logg    *logger.Logger
}

func NewTransfeeraAdapter(cfg config.TransfeeraConfig, tokens *oauth.TokenSource, logg *logger.Logger) (*TransfeeraAdapter, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transfeera credentials required")
	}
	if cfg.PixKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transfeera pix key required")
	}
	if tokens == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transfeera token source required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &TransfeeraAdapter{
		cfg:     cfg,
		baseURL: cfg.BaseURL(),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		logg:    logg,
	}, nil
}

// FetchTransfeeraToken exchanges client credentials for a bearer token. Wire
// this as the TokenSource fetch func.
func FetchTransfeeraToken(cfg config.TransfeeraConfig, httpTimeout time.Duration) oauth.FetchFunc {
	client := &http.Client{Timeout: httpTimeout}
	return func(ctx context.Context) (string, time.Duration, error) {
		payload, err := json.Marshal(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     cfg.ClientID,
			"client_secret": cfg.ClientSecret,
		})
		if err != nil {
			return "", 0, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.LoginURL()+"/authorization", bytes.NewReader(payload))
		if err != nil {
			return "", 0, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return "", 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "transfeera token exchange")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return "", 0, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("transfeera token exchange returned %d: %s", resp.StatusCode, body))
		}

		var out struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int64  `json:"expires_in"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode transfeera token")
		}
		return out.AccessToken, time.Duration(out.ExpiresIn) * time.Second, nil
	}
}

func (a *TransfeeraAdapter) Name() enums.Provider {
	return enums.ProviderTransfeera
}

func (a *TransfeeraAdapter) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	token, err := a.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	txid := pixTxID(req.ExternalID)
	body := map[string]any{
		"calendario": map[string]any{"expiracao": 3600},
		"chave":      a.cfg.PixKey,
		"txid":       txid,
		"valor": map[string]string{
			"original": fmt.Sprintf("%d.%02d", req.AmountCents/100, req.AmountCents%100),
		},
		"solicitacaoPagador": "Doacao",
	}
	if req.CPF != "" {
		body["devedor"] = map[string]string{
			"cpf":  digitsOnly(req.CPF),
			"nome": strings.TrimSpace(req.FirstName + " " + req.LastName),
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode pix charge")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, a.baseURL+"/pix/v1/cob/"+txid, bytes.NewReader(raw))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build pix request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "transfeera create charge")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		_ = a.tokens.Invalidate(ctx)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("transfeera create charge returned %d: %s", resp.StatusCode, respBody))
	}

	var out struct {
		TxID          string `json:"txid"`
		PixCopiaECola string `json:"pixCopiaECola"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode pix charge")
	}

	return &ChargeResult{
		ProviderReference: out.TxID,
		ClientSecret:      out.PixCopiaECola,
	}, nil
}

// transfeeraEvent follows the Bacen Pix webhook shape: a list of received
// payments, each carrying the txid the charge was created with.
type transfeeraEvent struct {
	Pix []struct {
		EndToEndID string `json:"endToEndId"`
		TxID       string `json:"txid"`
		Valor      string `json:"valor"`
		Horario    string `json:"horario"`
		Pagador    struct {
			Nome string `json:"nome"`
			CPF  string `json:"cpf"`
		} `json:"pagador"`
	} `json:"pix"`
}

func (a *TransfeeraAdapter) ParseCallback(ctx context.Context, body []byte, headers http.Header) (*RawCapture, error) {
	if !security.SecureCompare(headers.Get(transfeeraTokenHeader), a.cfg.WebhookToken) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transfeera webhook token")
	}

	var event transfeeraEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode transfeera event")
	}
	if len(event.Pix) == 0 {
		a.logg.Info(ctx, "transfeera event without pix entries, ignoring")
		return nil, nil
	}

	// charges are one payment per txid, only the first entry matters
	pix := event.Pix[0]
	first, last := splitName(pix.Pagador.Nome)
	return &RawCapture{
		Provider:        enums.ProviderTransfeera,
		CaptureID:       pix.EndToEndID,
		OrderOrIntentID: pix.TxID,
		Status:          enums.DonationStatusPaid,
		AmountCents:     centsFromDecimalString(pix.Valor),
		Currency:        "BRL",
		PayerFirstName:  first,
		PayerLastName:   last,
		CreatedAtUnix:   parseRFC3339Unix(pix.Horario),
		ExternalIDHint:  pix.TxID,
		RawNote:         pix.Pagador.CPF,
		Method:          "pix",
	}, nil
}

// pixTxID maps an external correlation id onto the txid charset Pix allows
// (alphanumeric, 26 to 35 chars).
func pixTxID(externalID string) string {
	var b strings.Builder
	for _, r := range externalID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	txid := b.String()
	if len(txid) > 35 {
		txid = txid[:35]
	}
	for len(txid) < 26 {
		txid += "0"
	}
	return txid
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
