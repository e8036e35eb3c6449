package providers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/doarbem/donations-backend/pkg/config"
	"github.com/doarbem/donations-backend/pkg/enums"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	"github.com/doarbem/donations-backend/pkg/logger"
)

// NuveiAdapter opens orders through the Nuvei (SafeCharge) REST API and
// parses form encoded DMN callbacks.
type NuveiAdapter struct {
	cfg     config.NuveiConfig
	baseURL string
	http    *http.Client
	logg    *logger.Logger

	// now is swappable in tests for checksum timestamps
	now func() time.Time
}

func NewNuveiAdapter(cfg config.NuveiConfig, logg *logger.Logger) (*NuveiAdapter, error) {
	if cfg.MerchantID == "" || cfg.MerchantSiteID == "" || cfg.SecretKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "nuvei merchant credentials required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &NuveiAdapter{
		cfg:     cfg,
		baseURL: cfg.BaseURL(),
		http:    &http.Client{Timeout: timeout},
		logg:    logg,
		now:     time.Now,
	}, nil
}

func (a *NuveiAdapter) Name() enums.Provider {
	return enums.ProviderNuvei
}

func (a *NuveiAdapter) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	amount := decimal.NewFromInt(req.AmountCents).Div(decimal.NewFromInt(100)).StringFixed(2)
	currency := strings.ToUpper(req.Currency)
	clientRequestID := uuid.NewString()
	timestamp := a.now().UTC().Format("20060102150405")

	checksum := sha256Hex(a.cfg.MerchantID + a.cfg.MerchantSiteID + clientRequestID + amount + currency + timestamp + a.cfg.SecretKey)

	body := map[string]any{
		"merchantId":      a.cfg.MerchantID,
		"merchantSiteId":  a.cfg.MerchantSiteID,
		"clientRequestId": clientRequestID,
		"clientUniqueId":  req.ExternalID,
		"amount":          amount,
		"currency":        currency,
		"timeStamp":       timestamp,
		"checksum":        checksum,
		"billingAddress": map[string]string{
			"firstName": req.FirstName,
			"lastName":  req.LastName,
			"email":     req.Email,
			"phone":     req.Phone,
		},
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode nuvei request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/ppp/api/v1/openOrder.do", bytes.NewReader(raw))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build nuvei request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "nuvei open order")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("nuvei open order returned %d: %s", resp.StatusCode, respBody))
	}

	var out struct {
		SessionToken string `json:"sessionToken"`
		OrderID      string `json:"orderId"`
		Status       string `json:"status"`
		Reason       string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode nuvei response")
	}
	if !strings.EqualFold(out.Status, "SUCCESS") {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("nuvei open order rejected: %s", out.Reason))
	}

	return &ChargeResult{
		ProviderReference: out.OrderID,
		ClientSecret:      out.SessionToken,
	}, nil
}

// ParseCallback handles Nuvei DMN notifications, delivered as an
// application/x-www-form-urlencoded body with a checksum field computed over
// the secret key and selected response fields.
func (a *NuveiAdapter) ParseCallback(ctx context.Context, body []byte, headers http.Header) (*RawCapture, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode nuvei dmn")
	}

	if err := a.verifyChecksum(values); err != nil {
		return nil, err
	}

	txStatus := strings.ToUpper(values.Get("Status"))
	var status enums.DonationStatus
	switch txStatus {
	case "APPROVED", "SUCCESS":
		status = enums.DonationStatusPaid
	case "DECLINED", "ERROR", "FAIL":
		status = enums.DonationStatusFailed
	case "PENDING":
		logCtx := a.logg.WithFields(ctx, map[string]any{"dmn_status": txStatus})
		a.logg.Info(logCtx, "nuvei dmn pending, ignoring")
		return nil, nil
	default:
		// unknown statuses pass through so the record keeps the raw value
		status = enums.DonationStatus(strings.ToLower(txStatus))
	}

	return &RawCapture{
		Provider:        enums.ProviderNuvei,
		CaptureID:       values.Get("TransactionID"),
		OrderOrIntentID: values.Get("PPP_TransactionID"),
		Status:          status,
		AmountCents:     centsFromDecimalString(values.Get("totalAmount")),
		Currency:        strings.ToUpper(values.Get("currency")),
		PayerEmail:      values.Get("email"),
		PayerFirstName:  values.Get("first_name"),
		PayerLastName:   values.Get("last_name"),
		PayerPhone:      values.Get("phone1"),
		CreatedAtUnix:   parseNuveiTimestamp(values.Get("responseTimeStamp")),
		ExternalIDHint:  values.Get("merchant_unique_id"),
		RawNote:         values.Get("customField1"),
		Method:          "nuvei",
	}, nil
}

func (a *NuveiAdapter) verifyChecksum(values url.Values) error {
	provided := values.Get("advanceResponseChecksum")
	if provided == "" {
		provided = values.Get("checksum")
	}
	if provided == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "missing nuvei checksum")
	}

	expected := sha256Hex(a.cfg.SecretKey +
		values.Get("totalAmount") +
		values.Get("currency") +
		values.Get("responseTimeStamp") +
		values.Get("PPP_TransactionID") +
		values.Get("Status") +
		values.Get("productId"))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(provided))) != 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "nuvei checksum mismatch")
	}
	return nil
}

// DMN timestamps arrive either as unix seconds or "2006-01-02.15:04:05".
func parseNuveiTimestamp(value string) int64 {
	if value == "" {
		return 0
	}
	if ts := parseUnixString(value); ts > 0 {
		return ts
	}
	parsed, err := time.Parse("2006-01-02.15:04:05", value)
	if err != nil {
		return 0
	}
	return parsed.Unix()
}

func sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
