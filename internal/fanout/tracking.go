package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/doarbem/donations-backend/internal/normalize"
	"github.com/doarbem/donations-backend/pkg/config"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	"github.com/doarbem/donations-backend/pkg/logger"
)

// TrackingClient posts provider-agnostic order payloads to the marketing
// attribution API. Every call is logged with status and body for audit.
type TrackingClient struct {
	cfg  config.TrackingConfig
	http *http.Client
	logg *logger.Logger
}

func NewTrackingClient(cfg config.TrackingConfig, logg *logger.Logger) (*TrackingClient, error) {
	if cfg.Endpoint == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tracking endpoint required")
	}
	if cfg.APIToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tracking api token required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TrackingClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		logg: logg,
	}, nil
}

func (t *TrackingClient) Send(ctx context.Context, payload normalize.PaidDonation) error {
	createdAt := time.Unix(payload.EventTime, 0).UTC()
	if payload.EventTime == 0 {
		createdAt = time.Now().UTC()
	}

	gatewayFee := payload.AmountCents * int64(t.cfg.GatewayFeeBasisPts) / 10000

	body := map[string]any{
		"orderId":       payload.ExternalID,
		"platform":      t.cfg.Platform,
		"paymentMethod": payload.Method,
		"status":        string(payload.Status),
		"createdAt":     createdAt.Format(time.RFC3339),
		"approvedDate":  createdAt.Format(time.RFC3339),
		"customer": map[string]string{
			"name":     payload.PayerName,
			"email":    payload.Email,
			"phone":    payload.Phone,
			"document": payload.PayerDocument,
			"country":  payload.Country,
			"ip":       payload.IP,
		},
		"products": []map[string]any{{
			"id":           payload.ExternalID,
			"name":         payload.ProductLabel,
			"planId":       nil,
			"planName":     nil,
			"quantity":     1,
			"priceInCents": payload.AmountCents,
		}},
		"trackingParameters": map[string]string{
			"utm_source":   payload.UTMSource,
			"utm_campaign": payload.UTMCampaign,
			"utm_medium":   payload.UTMMedium,
			"utm_content":  payload.UTMContent,
			"utm_term":     payload.UTMTerm,
			"utm_id":       payload.UTMID,
		},
		"commission": map[string]any{
			"totalPriceInCents":     payload.AmountCents,
			"gatewayFeeInCents":     gatewayFee,
			"userCommissionInCents": payload.AmountCents - gatewayFee,
			"currency":              payload.Currency,
		},
		"isTest": false,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode tracking order")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(raw))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build tracking request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-token", t.cfg.APIToken)

	resp, err := t.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "tracking api")
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	logCtx := t.logg.WithFields(ctx, map[string]any{
		"external_id": payload.ExternalID,
		"status":      resp.StatusCode,
		"body":        string(respBody),
	})
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.logg.Warn(logCtx, "tracking api rejected order")
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("tracking api returned %d: %s", resp.StatusCode, respBody))
	}
	t.logg.Info(logCtx, "tracking order accepted")
	return nil
}
