package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/doarbem/donations-backend/internal/normalize"
	"github.com/doarbem/donations-backend/pkg/config"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	"github.com/doarbem/donations-backend/pkg/logger"
)

const (
	EventNamePurchase = "Purchase"
	EventNameDonate   = "Donate"

	campaignTagB1S = "b1s"
	campaignTagB2S = "b2s"
)

// credentialSet is one pixel/token pair on the ads platform.
type credentialSet struct {
	Name        string
	PixelID     string
	AccessToken string
}

// ConversionsClient posts hashed purchase events to the ads conversions API.
// The target credential set is chosen by campaign tag; untagged campaigns go
// to every set as a safe fallback.
type ConversionsClient struct {
	cfg  config.ConversionsConfig
	http *http.Client
	logg *logger.Logger
	b1s  credentialSet
	b2s  credentialSet
}

func NewConversionsClient(cfg config.ConversionsConfig, logg *logger.Logger) (*ConversionsClient, error) {
	if cfg.Endpoint == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "conversions endpoint required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ConversionsClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		logg: logg,
		b1s:  credentialSet{Name: "B1S", PixelID: cfg.B1SPixelID, AccessToken: cfg.B1SAccessToken},
		b2s:  credentialSet{Name: "B2S", PixelID: cfg.B2SPixelID, AccessToken: cfg.B2SAccessToken},
	}, nil
}

// Send posts one event for the payload to the credential sets its campaign
// routes to. Failures per set are joined so one bad set does not hide the
// other's outcome.
func (c *ConversionsClient) Send(ctx context.Context, eventName string, payload normalize.PaidDonation) error {
	sets := c.routeSets(ctx, payload.UTMCampaign)

	var errs []error
	for _, set := range sets {
		if set.PixelID == "" || set.AccessToken == "" {
			logCtx := c.logg.WithFields(ctx, map[string]any{"credential_set": set.Name})
			c.logg.Warn(logCtx, "conversions credential set not configured, skipping")
			continue
		}
		if err := c.post(ctx, set, eventName, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", set.Name, err))
		}
	}
	return errors.Join(errs...)
}

// routeSets picks credential sets by campaign tag. A campaign naming neither
// tag fans out to both sets; that signals a tagging gap upstream, so it warns.
func (c *ConversionsClient) routeSets(ctx context.Context, campaign string) []credentialSet {
	lowered := strings.ToLower(campaign)
	hasB1S := strings.Contains(lowered, campaignTagB1S)
	hasB2S := strings.Contains(lowered, campaignTagB2S)

	switch {
	case hasB1S && !hasB2S:
		return []credentialSet{c.b1s}
	case hasB2S && !hasB1S:
		return []credentialSet{c.b2s}
	default:
		logCtx := c.logg.WithFields(ctx, map[string]any{"utm_campaign": campaign})
		c.logg.Warn(logCtx, "campaign has no routing tag, sending to all conversion sets")
		return []credentialSet{c.b1s, c.b2s}
	}
}

func (c *ConversionsClient) post(ctx context.Context, set credentialSet, eventName string, payload normalize.PaidDonation) error {
	eventTime := payload.EventTime
	if eventTime == 0 {
		eventTime = time.Now().Unix()
	}

	userData := map[string]string{}
	putIf(userData, "em", payload.Hashes.Email)
	putIf(userData, "ph", payload.Hashes.Phone)
	putIf(userData, "fn", payload.Hashes.FirstName)
	putIf(userData, "ln", payload.Hashes.LastName)
	putIf(userData, "external_id", payload.Hashes.ExternalID)
	putIf(userData, "client_ip_address", payload.IP)
	putIf(userData, "client_user_agent", payload.UserAgent)
	putIf(userData, "fbp", payload.FBP)
	putIf(userData, "fbc", payload.FBC)

	body := map[string]any{
		"data": []map[string]any{{
			"event_name":       eventName,
			"event_time":       eventTime,
			"action_source":    "website",
			"event_id":         normalize.EventID(payload.ExternalID, eventName),
			"event_source_url": payload.PageURL,
			"user_data":        userData,
			"custom_data": map[string]any{
				"value":        payload.Amount.InexactFloat64(),
				"currency":     payload.Currency,
				"content_name": payload.ProductLabel,
				"utm_source":   payload.UTMSource,
				"utm_campaign": payload.UTMCampaign,
				"utm_medium":   payload.UTMMedium,
				"utm_content":  payload.UTMContent,
				"utm_term":     payload.UTMTerm,
			},
		}},
		"access_token": set.AccessToken,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode conversion event")
	}

	url := strings.TrimSuffix(c.cfg.Endpoint, "/") + "/" + set.PixelID + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build conversion request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "conversions api")
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"credential_set": set.Name,
		"event_name":     eventName,
		"external_id":    payload.ExternalID,
		"status":         resp.StatusCode,
	})
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logg.Warn(logCtx, "conversions api rejected event")
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("conversions api returned %d: %s", resp.StatusCode, respBody))
	}
	c.logg.Info(logCtx, "conversion event accepted")
	return nil
}

func putIf(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}
