package donations

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/doarbem/donations-backend/internal/providers"
	"github.com/doarbem/donations-backend/pkg/config"
	"github.com/doarbem/donations-backend/pkg/db/models"
	"github.com/doarbem/donations-backend/pkg/enums"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	"github.com/doarbem/donations-backend/pkg/logger"
)

// Matcher resolves a raw webhook capture to the canonical donation row,
// creating one when nothing matches. A capture is never dropped just because
// the checkout row is missing.
type Matcher struct {
	repo *Repository
	cfg  config.MatcherConfig
	logg *logger.Logger
}

func NewMatcher(repo *Repository, cfg config.MatcherConfig, logg *logger.Logger) (*Matcher, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repository required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if cfg.FuzzyWindow <= 0 {
		cfg.FuzzyWindow = 6 * time.Hour
	}
	if cfg.FuzzyScanLimit <= 0 {
		cfg.FuzzyScanLimit = 100
	}
	return &Matcher{repo: repo, cfg: cfg, logg: logg}, nil
}

// Match finds or creates the donation for a capture. The second return value
// reports whether a fallback row was created.
func (m *Matcher) Match(ctx context.Context, capture providers.RawCapture) (*models.Donation, bool, error) {
	if hint := strings.TrimSpace(capture.ExternalIDHint); hint != "" {
		row, err := m.repo.FindByExternalID(ctx, hint)
		if err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup by external id")
		}
		if row != nil {
			return row, false, nil
		}
	}

	row, err := m.repo.FindByProviderIDs(ctx, capture.Provider, capture.CaptureID, capture.OrderOrIntentID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup by provider id")
	}
	if row != nil {
		return row, false, nil
	}

	if row, err = m.fuzzyMatch(ctx, capture); err != nil {
		return nil, false, err
	}
	if row != nil {
		return row, false, nil
	}

	created, err := m.createFallback(ctx, capture)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// fuzzyMatch is best effort: same payer email and amount, not yet paid,
// created near the capture time, and matching normalized first name when one
// is available. The scan is bounded so a hot mailbox cannot degrade matching.
func (m *Matcher) fuzzyMatch(ctx context.Context, capture providers.RawCapture) (*models.Donation, error) {
	email := strings.TrimSpace(strings.ToLower(capture.PayerEmail))
	if email == "" || capture.AmountCents <= 0 {
		return nil, nil
	}

	center := time.Now()
	if capture.CreatedAtUnix > 0 {
		center = time.Unix(capture.CreatedAtUnix, 0)
	}

	candidates, err := m.repo.RecentCandidates(ctx, email, capture.AmountCents, center, m.cfg.FuzzyWindow, m.cfg.FuzzyScanLimit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fuzzy candidate scan")
	}

	wantName := NormalizeName(capture.PayerFirstName)
	for i := range candidates {
		if wantName != "" && NormalizeName(candidates[i].FirstName) != wantName {
			continue
		}
		return &candidates[i], nil
	}
	return nil, nil
}

func (m *Matcher) createFallback(ctx context.Context, capture providers.RawCapture) (*models.Donation, error) {
	externalID := strings.TrimSpace(capture.ExternalIDHint)
	if externalID == "" {
		externalID = strings.TrimSpace(capture.CaptureID)
	}
	if externalID == "" {
		externalID = uuid.NewString()
	}

	row := &models.Donation{
		ExternalID:  externalID,
		Provider:    capture.Provider,
		Status:      capture.Status,
		AmountCents: capture.AmountCents,
		Amount:      decimal.NewFromInt(capture.AmountCents).Div(decimal.NewFromInt(100)),
		Currency:    strings.ToUpper(capture.Currency),
		FirstName:   capture.PayerFirstName,
		LastName:    capture.PayerLastName,
		Email:       strings.TrimSpace(strings.ToLower(capture.PayerEmail)),
		Phone:       capture.PayerPhone,
		Method:      capture.Method,
		Recurring:   capture.Recurring,
		EventTime:   capture.CreatedAtUnix,
	}
	switch capture.Provider {
	case enums.ProviderPayPal:
		row.PayPalCaptureID = optional(capture.CaptureID)
		row.PayPalOrderID = optional(capture.OrderOrIntentID)
	case enums.ProviderLytex:
		row.GivePaymentID = optional(capture.CaptureID)
	default:
		row.TransactionID = optional(capture.CaptureID)
	}

	if err := m.repo.Create(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fallback donation create")
	}

	logCtx := m.logg.WithFields(ctx, map[string]any{
		"external_id": externalID,
		"provider":    string(capture.Provider),
	})
	m.logg.Warn(logCtx, "no donation matched capture, created fallback record")
	return row, nil
}

// NormalizeName lowers the name, strips diacritics, and drops everything
// outside letters and digits.
func NormalizeName(name string) string {
	decomposed := norm.NFD.String(strings.ToLower(strings.TrimSpace(name)))
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
