package receipts

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/doarbem/donations-backend/pkg/config"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	"github.com/doarbem/donations-backend/pkg/logger"
	"github.com/doarbem/donations-backend/pkg/outbox/payloads"
)

const (
	sendAttempts   = 3
	attemptTimeout = 20 * time.Second
)

var receiptTemplate = template.Must(template.New("receipt").Parse(`<html>
<body>
<p>Ol&aacute; {{.PayerName}},</p>
<p>{{.DynamicMessage}}</p>
<p>Doa&ccedil;&atilde;o de <strong>{{.AmountLabel}}</strong> em {{.DonatedAt}} via {{.Method}}.</p>
<p><a href="{{.ClickURL}}">Acompanhe o impacto da sua doa&ccedil;&atilde;o</a></p>
<img src="{{.PixelURL}}" width="1" height="1" alt="">
</body>
</html>`))

type templateData struct {
	payloads.ReceiptEmailRequestedEvent
	ClickURL string
	PixelURL string
}

// mailSender is the sendgrid surface the worker depends on.
type mailSender interface {
	SendWithContext(ctx context.Context, email *sgmail.SGMailV3) (*rest.Response, error)
}

// Sender delivers receipt emails through Sendgrid with bounded retries. The
// receipt row is never rolled back here: a terminal failure only logs.
type Sender struct {
	client   mailSender
	sendgrid config.SendgridConfig
	baseURL  string
	logg     *logger.Logger
}

func NewSender(sendgridCfg config.SendgridConfig, receiptCfg config.ReceiptConfig, logg *logger.Logger) (*Sender, error) {
	if sendgridCfg.APIKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "sendgrid api key required")
	}
	if sendgridCfg.DefaultFrom == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "sendgrid from address required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Sender{
		client:   sendgrid.NewSendClient(sendgridCfg.APIKey),
		sendgrid: sendgridCfg,
		baseURL:  strings.TrimSuffix(receiptCfg.BaseURL, "/"),
		logg:     logg,
	}, nil
}

// Deliver sends one receipt email, retrying transient failures. After the
// attempts are exhausted the terminal failure is logged and returned.
func (s *Sender) Deliver(ctx context.Context, event payloads.ReceiptEmailRequestedEvent) error {
	message, err := s.compose(event)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		resp, err := s.client.SendWithContext(attemptCtx, message)
		cancel()

		switch {
		case err != nil:
			lastErr = err
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"receipt_id":  event.ReceiptID.String(),
				"external_id": event.ExternalID,
				"attempt":     attempt,
			})
			s.logg.Info(logCtx, "receipt email delivered")
			return nil
		case resp.StatusCode == 429 || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode, resp.Body)
		default:
			// 4xx other than rate limiting will not improve on retry
			lastErr = fmt.Errorf("sendgrid rejected message with %d: %s", resp.StatusCode, resp.Body)
			attempt = sendAttempts
		}

		if attempt < sendAttempts {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"receipt_id": event.ReceiptID.String(),
				"attempt":    attempt,
			})
			s.logg.Warn(logCtx, "receipt email attempt failed, retrying")
		}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"receipt_id":  event.ReceiptID.String(),
		"external_id": event.ExternalID,
		"to":          event.To,
	})
	s.logg.Error(logCtx, "receipt email failed after all attempts", lastErr)
	return pkgerrors.Wrap(pkgerrors.CodeDependency, lastErr, "deliver receipt email")
}

func (s *Sender) compose(event payloads.ReceiptEmailRequestedEvent) (*sgmail.SGMailV3, error) {
	data := templateData{
		ReceiptEmailRequestedEvent: event,
		ClickURL:                   s.baseURL + "/t/c/" + event.TrackToken,
		PixelURL:                   s.baseURL + "/t/o/" + event.TrackToken,
	}

	var html strings.Builder
	if err := receiptTemplate.Execute(&html, data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render receipt email")
	}

	from := sgmail.NewEmail(s.sendgrid.FromName, s.sendgrid.DefaultFrom)
	to := sgmail.NewEmail(event.PayerName, event.To)
	plain := fmt.Sprintf("%s\n\nDoacao de %s em %s via %s.", event.DynamicMessage, event.AmountLabel, event.DonatedAt, event.Method)
	return sgmail.NewSingleEmail(from, event.Subject, to, plain, html.String()), nil
}
