package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/doarbem/donations-backend/api/responses"
	"github.com/doarbem/donations-backend/internal/providers"
	pkgerrors "github.com/doarbem/donations-backend/pkg/errors"
	"github.com/doarbem/donations-backend/pkg/logger"
	"github.com/doarbem/donations-backend/pkg/metrics"
)

// Callbacks can arrive as JSON or form-encoded DMNs; 1 MiB is generous.
const maxBodyBytes = 1 << 20

// Processor reconciles one parsed capture. *reconcile.Service satisfies it.
type Processor interface {
	Process(ctx context.Context, capture *providers.RawCapture) error
}

// Handler builds the ingress for one provider. Signature failures are 4xx so
// the provider surfaces a misconfiguration; pings, irrelevant events, and
// redeliveries ack with 200 so retries stop; dependency failures are 5xx so
// the provider redelivers later.
func Handler(adapter providers.Adapter, svc Processor, m *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		provider := string(adapter.Name())

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			responses.WriteError(w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable webhook body"))
			return
		}

		capture, err := adapter.ParseCallback(ctx, body, r.Header)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeValidation {
				m.IncRejected(provider)
			}
			if logg != nil {
				logCtx := logg.WithFields(ctx, map[string]any{"provider": provider})
				logg.Warn(logCtx, "webhook rejected during parsing")
			}
			responses.WriteError(w, err)
			return
		}

		if err := svc.Process(ctx, capture); err != nil {
			responses.WriteError(w, err)
			return
		}

		responses.WriteSuccess(w, http.StatusOK, map[string]bool{"received": true})
	}
}
