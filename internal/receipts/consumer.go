package receipts

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/doarbem/donations-backend/pkg/enums"
	"github.com/doarbem/donations-backend/pkg/logger"
	"github.com/doarbem/donations-backend/pkg/outbox"
	"github.com/doarbem/donations-backend/pkg/outbox/idempotency"
	"github.com/doarbem/donations-backend/pkg/outbox/payloads"
	"github.com/doarbem/donations-backend/pkg/outbox/registry"
)

const receiptEmailConsumer = "receipt-emails"

// deliverer is the sender surface the consumer depends on.
type deliverer interface {
	Deliver(ctx context.Context, event payloads.ReceiptEmailRequestedEvent) error
}

// Consumer drains the receipt job subscription and hands each decoded event to
// the mail sender. Delivery failures are terminal once the sender gives up, so
// the message is acked either way; only infrastructure errors trigger a nack.
type Consumer struct {
	sender       deliverer
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

// NewConsumer builds a receipt email consumer with the v1 payload decoder registered.
func NewConsumer(sender deliverer, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if sender == nil {
		return nil, fmt.Errorf("receipt sender required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("receipt subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	decoders := registry.NewDecoderRegistry()
	decoders.Register(enums.EventReceiptEmailRequested, 1, func(payload json.RawMessage) (interface{}, error) {
		var event payloads.ReceiptEmailRequestedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		return &event, nil
	})
	return &Consumer{
		sender:       sender,
		subscription: subscription,
		idempotency:  manager,
		decoders:     decoders,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != string(enums.EventReceiptEmailRequested) {
		c.logg.Info(logCtx, "skipping non-receipt event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, receiptEmailConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	decoded, err := c.decoders.Decode(enums.EventReceiptEmailRequested, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}
	event, ok := decoded.(*payloads.ReceiptEmailRequestedEvent)
	if !ok {
		c.logg.Error(logCtx, "unexpected payload type", fmt.Errorf("got %T", decoded))
		return processResult{ack: true}
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"receipt_id":  event.ReceiptID,
		"external_id": event.ExternalID,
	})

	// The sender already bounds its own attempts, so a returned error is
	// terminal. Redelivering through Pub/Sub would only repeat the failure.
	if err := c.sender.Deliver(ctx, *event); err != nil {
		c.logg.Error(logCtx, "receipt email delivery abandoned", err)
		return processResult{ack: true}
	}

	c.logg.Info(logCtx, "receipt email delivered")
	return processResult{ack: true}
}
