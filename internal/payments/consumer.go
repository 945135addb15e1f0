package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

type deadLetters interface {
	Insert(ctx context.Context, entry models.EventDLQ) error
}

// Consumer captures a payment for every order-created event it receives.
type Consumer struct {
	svc              Service
	subscription     *pubsub.Subscriber
	subscriptionName string
	dlq              deadLetters
	idempotency      *idempotency.Manager
	logg             *logger.Logger
	metrics          *metrics.SagaMetrics
}

// NewConsumer constructs a consumer that watches the provided subscription.
func NewConsumer(svc Service, subscription *pubsub.Subscriber, subscriptionName string, dlq deadLetters, guard *idempotency.Manager, logg *logger.Logger, saga *metrics.SagaMetrics) (*Consumer, error) {
	if svc == nil {
		return nil, errors.New("payments service is required")
	}
	if subscription == nil {
		return nil, errors.New("payments subscription is required")
	}
	if dlq == nil {
		return nil, errors.New("dead letter repository is required")
	}
	if guard == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		svc:              svc,
		subscription:     subscription,
		subscriptionName: subscriptionName,
		dlq:              dlq,
		idempotency:      guard,
		logg:             logg,
		metrics:          saga,
	}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			c.metrics.IncConsumerMessage(c.subscriptionName, "nack")
			msg.Nack()
			return
		}
		c.metrics.IncConsumerMessage(c.subscriptionName, "ack")
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	logCtx := c.logg.WithMessageID(ctx, msg.ID)

	eventID := eventIdentity(msg)
	already, err := c.idempotency.CheckAndMarkProcessed(logCtx, c.subscriptionName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed, skipping")
		return processResult{ack: true}
	}

	event, err := decodeOrderCreated(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode order created event", err)
		c.deadLetter(logCtx, msg, event, enums.EventDLQReasonDecodeFailed, err)
		return processResult{ack: true}
	}

	logCtx = c.logg.WithOrderNumber(logCtx, event.OrderNumber)
	logCtx = c.logg.WithSkuCode(logCtx, event.SkuCode)

	payment, err := c.svc.Capture(logCtx, CaptureInput{
		OrderNumber: event.OrderNumber,
		UnitPrice:   event.UnitPrice,
		Quantity:    event.Quantity,
	})
	if err != nil {
		if pkgerrors.IsRetryable(err) {
			// No local attempt counter here: redelivery pacing and the
			// retry bound come from the subscription's retry policy and
			// dead-letter settings.
			c.logg.Error(logCtx, "payment capture failed, will retry", err)
			c.unmark(logCtx, eventID)
			return processResult{nack: true}
		}
		c.logg.Error(logCtx, "payment capture rejected", err)
		c.deadLetter(logCtx, msg, event, enums.EventDLQReasonNonRetryable, err)
		return processResult{ack: true}
	}

	c.metrics.IncCapture(string(payment.PaymentStatus))
	c.logg.Info(logCtx, "payment processed")
	return processResult{ack: true}
}

// unmark drops the processed marker so the redelivery is handled again.
func (c *Consumer) unmark(ctx context.Context, eventID string) {
	if err := c.idempotency.Delete(ctx, c.subscriptionName, eventID); err != nil {
		c.logg.Error(ctx, "failed to clear processed marker", err)
	}
}

// eventIdentity prefers the relay-stamped event id so redeliveries of the
// same outbox row dedupe even when the broker assigns fresh message ids.
func eventIdentity(msg *pubsub.Message) string {
	if id := msg.Attributes["event_id"]; id != "" {
		return id
	}
	return msg.ID
}

func (c *Consumer) deadLetter(ctx context.Context, msg *pubsub.Message, event *payloads.OrderCreatedEvent, reason enums.EventDLQReason, cause error) {
	entry := models.EventDLQ{
		MessageID:    msg.ID,
		Subscription: c.subscriptionName,
		Payload:      json.RawMessage(msg.Data),
	}
	if event != nil {
		entry.OrderNumber = event.OrderNumber
		entry.SkuCode = event.SkuCode
	}
	entry.Reason = reason
	if cause != nil {
		errMsg := cause.Error()
		entry.ErrorMessage = &errMsg
	}
	if err := c.dlq.Insert(ctx, entry); err != nil {
		c.logg.Error(ctx, "failed to record dead letter", err)
		return
	}
	c.metrics.IncConsumerMessage(c.subscriptionName, "dead_letter")
}

func decodeOrderCreated(data []byte) (*payloads.OrderCreatedEvent, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	var event payloads.OrderCreatedEvent
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		return nil, err
	}
	if strings.TrimSpace(event.OrderNumber) == "" {
		return &event, errors.New("event missing order number")
	}
	if strings.TrimSpace(event.SkuCode) == "" {
		return &event, errors.New("event missing sku code")
	}
	if event.Quantity <= 0 {
		return &event, errors.New("event quantity must be positive")
	}
	return &event, nil
}
