package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

type orderRecorder interface {
	GetOrder(ctx context.Context, orderNumber string) (*orders.OrderSummary, error)
	MarkOutcome(ctx context.Context, orderNumber string, status enums.OrderStatus) error
}

type deadLetters interface {
	Insert(ctx context.Context, entry models.EventDLQ) error
}

// Consumer decrements stock for every order-created event and records the
// order's terminal outcome.
type Consumer struct {
	svc              Service
	ordersSvc        orderRecorder
	subscription     *pubsub.Subscriber
	subscriptionName string
	dlq              deadLetters
	idempotency      *idempotency.Manager
	logg             *logger.Logger
	metrics          *metrics.SagaMetrics
}

// NewConsumer constructs a consumer that watches the provided subscription.
func NewConsumer(svc Service, ordersSvc orderRecorder, subscription *pubsub.Subscriber, subscriptionName string, dlq deadLetters, guard *idempotency.Manager, logg *logger.Logger, saga *metrics.SagaMetrics) (*Consumer, error) {
	if svc == nil {
		return nil, errors.New("inventory service is required")
	}
	if ordersSvc == nil {
		return nil, errors.New("orders service is required")
	}
	if subscription == nil {
		return nil, errors.New("inventory subscription is required")
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
		ordersSvc:        ordersSvc,
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

	// Redelivery guard: once the order is terminal this delivery already
	// ran to completion, so touching stock again would double-decrement.
	order, err := c.ordersSvc.GetOrder(logCtx, event.OrderNumber)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			c.logg.Warn(logCtx, "order row not found for event")
			c.unmark(logCtx, eventID)
			return processResult{nack: true}
		}
		c.logg.Error(logCtx, "failed to load order", err)
		c.unmark(logCtx, eventID)
		return processResult{nack: true}
	}
	if order.Status.IsTerminal() {
		c.logg.Info(logCtx, "order already settled, skipping")
		return processResult{ack: true}
	}

	// Decrement settles the order itself: the stock write and the
	// terminal status commit in one transaction, so by the time it
	// returns the order is either settled or untouched. Business
	// rejections below come back with the FAILED status already
	// committed and only need the ack.
	err = c.svc.Decrement(logCtx, DecrementInput{
		OrderNumber: event.OrderNumber,
		SkuCode:     event.SkuCode,
		Quantity:    event.Quantity,
	})
	switch {
	case err == nil:
		return processResult{ack: true}
	case pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock):
		c.logg.Warn(logCtx, "insufficient stock, order failed")
		return processResult{ack: true}
	case pkgerrors.HasCode(err, pkgerrors.CodeSkuNotFound):
		c.logg.Warn(logCtx, "unknown sku, order failed")
		c.deadLetter(logCtx, msg, event, enums.EventDLQReasonSkuNotFound, err)
		return processResult{ack: true}
	case pkgerrors.HasCode(err, pkgerrors.CodeLockTimeout):
		c.logg.Warn(logCtx, "inventory lock busy, retrying")
		c.unmark(logCtx, eventID)
		return processResult{nack: true}
	case pkgerrors.IsRetryable(err):
		// No local attempt counter: the subscription's retry policy and
		// dead-letter settings bound redelivery.
		c.logg.Error(logCtx, "stock decrement failed, will retry", err)
		c.unmark(logCtx, eventID)
		return processResult{nack: true}
	default:
		c.logg.Error(logCtx, "stock decrement rejected", err)
		c.deadLetter(logCtx, msg, event, enums.EventDLQReasonNonRetryable, err)
		result := c.settle(logCtx, event.OrderNumber, enums.OrderStatusFailed)
		if result.nack {
			c.unmark(logCtx, eventID)
		}
		return result
	}
}

// settle fails the order for rejections the service could not settle in
// its own transaction. The status write must land before the ack: if it
// fails the message is redelivered and the terminal-status guard absorbs
// the retry after the write eventually succeeds.
func (c *Consumer) settle(ctx context.Context, orderNumber string, status enums.OrderStatus) processResult {
	if err := c.ordersSvc.MarkOutcome(ctx, orderNumber, status); err != nil {
		c.logg.Error(ctx, "failed to record order outcome", err)
		return processResult{nack: true}
	}
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
