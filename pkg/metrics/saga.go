package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics records the order fulfilment pipeline: intake, outbox
// publishing, consumer outcomes and lock contention.
type SagaMetrics struct {
	ordersPlaced     *prometheus.CounterVec
	eventsPublished  *prometheus.CounterVec
	publishFailures  *prometheus.CounterVec
	captures         *prometheus.CounterVec
	stockDecrements  *prometheus.CounterVec
	consumerMessages *prometheus.CounterVec
	lockWait         *prometheus.HistogramVec
	lockTimeouts     *prometheus.CounterVec
}

// NewSagaMetrics registers the pipeline metrics on the provided registerer.
func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	if reg == nil {
		return &SagaMetrics{}
	}
	ordersPlaced := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Orders accepted or rejected at intake.",
	}, []string{"result"})
	eventsPublished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_events_published_total",
		Help: "Outbox rows successfully published to Pub/Sub.",
	}, []string{"event_type"})
	publishFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_failures_total",
		Help: "Outbox publish attempts that failed.",
	}, []string{"event_type"})
	captures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_captures_total",
		Help: "Payment capture attempts by outcome.",
	}, []string{"status"})
	stockDecrements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_decrements_total",
		Help: "Inventory decrement attempts by outcome.",
	}, []string{"outcome"})
	consumerMessages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_messages_total",
		Help: "Consumer deliveries by subscription and result.",
	}, []string{"subscription", "result"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inventory_lock_wait_seconds",
		Help:    "Time spent waiting to acquire the per-SKU inventory lock.",
		Buckets: prometheus.DefBuckets,
	}, []string{"resource"})
	lockTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_lock_timeouts_total",
		Help: "Lock acquisitions abandoned after the bounded wait.",
	}, []string{"resource"})
	reg.MustRegister(
		ordersPlaced,
		eventsPublished,
		publishFailures,
		captures,
		stockDecrements,
		consumerMessages,
		lockWait,
		lockTimeouts,
	)
	return &SagaMetrics{
		ordersPlaced:     ordersPlaced,
		eventsPublished:  eventsPublished,
		publishFailures:  publishFailures,
		captures:         captures,
		stockDecrements:  stockDecrements,
		consumerMessages: consumerMessages,
		lockWait:         lockWait,
		lockTimeouts:     lockTimeouts,
	}
}

// IncOrderPlaced counts an intake outcome ("accepted" or "rejected").
func (m *SagaMetrics) IncOrderPlaced(result string) {
	if m == nil || m.ordersPlaced == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncEventPublished counts a successful outbox publish.
func (m *SagaMetrics) IncEventPublished(eventType string) {
	if m == nil || m.eventsPublished == nil {
		return
	}
	m.eventsPublished.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncPublishFailure counts a failed outbox publish attempt.
func (m *SagaMetrics) IncPublishFailure(eventType string) {
	if m == nil || m.publishFailures == nil {
		return
	}
	m.publishFailures.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncCapture counts a payment capture by status.
func (m *SagaMetrics) IncCapture(status string) {
	if m == nil || m.captures == nil {
		return
	}
	m.captures.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncStockDecrement counts an inventory decrement by outcome.
func (m *SagaMetrics) IncStockDecrement(outcome string) {
	if m == nil || m.stockDecrements == nil {
		return
	}
	m.stockDecrements.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncConsumerMessage counts a delivery result for a subscription.
func (m *SagaMetrics) IncConsumerMessage(subscription, result string) {
	if m == nil || m.consumerMessages == nil {
		return
	}
	m.consumerMessages.WithLabelValues(normalizeLabel(subscription), normalizeLabel(result)).Inc()
}

// ObserveLockWait records how long a consumer waited for the lock.
func (m *SagaMetrics) ObserveLockWait(resource string, wait time.Duration) {
	if m == nil || m.lockWait == nil {
		return
	}
	m.lockWait.WithLabelValues(normalizeLabel(resource)).Observe(wait.Seconds())
}

// IncLockTimeout counts a bounded lock wait that expired.
func (m *SagaMetrics) IncLockTimeout(resource string) {
	if m == nil || m.lockTimeouts == nil {
		return
	}
	m.lockTimeouts.WithLabelValues(normalizeLabel(resource)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
