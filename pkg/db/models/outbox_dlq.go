package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// OutboxDLQ captures terminal outbox failures for auditing and remediation.
type OutboxDLQ struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID       uuid.UUID                  `gorm:"column:event_id;type:uuid;not null"`
	EventType     enums.OutboxEventType      `gorm:"column:event_type;type:text;not null"`
	AggregateType enums.OutboxAggregateType  `gorm:"column:aggregate_type;type:text;not null"`
	AggregateID   uuid.UUID                  `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage            `gorm:"column:payload_json;type:jsonb;not null"`
	ErrorReason   enums.OutboxDLQErrorReason `gorm:"column:error_reason;type:text;not null"`
	ErrorMessage  *string                    `gorm:"column:error_message"`
	AttemptCount  int                        `gorm:"column:attempt_count;not null;default:0"`
	FailedAt      time.Time                  `gorm:"column:failed_at;autoCreateTime"`
	CreatedAt     time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

// OutboxDLQ rows and EventDLQ rows are deliberately separate tables: the
// former holds events that never left this process, the latter deliveries
// a consumer refused.

// EventDLQ captures consumer deliveries that repeatedly failed or cannot
// be processed, removed from the redelivery path for remediation.
type EventDLQ struct {
	ID           uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	MessageID    string               `gorm:"column:message_id;not null"`
	Subscription string               `gorm:"column:subscription;not null"`
	OrderNumber  string               `gorm:"column:order_number;not null;default:''"`
	SkuCode      string               `gorm:"column:sku_code;not null;default:''"`
	Payload      json.RawMessage      `gorm:"column:payload;type:jsonb;not null"`
	Reason       enums.EventDLQReason `gorm:"column:reason;type:text;not null"`
	ErrorMessage *string              `gorm:"column:error_message"`
	FailedAt     time.Time            `gorm:"column:failed_at;autoCreateTime"`
}

// TableName overrides the default pluralization.
func (EventDLQ) TableName() string {
	return "event_dlq"
}
