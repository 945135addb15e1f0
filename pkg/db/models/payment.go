package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Payment records the capture outcome for one order. The unique index on
// order_number is the idempotency backstop under event redelivery.
type Payment struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber     string              `gorm:"column:order_number;not null;uniqueIndex:ux_payments_order_number"`
	Amount          decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	PaymentStatus   enums.PaymentStatus `gorm:"column:payment_status;type:text;not null"`
	TransactionTime time.Time           `gorm:"column:transaction_time;not null"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
}
