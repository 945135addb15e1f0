package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Order is the intake service's record of an accepted order. OrderNumber
// is the public identity; it is assigned once at creation and never reused.
type Order struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber string            `gorm:"column:order_number;not null;uniqueIndex:ux_orders_order_number"`
	SkuCode     string            `gorm:"column:sku_code;not null;index:ix_orders_sku_code"`
	Price       decimal.Decimal   `gorm:"column:price;type:numeric(12,2);not null"`
	Quantity    int               `gorm:"column:quantity;not null"`
	Status      enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	OrderTime   time.Time         `gorm:"column:order_time;not null"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the default pluralization.
func (Order) TableName() string {
	return "orders"
}
