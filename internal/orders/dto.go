package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// PlaceOrderInput carries the validated intake fields for a new order.
type PlaceOrderInput struct {
	SkuCode  string
	Price    decimal.Decimal
	Quantity int
}

// OrderSummary is the projection returned to API callers.
type OrderSummary struct {
	OrderNumber string            `json:"order_number"`
	SkuCode     string            `json:"sku_code"`
	Price       decimal.Decimal   `json:"price"`
	Quantity    int               `json:"quantity"`
	Status      enums.OrderStatus `json:"status"`
	OrderTime   time.Time         `json:"order_time"`
}

// OrderList wraps the most recent orders.
type OrderList struct {
	Orders []OrderSummary `json:"orders"`
}
