package models

import (
	"time"
)

// StockItem tracks the available quantity for one SKU. Quantity is only
// mutated through the inventory worker's guarded decrement and must stay
// non-negative at all observable times.
type StockItem struct {
	SkuCode   string    `gorm:"column:sku_code;primaryKey"`
	Quantity  int       `gorm:"column:quantity;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
