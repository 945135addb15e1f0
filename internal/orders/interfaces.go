package orders

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Repository defines persistence operations for the orders table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	ListRecent(ctx context.Context, limit int) ([]models.Order, error)
	ListBySku(ctx context.Context, skuCode string, limit int) ([]models.Order, error)
	// MarkOutcome moves a pending order to a terminal status. It reports
	// whether a row changed; false means the order was already terminal
	// or does not exist.
	MarkOutcome(ctx context.Context, orderNumber string, status enums.OrderStatus) (bool, error)
	// MarkOutcomeTx is MarkOutcome bound to an in-flight transaction, for
	// callers that settle the order together with their own writes.
	MarkOutcomeTx(ctx context.Context, tx *gorm.DB, orderNumber string, status enums.OrderStatus) (bool, error)
}
