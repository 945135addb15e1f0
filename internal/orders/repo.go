package orders

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("order_number = ?", orderNumber).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListRecent(ctx context.Context, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Order("order_time DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) ListBySku(ctx context.Context, skuCode string, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("sku_code = ?", skuCode).
		Order("order_time DESC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// MarkOutcome guards the transition in SQL so a slow consumer cannot
// overwrite a terminal status with a stale outcome.
func (r *repository) MarkOutcome(ctx context.Context, orderNumber string, status enums.OrderStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, gorm.ErrInvalidValue
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_number = ? AND status = ?", orderNumber, enums.OrderStatusPending).
		Update("status", status)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MarkOutcomeTx(ctx context.Context, tx *gorm.DB, orderNumber string, status enums.OrderStatus) (bool, error) {
	return r.WithTx(tx).MarkOutcome(ctx, orderNumber, status)
}
