package inventory

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
)

// Repository defines persistence operations for the stock_items table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindBySku(ctx context.Context, skuCode string) (*models.StockItem, error)
	DecrementQuantity(ctx context.Context, skuCode string, qty int) (bool, error)
	Upsert(ctx context.Context, item *models.StockItem) error
	List(ctx context.Context) ([]models.StockItem, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an inventory repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindBySku(ctx context.Context, skuCode string) (*models.StockItem, error) {
	var item models.StockItem
	err := r.db.WithContext(ctx).
		Where("sku_code = ?", skuCode).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DecrementQuantity subtracts qty and guards against going negative in the
// same statement. The caller holds the per-SKU lock, so a false return
// means stock genuinely ran short between read and write.
func (r *repository) DecrementQuantity(ctx context.Context, skuCode string, qty int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockItem{}).
		Where("sku_code = ? AND quantity >= ?", skuCode, qty).
		Update("quantity", gorm.Expr("quantity - ?", qty))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) Upsert(ctx context.Context, item *models.StockItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *repository) List(ctx context.Context) ([]models.StockItem, error) {
	var items []models.StockItem
	err := r.db.WithContext(ctx).
		Order("sku_code ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
