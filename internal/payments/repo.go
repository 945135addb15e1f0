package payments

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
)

// Repository defines persistence operations for the payments table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Payment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		return nil, err
	}
	return payment, nil
}

func (r *repository) FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("order_number = ?", orderNumber).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
