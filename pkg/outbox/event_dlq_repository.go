package outbox

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
)

// EventDLQRepository persists consumer-side dead letters: deliveries that
// decoded badly or hit a non-retryable domain error and were acked to stop
// redelivery.
type EventDLQRepository struct {
	db *gorm.DB
}

func NewEventDLQRepository(db *gorm.DB) *EventDLQRepository {
	return &EventDLQRepository{db: db}
}

func (r *EventDLQRepository) Insert(ctx context.Context, entry models.EventDLQ) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		msg := truncateDLQError(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return r.db.WithContext(ctx).Create(&entry).Error
}

func (r *EventDLQRepository) List(ctx context.Context, subscription string, limit int) ([]models.EventDLQ, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Order("failed_at DESC").Limit(limit)
	if subscription != "" {
		q = q.Where("subscription = ?", subscription)
	}
	var rows []models.EventDLQ
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
