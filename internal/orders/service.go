package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines order intake and read operations.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*OrderSummary, error)
	GetOrder(ctx context.Context, orderNumber string) (*OrderSummary, error)
	ListOrders(ctx context.Context, skuCode string, limit int) (*OrderList, error)
	MarkOutcome(ctx context.Context, orderNumber string, status enums.OrderStatus) error
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
}

// NewService builds an orders service with the required dependencies.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: outboxSvc,
		logg:   logg,
	}, nil
}

// PlaceOrder persists the order and queues its announcement in one
// transaction. The event row rides the same commit, so an accepted order
// always reaches the relay and a failed commit leaves nothing behind.
func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*OrderSummary, error) {
	if input.SkuCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku code required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if input.Price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}

	order := &models.Order{
		ID:          uuid.New(),
		OrderNumber: uuid.NewString(),
		SkuCode:     input.SkuCode,
		Price:       input.Price,
		Quantity:    input.Quantity,
		Status:      enums.OrderStatusPending,
		OrderTime:   time.Now().UTC(),
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "create order")
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			OrderingKey:   order.SkuCode,
			Version:       1,
			Data: payloads.OrderCreatedEvent{
				OrderNumber: order.OrderNumber,
				SkuCode:     order.SkuCode,
				Quantity:    order.Quantity,
				Status:      order.Status.String(),
				UnitPrice:   order.Price,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "queue order created event")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderNumber(ctx, order.OrderNumber)
		logCtx = s.logg.WithSkuCode(logCtx, order.SkuCode)
		s.logg.Info(logCtx, "order placed")
	}
	return summarize(order), nil
}

func (s *service) GetOrder(ctx context.Context, orderNumber string) (*OrderSummary, error) {
	if orderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	order, err := s.repo.FindByOrderNumber(ctx, orderNumber)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load order")
	}
	return summarize(order), nil
}

// ListOrders returns the most recent orders, optionally filtered to one SKU.
func (s *service) ListOrders(ctx context.Context, skuCode string, limit int) (*OrderList, error) {
	var (
		rows []models.Order
		err  error
	)
	if skuCode != "" {
		rows, err = s.repo.ListBySku(ctx, skuCode, limit)
	} else {
		rows, err = s.repo.ListRecent(ctx, limit)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list orders")
	}
	list := &OrderList{Orders: make([]OrderSummary, 0, len(rows))}
	for i := range rows {
		list.Orders = append(list.Orders, *summarize(&rows[i]))
	}
	return list, nil
}

// MarkOutcome records the saga's terminal verdict for an order. A stale
// outcome against an already-terminal order is a no-op, not an error.
func (s *service) MarkOutcome(ctx context.Context, orderNumber string, status enums.OrderStatus) error {
	if orderNumber == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	if !status.IsTerminal() {
		return pkgerrors.New(pkgerrors.CodeValidation, "outcome must be terminal")
	}
	updated, err := s.repo.MarkOutcome(ctx, orderNumber, status)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "mark order outcome")
	}
	if s.logg != nil {
		logCtx := s.logg.WithOrderNumber(ctx, orderNumber)
		logCtx = s.logg.WithField(logCtx, "status", status.String())
		if updated {
			s.logg.Info(logCtx, "order outcome recorded")
		} else {
			s.logg.Info(logCtx, "order outcome skipped, already terminal")
		}
	}
	return nil
}

func summarize(order *models.Order) *OrderSummary {
	return &OrderSummary{
		OrderNumber: order.OrderNumber,
		SkuCode:     order.SkuCode,
		Price:       order.Price,
		Quantity:    order.Quantity,
		Status:      order.Status,
		OrderTime:   order.OrderTime,
	}
}
