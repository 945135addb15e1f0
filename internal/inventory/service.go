package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/locks"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/metrics"
)

type locker interface {
	TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (*locks.Lease, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// orderOutcomes settles an order inside the caller's transaction.
type orderOutcomes interface {
	MarkOutcomeTx(ctx context.Context, tx *gorm.DB, orderNumber string, status enums.OrderStatus) (bool, error)
}

// DecrementInput identifies one order's claim on stock.
type DecrementInput struct {
	OrderNumber string
	SkuCode     string
	Quantity    int
}

// StockLevel is the projection returned to API callers.
type StockLevel struct {
	SkuCode  string `json:"sku_code"`
	Quantity int    `json:"quantity"`
}

// Service adjusts stock under a per-SKU distributed lock.
type Service interface {
	Decrement(ctx context.Context, input DecrementInput) error
	GetStock(ctx context.Context, skuCode string) (*StockLevel, error)
	ListStock(ctx context.Context) ([]StockLevel, error)
}

type service struct {
	repo    Repository
	orders  orderOutcomes
	tx      txRunner
	locker  locker
	cfg     config.LockConfig
	logg    *logger.Logger
	metrics *metrics.SagaMetrics
}

// NewService builds an inventory service with the required dependencies.
func NewService(repo Repository, orders orderOutcomes, tx txRunner, lk locker, cfg config.LockConfig, logg *logger.Logger, saga *metrics.SagaMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if lk == nil {
		return nil, fmt.Errorf("lock manager required")
	}
	return &service{
		repo:    repo,
		orders:  orders,
		tx:      tx,
		locker:  lk,
		cfg:     cfg,
		logg:    logg,
		metrics: saga,
	}, nil
}

// Decrement takes the SKU's lease before touching stock, so concurrent
// deliveries for the same SKU serialize and the read-check-write below
// never interleaves. Deliveries for different SKUs run in parallel.
//
// The stock write and the order's terminal status commit in a single
// transaction while the lease is held. A delivery that dies mid-flight
// therefore leaves no partial effect: either both writes landed and the
// redelivery is absorbed by the terminal-status guard, or neither did
// and the redelivery decrements exactly once.
func (s *service) Decrement(ctx context.Context, input DecrementInput) error {
	if input.OrderNumber == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	if input.SkuCode == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "sku code required")
	}
	if input.Quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	key := locks.InventoryKey(input.SkuCode)
	waitStart := time.Now()
	lease, err := s.locker.TryAcquire(ctx, key, s.cfg.AcquireTimeout, s.cfg.LeaseDuration)
	if err != nil {
		if errors.Is(err, locks.ErrNotAcquired) {
			s.metrics.IncLockTimeout(input.SkuCode)
			return pkgerrors.Wrap(pkgerrors.CodeLockTimeout, err, "inventory lock busy")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire inventory lock")
	}
	s.metrics.ObserveLockWait(input.SkuCode, time.Since(waitStart))
	defer func() {
		if releaseErr := lease.Release(ctx); releaseErr != nil && s.logg != nil {
			logCtx := s.logg.WithSkuCode(ctx, input.SkuCode)
			s.logg.Error(logCtx, "failed to release inventory lock", releaseErr)
		}
	}()

	// Business rejections (unknown SKU, short stock) still commit: the
	// FAILED status must land atomically with the decision, so the tx
	// function returns nil for them and the coded error surfaces after.
	var rejected error
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		stock, err := repo.FindBySku(ctx, input.SkuCode)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				s.metrics.IncStockDecrement("sku_not_found")
				rejected = pkgerrors.New(pkgerrors.CodeSkuNotFound, "sku not found").
					WithDetails(map[string]string{"sku_code": input.SkuCode})
				return s.failOrder(ctx, tx, input.OrderNumber)
			}
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load stock item")
		}

		if stock.Quantity < input.Quantity {
			s.metrics.IncStockDecrement("insufficient_stock")
			rejected = pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
				WithDetails(map[string]any{
					"sku_code":  input.SkuCode,
					"requested": input.Quantity,
					"available": stock.Quantity,
				})
			return s.failOrder(ctx, tx, input.OrderNumber)
		}

		updated, err := repo.DecrementQuantity(ctx, input.SkuCode, input.Quantity)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "decrement stock")
		}
		if !updated {
			// Holding the lease makes this unreachable in normal operation.
			s.metrics.IncStockDecrement("insufficient_stock")
			rejected = pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock")
			return s.failOrder(ctx, tx, input.OrderNumber)
		}

		if _, err := s.orders.MarkOutcomeTx(ctx, tx, input.OrderNumber, enums.OrderStatusFulfilled); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "record order outcome")
		}

		s.metrics.IncStockDecrement("fulfilled")
		if s.logg != nil {
			logCtx := s.logg.WithOrderNumber(ctx, input.OrderNumber)
			logCtx = s.logg.WithSkuCode(logCtx, input.SkuCode)
			logCtx = s.logg.WithFields(logCtx, map[string]any{
				"quantity":  input.Quantity,
				"remaining": stock.Quantity - input.Quantity,
			})
			s.logg.Info(logCtx, "stock decremented")
		}
		return nil
	})
	if err != nil {
		return err
	}
	return rejected
}

func (s *service) failOrder(ctx context.Context, tx *gorm.DB, orderNumber string) error {
	if _, err := s.orders.MarkOutcomeTx(ctx, tx, orderNumber, enums.OrderStatusFailed); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "record order outcome")
	}
	return nil
}

func (s *service) GetStock(ctx context.Context, skuCode string) (*StockLevel, error) {
	if skuCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku code required")
	}
	stock, err := s.repo.FindBySku(ctx, skuCode)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeSkuNotFound, "sku not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load stock item")
	}
	return &StockLevel{SkuCode: stock.SkuCode, Quantity: stock.Quantity}, nil
}

func (s *service) ListStock(ctx context.Context) ([]StockLevel, error) {
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list stock items")
	}
	levels := make([]StockLevel, 0, len(items))
	for _, item := range items {
		levels = append(levels, StockLevel{SkuCode: item.SkuCode, Quantity: item.Quantity})
	}
	return levels, nil
}
