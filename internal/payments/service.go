package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// Gateway models the upstream payment processor.
type Gateway interface {
	Capture(ctx context.Context, orderNumber string, amount decimal.Decimal) error
}

// CaptureInput carries the fields a capture attempt needs.
type CaptureInput struct {
	OrderNumber string
	UnitPrice   decimal.Decimal
	Quantity    int
}

// Service captures payments exactly once per order number.
type Service interface {
	Capture(ctx context.Context, input CaptureInput) (*models.Payment, error)
}

type service struct {
	repo    Repository
	gateway Gateway
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds a payments service with the required dependencies.
func NewService(repo Repository, gateway Gateway, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	return &service{
		repo:    repo,
		gateway: gateway,
		logg:    logg,
		now:     time.Now,
	}, nil
}

// Capture charges price times quantity for the order. Redeliveries are
// absorbed twice over: a pre-read returns the recorded payment, and the
// unique index on order_number catches the race two deliveries can still
// hit between read and insert.
func (s *service) Capture(ctx context.Context, input CaptureInput) (*models.Payment, error) {
	if input.OrderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if input.UnitPrice.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must not be negative")
	}

	existing, err := s.repo.FindByOrderNumber(ctx, input.OrderNumber)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "load payment")
	}
	if existing != nil {
		if s.logg != nil {
			logCtx := s.logg.WithOrderNumber(ctx, input.OrderNumber)
			s.logg.Info(logCtx, "payment already recorded, skipping capture")
		}
		return existing, nil
	}

	amount := input.UnitPrice.Mul(decimal.NewFromInt(int64(input.Quantity)))
	status := enums.PaymentStatusSuccess
	if err := s.gateway.Capture(ctx, input.OrderNumber, amount); err != nil {
		status = enums.PaymentStatusFailed
		if s.logg != nil {
			logCtx := s.logg.WithOrderNumber(ctx, input.OrderNumber)
			s.logg.Error(logCtx, "payment capture declined", err)
		}
	}

	payment := &models.Payment{
		ID:              uuid.New(),
		OrderNumber:     input.OrderNumber,
		Amount:          amount,
		PaymentStatus:   status,
		TransactionTime: s.now().UTC(),
	}
	if _, err := s.repo.Create(ctx, payment); err != nil {
		if db.IsUniqueViolation(err, "ux_payments_order_number") {
			recorded, findErr := s.repo.FindByOrderNumber(ctx, input.OrderNumber)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, findErr, "load concurrent payment")
			}
			return recorded, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "record payment")
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderNumber(ctx, input.OrderNumber)
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"amount": amount.String(),
			"status": string(status),
		})
		s.logg.Info(logCtx, "payment recorded")
	}
	return payment, nil
}

// SimulatedGateway approves every capture after a configured processing
// delay. It stands in for a real processor integration.
type SimulatedGateway struct {
	Latency time.Duration
}

// Capture waits out the configured latency, honoring cancellation.
func (g SimulatedGateway) Capture(ctx context.Context, orderNumber string, amount decimal.Decimal) error {
	if g.Latency <= 0 {
		return nil
	}
	timer := time.NewTimer(g.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
