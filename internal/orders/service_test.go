package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox"
	"github.com/angelmondragon/orderflow-backend/pkg/outbox/payloads"
)

type stubOrdersRepo struct {
	created     *models.Order
	found       *models.Order
	recent      []models.Order
	markedWith  enums.OrderStatus
	markUpdated bool
	createErr   error
	markErr     error
}

func (s *stubOrdersRepo) WithTx(tx *gorm.DB) Repository {
	return s
}

func (s *stubOrdersRepo) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = order
	return order, nil
}

func (s *stubOrdersRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	if s.found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.found, nil
}

func (s *stubOrdersRepo) ListRecent(ctx context.Context, limit int) ([]models.Order, error) {
	return s.recent, nil
}

func (s *stubOrdersRepo) ListBySku(ctx context.Context, skuCode string, limit int) ([]models.Order, error) {
	var matched []models.Order
	for _, order := range s.recent {
		if order.SkuCode == skuCode {
			matched = append(matched, order)
		}
	}
	return matched, nil
}

func (s *stubOrdersRepo) MarkOutcome(ctx context.Context, orderNumber string, status enums.OrderStatus) (bool, error) {
	if s.markErr != nil {
		return false, s.markErr
	}
	s.markedWith = status
	return s.markUpdated, nil
}

func (s *stubOrdersRepo) MarkOutcomeTx(ctx context.Context, tx *gorm.DB, orderNumber string, status enums.OrderStatus) (bool, error) {
	return s.MarkOutcome(ctx, orderNumber, status)
}

type stubOutboxPublisher struct {
	event  outbox.DomainEvent
	called bool
	err    error
}

func (s *stubOutboxPublisher) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if s.err != nil {
		return s.err
	}
	s.called = true
	s.event = event
	return nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func TestPlaceOrderQueuesCreatedEvent(t *testing.T) {
	repo := &stubOrdersRepo{}
	pub := &stubOutboxPublisher{}
	svc, err := NewService(repo, stubTxRunner{}, pub, nil)
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}

	summary, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		SkuCode:  "iphone_15",
		Price:    decimal.NewFromInt(799),
		Quantity: 2,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if summary.OrderNumber == "" {
		t.Fatal("expected generated order number")
	}
	if _, err := uuid.Parse(summary.OrderNumber); err != nil {
		t.Fatalf("order number is not a uuid: %v", err)
	}
	if summary.Status != enums.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", summary.Status)
	}
	if repo.created == nil {
		t.Fatal("expected order persisted")
	}
	if !pub.called {
		t.Fatal("expected outbox event emitted")
	}
	if pub.event.EventType != enums.EventOrderCreated {
		t.Fatalf("unexpected event type %s", pub.event.EventType)
	}
	if pub.event.OrderingKey != "iphone_15" {
		t.Fatalf("expected ordering key by sku, got %q", pub.event.OrderingKey)
	}
	payload, ok := pub.event.Data.(payloads.OrderCreatedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", pub.event.Data)
	}
	if payload.OrderNumber != summary.OrderNumber || payload.Quantity != 2 {
		t.Fatalf("payload mismatch %+v", payload)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	svc, _ := NewService(&stubOrdersRepo{}, stubTxRunner{}, &stubOutboxPublisher{}, nil)

	cases := []PlaceOrderInput{
		{SkuCode: "", Price: decimal.NewFromInt(10), Quantity: 1},
		{SkuCode: "sku", Price: decimal.NewFromInt(10), Quantity: 0},
		{SkuCode: "sku", Price: decimal.NewFromInt(10), Quantity: -3},
		{SkuCode: "sku", Price: decimal.NewFromInt(-1), Quantity: 1},
	}
	for _, input := range cases {
		_, err := svc.PlaceOrder(context.Background(), input)
		if err == nil {
			t.Fatalf("expected validation error for %+v", input)
		}
		if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("expected validation code, got %v", err)
		}
	}
}

func TestPlaceOrderRollsUpPersistenceFailure(t *testing.T) {
	repo := &stubOrdersRepo{createErr: errors.New("disk full")}
	pub := &stubOutboxPublisher{}
	svc, _ := NewService(repo, stubTxRunner{}, pub, nil)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		SkuCode:  "sku",
		Price:    decimal.NewFromInt(10),
		Quantity: 1,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !pkgerrors.HasCode(err, pkgerrors.CodePersistence) {
		t.Fatalf("expected persistence code, got %v", err)
	}
	if pub.called {
		t.Fatal("event must not be emitted when the order write fails")
	}
}

func TestPlaceOrderFailsWhenEmitFails(t *testing.T) {
	repo := &stubOrdersRepo{}
	pub := &stubOutboxPublisher{err: errors.New("insert failed")}
	svc, _ := NewService(repo, stubTxRunner{}, pub, nil)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		SkuCode:  "sku",
		Price:    decimal.NewFromInt(10),
		Quantity: 1,
	})
	if err == nil {
		t.Fatal("expected error when outbox insert fails")
	}
	if !pkgerrors.HasCode(err, pkgerrors.CodePersistence) {
		t.Fatalf("expected persistence code, got %v", err)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	svc, _ := NewService(&stubOrdersRepo{}, stubTxRunner{}, &stubOutboxPublisher{}, nil)

	_, err := svc.GetOrder(context.Background(), uuid.NewString())
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMarkOutcomeRejectsNonTerminal(t *testing.T) {
	svc, _ := NewService(&stubOrdersRepo{}, stubTxRunner{}, &stubOutboxPublisher{}, nil)

	err := svc.MarkOutcome(context.Background(), uuid.NewString(), enums.OrderStatusPending)
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation code, got %v", err)
	}
}

func TestMarkOutcomeTerminal(t *testing.T) {
	repo := &stubOrdersRepo{markUpdated: true}
	svc, _ := NewService(repo, stubTxRunner{}, &stubOutboxPublisher{}, nil)

	if err := svc.MarkOutcome(context.Background(), uuid.NewString(), enums.OrderStatusFailed); err != nil {
		t.Fatalf("mark outcome: %v", err)
	}
	if repo.markedWith != enums.OrderStatusFailed {
		t.Fatalf("expected failed status, got %s", repo.markedWith)
	}
}
