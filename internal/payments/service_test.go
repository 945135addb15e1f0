package payments

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
)

type stubPaymentsRepo struct {
	existing  *models.Payment
	created   *models.Payment
	createErr error
	findErr   error
}

func (s *stubPaymentsRepo) WithTx(tx *gorm.DB) Repository {
	return s
}

func (s *stubPaymentsRepo) Create(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = payment
	return payment, nil
}

func (s *stubPaymentsRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Payment, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.existing == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.existing, nil
}

type stubGateway struct {
	err      error
	captured []decimal.Decimal
}

func (s *stubGateway) Capture(ctx context.Context, orderNumber string, amount decimal.Decimal) error {
	s.captured = append(s.captured, amount)
	return s.err
}

func TestCaptureRecordsPayment(t *testing.T) {
	repo := &stubPaymentsRepo{}
	gateway := &stubGateway{}
	svc, err := NewService(repo, gateway, nil)
	if err != nil {
		t.Fatalf("service constructor failed: %v", err)
	}

	orderNumber := uuid.NewString()
	payment, err := svc.Capture(context.Background(), CaptureInput{
		OrderNumber: orderNumber,
		UnitPrice:   decimal.RequireFromString("799.99"),
		Quantity:    2,
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if payment.PaymentStatus != enums.PaymentStatusSuccess {
		t.Fatalf("expected success, got %s", payment.PaymentStatus)
	}
	want := decimal.RequireFromString("1599.98")
	if !payment.Amount.Equal(want) {
		t.Fatalf("expected amount %s, got %s", want, payment.Amount)
	}
	if len(gateway.captured) != 1 || !gateway.captured[0].Equal(want) {
		t.Fatalf("gateway captured %v", gateway.captured)
	}
	if repo.created == nil || repo.created.OrderNumber != orderNumber {
		t.Fatalf("payment not persisted: %+v", repo.created)
	}
	if payment.TransactionTime.IsZero() {
		t.Fatal("expected transaction time set")
	}
}

func TestCaptureIsIdempotent(t *testing.T) {
	existing := &models.Payment{
		ID:            uuid.New(),
		OrderNumber:   uuid.NewString(),
		Amount:        decimal.NewFromInt(100),
		PaymentStatus: enums.PaymentStatusSuccess,
	}
	repo := &stubPaymentsRepo{existing: existing}
	gateway := &stubGateway{}
	svc, _ := NewService(repo, gateway, nil)

	payment, err := svc.Capture(context.Background(), CaptureInput{
		OrderNumber: existing.OrderNumber,
		UnitPrice:   decimal.NewFromInt(50),
		Quantity:    2,
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if payment.ID != existing.ID {
		t.Fatal("expected the recorded payment back")
	}
	if len(gateway.captured) != 0 {
		t.Fatal("gateway must not be charged twice")
	}
}

func TestCaptureUniqueViolationReturnsRecordedPayment(t *testing.T) {
	repo := &stubPaymentsRepo{
		createErr: errors.New("UNIQUE constraint failed: payments.order_number"),
	}
	gateway := &stubGateway{}

	recorded := &models.Payment{
		ID:            uuid.New(),
		OrderNumber:   uuid.NewString(),
		PaymentStatus: enums.PaymentStatusSuccess,
	}

	// Simulate a concurrent delivery winning the insert race: the pre-read
	// misses, the insert collides, the follow-up read finds the winner.
	firstRead := true
	repoWrapped := &racingRepo{inner: repo, recorded: recorded, firstRead: &firstRead}
	svc, _ := NewService(repoWrapped, gateway, nil)

	payment, err := svc.Capture(context.Background(), CaptureInput{
		OrderNumber: recorded.OrderNumber,
		UnitPrice:   decimal.NewFromInt(10),
		Quantity:    1,
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if payment.ID != recorded.ID {
		t.Fatal("expected the concurrently recorded payment back")
	}
}

type racingRepo struct {
	inner     *stubPaymentsRepo
	recorded  *models.Payment
	firstRead *bool
}

func (r *racingRepo) WithTx(tx *gorm.DB) Repository {
	return r
}

func (r *racingRepo) Create(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	return r.inner.Create(ctx, payment)
}

func (r *racingRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (*models.Payment, error) {
	if *r.firstRead {
		*r.firstRead = false
		return nil, gorm.ErrRecordNotFound
	}
	return r.recorded, nil
}

func TestCaptureRecordsDecline(t *testing.T) {
	repo := &stubPaymentsRepo{}
	gateway := &stubGateway{err: errors.New("card declined")}
	svc, _ := NewService(repo, gateway, nil)

	payment, err := svc.Capture(context.Background(), CaptureInput{
		OrderNumber: uuid.NewString(),
		UnitPrice:   decimal.NewFromInt(10),
		Quantity:    1,
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if payment.PaymentStatus != enums.PaymentStatusFailed {
		t.Fatalf("expected failed status, got %s", payment.PaymentStatus)
	}
}

func TestCaptureValidation(t *testing.T) {
	svc, _ := NewService(&stubPaymentsRepo{}, &stubGateway{}, nil)

	cases := []CaptureInput{
		{OrderNumber: "", UnitPrice: decimal.NewFromInt(10), Quantity: 1},
		{OrderNumber: "o", UnitPrice: decimal.NewFromInt(10), Quantity: 0},
		{OrderNumber: "o", UnitPrice: decimal.NewFromInt(-1), Quantity: 1},
	}
	for _, input := range cases {
		_, err := svc.Capture(context.Background(), input)
		if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("expected validation error for %+v, got %v", input, err)
		}
	}
}

func TestCapturePersistenceFailure(t *testing.T) {
	repo := &stubPaymentsRepo{createErr: errors.New("connection reset")}
	svc, _ := NewService(repo, &stubGateway{}, nil)

	_, err := svc.Capture(context.Background(), CaptureInput{
		OrderNumber: uuid.NewString(),
		UnitPrice:   decimal.NewFromInt(10),
		Quantity:    1,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodePersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}
