package inventory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/internal/orders"
	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/locks"
)

// memoryLockStore is an in-process stand-in for the redis lock commands.
type memoryLockStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryLockStore() *memoryLockStore {
	return &memoryLockStore{values: make(map[string]string)}
}

func (s *memoryLockStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.values[key]; held {
		return false, nil
	}
	s.values[key] = value.(string)
	return true, nil
}

func (s *memoryLockStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (s *memoryLockStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

func (s *memoryLockStore) held(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok
}

type stubInventoryRepo struct {
	stock        *models.StockItem
	decremented  bool
	decrementSku string
	decrementQty int
	findErr      error
	decrementErr error
}

func (s *stubInventoryRepo) WithTx(tx *gorm.DB) Repository {
	return s
}

func (s *stubInventoryRepo) FindBySku(ctx context.Context, skuCode string) (*models.StockItem, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.stock == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.stock, nil
}

func (s *stubInventoryRepo) DecrementQuantity(ctx context.Context, skuCode string, qty int) (bool, error) {
	if s.decrementErr != nil {
		return false, s.decrementErr
	}
	s.decremented = true
	s.decrementSku = skuCode
	s.decrementQty = qty
	return true, nil
}

func (s *stubInventoryRepo) Upsert(ctx context.Context, item *models.StockItem) error {
	return nil
}

func (s *stubInventoryRepo) List(ctx context.Context) ([]models.StockItem, error) {
	if s.stock == nil {
		return nil, nil
	}
	return []models.StockItem{*s.stock}, nil
}

type stubOutcomeRecorder struct {
	markedWith enums.OrderStatus
	marked     bool
	markErr    error
}

func (s *stubOutcomeRecorder) MarkOutcomeTx(ctx context.Context, tx *gorm.DB, orderNumber string, status enums.OrderStatus) (bool, error) {
	if s.markErr != nil {
		return false, s.markErr
	}
	s.marked = true
	s.markedWith = status
	return true, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func testLockConfig() config.LockConfig {
	return config.LockConfig{
		AcquireTimeout: 50 * time.Millisecond,
		LeaseDuration:  time.Second,
		RetryInterval:  5 * time.Millisecond,
	}
}

func newTestService(t *testing.T, repo Repository, outcomes *stubOutcomeRecorder, store *memoryLockStore) Service {
	t.Helper()
	manager, err := locks.NewManager(store, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("build lock manager: %v", err)
	}
	svc, err := NewService(repo, outcomes, stubTxRunner{}, manager, testLockConfig(), nil, nil)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc
}

func TestDecrementTakesAndReleasesLock(t *testing.T) {
	store := newMemoryLockStore()
	repo := &stubInventoryRepo{stock: &models.StockItem{SkuCode: "iphone_15", Quantity: 10}}
	outcomes := &stubOutcomeRecorder{}
	svc := newTestService(t, repo, outcomes, store)

	err := svc.Decrement(context.Background(), DecrementInput{
		OrderNumber: uuid.NewString(),
		SkuCode:     "iphone_15",
		Quantity:    3,
	})
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if !repo.decremented || repo.decrementSku != "iphone_15" || repo.decrementQty != 3 {
		t.Fatalf("unexpected decrement call %+v", repo)
	}
	if !outcomes.marked || outcomes.markedWith != enums.OrderStatusFulfilled {
		t.Fatalf("expected fulfilled outcome, got %+v", outcomes)
	}
	if store.held(locks.InventoryKey("iphone_15")) {
		t.Fatal("lock must be released after the decrement")
	}
}

func TestDecrementSkuNotFound(t *testing.T) {
	store := newMemoryLockStore()
	repo := &stubInventoryRepo{}
	outcomes := &stubOutcomeRecorder{}
	svc := newTestService(t, repo, outcomes, store)

	err := svc.Decrement(context.Background(), DecrementInput{
		OrderNumber: uuid.NewString(),
		SkuCode:     "missing_sku",
		Quantity:    1,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeSkuNotFound) {
		t.Fatalf("expected sku not found, got %v", err)
	}
	if outcomes.markedWith != enums.OrderStatusFailed {
		t.Fatalf("expected failed outcome, got %+v", outcomes)
	}
	if store.held(locks.InventoryKey("missing_sku")) {
		t.Fatal("lock must be released on failure")
	}
}

func TestDecrementInsufficientStock(t *testing.T) {
	store := newMemoryLockStore()
	repo := &stubInventoryRepo{stock: &models.StockItem{SkuCode: "iphone_15", Quantity: 2}}
	outcomes := &stubOutcomeRecorder{}
	svc := newTestService(t, repo, outcomes, store)

	err := svc.Decrement(context.Background(), DecrementInput{
		OrderNumber: uuid.NewString(),
		SkuCode:     "iphone_15",
		Quantity:    5,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if repo.decremented {
		t.Fatal("stock must not change when the check fails")
	}
	if outcomes.markedWith != enums.OrderStatusFailed {
		t.Fatalf("expected failed outcome, got %+v", outcomes)
	}
}

func TestDecrementLockBusy(t *testing.T) {
	store := newMemoryLockStore()
	// Another holder owns the SKU lease for the whole wait budget.
	store.values[locks.InventoryKey("iphone_15")] = "other-owner"

	repo := &stubInventoryRepo{stock: &models.StockItem{SkuCode: "iphone_15", Quantity: 10}}
	outcomes := &stubOutcomeRecorder{}
	svc := newTestService(t, repo, outcomes, store)

	err := svc.Decrement(context.Background(), DecrementInput{
		OrderNumber: uuid.NewString(),
		SkuCode:     "iphone_15",
		Quantity:    1,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
	if repo.decremented {
		t.Fatal("stock must not change without the lock")
	}
	if outcomes.marked {
		t.Fatal("a timed-out delivery must not settle the order")
	}
	if !store.held(locks.InventoryKey("iphone_15")) {
		t.Fatal("the other holder's lease must survive")
	}
}

func TestDecrementValidation(t *testing.T) {
	store := newMemoryLockStore()
	svc := newTestService(t, &stubInventoryRepo{}, &stubOutcomeRecorder{}, store)

	cases := []DecrementInput{
		{OrderNumber: "", SkuCode: "sku", Quantity: 1},
		{OrderNumber: "o", SkuCode: "", Quantity: 1},
		{OrderNumber: "o", SkuCode: "sku", Quantity: 0},
	}
	for _, input := range cases {
		err := svc.Decrement(context.Background(), input)
		if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("expected validation error for %+v, got %v", input, err)
		}
	}
}

func TestGetStock(t *testing.T) {
	store := newMemoryLockStore()
	repo := &stubInventoryRepo{stock: &models.StockItem{SkuCode: "iphone_15", Quantity: 7}}
	svc := newTestService(t, repo, &stubOutcomeRecorder{}, store)

	level, err := svc.GetStock(context.Background(), "iphone_15")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if level.Quantity != 7 {
		t.Fatalf("expected quantity 7, got %d", level.Quantity)
	}

	repo.stock = nil
	_, err = svc.GetStock(context.Background(), "missing")
	if !pkgerrors.HasCode(err, pkgerrors.CodeSkuNotFound) {
		t.Fatalf("expected sku not found, got %v", err)
	}
}

// The tests below run against sqlite with real repositories and real
// transactions, because they assert commit/rollback behavior that stubs
// cannot show.

func setupSagaTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE IF NOT EXISTS stock_items (
  sku_code TEXT PRIMARY KEY,
  quantity INTEGER NOT NULL DEFAULT 0,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  order_number TEXT NOT NULL UNIQUE,
  sku_code TEXT NOT NULL,
  price NUMERIC NOT NULL,
  quantity INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  order_time DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(ddl).Error)
	return db
}

func seedPendingOrder(t *testing.T, db *gorm.DB, sku string, qty int) string {
	t.Helper()
	order := &models.Order{
		ID:          uuid.New(),
		OrderNumber: uuid.NewString(),
		SkuCode:     sku,
		Price:       decimal.NewFromInt(799),
		Quantity:    qty,
		Status:      enums.OrderStatusPending,
		OrderTime:   time.Now().UTC(),
	}
	require.NoError(t, db.Create(order).Error)
	return order.OrderNumber
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// flakyOutcomeRepo fails the outcome write a fixed number of times before
// delegating to the real repository.
type flakyOutcomeRepo struct {
	orders.Repository
	mu       sync.Mutex
	failures int
}

func (f *flakyOutcomeRepo) MarkOutcomeTx(ctx context.Context, tx *gorm.DB, orderNumber string, status enums.OrderStatus) (bool, error) {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return false, errors.New("connection reset by peer")
	}
	return f.Repository.MarkOutcomeTx(ctx, tx, orderNumber, status)
}

func newSagaTestService(t *testing.T, db *gorm.DB, outcomes orderOutcomes, cfg config.LockConfig) Service {
	t.Helper()
	manager, err := locks.NewManager(newMemoryLockStore(), 5*time.Millisecond)
	require.NoError(t, err)
	svc, err := NewService(NewRepository(db), outcomes, gormTxRunner{db: db}, manager, cfg, nil, nil)
	require.NoError(t, err)
	return svc
}

// A failed outcome write must roll the decrement back with it, so the
// redelivery that follows subtracts exactly once instead of twice.
func TestDecrementRollsBackWhenOutcomeWriteFails(t *testing.T) {
	db := setupSagaTestDB(t)
	require.NoError(t, db.Create(&models.StockItem{SkuCode: "iphone_15", Quantity: 10}).Error)
	orderNumber := seedPendingOrder(t, db, "iphone_15", 3)

	outcomes := &flakyOutcomeRepo{Repository: orders.NewRepository(db), failures: 1}
	svc := newSagaTestService(t, db, outcomes, testLockConfig())

	input := DecrementInput{OrderNumber: orderNumber, SkuCode: "iphone_15", Quantity: 3}
	err := svc.Decrement(context.Background(), input)
	if !pkgerrors.HasCode(err, pkgerrors.CodePersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}

	var item models.StockItem
	require.NoError(t, db.Where("sku_code = ?", "iphone_15").First(&item).Error)
	if item.Quantity != 10 {
		t.Fatalf("failed delivery must leave stock untouched, got %d", item.Quantity)
	}
	var order models.Order
	require.NoError(t, db.Where("order_number = ?", orderNumber).First(&order).Error)
	if order.Status != enums.OrderStatusPending {
		t.Fatalf("failed delivery must leave the order pending, got %s", order.Status)
	}

	// The redelivery lands both writes together.
	require.NoError(t, svc.Decrement(context.Background(), input))
	require.NoError(t, db.Where("sku_code = ?", "iphone_15").First(&item).Error)
	if item.Quantity != 7 {
		t.Fatalf("expected stock decremented exactly once to 7, got %d", item.Quantity)
	}
	require.NoError(t, db.Where("order_number = ?", orderNumber).First(&order).Error)
	if order.Status != enums.OrderStatusFulfilled {
		t.Fatalf("expected fulfilled order, got %s", order.Status)
	}
}

// Two orders race for the last units of one SKU. The per-SKU lease
// serializes them, so exactly one wins and stock never goes negative.
func TestDecrementConcurrentOrdersOnSameSku(t *testing.T) {
	db := setupSagaTestDB(t)
	require.NoError(t, db.Create(&models.StockItem{SkuCode: "pixel_9", Quantity: 5}).Error)
	first := seedPendingOrder(t, db, "pixel_9", 3)
	second := seedPendingOrder(t, db, "pixel_9", 3)

	cfg := config.LockConfig{
		AcquireTimeout: 2 * time.Second,
		LeaseDuration:  5 * time.Second,
		RetryInterval:  5 * time.Millisecond,
	}
	svc := newSagaTestService(t, db, orders.NewRepository(db), cfg)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, orderNumber := range []string{first, second} {
		wg.Add(1)
		go func(orderNumber string) {
			defer wg.Done()
			results <- svc.Decrement(context.Background(), DecrementInput{
				OrderNumber: orderNumber,
				SkuCode:     "pixel_9",
				Quantity:    3,
			})
		}(orderNumber)
	}
	wg.Wait()
	close(results)

	var fulfilled, short int
	for err := range results {
		switch {
		case err == nil:
			fulfilled++
		case pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected decrement error: %v", err)
		}
	}
	if fulfilled != 1 || short != 1 {
		t.Fatalf("expected one fulfilled and one short order, got %d/%d", fulfilled, short)
	}

	var item models.StockItem
	require.NoError(t, db.Where("sku_code = ?", "pixel_9").First(&item).Error)
	if item.Quantity != 2 {
		t.Fatalf("expected 2 units left, got %d", item.Quantity)
	}

	var statuses []string
	require.NoError(t, db.Model(&models.Order{}).
		Where("sku_code = ?", "pixel_9").
		Order("status ASC").
		Pluck("status", &statuses).Error)
	if len(statuses) != 2 || statuses[0] != string(enums.OrderStatusFailed) || statuses[1] != string(enums.OrderStatusFulfilled) {
		t.Fatalf("expected one failed and one fulfilled order, got %v", statuses)
	}
}
