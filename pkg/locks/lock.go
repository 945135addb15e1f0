package locks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// InventoryKeyPrefix is the wire-level key convention for per-SKU
	// inventory leases.
	InventoryKeyPrefix = "lock:inventory:"

	defaultRetryInterval = 100 * time.Millisecond
)

// ErrNotAcquired is returned when the wait budget elapses before the key
// becomes free.
var ErrNotAcquired = errors.New("lock not acquired within wait budget")

// store defines the redis operations the manager uses.
type store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// Manager hands out time-bounded exclusive leases keyed by an arbitrary
// string. A lease that is never released is reclaimed by redis when its
// TTL elapses, so a crashed holder cannot wedge the key forever.
type Manager struct {
	store         store
	retryInterval time.Duration
}

// NewManager constructs a redis-backed lock manager.
func NewManager(st store, retryInterval time.Duration) (*Manager, error) {
	if st == nil {
		return nil, errors.New("lock store is required")
	}
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	return &Manager{store: st, retryInterval: retryInterval}, nil
}

// InventoryKey builds the lease key for a SKU.
func InventoryKey(skuCode string) string {
	return InventoryKeyPrefix + skuCode
}

// TryAcquire attempts to take the lease for key, polling until either the
// key is granted, the wait budget is spent (ErrNotAcquired), or ctx is
// canceled. On cancellation no lease is held and nothing needs releasing.
func (m *Manager) TryAcquire(ctx context.Context, key string, wait, lease time.Duration) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if lease <= 0 {
		return nil, errors.New("lease duration must be positive")
	}

	owner := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := m.store.SetNX(ctx, key, owner, lease)
		if err != nil {
			return nil, fmt.Errorf("setnx %s: %w", key, err)
		}
		if ok {
			return &Lease{
				store:      m.store,
				key:        key,
				owner:      owner,
				acquiredAt: time.Now(),
				duration:   lease,
			}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNotAcquired
		}

		interval := m.retryInterval
		if interval > remaining {
			interval = remaining
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Lease is a live grant for one key. At most one live lease exists per key
// at any instant.
type Lease struct {
	store      store
	key        string
	owner      string
	acquiredAt time.Time
	duration   time.Duration

	mu       sync.Mutex
	released bool
}

// Key returns the lease key.
func (l *Lease) Key() string {
	if l == nil {
		return ""
	}
	return l.key
}

// AcquiredAt returns when the lease was granted.
func (l *Lease) AcquiredAt() time.Time {
	if l == nil {
		return time.Time{}
	}
	return l.acquiredAt
}

// Release frees the lease. It is a no-op on a nil lease, a second release,
// or a lease that already expired and was re-granted to another holder: the
// stored owner token is compared before deleting so a stale release never
// removes a newer holder's lease.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}

	value, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			l.released = true
			return nil
		}
		return fmt.Errorf("read lock owner %s: %w", l.key, err)
	}
	if value != l.owner {
		l.released = true
		return nil
	}
	if err := l.store.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete lock %s: %w", l.key, err)
	}
	l.released = true
	return nil
}
