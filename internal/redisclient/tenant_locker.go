package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"inventory-decision-engine/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrLockTimeout is returned when a tenant lock stays held past the wait
var ErrLockTimeout = errors.New("timed out waiting for tenant lock")

// Locker is the subset of Client the tenant locker needs
type Locker interface {
	AcquireLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) (bool, error)
	ExtendLock(ctx context.Context, lockKey, token string, ttl time.Duration) (bool, error)
}

// TenantLocker serializes liquidity guard transitions for one tenant across
// processes with a token-owned SET NX lock
type TenantLocker struct {
	client Locker
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	logger *zap.Logger
}

// NewTenantLocker creates a locker; ttl bounds how long a crashed holder can
// block the tenant, wait bounds how long Lock retries
func NewTenantLocker(client Locker, ttl, wait time.Duration) *TenantLocker {
	return &TenantLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry:  50 * time.Millisecond,
		logger: util.ComponentLogger("tenant-lock"),
	}
}

// Lock blocks until the tenant lock is held, the wait elapses or ctx ends.
// While held, the lease is refreshed every third of the TTL so a slow
// transition does not lose the lock.
func (l *TenantLocker) Lock(ctx context.Context, tenantID string) (func(), error) {
	key := fmt.Sprintf("guard:%s", tenantID)
	token := uuid.New().String()

	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.AcquireLock(ctx, key, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(tenantID, key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			l.release(tenantID, key, token)
		})
	}, nil
}

func (l *TenantLocker) keepAlive(tenantID, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			ok, err := l.client.ExtendLock(ctx, key, token, l.ttl)
			cancel()
			if err != nil {
				l.logger.Warn("Failed to extend tenant lock", zap.String("tenant_id", tenantID), zap.Error(err))
				continue
			}
			if !ok {
				l.logger.Warn("Tenant lock lost before release", zap.String("tenant_id", tenantID))
				return
			}
		}
	}
}

func (l *TenantLocker) release(tenantID, key, token string) {
	// fresh context so a cancelled request still frees the lock
	rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	released, err := l.client.ReleaseLock(rctx, key, token)
	if err != nil {
		l.logger.Warn("Failed to release tenant lock", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	if !released {
		l.logger.Warn("Tenant lock expired before release", zap.String("tenant_id", tenantID))
	}
}
