package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned by WithLock when the lock stays held by
// another owner for the whole wait budget.
var ErrNotAcquired = errors.New("distlock: lock not acquired")

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Locker hands out a fresh lock per key. The attachment manager uses one
// lock per blob reference so reclamation of a shared blob is serialized.
type Locker interface {
	Lock(key string) DistLock
}

// NewLocker picks the best available backend: Redis when a client is
// configured, PostgreSQL advisory locks when only a database is, and an
// in-process lock table otherwise (single-instance dev mode).
func NewLocker(redisClient *redis.Client, db *sql.DB, ttl time.Duration) Locker {
	switch {
	case redisClient != nil:
		return lockerFunc(func(key string) DistLock { return NewRedisLock(redisClient, key, ttl) })
	case db != nil:
		return lockerFunc(func(key string) DistLock { return NewPGAdvisoryLock(db, key) })
	default:
		return NewLocalLocker()
	}
}

type lockerFunc func(key string) DistLock

func (f lockerFunc) Lock(key string) DistLock { return f(key) }

// WithLock runs fn while holding the lock for key. Acquisition is retried
// every poll interval until wait elapses or ctx is done.
func WithLock(ctx context.Context, l Locker, key string, wait time.Duration, fn func(ctx context.Context) error) error {
	lock := l.Lock(key)
	deadline := time.Now().Add(wait)
	const poll = 25 * time.Millisecond

	for {
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
	defer lock.Release(context.WithoutCancel(ctx))
	return fn(ctx)
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// pg_try_advisory_lock is session-scoped, so the lock pins a single
// connection from the pool for its lifetime and is released automatically
// if that connection drops.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock without blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn == nil {
		conn, err := l.db.Conn(ctx)
		if err != nil {
			return false, fmt.Errorf("advisory lock conn: %w", err)
		}
		l.conn = conn
	}
	var acquired bool
	if err := l.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		return false, fmt.Errorf("advisory lock: %w", err)
	}
	return acquired, nil
}

// Release releases the advisory lock and returns the pinned connection.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	l.conn.Close()
	l.conn = nil
	return err
}

// =============================================================================
// Local lock table (dev mode, tests)
// =============================================================================

// LocalLocker is an in-process Locker keyed by string.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLocker creates an empty in-process lock table.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) Lock(key string) DistLock { return &localLock{table: l, key: key} }

type localLock struct {
	table *LocalLocker
	key   string
	owned bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if l.table.held[l.key] {
		return l.owned, nil
	}
	l.table.held[l.key] = true
	l.owned = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if l.owned {
		delete(l.table.held, l.key)
		l.owned = false
	}
	return nil
}
