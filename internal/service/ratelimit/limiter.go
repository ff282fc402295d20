// Package ratelimit enforces the per-sender minimum interval between two
// accepted sends.
//
// Check and Update are the plain read and write. Reserve is the atomic
// variant the composer uses: it claims the slot only if the interval has
// elapsed, and the returned Reservation puts the previous timestamp back if
// the send fails afterwards, so a rejected or failed send never burns the
// sender's slot.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultMinInterval applies when no interval is configured.
const DefaultMinInterval = 10 * time.Second

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed            bool       `json:"allowed"`
	WaitSeconds        int        `json:"wait_seconds"`
	MinIntervalSeconds int        `json:"min_interval_seconds"`
	LastSentAt         *time.Time `json:"last_sent_at,omitempty"`
}

// Reservation is a claimed send slot.
type Reservation interface {
	// Release restores the sender's state to what it was before Reserve.
	// It is a no-op if another send has since moved the timestamp.
	Release(ctx context.Context) error
}

// Limiter is implemented by the Redis, Postgres and memory backends.
type Limiter interface {
	Check(ctx context.Context, sender string) (Decision, error)
	Update(ctx context.Context, sender string) error
	Reserve(ctx context.Context, sender string) (Decision, Reservation, error)
}

func normalize(sender string) string { return strings.ToLower(strings.TrimSpace(sender)) }

// decide evaluates last against now. A zero last means never sent.
func decide(now, last time.Time, interval time.Duration) Decision {
	d := Decision{Allowed: true, MinIntervalSeconds: int(interval / time.Second)}
	if last.IsZero() {
		return d
	}
	l := last
	d.LastSentAt = &l
	if elapsed := now.Sub(last); elapsed < interval {
		d.Allowed = false
		d.WaitSeconds = ceilSeconds(interval - elapsed)
	}
	return d
}

func ceilSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

type noopReservation struct{}

func (noopReservation) Release(context.Context) error { return nil }

// =============================================================================
// In-memory limiter (dev mode, tests)
// =============================================================================

// MemoryLimiter keeps lastSentAt per sender in a map.
type MemoryLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

func NewMemoryLimiter(interval time.Duration) *MemoryLimiter {
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	return &MemoryLimiter{interval: interval, last: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryLimiter) Check(_ context.Context, sender string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decide(m.now(), m.last[normalize(sender)], m.interval), nil
}

func (m *MemoryLimiter) Update(_ context.Context, sender string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[normalize(sender)] = m.now()
	return nil
}

func (m *MemoryLimiter) Reserve(_ context.Context, sender string) (Decision, Reservation, error) {
	key := normalize(sender)
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	prev := m.last[key]
	d := decide(now, prev, m.interval)
	if !d.Allowed {
		return d, noopReservation{}, nil
	}
	m.last[key] = now
	return d, &memoryReservation{m: m, key: key, claimed: now, prev: prev}, nil
}

type memoryReservation struct {
	m       *MemoryLimiter
	key     string
	claimed time.Time
	prev    time.Time
}

func (r *memoryReservation) Release(context.Context) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if !r.m.last[r.key].Equal(r.claimed) {
		return nil
	}
	if r.prev.IsZero() {
		delete(r.m.last, r.key)
	} else {
		r.m.last[r.key] = r.prev
	}
	return nil
}
