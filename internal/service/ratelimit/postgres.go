package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresLimiter keeps lastSentAt in messaging_rate_limits. Reserve is a
// single conditional upsert, so two concurrent sends cannot both pass.
type PostgresLimiter struct {
	db       *sql.DB
	interval time.Duration
	now      func() time.Time
}

func NewPostgresLimiter(db *sql.DB, interval time.Duration) *PostgresLimiter {
	if interval <= 0 {
		interval = DefaultMinInterval
	}
	return &PostgresLimiter{db: db, interval: interval, now: time.Now}
}

func (p *PostgresLimiter) lastSent(ctx context.Context, sender string) (time.Time, error) {
	var last time.Time
	err := p.db.QueryRowContext(ctx,
		`SELECT last_sent_at FROM messaging_rate_limits WHERE sender_email = $1`,
		sender,
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read rate limit: %w", err)
	}
	return last, nil
}

func (p *PostgresLimiter) Check(ctx context.Context, sender string) (Decision, error) {
	last, err := p.lastSent(ctx, normalize(sender))
	if err != nil {
		return Decision{}, err
	}
	return decide(p.now(), last, p.interval), nil
}

func (p *PostgresLimiter) Update(ctx context.Context, sender string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO messaging_rate_limits (sender_email, last_sent_at)
		VALUES ($1, $2)
		ON CONFLICT (sender_email) DO UPDATE SET last_sent_at = EXCLUDED.last_sent_at
	`, normalize(sender), p.now().UTC())
	if err != nil {
		return fmt.Errorf("update rate limit: %w", err)
	}
	return nil
}

func (p *PostgresLimiter) Reserve(ctx context.Context, sender string) (Decision, Reservation, error) {
	sender = normalize(sender)
	now := p.now().UTC().Truncate(time.Microsecond)

	// RETURNING sees the pre-statement snapshot through the CTE, which gives
	// us the previous value for Release.
	var prev sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		WITH prev AS (
			SELECT last_sent_at FROM messaging_rate_limits WHERE sender_email = $1
		)
		INSERT INTO messaging_rate_limits (sender_email, last_sent_at)
		VALUES ($1, $2)
		ON CONFLICT (sender_email) DO UPDATE SET last_sent_at = EXCLUDED.last_sent_at
		WHERE messaging_rate_limits.last_sent_at <= $3
		RETURNING (SELECT last_sent_at FROM prev)
	`, sender, now, now.Add(-p.interval)).Scan(&prev)

	if errors.Is(err, sql.ErrNoRows) {
		// The guard rejected the update: still inside the interval.
		last, err := p.lastSent(ctx, sender)
		if err != nil {
			return Decision{}, nil, err
		}
		d := decide(now, last, p.interval)
		if d.Allowed {
			// The row moved between the two statements; report the minimum wait.
			d.Allowed = false
			d.WaitSeconds = 1
		}
		return d, noopReservation{}, nil
	}
	if err != nil {
		return Decision{}, nil, fmt.Errorf("reserve rate limit: %w", err)
	}

	var last time.Time
	if prev.Valid {
		last = prev.Time
	}
	d := decide(now, last, p.interval)
	d.Allowed = true
	d.WaitSeconds = 0
	return d, &pgReservation{p: p, sender: sender, claimed: now, prev: prev}, nil
}

type pgReservation struct {
	p       *PostgresLimiter
	sender  string
	claimed time.Time
	prev    sql.NullTime
}

func (r *pgReservation) Release(ctx context.Context) error {
	var err error
	if r.prev.Valid {
		_, err = r.p.db.ExecContext(ctx,
			`UPDATE messaging_rate_limits SET last_sent_at = $3 WHERE sender_email = $1 AND last_sent_at = $2`,
			r.sender, r.claimed, r.prev.Time)
	} else {
		_, err = r.p.db.ExecContext(ctx,
			`DELETE FROM messaging_rate_limits WHERE sender_email = $1 AND last_sent_at = $2`,
			r.sender, r.claimed)
	}
	if err != nil {
		return fmt.Errorf("release rate limit: %w", err)
	}
	return nil
}
