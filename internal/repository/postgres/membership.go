package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/messaging/internal/domain"
)

// BlockersOf returns the candidates that blocked sender in tenantID.
// Addresses are stored normalized.
func (s *Store) BlockersOf(ctx context.Context, tenantID, sender string, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT blocker_email
		FROM messaging_blocks
		WHERE tenant_id = $1 AND blocked_email = $2 AND blocker_email = ANY($3)
	`, tenantID, domain.NormalizeEmail(sender), pq.Array(candidates))
	if err != nil {
		return nil, fmt.Errorf("blockers of: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan blocker: %w", err)
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

// Memberships returns tenant -> role for email.
func (s *Store) Memberships(ctx context.Context, email string) (map[string]domain.Role, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT tenant_id, role FROM messaging_tenant_members WHERE email = $1`,
		domain.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("memberships: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Role)
	for rows.Next() {
		var tenant, role string
		if err := rows.Scan(&tenant, &role); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out[tenant] = domain.Role(role)
	}
	return out, rows.Err()
}
