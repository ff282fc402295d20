package domain

import (
	"net/mail"
	"strings"
)

// Role is the caller's role label as reported by the authorization gate.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Principal is the resolved caller of a request.
type Principal struct {
	Email     string   `json:"email"`
	Role      Role     `json:"role"`
	TenantIDs []string `json:"tenant_ids"`
}

// IsAdmin reports whether the principal may use moderation overrides.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanAccessTenant reports whether tenantID is in the principal's accessible set.
func (p Principal) CanAccessTenant(tenantID string) bool {
	for _, t := range p.TenantIDs {
		if t == tenantID {
			return true
		}
	}
	return false
}

// BlockRelationship records that Blocker does not want mail from Blocked.
// It is directional: "A blocked B" suppresses B's sends to A only.
type BlockRelationship struct {
	TenantID     string `json:"tenant_id"`
	BlockerEmail string `json:"blocker_email"`
	BlockedEmail string `json:"blocked_email"`
}

// NormalizeEmail lowercases and trims an address for comparison and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether s is a bare addr-spec (no display name).
func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && addr.Name == ""
}
