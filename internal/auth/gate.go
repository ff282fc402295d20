package auth

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/pkg/httputil"
)

// Gate resolves the caller of a request. ok is false when the request is
// not authenticated.
type Gate interface {
	Authorize(r *http.Request) (p domain.Principal, ok bool)
}

// MembershipSource lists the tenants an address belongs to and its role in
// each.
type MembershipSource interface {
	Memberships(ctx context.Context, email string) (map[string]domain.Role, error)
}

type principalKey struct{}

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by Middleware.
func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// Middleware rejects unauthenticated requests with 401 and stores the
// principal on the request context otherwise.
func Middleware(g Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := g.Authorize(r)
			if !ok {
				httputil.Unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// Resolver turns an authenticated address into a Principal. An address
// listed in admins, or holding the admin role in any tenant, is an admin.
type Resolver struct {
	members MembershipSource
	admins  map[string]bool
}

func NewResolver(members MembershipSource, adminEmails []string) *Resolver {
	admins := make(map[string]bool, len(adminEmails))
	for _, e := range adminEmails {
		admins[domain.NormalizeEmail(e)] = true
	}
	return &Resolver{members: members, admins: admins}
}

func (r *Resolver) Resolve(ctx context.Context, email string) (domain.Principal, error) {
	email = domain.NormalizeEmail(email)
	p := domain.Principal{Email: email, Role: domain.RoleMember, TenantIDs: []string{}}
	if r.admins[email] {
		p.Role = domain.RoleAdmin
	}
	if r.members == nil {
		return p, nil
	}
	roles, err := r.members.Memberships(ctx, email)
	if err != nil {
		return domain.Principal{}, err
	}
	for tenant, role := range roles {
		p.TenantIDs = append(p.TenantIDs, tenant)
		if role == domain.RoleAdmin {
			p.Role = domain.RoleAdmin
		}
	}
	sort.Strings(p.TenantIDs)
	return p, nil
}

// Dev-mode headers.
const (
	HeaderEmail   = "X-Auth-Email"
	HeaderTenants = "X-Auth-Tenants"
	HeaderRole    = "X-Auth-Role"
)

// HeaderGate trusts identity headers set by a fronting proxy or by a
// developer. It must only be enabled in dev mode. When X-Auth-Tenants is
// absent the tenant set comes from the membership source.
type HeaderGate struct {
	resolver *Resolver
}

func NewHeaderGate(resolver *Resolver) *HeaderGate {
	return &HeaderGate{resolver: resolver}
}

func (g *HeaderGate) Authorize(r *http.Request) (domain.Principal, bool) {
	email := domain.NormalizeEmail(r.Header.Get(HeaderEmail))
	if !domain.ValidEmail(email) {
		return domain.Principal{}, false
	}
	p, err := g.resolver.Resolve(r.Context(), email)
	if err != nil {
		log.Warn("membership lookup failed", "email", email, "error", err.Error())
		return domain.Principal{}, false
	}
	if v := r.Header.Get(HeaderTenants); v != "" {
		p.TenantIDs = p.TenantIDs[:0]
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				p.TenantIDs = append(p.TenantIDs, t)
			}
		}
	}
	if domain.Role(strings.ToLower(r.Header.Get(HeaderRole))) == domain.RoleAdmin {
		p.Role = domain.RoleAdmin
	}
	return p, true
}
