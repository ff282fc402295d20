package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/messaging/internal/auth"
	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/pkg/apperr"
	"github.com/ignite/messaging/internal/pkg/httputil"
	"github.com/ignite/messaging/internal/service/attachment"
	"github.com/ignite/messaging/internal/service/blocking"
	"github.com/ignite/messaging/internal/service/deletion"
	"github.com/ignite/messaging/internal/service/link"
	"github.com/ignite/messaging/internal/service/message"
	"github.com/ignite/messaging/internal/service/moderation"
)

// Handlers contains all HTTP handlers. Switch is optional; without it the
// runtime toggle answers 503.
type Handlers struct {
	Messages    *message.Service
	Attachments *attachment.Service
	Links       *link.Service
	Deletion    *deletion.Engine
	Moderation  *moderation.Service
	Blocking    *blocking.Service
	Switch      *message.RedisSwitch
	Health      *HealthChecker

	// MaxUploadBytes bounds multipart bodies.
	MaxUploadBytes int64
}

func caller(r *http.Request) domain.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

// idParam parses a positive int64 URL parameter, answering 400 otherwise.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httputil.BadRequest(w, "invalid "+name)
		return 0, false
	}
	return id, true
}

// tenantParam reads tenant_id from the query. A caller with exactly one
// tenant may omit it.
func tenantParam(r *http.Request) (string, error) {
	if t := r.URL.Query().Get("tenant_id"); t != "" {
		return t, nil
	}
	if p := caller(r); len(p.TenantIDs) == 1 {
		return p.TenantIDs[0], nil
	}
	return "", apperr.Validation("tenant_id is required")
}

func boolParam(r *http.Request, name string) *bool {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}

func requireAdmin(r *http.Request) error {
	if !caller(r).IsAdmin() {
		return apperr.Forbidden("admin role required")
	}
	return nil
}
