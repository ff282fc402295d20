package api

import (
	"net/http"
	"strconv"

	"github.com/ignite/messaging/internal/pkg/apperr"
	"github.com/ignite/messaging/internal/pkg/httputil"
	"github.com/ignite/messaging/internal/service/moderation"
)

type recallRequest struct {
	Reason string `json:"reason"`
}

// Recall hides a message body from its recipients.
//
//	POST /api/v1/admin/messages/{id}/recall
func (h *Handlers) Recall(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req recallRequest
	if r.ContentLength != 0 && !httputil.Decode(w, r, &req) {
		return
	}
	msg, err := h.Moderation.Recall(r.Context(), caller(r), id, req.Reason)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, msg)
}

//	POST /api/v1/admin/messages/{id}/read-all
func (h *Handlers) MarkReadForAll(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	n, err := h.Moderation.MarkReadForAll(r.Context(), caller(r), id)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, map[string]int64{"marked": n})
}

type bulkTransitionRequest struct {
	IDs    []int64           `json:"ids"`
	Target moderation.Target `json:"target"`
	Reason string            `json:"reason"`
}

//	POST /api/v1/admin/messages/bulk
func (h *Handlers) BulkTransition(w http.ResponseWriter, r *http.Request) {
	var req bulkTransitionRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := h.Moderation.BulkTransition(r.Context(), caller(r), req.IDs, req.Target, req.Reason)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, res)
}

type switchRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetMessagingEnabled flips the runtime send switch for every instance.
//
//	PUT /api/v1/admin/messaging/enabled
func (h *Handlers) SetMessagingEnabled(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		httputil.FromError(w, err)
		return
	}
	if h.Switch == nil {
		httputil.FromError(w, apperr.Unavailable("runtime switch not configured"))
		return
	}
	var req switchRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		httputil.BadRequest(w, "enabled is required")
		return
	}
	if err := h.Switch.Set(r.Context(), *req.Enabled); err != nil {
		httputil.FromError(w, apperr.Unavailable("switch update failed: %v", err))
		return
	}
	log.Info("messaging switch changed", "enabled", *req.Enabled, "admin_email", caller(r).Email)
	httputil.OK(w, map[string]bool{"enabled": *req.Enabled})
}

// ReconcileOrphans retries reclamation of blobs recorded in the ledger.
//
//	POST /api/v1/admin/orphans/reconcile?limit=
func (h *Handlers) ReconcileOrphans(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r); err != nil {
		httputil.FromError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rep, err := h.Attachments.ReconcileOrphans(r.Context(), limit)
	if err != nil {
		httputil.FromError(w, apperr.Unavailable("reconcile failed: %v", err))
		return
	}
	httputil.OK(w, rep)
}
