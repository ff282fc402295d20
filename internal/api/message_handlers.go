package api

import (
	"net/http"
	"strings"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/pkg/httputil"
	"github.com/ignite/messaging/internal/repository"
	"github.com/ignite/messaging/internal/service/message"
)

// HeaderIdempotencyKey makes a send safe to retry.
const HeaderIdempotencyKey = "Idempotency-Key"

// SendMessage composes a new message.
//
//	POST /api/v1/messages
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var in message.SendInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	in.IdempotencyKey = strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))

	res, err := h.Messages.Send(r.Context(), caller(r), in)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.Created(w, res)
}

// Reply answers the message in the URL.
//
//	POST /api/v1/messages/{id}/replies
func (h *Handlers) Reply(w http.ResponseWriter, r *http.Request) {
	parentID, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var in message.SendInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	in.IdempotencyKey = strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))

	res, err := h.Messages.CreateReply(r.Context(), caller(r), parentID, in)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.Created(w, res)
}

func (h *Handlers) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	v, err := h.Messages.Get(r.Context(), caller(r), id)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, v)
}

func (h *Handlers) Thread(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	t, err := h.Messages.Thread(r.Context(), caller(r), id)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, t)
}

// Inbox lists the caller's mailbox.
//
//	GET /api/v1/messages/inbox?tenant_id=&unread=&archived=&saved=&include_recalled=&page=&limit=
func (h *Handlers) Inbox(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantParam(r)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	page := ParsePagination(r, repository.DefaultLimit, 200)
	f := repository.InboxFilter{
		Archived: boolParam(r, "archived"),
		Saved:    boolParam(r, "saved"),
		Limit:    page.Limit,
		Offset:   page.Offset,
	}
	if b := boolParam(r, "unread"); b != nil {
		f.UnreadOnly = *b
	}
	if b := boolParam(r, "include_recalled"); b != nil {
		f.IncludeRecalled = *b
	}

	entries, err := h.Messages.ListInbox(r.Context(), caller(r), tenant, f)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, newListResponse(entries, len(entries), page))
}

//	GET /api/v1/messages/sent?tenant_id=&page=&limit=
func (h *Handlers) Sent(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantParam(r)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	page := ParsePagination(r, repository.DefaultLimit, 200)
	msgs, err := h.Messages.ListSent(r.Context(), caller(r), tenant, page.Limit, page.Offset)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, newListResponse(msgs, len(msgs), page))
}

func (h *Handlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Messages.MarkRead(r.Context(), caller(r), id); err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.NoContent(w)
}

// SetFlags updates archived/saved/forwarded/replied on the caller's copy.
//
//	PATCH /api/v1/messages/{id}/flags
func (h *Handlers) SetFlags(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var f domain.FolderFlags
	if !httputil.Decode(w, r, &f) {
		return
	}
	if err := h.Messages.SetFolderFlags(r.Context(), caller(r), id, f); err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.NoContent(w)
}

// DeleteMessage soft-deletes, or hard-deletes with ?mode=hard.
//
//	DELETE /api/v1/messages/{id}
func (h *Handlers) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	del := h.Deletion.SoftDelete
	switch r.URL.Query().Get("mode") {
	case "", "soft":
	case "hard":
		del = h.Deletion.HardDelete
	default:
		httputil.BadRequest(w, "mode must be soft or hard")
		return
	}
	res, err := del(r.Context(), caller(r), id)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, res)
}

type bulkDeleteRequest struct {
	IDs   []int64               `json:"ids"`
	State domain.LifecycleState `json:"state"`
}

// BulkDelete applies one deletion state to many messages. Each id succeeds
// or fails on its own.
//
//	POST /api/v1/messages/bulk-delete
func (h *Handlers) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.State == "" {
		req.State = domain.StateSoftDeleted
	}
	res, err := h.Deletion.Bulk(r.Context(), caller(r), req.IDs, req.State)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, res)
}

// CheckBlock reports whether recipient blocked sender. Only admins may ask
// on behalf of another sender.
//
//	GET /api/v1/blocks/check?tenant_id=&recipient=&sender=
func (h *Handlers) CheckBlock(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantParam(r)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	p := caller(r)
	if !p.CanAccessTenant(tenant) {
		httputil.Error(w, http.StatusForbidden, "no access to tenant "+tenant)
		return
	}
	recipient := domain.NormalizeEmail(r.URL.Query().Get("recipient"))
	if !domain.ValidEmail(recipient) {
		httputil.BadRequest(w, "valid recipient is required")
		return
	}
	sender := p.Email
	if s := r.URL.Query().Get("sender"); s != "" && p.IsAdmin() {
		sender = s
	}

	blocked, err := h.Blocking.IsBlocked(r.Context(), tenant, sender, recipient)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"sender":    domain.NormalizeEmail(sender),
		"recipient": recipient,
		"blocked":   blocked,
	})
}
