package api

import (
	"net/http"

	"github.com/ignite/messaging/internal/pkg/httputil"
	"github.com/ignite/messaging/internal/service/link"
)

//	POST /api/v1/messages/{id}/links
func (h *Handlers) AddLink(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var in link.Input
	if !httputil.Decode(w, r, &in) {
		return
	}
	l, err := h.Links.AddLink(r.Context(), caller(r), id, in)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.Created(w, l)
}

//	GET /api/v1/messages/{id}/links
func (h *Handlers) ListLinks(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	links, err := h.Links.List(r.Context(), caller(r), id)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, links)
}

//	DELETE /api/v1/links/{id}
func (h *Handlers) RemoveLink(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Links.RemoveLink(r.Context(), caller(r), id); err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.NoContent(w)
}
