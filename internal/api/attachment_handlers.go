package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/ignite/messaging/internal/pkg/httputil"
)

const multipartMemory = 8 << 20

// UploadAttachment attaches the "file" part of a multipart body to the
// message in the URL.
//
//	POST /api/v1/messages/{id}/attachments
func (h *Handlers) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	h.upload(w, r, &id)
}

// UploadLibraryFile stores a file in the tenant library.
//
//	POST /api/v1/attachments?tenant_id=
func (h *Handlers) UploadLibraryFile(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, nil)
}

func (h *Handlers) upload(w http.ResponseWriter, r *http.Request, messageID *int64) {
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			httputil.Error(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		httputil.BadRequest(w, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "file part is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		httputil.BadRequest(w, "failed to read file")
		return
	}

	tenant := r.FormValue("tenant_id")
	if tenant == "" {
		if tenant, err = tenantParam(r); err != nil {
			httputil.FromError(w, err)
			return
		}
	}

	a, err := h.Attachments.Upload(r.Context(), caller(r), tenant, messageID,
		header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.Created(w, a)
}

//	GET /api/v1/messages/{id}/attachments
func (h *Handlers) ListAttachments(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	rows, err := h.Attachments.List(r.Context(), caller(r), id)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, rows)
}

//	GET /api/v1/attachments/library?tenant_id=
func (h *Handlers) Library(w http.ResponseWriter, r *http.Request) {
	tenant, err := tenantParam(r)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	rows, err := h.Attachments.Library(r.Context(), caller(r), tenant)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, rows)
}

// DownloadAttachment streams the stored bytes.
//
//	GET /api/v1/attachments/{id}
func (h *Handlers) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	a, data, err := h.Attachments.Download(r.Context(), caller(r), id)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.FileName}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// DetachAttachment removes the row and reclaims the blob when unreferenced.
//
//	DELETE /api/v1/attachments/{id}
func (h *Handlers) DetachAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	res, err := h.Attachments.Detach(r.Context(), caller(r), id)
	if err != nil {
		httputil.FromError(w, err)
		return
	}
	httputil.OK(w, res)
}
