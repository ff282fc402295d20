package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ignite/messaging/internal/pkg/apperr"
	"github.com/ignite/messaging/internal/pkg/logger"
)

var log = logger.Named("httputil")

// ErrorResponse is the standard error envelope for all API errors.
type ErrorResponse struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	WaitSeconds int    `json:"wait_seconds,omitempty"`
	Details     any    `json:"details,omitempty"`
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("JSON encode error", "error", err)
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 response with the given data.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// NoContent writes a 204 response with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// BadRequest writes a 400 error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// Unauthorized writes a 401 error.
func Unauthorized(w http.ResponseWriter) {
	Error(w, http.StatusUnauthorized, "unauthorized")
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindRateLimit:
		return http.StatusTooManyRequests
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromError writes the response for a service error. Persistence and
// unclassified errors are logged and reported generically so internals
// never leak to clients.
func FromError(w http.ResponseWriter, err error) {
	ae, ok := apperr.As(err)
	if !ok || ae.Kind == apperr.KindPersistence || ae.Kind == apperr.KindStorage {
		log.Error("internal error", "error", err)
		Error(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if ae.Kind == apperr.KindRateLimit {
		w.Header().Set("Retry-After", strconv.Itoa(ae.WaitSeconds))
	}
	JSON(w, StatusFor(ae.Kind), ErrorResponse{
		Error:       ae.Message,
		Code:        string(ae.Kind),
		WaitSeconds: ae.WaitSeconds,
		Details:     ae.Details,
	})
}

// MaxJSONBytes caps a JSON request body.
const MaxJSONBytes = 1 << 20

// Decode reads JSON from the request body into dst. The body is capped at
// MaxJSONBytes. Returns false and writes a 413 or 400 response if reading
// or parsing fails.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
