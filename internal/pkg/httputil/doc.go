// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handlers report service failures through FromError, which translates the
// apperr taxonomy into status codes and a stable JSON envelope
// ({"error", "code", "wait_seconds", "details"}).
package httputil
