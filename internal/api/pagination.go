package api

import (
	"net/http"
	"strconv"
)

// PaginationParams holds parsed pagination values from query params.
type PaginationParams struct {
	Page   int
	Limit  int
	Offset int
}

// ListResponse wraps list data with the page that produced it.
type ListResponse struct {
	Data  any `json:"data"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	// HasMore is true when the page came back full.
	HasMore bool `json:"has_more"`
}

// ParsePagination extracts page and limit from query params with defaults.
// maxLimit caps the maximum allowed limit.
func ParsePagination(r *http.Request, defaultLimit, maxLimit int) PaginationParams {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	return PaginationParams{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
}

func newListResponse(data any, n int, p PaginationParams) ListResponse {
	return ListResponse{Data: data, Page: p.Page, Limit: p.Limit, HasMore: n == p.Limit}
}
