// Package repository holds what the store implementations and the services
// share: the transaction boundary and listing filters. Entity access
// contracts live next to the service that consumes them.
package repository

import "context"

// Transactor runs fn as one unit of work. Stores that cannot provide
// multi-statement atomicity run fn directly and report Transactional false;
// callers then fall back to validate-before-write plus compensating cleanup.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Transactional() bool
}

// InboxFilter narrows a recipient's mailbox listing.
type InboxFilter struct {
	UnreadOnly      bool
	Archived        *bool
	Saved           *bool
	IncludeRecalled bool
	Limit           int
	Offset          int
}

// DefaultLimit caps list endpoints when the caller does not.
const DefaultLimit = 50

// Page normalizes limit/offset.
func Page(limit, offset int) (int, int) {
	if limit <= 0 || limit > 500 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
