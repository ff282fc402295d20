package deletion

import (
	"context"
	"fmt"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/pkg/apperr"
)

// BulkResult accounts for a batch of independent transitions.
type BulkResult struct {
	ProcessedCount int      `json:"processed_count"`
	FailedCount    int      `json:"failed_count"`
	Errors         []string `json:"errors"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Record adds the outcome of one item.
func (r *BulkResult) Record(id int64, err error) {
	if err == nil {
		r.ProcessedCount++
		return
	}
	r.FailedCount++
	r.Errors = append(r.Errors, fmt.Sprintf("%d: %s", id, Reason(err)))
}

// Reason renders err for a bulk error line.
func Reason(err error) string {
	ae, ok := apperr.As(err)
	if !ok {
		return err.Error()
	}
	switch ae.Kind {
	case apperr.KindNotFound:
		return "not found"
	case apperr.KindAuthorization:
		return "forbidden"
	}
	return ae.Error()
}

// CheckBulk validates the size of a bulk id list.
func CheckBulk(ids []int64, max int) error {
	if len(ids) == 0 {
		return apperr.Validation("no message ids given")
	}
	if len(ids) > max {
		return apperr.Validation("too many message ids: %d (max %d)", len(ids), max)
	}
	return nil
}

// Bulk applies target to each id in order. One item's failure never stops
// the rest.
func (e *Engine) Bulk(ctx context.Context, caller domain.Principal, ids []int64, target domain.LifecycleState) (*BulkResult, error) {
	if err := CheckBulk(ids, e.maxBulk); err != nil {
		return nil, err
	}
	var op func(context.Context, domain.Principal, int64) (*Result, error)
	switch target {
	case domain.StateSoftDeleted:
		op = e.SoftDelete
	case domain.StateHardDeleted:
		op = e.HardDelete
	default:
		return nil, apperr.Validation("unsupported target state %q", target)
	}

	res := &BulkResult{Errors: []string{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			res.Record(id, err)
			continue
		}
		r, err := op(ctx, caller, id)
		res.Record(id, err)
		if r != nil {
			res.Warnings = append(res.Warnings, r.Warnings...)
		}
	}
	return res, nil
}
