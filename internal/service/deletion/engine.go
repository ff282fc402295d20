// Package deletion implements the message deletion state machine.
//
//	Active ──soft──▶ SoftDeleted ──hard──▶ HardDeleted
//	   └──────────────hard (admin)────────────▲
//
// Soft delete tombstones the message and every recipient row. Hard delete
// removes every row of the message in one unit of work and only then
// reclaims the blobs its attachments pointed at, each guarded by a live
// reference count. Blob failures are warnings, never row-level failures.
package deletion

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/notify"
	"github.com/ignite/messaging/internal/pkg/apperr"
	"github.com/ignite/messaging/internal/pkg/logger"
	"github.com/ignite/messaging/internal/pkg/metrics"
	"github.com/ignite/messaging/internal/repository"
)

// Repository defines the row operations deletion needs.
type Repository interface {
	repository.Transactor

	GetMessage(ctx context.Context, id int64) (*domain.Message, error)
	// SoftDeleteMessage tombstones the message and all its recipient rows.
	SoftDeleteMessage(ctx context.Context, id int64, at time.Time) error
	DeleteMessage(ctx context.Context, id int64) error
	DeleteRecipients(ctx context.Context, messageID int64) error
	// DeleteAttachmentsByMessage returns the distinct blob refs the removed
	// rows pointed at.
	DeleteAttachmentsByMessage(ctx context.Context, messageID int64) ([]string, error)
	DeleteLinksByMessage(ctx context.Context, messageID int64) error
	// DeleteThreadEdges removes edges where the message is parent or child.
	DeleteThreadEdges(ctx context.Context, messageID int64) error
}

// Reclaimer deletes a blob once nothing references it.
type Reclaimer interface {
	Reclaim(ctx context.Context, blobRef string) (bool, error)
}

// DefaultMaxBulk bounds the ids accepted by one bulk call.
const DefaultMaxBulk = 1000

// Result reports a single transition.
type Result struct {
	MessageID      int64                 `json:"message_id"`
	State          domain.LifecycleState `json:"state"`
	AlreadyDeleted bool                  `json:"already_deleted,omitempty"`
	BlobsReclaimed int                   `json:"blobs_reclaimed,omitempty"`
	Warnings       []string              `json:"warnings,omitempty"`
}

// Engine implements soft, hard and bulk deletion.
type Engine struct {
	repo      Repository
	reclaimer Reclaimer
	notifier  notify.Notifier
	maxBulk   int
	now       func() time.Time
	log       *logger.Logger
}

func NewEngine(repo Repository, reclaimer Reclaimer) *Engine {
	return &Engine{
		repo:      repo,
		reclaimer: reclaimer,
		notifier:  notify.Noop{},
		maxBulk:   DefaultMaxBulk,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.Named("deletion"),
	}
}

func (e *Engine) SetNotifier(n notify.Notifier) { e.notifier = n }

// SetMaxBulk changes the bulk size limit; n <= 0 keeps the default.
func (e *Engine) SetMaxBulk(n int) {
	if n > 0 {
		e.maxBulk = n
	}
}

// MaxBulk is the largest id list Bulk accepts.
func (e *Engine) MaxBulk() int { return e.maxBulk }

// load returns the message if caller's tenants include it.
func (e *Engine) load(ctx context.Context, caller domain.Principal, id int64) (*domain.Message, error) {
	msg, err := e.repo.GetMessage(ctx, id)
	if err != nil {
		return nil, apperr.Wrap("get message", err)
	}
	if !caller.CanAccessTenant(msg.TenantID) {
		return nil, apperr.NotFound("message %d not found", id)
	}
	return msg, nil
}

// SoftDelete tombstones a message. Its sender and admins may do this; a
// message that is already soft-deleted succeeds without change.
func (e *Engine) SoftDelete(ctx context.Context, caller domain.Principal, id int64) (*Result, error) {
	msg, err := e.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && msg.SenderEmail != domain.NormalizeEmail(caller.Email) {
		return nil, apperr.Forbidden("only the sender or an admin may delete message %d", id)
	}
	res := &Result{MessageID: id, State: domain.StateSoftDeleted}
	if msg.IsDeleted {
		res.AlreadyDeleted = true
		return res, nil
	}
	if err := e.repo.SoftDeleteMessage(ctx, id, e.now()); err != nil {
		return nil, apperr.Wrap("soft delete", err)
	}
	metrics.Deletions.WithLabelValues("soft").Inc()
	e.emit(ctx, caller, msg, "soft")
	return res, nil
}

// HardDelete removes a message and everything hanging off it. Admin only.
// Any later operation on id reports not found.
func (e *Engine) HardDelete(ctx context.Context, caller domain.Principal, id int64) (*Result, error) {
	if !caller.IsAdmin() {
		return nil, apperr.Forbidden("hard delete requires an admin")
	}
	msg, err := e.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	reclaimed, warnings, err := e.purge(ctx, id)
	if err != nil {
		return nil, err
	}
	metrics.Deletions.WithLabelValues("hard").Inc()
	e.emit(ctx, caller, msg, "hard")
	return &Result{MessageID: id, State: domain.StateHardDeleted, BlobsReclaimed: reclaimed, Warnings: warnings}, nil
}

// Purge removes every row of a message without authorization checks. The
// composer uses it to clean up a partially written send.
func (e *Engine) Purge(ctx context.Context, id int64) ([]string, error) {
	_, warnings, err := e.purge(ctx, id)
	return warnings, err
}

func (e *Engine) purge(ctx context.Context, id int64) (int, []string, error) {
	var refs []string
	err := e.repo.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if refs, err = e.repo.DeleteAttachmentsByMessage(ctx, id); err != nil {
			return fmt.Errorf("delete attachments: %w", err)
		}
		if err := e.repo.DeleteLinksByMessage(ctx, id); err != nil {
			return fmt.Errorf("delete links: %w", err)
		}
		if err := e.repo.DeleteThreadEdges(ctx, id); err != nil {
			return fmt.Errorf("delete thread edges: %w", err)
		}
		if err := e.repo.DeleteRecipients(ctx, id); err != nil {
			return fmt.Errorf("delete recipients: %w", err)
		}
		if err := e.repo.DeleteMessage(ctx, id); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, nil, apperr.Wrap("hard delete", err)
	}

	reclaimed := 0
	var warnings []string
	for _, ref := range refs {
		deleted, err := e.reclaimer.Reclaim(ctx, ref)
		if err != nil {
			e.log.Warn("blob reclaim failed", "message_id", id, "blob_ref", ref, "error", err.Error())
			warnings = append(warnings, err.Error())
			continue
		}
		if deleted {
			reclaimed++
		}
	}
	return reclaimed, warnings, nil
}

func (e *Engine) emit(ctx context.Context, caller domain.Principal, msg *domain.Message, mode string) {
	e.notifier.Emit(ctx, notify.Event{
		Type:      notify.EventMessageDeleted,
		TenantID:  msg.TenantID,
		MessageID: msg.ID,
		Actor:     domain.NormalizeEmail(caller.Email),
		Data:      map[string]any{"mode": mode},
	})
}
