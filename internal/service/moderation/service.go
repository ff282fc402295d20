// Package moderation implements the admin-only overrides: recall, forced
// read receipts and bulk state transitions.
package moderation

import (
	"context"
	"strings"
	"time"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/notify"
	"github.com/ignite/messaging/internal/pkg/apperr"
	"github.com/ignite/messaging/internal/pkg/logger"
	"github.com/ignite/messaging/internal/service/deletion"
)

const maxReasonLength = 500

// Repository is the row access moderation needs.
type Repository interface {
	GetMessage(ctx context.Context, id int64) (*domain.Message, error)
	RecallMessage(ctx context.Context, id int64, reason string, at time.Time) error
	// MarkReadAll marks every unread recipient row read and returns how
	// many changed.
	MarkReadAll(ctx context.Context, messageID int64, at time.Time) (int64, error)
}

// Deleter applies deletion transitions.
type Deleter interface {
	SoftDelete(ctx context.Context, caller domain.Principal, id int64) (*deletion.Result, error)
	HardDelete(ctx context.Context, caller domain.Principal, id int64) (*deletion.Result, error)
	MaxBulk() int
}

// Target is a bulk transition target.
type Target string

const (
	TargetSoftDeleted Target = "soft_deleted"
	TargetHardDeleted Target = "hard_deleted"
	TargetRecalled    Target = "recalled"
	TargetRead        Target = "read"
)

// Service implements the moderation overrides.
type Service struct {
	repo     Repository
	deleter  Deleter
	notifier notify.Notifier
	now      func() time.Time
	log      *logger.Logger
}

func NewService(repo Repository, deleter Deleter) *Service {
	return &Service{
		repo:     repo,
		deleter:  deleter,
		notifier: notify.Noop{},
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.Named("moderation"),
	}
}

func (s *Service) SetNotifier(n notify.Notifier) { s.notifier = n }

func requireAdmin(caller domain.Principal) error {
	if !caller.IsAdmin() {
		return apperr.Forbidden("moderation requires an admin")
	}
	return nil
}

func (s *Service) load(ctx context.Context, caller domain.Principal, id int64) (*domain.Message, error) {
	msg, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return nil, apperr.Wrap("get message", err)
	}
	if !caller.CanAccessTenant(msg.TenantID) {
		return nil, apperr.NotFound("message %d not found", id)
	}
	return msg, nil
}

// Recall marks a message recalled. It does not touch the delete state.
// Recalling again replaces the reason.
func (s *Service) Recall(ctx context.Context, caller domain.Principal, id int64, reason string) (*domain.Message, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if len([]rune(reason)) > maxReasonLength {
		return nil, apperr.Validation("reason exceeds %d characters", maxReasonLength)
	}
	msg, err := s.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	at := s.now()
	if err := s.repo.RecallMessage(ctx, id, reason, at); err != nil {
		return nil, apperr.Wrap("recall", err)
	}
	msg.IsRecalled, msg.RecalledAt, msg.RecallReason = true, &at, reason

	s.log.Info("message recalled", "message_id", id, "admin_email", caller.Email)
	s.notifier.Emit(ctx, notify.Event{
		Type:      notify.EventMessageRecalled,
		TenantID:  msg.TenantID,
		MessageID: id,
		Actor:     domain.NormalizeEmail(caller.Email),
		Data:      map[string]any{"reason": reason},
	})
	return msg, nil
}

// MarkReadForAll marks every recipient of a message as having read it.
func (s *Service) MarkReadForAll(ctx context.Context, caller domain.Principal, id int64) (int64, error) {
	if err := requireAdmin(caller); err != nil {
		return 0, err
	}
	if _, err := s.load(ctx, caller, id); err != nil {
		return 0, err
	}
	n, err := s.repo.MarkReadAll(ctx, id, s.now())
	if err != nil {
		return 0, apperr.Wrap("mark read for all", err)
	}
	return n, nil
}

// BulkTransition applies target to each id independently. reason is used
// for recalls only.
func (s *Service) BulkTransition(ctx context.Context, caller domain.Principal, ids []int64, target Target, reason string) (*deletion.BulkResult, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if err := deletion.CheckBulk(ids, s.deleter.MaxBulk()); err != nil {
		return nil, err
	}

	var op func(id int64) ([]string, error)
	switch target {
	case TargetSoftDeleted:
		op = func(id int64) ([]string, error) {
			_, err := s.deleter.SoftDelete(ctx, caller, id)
			return nil, err
		}
	case TargetHardDeleted:
		op = func(id int64) ([]string, error) {
			r, err := s.deleter.HardDelete(ctx, caller, id)
			if err != nil {
				return nil, err
			}
			return r.Warnings, nil
		}
	case TargetRecalled:
		op = func(id int64) ([]string, error) {
			_, err := s.Recall(ctx, caller, id, reason)
			return nil, err
		}
	case TargetRead:
		op = func(id int64) ([]string, error) {
			_, err := s.MarkReadForAll(ctx, caller, id)
			return nil, err
		}
	default:
		return nil, apperr.Validation("unsupported target %q", target)
	}

	res := &deletion.BulkResult{Errors: []string{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			res.Record(id, err)
			continue
		}
		warnings, err := op(id)
		res.Record(id, err)
		res.Warnings = append(res.Warnings, warnings...)
	}
	s.log.Info("bulk transition", "target", string(target), "processed", res.ProcessedCount, "failed", res.FailedCount)
	return res, nil
}
