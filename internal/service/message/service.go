// Package message implements the message composer and the participant
// views of a mailbox.
//
// A send is validated completely before the first write: fields, the
// messaging switch, the sender's rate limit, recipient blocks, attachment
// ids and the reply target, in that order. The rows are then written in
// one unit of work. When the store cannot roll back, a failed write is
// followed by a compensating purge of whatever was written.
package message

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/notify"
	"github.com/ignite/messaging/internal/pkg/apperr"
	"github.com/ignite/messaging/internal/pkg/logger"
	"github.com/ignite/messaging/internal/pkg/metrics"
	"github.com/ignite/messaging/internal/service/ratelimit"
)

const (
	maxSubjectLength = 255
	maxBodyLength    = 100_000
)

// Config holds the composer policy values.
type Config struct {
	Enabled       bool
	MaxRecipients int
}

// Deps are the collaborators of the composer. Switch, Dedup and Notifier
// are optional.
type Deps struct {
	Repo        Repository
	Limiter     ratelimit.Limiter
	Blocker     Blocker
	Attachments Attachments
	Purger      Purger
	Switch      Switch
	Dedup       Deduper
	Notifier    notify.Notifier
}

// Deduper claims idempotency keys.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Service is the message composer.
type Service struct {
	Deps
	cfg Config
	now func() time.Time
	log *logger.Logger
}

func NewService(d Deps, cfg Config) *Service {
	if d.Notifier == nil {
		d.Notifier = notify.Noop{}
	}
	if cfg.MaxRecipients <= 0 {
		cfg.MaxRecipients = 500
	}
	return &Service{
		Deps: d,
		cfg:  cfg,
		now:  func() time.Time { return time.Now().UTC() },
		log:  logger.Named("composer"),
	}
}

// SendInput is a compose request.
type SendInput struct {
	TenantID         string             `json:"tenant_id"`
	Subject          string             `json:"subject"`
	Body             string             `json:"body"`
	Recipients       []string           `json:"recipients"`
	MessageType      domain.MessageType `json:"message_type"`
	Priority         domain.Priority    `json:"priority"`
	AttachmentIDs    []int64            `json:"attachment_ids,omitempty"`
	ReplyToMessageID *int64             `json:"reply_to_message_id,omitempty"`
	ExpiresAt        *time.Time         `json:"expires_at,omitempty"`
	IdempotencyKey   string             `json:"-"`
}

// SendResult is returned for an accepted send.
type SendResult struct {
	MessageID              int64              `json:"message_id"`
	FilteredRecipientCount int                `json:"filtered_recipient_count"`
	BlockedRecipients      []string           `json:"blocked_recipients"`
	ThreadRootID           *int64             `json:"thread_root_id,omitempty"`
	RateLimit              ratelimit.Decision `json:"rate_limit_info"`
}

// Send composes and persists a message.
func (s *Service) Send(ctx context.Context, caller domain.Principal, in SendInput) (res *SendResult, err error) {
	defer func() {
		if err != nil {
			metrics.SendRejected.WithLabelValues(string(apperr.KindOf(err))).Inc()
		}
	}()

	senderEmail := domain.NormalizeEmail(caller.Email)
	recipients, err := s.validate(caller, &in)
	if err != nil {
		return nil, err
	}

	if !s.cfg.Enabled || (s.Switch != nil && !s.Switch.Enabled(ctx)) {
		return nil, apperr.Unavailable("messaging is currently disabled")
	}

	decision, reservation, err := s.Limiter.Reserve(ctx, senderEmail)
	if err != nil {
		return nil, apperr.Unavailable("rate limiter unavailable: %v", err)
	}
	if !decision.Allowed {
		return nil, apperr.RateLimited(decision.WaitSeconds)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rerr := reservation.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.log.Warn("rate limit release failed", "sender", senderEmail, "error", rerr.Error())
		}
	}()

	blocks, err := s.Blocker.CanSendMessage(ctx, senderEmail, in.TenantID, in.MessageType, recipients)
	if err != nil {
		return nil, err
	}
	if !blocks.Allowed {
		return nil, blocks.Err
	}
	if n := len(blocks.BlockedRecipients); n > 0 {
		metrics.RecipientsBlocked.Add(float64(n))
	}

	attachments, err := s.Attachments.ValidateIDs(ctx, caller, in.TenantID, in.AttachmentIDs)
	if err != nil {
		return nil, err
	}

	var reply *replyTarget
	if in.ReplyToMessageID != nil {
		if reply, err = s.replyTarget(ctx, caller, in.TenantID, *in.ReplyToMessageID); err != nil {
			return nil, err
		}
	}

	if in.IdempotencyKey != "" && s.Dedup != nil {
		key := in.TenantID + ":" + senderEmail + ":" + in.IdempotencyKey
		first, derr := s.Dedup.Claim(ctx, key)
		if derr != nil {
			s.log.Warn("idempotency check failed", "error", derr.Error())
		} else if !first {
			return nil, apperr.Conflict("duplicate request for idempotency key %q", in.IdempotencyKey)
		} else {
			defer func() {
				if !committed {
					_ = s.Dedup.Forget(context.WithoutCancel(ctx), key)
				}
			}()
		}
	}

	msg := &domain.Message{
		SenderEmail: senderEmail,
		TenantID:    in.TenantID,
		Subject:     in.Subject,
		Body:        in.Body,
		MessageType: in.MessageType,
		Priority:    in.Priority,
		ExpiresAt:   in.ExpiresAt,
	}
	if err := s.persist(ctx, msg, blocks.Deliverable, attachments, reply); err != nil {
		return nil, err
	}
	committed = true

	if err := s.Limiter.Update(ctx, senderEmail); err != nil {
		s.log.Warn("rate limit update failed", "sender", senderEmail, "error", err.Error())
	}
	metrics.MessagesSent.WithLabelValues(string(msg.MessageType)).Inc()

	var bytes int64
	for _, a := range attachments {
		bytes += a.FileSize
	}
	s.Notifier.Emit(ctx, notify.Event{
		Type:       notify.EventMessageCreated,
		TenantID:   msg.TenantID,
		MessageID:  msg.ID,
		Actor:      senderEmail,
		Recipients: blocks.Deliverable,
		Subject:    msg.Subject,
		Data: map[string]any{
			"priority":         string(msg.Priority),
			"message_type":     string(msg.MessageType),
			"attachment_count": len(attachments),
			"attachment_bytes": bytes,
		},
	})

	out := &SendResult{
		MessageID:              msg.ID,
		FilteredRecipientCount: len(blocks.Deliverable),
		BlockedRecipients:      blocks.BlockedRecipients,
		RateLimit:              decision,
	}
	if reply != nil {
		out.ThreadRootID = &reply.rootID
	}
	return out, nil
}

// CreateReply sends a direct reply to parentID.
func (s *Service) CreateReply(ctx context.Context, caller domain.Principal, parentID int64, in SendInput) (*SendResult, error) {
	in.ReplyToMessageID = &parentID
	if in.MessageType == "" {
		in.MessageType = domain.MessageDirect
	}
	return s.Send(ctx, caller, in)
}

// validate normalizes in and returns the deduplicated recipient list.
func (s *Service) validate(caller domain.Principal, in *SendInput) ([]string, error) {
	senderEmail := domain.NormalizeEmail(caller.Email)
	if senderEmail == "" {
		return nil, apperr.Validation("sender is required")
	}
	in.TenantID = strings.TrimSpace(in.TenantID)
	in.Subject = strings.TrimSpace(in.Subject)
	if in.TenantID == "" {
		return nil, apperr.Validation("tenant_id is required")
	}
	if in.Subject == "" {
		return nil, apperr.Validation("subject is required")
	}
	if len([]rune(in.Subject)) > maxSubjectLength {
		return nil, apperr.Validation("subject exceeds %d characters", maxSubjectLength)
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, apperr.Validation("body is required")
	}
	if len(in.Body) > maxBodyLength {
		return nil, apperr.Validation("body exceeds %d bytes", maxBodyLength)
	}
	if in.MessageType == "" {
		in.MessageType = domain.MessageDirect
	}
	if !in.MessageType.Valid() {
		return nil, apperr.Validation("invalid message_type %q", in.MessageType)
	}
	if in.Priority == "" {
		in.Priority = domain.PriorityNormal
	}
	if !in.Priority.Valid() {
		return nil, apperr.Validation("invalid priority %q", in.Priority)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.now()) {
		return nil, apperr.Validation("expires_at must be in the future")
	}
	if len(in.Recipients) == 0 {
		return nil, apperr.Validation("at least one recipient is required")
	}

	seen := make(map[string]bool, len(in.Recipients))
	recipients := make([]string, 0, len(in.Recipients))
	var invalid []string
	for _, r := range in.Recipients {
		e := domain.NormalizeEmail(r)
		if !domain.ValidEmail(e) {
			invalid = append(invalid, r)
			continue
		}
		if e == senderEmail || seen[e] {
			continue
		}
		seen[e] = true
		recipients = append(recipients, e)
	}
	if len(invalid) > 0 {
		return nil, apperr.Validation("invalid recipient addresses: %s", strings.Join(invalid, ", ")).
			WithDetails(map[string]any{"invalid_recipients": invalid})
	}
	if len(recipients) == 0 {
		return nil, apperr.Validation("cannot send a message only to yourself")
	}
	if len(recipients) > s.cfg.MaxRecipients {
		return nil, apperr.Validation("too many recipients: %d (max %d)", len(recipients), s.cfg.MaxRecipients)
	}
	if !caller.CanAccessTenant(in.TenantID) {
		return nil, apperr.Forbidden("no access to tenant %s", in.TenantID)
	}
	return recipients, nil
}

type replyTarget struct {
	parent *domain.Message
	rootID int64
	// callerIsRecipient marks whether the parent has a recipient row for
	// the caller to flag as replied.
	callerIsRecipient bool
}

// replyTarget resolves the message being replied to and the root its
// thread edge hangs from. Threads are two levels deep: a reply to a reply
// attaches to the root.
func (s *Service) replyTarget(ctx context.Context, caller domain.Principal, tenantID string, parentID int64) (*replyTarget, error) {
	parent, err := s.Repo.GetMessage(ctx, parentID)
	if errors.Is(err, apperr.ErrNotFound) || (err == nil && (parent.IsDeleted || parent.TenantID != tenantID)) {
		return nil, apperr.NotFound("message %d not found", parentID)
	}
	if err != nil {
		return nil, apperr.Wrap("get parent message", err)
	}
	if parent.MessageType != domain.MessageDirect {
		return nil, apperr.Forbidden("replies are only allowed on direct messages")
	}

	email := domain.NormalizeEmail(caller.Email)
	t := &replyTarget{parent: parent, rootID: parent.ID}
	if parent.SenderEmail != email {
		rec, err := s.Repo.GetRecipient(ctx, parent.ID, email)
		switch {
		case err == nil && !rec.IsDeleted:
			t.callerIsRecipient = true
		case err != nil && !errors.Is(err, apperr.ErrNotFound):
			return nil, apperr.Wrap("get recipient", err)
		case !caller.IsAdmin():
			return nil, apperr.Forbidden("not a participant of message %d", parentID)
		}
	}

	root, err := s.Repo.GetParent(ctx, parent.ID)
	if err != nil {
		return nil, apperr.Wrap("get thread root", err)
	}
	if root != 0 {
		rm, err := s.Repo.GetMessage(ctx, root)
		if errors.Is(err, apperr.ErrNotFound) || (err == nil && rm.IsDeleted) {
			return nil, apperr.NotFound("message %d not found", root)
		}
		if err != nil {
			return nil, apperr.Wrap("get thread root", err)
		}
		t.rootID = root
	}
	return t, nil
}

func (s *Service) persist(ctx context.Context, msg *domain.Message, recipients []string, attachments []domain.Attachment, reply *replyTarget) error {
	err := s.Repo.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.Repo.InsertMessage(ctx, msg); err != nil {
			return err
		}
		if err := s.Repo.InsertRecipients(ctx, msg.ID, recipients); err != nil {
			return err
		}
		if len(attachments) > 0 {
			if _, err := s.Attachments.CopyToMessage(ctx, msg.ID, attachments, msg.SenderEmail); err != nil {
				return err
			}
		}
		if reply == nil {
			return nil
		}
		if err := s.Repo.InsertThreadEdge(ctx, &domain.ThreadEdge{ParentMessageID: reply.rootID, ChildMessageID: msg.ID}); err != nil {
			return err
		}
		if reply.callerIsRecipient {
			replied := true
			return s.Repo.SetFolderFlags(ctx, reply.parent.ID, msg.SenderEmail, domain.FolderFlags{Replied: &replied})
		}
		return nil
	})
	if err == nil {
		return nil
	}

	if !s.Repo.Transactional() && msg.ID != 0 {
		s.compensate(ctx, msg.ID, err)
	}
	return apperr.Wrap("send message", err)
}

// compensate removes a partially written message.
func (s *Service) compensate(ctx context.Context, messageID int64, cause error) {
	log := s.log.With("message_id", messageID, "cause", cause.Error())
	if s.Purger == nil {
		metrics.CompensatingPurges.WithLabelValues("skipped").Inc()
		log.Error("partial message left behind, no purger configured")
		return
	}
	warnings, err := s.Purger.Purge(context.WithoutCancel(ctx), messageID)
	if err != nil {
		metrics.CompensatingPurges.WithLabelValues("failed").Inc()
		log.Error("compensating purge failed", "error", err.Error())
		return
	}
	metrics.CompensatingPurges.WithLabelValues("ok").Inc()
	for _, w := range warnings {
		log.Warn("compensating purge warning", "warning", w)
	}
}
