package message

import (
	"context"
	"errors"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/pkg/apperr"
	"github.com/ignite/messaging/internal/repository"
	"github.com/ignite/messaging/internal/service/access"
)

// View is a message as one caller sees it.
type View struct {
	Message domain.Message `json:"message"`
	// Recipient is the caller's own delivery row, when the caller is a
	// recipient.
	Recipient *domain.Recipient `json:"recipient,omitempty"`
	// Recipients is filled for the sender and admins only.
	Recipients []domain.Recipient `json:"recipients,omitempty"`
	ParentID   *int64             `json:"parent_id,omitempty"`
}

// Thread is a root message and its direct replies.
type Thread struct {
	Root    domain.Message   `json:"root"`
	Replies []domain.Message `json:"replies"`
}

// Get returns a message the caller participates in. Recipients of a
// recalled message see it without its body.
func (s *Service) Get(ctx context.Context, caller domain.Principal, id int64) (*View, error) {
	msg, err := access.Message(ctx, s.Repo, caller, id)
	if err != nil {
		return nil, err
	}
	email := domain.NormalizeEmail(caller.Email)
	v := &View{Message: *msg}

	if msg.SenderEmail == email || caller.IsAdmin() {
		if v.Recipients, err = s.Repo.ListRecipients(ctx, id); err != nil {
			return nil, apperr.Wrap("list recipients", err)
		}
	}
	if msg.SenderEmail != email {
		rec, err := s.Repo.GetRecipient(ctx, id, email)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Wrap("get recipient", err)
		}
		if err == nil {
			v.Recipient = rec
		}
	}
	if parent, err := s.Repo.GetParent(ctx, id); err != nil {
		return nil, apperr.Wrap("get parent", err)
	} else if parent != 0 {
		v.ParentID = &parent
	}

	s.redact(caller, &v.Message)
	return v, nil
}

// ListInbox lists the caller's mailbox in tenantID, most urgent first.
func (s *Service) ListInbox(ctx context.Context, caller domain.Principal, tenantID string, f repository.InboxFilter) ([]domain.InboxEntry, error) {
	if !caller.CanAccessTenant(tenantID) {
		return nil, apperr.Forbidden("no access to tenant %s", tenantID)
	}
	f.Limit, f.Offset = repository.Page(f.Limit, f.Offset)
	entries, err := s.Repo.ListInbox(ctx, tenantID, domain.NormalizeEmail(caller.Email), f)
	if err != nil {
		return nil, apperr.Wrap("list inbox", err)
	}
	for i := range entries {
		s.redact(caller, &entries[i].Message)
	}
	return entries, nil
}

// ListSent lists messages the caller sent in tenantID.
func (s *Service) ListSent(ctx context.Context, caller domain.Principal, tenantID string, limit, offset int) ([]domain.Message, error) {
	if !caller.CanAccessTenant(tenantID) {
		return nil, apperr.Forbidden("no access to tenant %s", tenantID)
	}
	limit, offset = repository.Page(limit, offset)
	msgs, err := s.Repo.ListSent(ctx, tenantID, domain.NormalizeEmail(caller.Email), limit, offset)
	return msgs, apperr.Wrap("list sent", err)
}

// MarkRead marks the caller's delivery of id as read. Marking twice keeps
// the first read time.
func (s *Service) MarkRead(ctx context.Context, caller domain.Principal, id int64) error {
	if _, err := s.ownRecipient(ctx, caller, id); err != nil {
		return err
	}
	return apperr.Wrap("mark read", s.Repo.MarkRead(ctx, id, domain.NormalizeEmail(caller.Email), s.now()))
}

// SetFolderFlags updates the caller's folder state for id.
func (s *Service) SetFolderFlags(ctx context.Context, caller domain.Principal, id int64, f domain.FolderFlags) error {
	if f.Empty() {
		return apperr.Validation("no folder flags given")
	}
	if _, err := s.ownRecipient(ctx, caller, id); err != nil {
		return err
	}
	return apperr.Wrap("set folder flags", s.Repo.SetFolderFlags(ctx, id, domain.NormalizeEmail(caller.Email), f))
}

// Thread returns the thread id belongs to, limited to the messages the
// caller participates in.
func (s *Service) Thread(ctx context.Context, caller domain.Principal, id int64) (*Thread, error) {
	if _, err := access.Message(ctx, s.Repo, caller, id); err != nil {
		return nil, err
	}
	rootID, err := s.Repo.GetParent(ctx, id)
	if err != nil {
		return nil, apperr.Wrap("get parent", err)
	}
	if rootID == 0 {
		rootID = id
	}
	root, err := s.Repo.GetMessage(ctx, rootID)
	if err != nil {
		return nil, apperr.Wrap("get thread root", err)
	}
	replies, err := s.Repo.ListReplies(ctx, rootID)
	if err != nil {
		return nil, apperr.Wrap("list replies", err)
	}

	t := &Thread{Root: *root, Replies: make([]domain.Message, 0, len(replies))}
	s.redact(caller, &t.Root)
	if t.Root.IsDeleted && !caller.IsAdmin() {
		t.Root.Subject, t.Root.Body = "", ""
	}
	for _, r := range replies {
		if !caller.IsAdmin() {
			ok, err := access.IsParticipant(ctx, s.Repo, &r, caller.Email)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		s.redact(caller, &r)
		t.Replies = append(t.Replies, r)
	}
	return t, nil
}

// ownRecipient returns the caller's live delivery row for id.
func (s *Service) ownRecipient(ctx context.Context, caller domain.Principal, id int64) (*domain.Recipient, error) {
	if _, err := access.Message(ctx, s.Repo, caller, id); err != nil {
		return nil, err
	}
	rec, err := s.Repo.GetRecipient(ctx, id, domain.NormalizeEmail(caller.Email))
	if errors.Is(err, apperr.ErrNotFound) || (err == nil && rec.IsDeleted) {
		return nil, apperr.Forbidden("not a recipient of message %d", id)
	}
	if err != nil {
		return nil, apperr.Wrap("get recipient", err)
	}
	return rec, nil
}

// redact hides the body of a recalled message from everyone but its sender
// and admins.
func (s *Service) redact(caller domain.Principal, m *domain.Message) {
	if !m.IsRecalled || caller.IsAdmin() || m.SenderEmail == domain.NormalizeEmail(caller.Email) {
		return
	}
	m.Body = ""
}
