// Package access holds the participant checks shared by the message,
// attachment and link services.
package access

import (
	"context"
	"errors"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/pkg/apperr"
)

// MessageReader is the slice of the repository the checks need.
type MessageReader interface {
	GetMessage(ctx context.Context, id int64) (*domain.Message, error)
	GetRecipient(ctx context.Context, messageID int64, email string) (*domain.Recipient, error)
}

// IsParticipant reports whether email sent msg or is a live recipient of it.
func IsParticipant(ctx context.Context, r MessageReader, msg *domain.Message, email string) (bool, error) {
	email = domain.NormalizeEmail(email)
	if msg.SenderEmail == email {
		return true, nil
	}
	rec, err := r.GetRecipient(ctx, msg.ID, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap("get recipient", err)
	}
	return !rec.IsDeleted, nil
}

// Message loads a live message the caller may see. Soft-deleted messages
// and messages outside the caller's tenants are reported as not found;
// non-participants get an authorization error. Admins skip the
// participant check only.
func Message(ctx context.Context, r MessageReader, caller domain.Principal, messageID int64) (*domain.Message, error) {
	msg, err := r.GetMessage(ctx, messageID)
	if err != nil {
		return nil, apperr.Wrap("get message", err)
	}
	if msg.IsDeleted || !caller.CanAccessTenant(msg.TenantID) {
		return nil, apperr.NotFound("message %d not found", messageID)
	}
	if caller.IsAdmin() {
		return msg, nil
	}
	ok, err := IsParticipant(ctx, r, msg, caller.Email)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Forbidden("not a participant of message %d", messageID)
	}
	return msg, nil
}
