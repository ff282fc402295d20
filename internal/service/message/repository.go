package message

import (
	"context"
	"time"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/repository"
	"github.com/ignite/messaging/internal/service/blocking"
)

// Repository defines the data access contract for messages, recipients and
// thread edges.
type Repository interface {
	repository.Transactor

	// InsertMessage assigns ID and CreatedAt.
	InsertMessage(ctx context.Context, m *domain.Message) error
	GetMessage(ctx context.Context, id int64) (*domain.Message, error)
	ListSent(ctx context.Context, tenantID, sender string, limit, offset int) ([]domain.Message, error)
	ListInbox(ctx context.Context, tenantID, email string, f repository.InboxFilter) ([]domain.InboxEntry, error)

	InsertRecipients(ctx context.Context, messageID int64, emails []string) error
	ListRecipients(ctx context.Context, messageID int64) ([]domain.Recipient, error)
	GetRecipient(ctx context.Context, messageID int64, email string) (*domain.Recipient, error)
	MarkRead(ctx context.Context, messageID int64, email string, at time.Time) error
	SetFolderFlags(ctx context.Context, messageID int64, email string, f domain.FolderFlags) error

	InsertThreadEdge(ctx context.Context, e *domain.ThreadEdge) error
	// GetParent returns the parent of childID, or 0 for a root.
	GetParent(ctx context.Context, childID int64) (int64, error)
	ListReplies(ctx context.Context, parentID int64) ([]domain.Message, error)
}

// Blocker filters recipients who blocked the sender.
type Blocker interface {
	CanSendMessage(ctx context.Context, sender, tenantID string, messageType domain.MessageType, recipients []string) (blocking.Result, error)
}

// Attachments resolves and copies attachment rows for a new message.
type Attachments interface {
	ValidateIDs(ctx context.Context, caller domain.Principal, tenantID string, ids []int64) ([]domain.Attachment, error)
	CopyToMessage(ctx context.Context, messageID int64, sources []domain.Attachment, by string) ([]domain.Attachment, error)
}

// Purger removes every row of a partially written message. It returns
// storage warnings separately from the row-level error.
type Purger interface {
	Purge(ctx context.Context, messageID int64) ([]string, error)
}
