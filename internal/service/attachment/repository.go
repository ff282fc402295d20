package attachment

import (
	"context"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/repository"
)

// Repository defines the data access contract for attachment rows.
type Repository interface {
	repository.Transactor

	GetMessage(ctx context.Context, id int64) (*domain.Message, error)
	GetRecipient(ctx context.Context, messageID int64, email string) (*domain.Recipient, error)

	// InsertAttachment assigns ID and CreatedAt.
	InsertAttachment(ctx context.Context, a *domain.Attachment) error
	GetAttachment(ctx context.Context, id int64) (*domain.Attachment, error)
	// GetAttachments returns the rows that exist; missing ids are omitted.
	GetAttachments(ctx context.Context, ids []int64) ([]domain.Attachment, error)
	ListAttachments(ctx context.Context, messageID int64) ([]domain.Attachment, error)
	// ListLibrary returns the tenant's library files (rows without a message).
	ListLibrary(ctx context.Context, tenantID string) ([]domain.Attachment, error)
	DeleteAttachment(ctx context.Context, id int64) error

	// CountBlobReferences counts live rows anywhere that point at blobRef.
	CountBlobReferences(ctx context.Context, blobRef string) (int, error)
	// RefreshAttachmentCounters recomputes hasAttachments/attachmentCount
	// from the rows.
	RefreshAttachmentCounters(ctx context.Context, messageID int64) error
}
