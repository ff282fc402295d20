package link

import (
	"context"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/repository"
)

// Repository defines the data access contract for link rows.
type Repository interface {
	repository.Transactor

	GetMessage(ctx context.Context, id int64) (*domain.Message, error)
	GetRecipient(ctx context.Context, messageID int64, email string) (*domain.Recipient, error)

	// InsertLink assigns ID and CreatedAt. A second row with the same URL on
	// the same message is a conflict.
	InsertLink(ctx context.Context, l *domain.Link) error
	GetLink(ctx context.Context, id int64) (*domain.Link, error)
	ListLinks(ctx context.Context, messageID int64) ([]domain.Link, error)
	LinkExists(ctx context.Context, messageID int64, url string) (bool, error)
	DeleteLink(ctx context.Context, id int64) error
	RefreshLinkCounters(ctx context.Context, messageID int64) error
}
