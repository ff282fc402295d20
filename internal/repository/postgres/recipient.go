package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/pkg/apperr"
)

const recipientColumns = `id, message_id, recipient_email, is_read, read_at, is_deleted, deleted_at,
	is_archived, is_saved, is_forwarded, is_replied`

func scanRecipient(sc scanner) (*domain.Recipient, error) {
	var r domain.Recipient
	var readAt, delAt sql.NullTime
	if err := sc.Scan(&r.ID, &r.MessageID, &r.RecipientEmail, &r.IsRead, &readAt, &r.IsDeleted, &delAt,
		&r.IsArchived, &r.IsSaved, &r.IsForwarded, &r.IsReplied); err != nil {
		return nil, err
	}
	r.ReadAt, r.DeletedAt = timePtr(readAt), timePtr(delAt)
	return &r, nil
}

// InsertRecipients fans a message out in one statement. Duplicates are
// skipped by the unique (message_id, recipient_email) constraint.
func (s *Store) InsertRecipients(ctx context.Context, messageID int64, emails []string) error {
	if len(emails) == 0 {
		return nil
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO messaging_recipients (message_id, recipient_email)
		SELECT $1, unnest($2::text[])
		ON CONFLICT (message_id, recipient_email) DO NOTHING
	`, messageID, pq.Array(emails))
	return classify("insert recipients", err, "")
}

func (s *Store) ListRecipients(ctx context.Context, messageID int64) ([]domain.Recipient, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+recipientColumns+` FROM messaging_recipients WHERE message_id = $1 ORDER BY id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	out := []domain.Recipient{}
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) GetRecipient(ctx context.Context, messageID int64, email string) (*domain.Recipient, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM messaging_recipients WHERE message_id = $1 AND recipient_email = $2`,
		messageID, email)
	r, err := scanRecipient(row)
	if err != nil {
		return nil, classify("get recipient", err, "recipient not found")
	}
	return r, nil
}

// MarkRead keeps the first read time.
func (s *Store) MarkRead(ctx context.Context, messageID int64, email string, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE messaging_recipients
		SET is_read = true, read_at = COALESCE(read_at, $3)
		WHERE message_id = $1 AND recipient_email = $2
	`, messageID, email, at)
	if err != nil {
		return classify("mark read", err, "")
	}
	return requireRow(res, "recipient not found")
}

func (s *Store) MarkReadAll(ctx context.Context, messageID int64, at time.Time) (int64, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE messaging_recipients SET is_read = true, read_at = $2
		WHERE message_id = $1 AND NOT is_read
	`, messageID, at)
	if err != nil {
		return 0, classify("mark read all", err, "")
	}
	return res.RowsAffected()
}

// SetFolderFlags applies only the flags that are set.
func (s *Store) SetFolderFlags(ctx context.Context, messageID int64, email string, f domain.FolderFlags) error {
	if f.Empty() {
		return apperr.Validation("no folder flags given")
	}
	sets := []string{}
	args := []any{messageID, email}
	add := func(col string, v *bool) {
		if v == nil {
			return
		}
		args = append(args, *v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("is_archived", f.Archived)
	add("is_saved", f.Saved)
	add("is_forwarded", f.Forwarded)
	add("is_replied", f.Replied)

	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE messaging_recipients SET `+strings.Join(sets, ", ")+` WHERE message_id = $1 AND recipient_email = $2`,
		args...)
	if err != nil {
		return classify("set folder flags", err, "")
	}
	return requireRow(res, "recipient not found")
}

func (s *Store) DeleteRecipients(ctx context.Context, messageID int64) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM messaging_recipients WHERE message_id = $1`, messageID)
	return classify("delete recipients", err, "")
}
