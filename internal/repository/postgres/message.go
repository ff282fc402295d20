package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/messaging/internal/domain"
	"github.com/ignite/messaging/internal/repository"
)

const messageColumns = `m.id, m.sender_email, m.tenant_id, m.subject, m.body, m.message_type,
	m.priority, m.created_at, m.expires_at, m.is_deleted, m.deleted_at, m.is_recalled,
	m.recalled_at, COALESCE(m.recall_reason,''), m.has_attachments, m.attachment_count,
	m.has_links, m.link_count`

// priorityOrder ranks priorities for inbox ordering.
const priorityOrder = `CASE m.priority WHEN 'urgent' THEN 3 WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END`

type scanner interface {
	Scan(dest ...any) error
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func scanMessage(sc scanner, extra ...any) (*domain.Message, error) {
	var m domain.Message
	var expires, deleted, recalled sql.NullTime
	var msgType, priority string
	dest := []any{
		&m.ID, &m.SenderEmail, &m.TenantID, &m.Subject, &m.Body, &msgType,
		&priority, &m.CreatedAt, &expires, &m.IsDeleted, &deleted, &m.IsRecalled,
		&recalled, &m.RecallReason, &m.HasAttachments, &m.AttachmentCount,
		&m.HasLinks, &m.LinkCount,
	}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	m.MessageType = domain.MessageType(msgType)
	m.Priority = domain.Priority(priority)
	m.ExpiresAt, m.DeletedAt, m.RecalledAt = timePtr(expires), timePtr(deleted), timePtr(recalled)
	return &m, nil
}

func (s *Store) InsertMessage(ctx context.Context, m *domain.Message) error {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO messaging_messages
			(sender_email, tenant_id, subject, body, message_type, priority, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, created_at
	`, m.SenderEmail, m.TenantID, m.Subject, m.Body, string(m.MessageType), string(m.Priority), m.ExpiresAt,
	).Scan(&m.ID, &m.CreatedAt)
	return classify("insert message", err, "message not created")
}

func (s *Store) GetMessage(ctx context.Context, id int64) (*domain.Message, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messaging_messages m WHERE m.id = $1`, id)
	m, err := scanMessage(row)
	if err != nil {
		return nil, classify("get message", err, fmt.Sprintf("message %d not found", id))
	}
	return m, nil
}

// SoftDeleteMessage tombstones the message and every recipient row.
func (s *Store) SoftDeleteMessage(ctx context.Context, id int64, at time.Time) error {
	return s.WithTransaction(ctx, func(ctx context.Context) error {
		res, err := s.conn(ctx).ExecContext(ctx,
			`UPDATE messaging_messages SET is_deleted = true, deleted_at = $2 WHERE id = $1`, id, at)
		if err != nil {
			return classify("soft delete message", err, "")
		}
		if err := requireRow(res, fmt.Sprintf("message %d not found", id)); err != nil {
			return err
		}
		_, err = s.conn(ctx).ExecContext(ctx,
			`UPDATE messaging_recipients SET is_deleted = true, deleted_at = $2 WHERE message_id = $1`, id, at)
		return classify("soft delete recipients", err, "")
	})
}

func (s *Store) RecallMessage(ctx context.Context, id int64, reason string, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE messaging_messages
		SET is_recalled = true, recalled_at = $2, recall_reason = NULLIF($3, '')
		WHERE id = $1
	`, id, at, reason)
	if err != nil {
		return classify("recall message", err, "")
	}
	return requireRow(res, fmt.Sprintf("message %d not found", id))
}

func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM messaging_messages WHERE id = $1`, id)
	if err != nil {
		return classify("delete message", err, "")
	}
	return requireRow(res, fmt.Sprintf("message %d not found", id))
}

func (s *Store) ListSent(ctx context.Context, tenantID, sender string, limit, offset int) ([]domain.Message, error) {
	limit, offset = repository.Page(limit, offset)
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messaging_messages m
		WHERE m.tenant_id = $1 AND m.sender_email = $2 AND NOT m.is_deleted
		ORDER BY m.id DESC
		LIMIT $3 OFFSET $4
	`, tenantID, sender, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sent: %w", err)
	}
	defer rows.Close()

	out := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Store) ListInbox(ctx context.Context, tenantID, email string, f repository.InboxFilter) ([]domain.InboxEntry, error) {
	q := `
		SELECT ` + messageColumns + `,
		       r.id, r.recipient_email, r.is_read, r.read_at, r.is_deleted, r.deleted_at,
		       r.is_archived, r.is_saved, r.is_forwarded, r.is_replied
		FROM messaging_recipients r
		JOIN messaging_messages m ON m.id = r.message_id
		WHERE m.tenant_id = $1 AND r.recipient_email = $2
		  AND NOT r.is_deleted AND NOT m.is_deleted`
	args := []any{tenantID, email}
	idx := 3

	if !f.IncludeRecalled {
		q += " AND NOT m.is_recalled"
	}
	if f.UnreadOnly {
		q += " AND NOT r.is_read"
	}
	if f.Archived != nil {
		q += fmt.Sprintf(" AND r.is_archived = $%d", idx)
		args = append(args, *f.Archived)
		idx++
	}
	if f.Saved != nil {
		q += fmt.Sprintf(" AND r.is_saved = $%d", idx)
		args = append(args, *f.Saved)
		idx++
	}
	limit, offset := repository.Page(f.Limit, f.Offset)
	q += fmt.Sprintf(" ORDER BY %s DESC, m.id DESC LIMIT $%d OFFSET $%d", priorityOrder, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := s.conn(ctx).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	defer rows.Close()

	out := []domain.InboxEntry{}
	for rows.Next() {
		var r domain.Recipient
		var readAt, delAt sql.NullTime
		m, err := scanMessage(rows,
			&r.ID, &r.RecipientEmail, &r.IsRead, &readAt, &r.IsDeleted, &delAt,
			&r.IsArchived, &r.IsSaved, &r.IsForwarded, &r.IsReplied)
		if err != nil {
			return nil, fmt.Errorf("scan inbox entry: %w", err)
		}
		r.MessageID = m.ID
		r.ReadAt, r.DeletedAt = timePtr(readAt), timePtr(delAt)
		out = append(out, domain.InboxEntry{Message: *m, Recipient: r})
	}
	return out, rows.Err()
}

// RefreshAttachmentCounters recomputes the attachment counters from rows.
func (s *Store) RefreshAttachmentCounters(ctx context.Context, messageID int64) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE messaging_messages m
		SET attachment_count = c.n, has_attachments = c.n > 0
		FROM (SELECT COUNT(*) AS n FROM messaging_attachments WHERE message_id = $1) c
		WHERE m.id = $1
	`, messageID)
	if err != nil {
		return classify("refresh attachment counters", err, "")
	}
	return requireRow(res, fmt.Sprintf("message %d not found", messageID))
}

// RefreshLinkCounters recomputes the link counters from rows.
func (s *Store) RefreshLinkCounters(ctx context.Context, messageID int64) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE messaging_messages m
		SET link_count = c.n, has_links = c.n > 0
		FROM (SELECT COUNT(*) AS n FROM messaging_links WHERE message_id = $1) c
		WHERE m.id = $1
	`, messageID)
	if err != nil {
		return classify("refresh link counters", err, "")
	}
	return requireRow(res, fmt.Sprintf("message %d not found", messageID))
}
