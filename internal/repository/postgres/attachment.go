package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/messaging/internal/domain"
)

const attachmentColumns = `id, message_id, tenant_id, uploaded_by, blob_ref, file_name, file_size,
	content_type, attachment_type, created_at`

func scanAttachment(sc scanner) (*domain.Attachment, error) {
	var a domain.Attachment
	var msgID sql.NullInt64
	var typ string
	if err := sc.Scan(&a.ID, &msgID, &a.TenantID, &a.UploadedBy, &a.BlobRef, &a.FileName, &a.FileSize,
		&a.ContentType, &typ, &a.CreatedAt); err != nil {
		return nil, err
	}
	if msgID.Valid {
		id := msgID.Int64
		a.MessageID = &id
	}
	a.AttachmentType = domain.AttachmentType(typ)
	return &a, nil
}

func (s *Store) queryAttachments(ctx context.Context, op, where string, args ...any) ([]domain.Attachment, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+attachmentColumns+` FROM messaging_attachments WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []domain.Attachment{}
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) InsertAttachment(ctx context.Context, a *domain.Attachment) error {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO messaging_attachments
			(message_id, tenant_id, uploaded_by, blob_ref, file_name, file_size, content_type, attachment_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at
	`, a.MessageID, a.TenantID, a.UploadedBy, a.BlobRef, a.FileName, a.FileSize, a.ContentType, string(a.AttachmentType),
	).Scan(&a.ID, &a.CreatedAt)
	return classify("insert attachment", err, "attachment not created")
}

func (s *Store) GetAttachment(ctx context.Context, id int64) (*domain.Attachment, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+attachmentColumns+` FROM messaging_attachments WHERE id = $1`, id)
	a, err := scanAttachment(row)
	if err != nil {
		return nil, classify("get attachment", err, fmt.Sprintf("attachment %d not found", id))
	}
	return a, nil
}

func (s *Store) GetAttachments(ctx context.Context, ids []int64) ([]domain.Attachment, error) {
	if len(ids) == 0 {
		return []domain.Attachment{}, nil
	}
	return s.queryAttachments(ctx, "get attachments", "id = ANY($1)", pq.Array(ids))
}

func (s *Store) ListAttachments(ctx context.Context, messageID int64) ([]domain.Attachment, error) {
	return s.queryAttachments(ctx, "list attachments", "message_id = $1", messageID)
}

func (s *Store) ListLibrary(ctx context.Context, tenantID string) ([]domain.Attachment, error) {
	return s.queryAttachments(ctx, "list library", "message_id IS NULL AND tenant_id = $1", tenantID)
}

func (s *Store) DeleteAttachment(ctx context.Context, id int64) error {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM messaging_attachments WHERE id = $1`, id)
	if err != nil {
		return classify("delete attachment", err, "")
	}
	return requireRow(res, fmt.Sprintf("attachment %d not found", id))
}

// DeleteAttachmentsByMessage removes a message's rows and returns the
// distinct blob refs they pointed at.
func (s *Store) DeleteAttachmentsByMessage(ctx context.Context, messageID int64) ([]string, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		WITH gone AS (
			DELETE FROM messaging_attachments WHERE message_id = $1 RETURNING blob_ref
		)
		SELECT DISTINCT blob_ref FROM gone ORDER BY blob_ref
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("delete attachments: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("scan blob ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *Store) CountBlobReferences(ctx context.Context, blobRef string) (int, error) {
	var n int
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messaging_attachments WHERE blob_ref = $1`, blobRef,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count blob references: %w", err)
	}
	return n, nil
}
