package postgres

import (
	"context"
	"fmt"

	"github.com/ignite/messaging/internal/domain"
)

const linkColumns = `id, message_id, url, domain, COALESCE(title,''), COALESCE(description,''),
	COALESCE(thumbnail_url,''), added_by, created_at`

func scanLink(sc scanner) (*domain.Link, error) {
	var l domain.Link
	err := sc.Scan(&l.ID, &l.MessageID, &l.URL, &l.Domain, &l.Title, &l.Description,
		&l.ThumbnailURL, &l.AddedBy, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// InsertLink relies on the unique (message_id, url) constraint, which
// classify reports as a conflict.
func (s *Store) InsertLink(ctx context.Context, l *domain.Link) error {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO messaging_links
			(message_id, url, domain, title, description, thumbnail_url, added_by, created_at)
		VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), $7, NOW())
		RETURNING id, created_at
	`, l.MessageID, l.URL, l.Domain, l.Title, l.Description, l.ThumbnailURL, l.AddedBy,
	).Scan(&l.ID, &l.CreatedAt)
	return classify("insert link", err, "link not created")
}

func (s *Store) GetLink(ctx context.Context, id int64) (*domain.Link, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+linkColumns+` FROM messaging_links WHERE id = $1`, id)
	l, err := scanLink(row)
	if err != nil {
		return nil, classify("get link", err, fmt.Sprintf("link %d not found", id))
	}
	return l, nil
}

func (s *Store) ListLinks(ctx context.Context, messageID int64) ([]domain.Link, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+linkColumns+` FROM messaging_links WHERE message_id = $1 ORDER BY id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	out := []domain.Link{}
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *Store) LinkExists(ctx context.Context, messageID int64, url string) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM messaging_links WHERE message_id = $1 AND url = $2)`,
		messageID, url,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("link exists: %w", err)
	}
	return exists, nil
}

func (s *Store) DeleteLink(ctx context.Context, id int64) error {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM messaging_links WHERE id = $1`, id)
	if err != nil {
		return classify("delete link", err, "")
	}
	return requireRow(res, fmt.Sprintf("link %d not found", id))
}

func (s *Store) DeleteLinksByMessage(ctx context.Context, messageID int64) error {
	_, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM messaging_links WHERE message_id = $1`, messageID)
	return classify("delete links", err, "")
}
