package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/messaging/internal/domain"
)

// InsertThreadEdge fails with a conflict when the child already has a
// parent (child_message_id is the primary key).
func (s *Store) InsertThreadEdge(ctx context.Context, e *domain.ThreadEdge) error {
	err := s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO messaging_thread_edges (parent_message_id, child_message_id, created_at)
		VALUES ($1, $2, NOW())
		RETURNING created_at
	`, e.ParentMessageID, e.ChildMessageID).Scan(&e.CreatedAt)
	return classify("insert thread edge", err, "thread edge not created")
}

// GetParent returns 0 when childID is a root.
func (s *Store) GetParent(ctx context.Context, childID int64) (int64, error) {
	var parent int64
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT parent_message_id FROM messaging_thread_edges WHERE child_message_id = $1`, childID,
	).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get parent: %w", err)
	}
	return parent, nil
}

// ListReplies returns the live children of parentID, oldest first.
func (s *Store) ListReplies(ctx context.Context, parentID int64) ([]domain.Message, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messaging_thread_edges e
		JOIN messaging_messages m ON m.id = e.child_message_id
		WHERE e.parent_message_id = $1 AND NOT m.is_deleted
		ORDER BY m.id
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	out := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// DeleteThreadEdges removes every edge the message takes part in, as
// parent or as child.
func (s *Store) DeleteThreadEdges(ctx context.Context, messageID int64) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`DELETE FROM messaging_thread_edges WHERE parent_message_id = $1 OR child_message_id = $1`, messageID)
	return classify("delete thread edges", err, "")
}
