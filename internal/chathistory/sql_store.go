package chathistory

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLStore writes chat messages to the chat_messages table.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	if db == nil {
		panic("chathistory: sql db required")
	}
	return &SQLStore{db: db}
}

func (s *SQLStore) Append(ctx context.Context, msg Message) (bool, error) {
	if err := validate(&msg); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (lead_id, message_id, direction, body, sent_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (lead_id, message_id) DO NOTHING`,
		msg.LeadID, msg.MessageID, string(msg.Direction), msg.Body, msg.SentAt)
	if err != nil {
		return false, fmt.Errorf("chathistory: insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("chathistory: rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) List(ctx context.Context, leadID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT lead_id, message_id, direction, body, sent_at
		FROM (
			SELECT lead_id, message_id, direction, body, sent_at
			FROM chat_messages
			WHERE lead_id = $1
			ORDER BY sent_at DESC
			LIMIT $2
		) recent
		ORDER BY sent_at ASC`, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("chathistory: list messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var (
			m   Message
			dir string
		)
		if err := rows.Scan(&m.LeadID, &m.MessageID, &dir, &m.Body, &m.SentAt); err != nil {
			return nil, fmt.Errorf("chathistory: scan message: %w", err)
		}
		m.Direction = Direction(dir)
		out = append(out, m)
	}
	return out, rows.Err()
}
