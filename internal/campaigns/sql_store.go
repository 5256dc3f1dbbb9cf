package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// SQLStore persists campaigns in the campaigns table.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	if db == nil {
		panic("campaigns: sql db required")
	}
	return &SQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Campaign, error) {
	var c Campaign
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, conversion_keywords, cancellation_keywords, created_at, updated_at
		FROM campaigns WHERE id = $1`, id).Scan(
		&c.ID, &c.UserID, &c.Name,
		pq.Array(&c.ConversionKeywords), pq.Array(&c.CancellationKeywords),
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("campaigns: select: %w", err)
	}
	if c.ConversionKeywords == nil {
		c.ConversionKeywords = []string{}
	}
	if c.CancellationKeywords == nil {
		c.CancellationKeywords = []string{}
	}
	return &c, nil
}

func (s *SQLStore) Put(ctx context.Context, c *Campaign) error {
	if err := normalize(c, s.now()); err != nil {
		return err
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO campaigns (id, user_id, name, conversion_keywords, cancellation_keywords, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			conversion_keywords = EXCLUDED.conversion_keywords,
			cancellation_keywords = EXCLUDED.cancellation_keywords,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at`,
		c.ID, c.UserID, c.Name,
		pq.Array(c.ConversionKeywords), pq.Array(c.CancellationKeywords),
		c.CreatedAt, c.UpdatedAt).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("campaigns: upsert: %w", err)
	}
	return nil
}
