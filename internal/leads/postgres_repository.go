package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool used by the repository.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	pool PgxPool
	now  func() time.Time
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool PgxPool) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const leadColumns = `id, phone, phone_key, name, campaign_id, user_id, status,
	attribution, correlation, initial_message, last_message,
	first_contact_date, last_contact_date, created_at, updated_at`

// CreateIfAbsent relies on the unique phone_key index so concurrent
// first contacts for the same phone produce a single row.
func (r *PostgresRepository) CreateIfAbsent(ctx context.Context, lead *Lead) (*Lead, error) {
	if err := prepareLead(lead, r.now()); err != nil {
		return nil, err
	}
	attr, corr, err := encodeLeadJSON(lead)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO leads (` + leadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (phone_key) DO NOTHING
		RETURNING id
	`
	var id string
	err = r.pool.QueryRow(ctx, query,
		lead.ID, lead.Phone, lead.PhoneKey, lead.Name, lead.CampaignID, lead.UserID, string(lead.Status),
		attr, corr, lead.InitialMessage, lead.LastMessage,
		lead.FirstContactDate, lead.LastContactDate, lead.CreatedAt, lead.UpdatedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadExists
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrLeadExists
		}
		return nil, fmt.Errorf("leads: insert failed: %w", err)
	}
	return lead.Clone(), nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	lead, err := scanLead(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	return lead, nil
}

func (r *PostgresRepository) FindByPhones(ctx context.Context, phones []string) (*Lead, error) {
	if len(phones) == 0 {
		return nil, ErrLeadNotFound
	}
	query := `
		SELECT ` + leadColumns + `
		FROM leads
		WHERE phone = ANY($1) OR phone_key = ANY($1)
		ORDER BY created_at ASC
		LIMIT 1
	`
	lead, err := scanLead(r.pool.QueryRow(ctx, query, phones))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select by phone failed: %w", err)
	}
	return lead, nil
}

func (r *PostgresRepository) Update(ctx context.Context, lead *Lead) error {
	attr, corr, err := encodeLeadJSON(lead)
	if err != nil {
		return err
	}
	lead.UpdatedAt = r.now()
	query := `
		UPDATE leads
		SET name = $2, campaign_id = $3, user_id = $4, status = $5,
			attribution = $6, correlation = $7, initial_message = $8, last_message = $9,
			first_contact_date = $10, last_contact_date = $11, updated_at = $12
		WHERE id = $1
	`
	ct, err := r.pool.Exec(ctx, query,
		lead.ID, lead.Name, lead.CampaignID, lead.UserID, string(lead.Status),
		attr, corr, lead.InitialMessage, lead.LastMessage,
		lead.FirstContactDate, lead.LastContactDate, lead.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("leads: update failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Lead, error) {
	filter = normalizeFilter(filter)
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.CampaignID != "" {
		add("campaign_id = $%d", filter.CampaignID)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	query := `SELECT ` + leadColumns + ` FROM leads`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("leads: list failed: %w", err)
	}
	defer rows.Close()

	out := []*Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("leads: scan failed: %w", err)
		}
		out = append(out, lead)
	}
	return out, rows.Err()
}

func encodeLeadJSON(lead *Lead) ([]byte, []byte, error) {
	attr, err := json.Marshal(lead.Attribution)
	if err != nil {
		return nil, nil, fmt.Errorf("leads: marshal attribution: %w", err)
	}
	corr, err := json.Marshal(lead.Correlation)
	if err != nil {
		return nil, nil, fmt.Errorf("leads: marshal correlation: %w", err)
	}
	return attr, corr, nil
}

func scanLead(row pgx.Row) (*Lead, error) {
	var (
		lead       Lead
		status     string
		attr, corr []byte
	)
	if err := row.Scan(
		&lead.ID, &lead.Phone, &lead.PhoneKey, &lead.Name, &lead.CampaignID, &lead.UserID, &status,
		&attr, &corr, &lead.InitialMessage, &lead.LastMessage,
		&lead.FirstContactDate, &lead.LastContactDate, &lead.CreatedAt, &lead.UpdatedAt,
	); err != nil {
		return nil, err
	}
	lead.Status = Status(status)
	if len(attr) > 0 {
		if err := json.Unmarshal(attr, &lead.Attribution); err != nil {
			return nil, fmt.Errorf("leads: decode attribution: %w", err)
		}
	}
	if len(corr) > 0 {
		if err := json.Unmarshal(corr, &lead.Correlation); err != nil {
			return nil, fmt.Errorf("leads: decode correlation: %w", err)
		}
	}
	return &lead, nil
}
