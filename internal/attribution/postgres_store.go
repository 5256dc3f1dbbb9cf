package attribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/leadstitch/internal/phone"
)

// PgxPool is the subset of pgxpool.Pool used by the store.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// candidateLimit bounds how many rows FindPending inspects per lookup.
const candidateLimit = 20

// PostgresStore persists attribution records in Postgres.
type PostgresStore struct {
	pool       PgxPool
	normalizer phone.Normalizer
	now        func() time.Time
}

// NewPostgresStore initializes a store backed by pgx.
func NewPostgresStore(pool PgxPool, normalizer phone.Normalizer) *PostgresStore {
	if pool == nil {
		panic("attribution: pgx pool required")
	}
	return &PostgresStore{
		pool:       pool,
		normalizer: normalizer,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

const pendingColumns = `id, phone, campaign_id, campaign_name, name,
	utm_source, utm_medium, utm_campaign, utm_content, utm_term,
	click_metadata, status, created_at, converted_at, lead_id, resolved_by, delay_ms`

func (s *PostgresStore) CreatePending(ctx context.Context, p *PendingAttribution) error {
	if err := preparePending(p, s.now()); err != nil {
		return err
	}
	meta, err := json.Marshal(p.ClickMetadata)
	if err != nil {
		return fmt.Errorf("attribution: marshal click metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("attribution: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if !p.IsPlaceholder() {
		supersede := `
			UPDATE pending_attributions
			SET status = 'expired'
			WHERE status = 'pending' AND phone = ANY($1)
		`
		if _, err := tx.Exec(ctx, supersede, s.normalizer.Variations(p.Phone)); err != nil {
			return fmt.Errorf("attribution: supersede pending: %w", err)
		}
	}

	insert := `
		INSERT INTO pending_attributions (
			id, phone, campaign_id, campaign_name, name,
			utm_source, utm_medium, utm_campaign, utm_content, utm_term,
			click_metadata, ctwa_clid, device_session_id, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NULLIF($12, ''),$13,$14,$15)
	`
	if _, err := tx.Exec(ctx, insert,
		p.ID, p.Phone, p.CampaignID, p.CampaignName, p.Name,
		p.UTM.Source, p.UTM.Medium, p.UTM.Campaign, p.UTM.Content, p.UTM.Term,
		meta, p.ClickMetadata.CtwaClid, p.ClickMetadata.DeviceSessionID, string(p.Status), p.CreatedAt,
	); err != nil {
		return fmt.Errorf("attribution: insert pending: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("attribution: commit pending: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindPending(ctx context.Context, q PendingQuery) (*PendingAttribution, error) {
	var (
		where = []string{"status = 'pending'", "created_at >= $1", "created_at <= $2"}
		args  = []any{q.Since, q.Until}
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	switch {
	case q.Placeholder:
		where = append(where, "phone = "+arg(phone.Sentinel))
	case len(q.Phones) > 0:
		where = append(where, "phone = ANY("+arg(q.Phones)+")")
	}
	if q.CampaignID != "" {
		where = append(where, "campaign_id = "+arg(q.CampaignID))
	}
	if q.DeviceSessionID != "" {
		where = append(where, "device_session_id = "+arg(q.DeviceSessionID))
	}
	if q.ClickID != "" {
		where = append(where, "ctwa_clid = "+arg(q.ClickID))
	}
	if q.RequireClickID {
		where = append(where, "ctwa_clid IS NOT NULL")
	}
	query := "SELECT " + pendingColumns + " FROM pending_attributions WHERE " +
		strings.Join(where, " AND ") +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT %d", candidateLimit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("attribution: find pending: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		if q.matches(p) {
			return p, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("attribution: iterate pending: %w", err)
	}
	return nil, ErrNotFound
}

func scanPending(row pgx.Row) (*PendingAttribution, error) {
	var (
		p      PendingAttribution
		meta   []byte
		status string
	)
	if err := row.Scan(
		&p.ID, &p.Phone, &p.CampaignID, &p.CampaignName, &p.Name,
		&p.UTM.Source, &p.UTM.Medium, &p.UTM.Campaign, &p.UTM.Content, &p.UTM.Term,
		&meta, &status, &p.CreatedAt, &p.ConvertedAt, &p.LeadID, &p.ResolvedBy, &p.DelayMs,
	); err != nil {
		return nil, fmt.Errorf("attribution: scan pending: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.ClickMetadata); err != nil {
			return nil, fmt.Errorf("attribution: decode click metadata: %w", err)
		}
	}
	p.Status = Status(status)
	return &p, nil
}

func (s *PostgresStore) FinalizePending(ctx context.Context, id string, f Finalization) (bool, error) {
	at := f.At
	if at.IsZero() {
		at = s.now()
	}
	query := `
		UPDATE pending_attributions
		SET status = $2, converted_at = $3, lead_id = $4, resolved_by = $5, delay_ms = $6
		WHERE id = $1 AND status = 'pending'
	`
	ct, err := s.pool.Exec(ctx, query, id, string(f.Status), at, f.LeadID, f.ResolvedBy, f.Delay.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("attribution: finalize pending: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *PostgresStore) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE pending_attributions
		SET status = 'expired'
		WHERE status = 'pending' AND created_at < $1
	`
	ct, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("attribution: expire pending: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (s *PostgresStore) RecordClick(ctx context.Context, c *AdClickTrace) error {
	if err := prepareClick(c, s.now()); err != nil {
		return err
	}
	query := `
		INSERT INTO ad_click_traces (click_id, campaign_id, device_fingerprint, ip_address, source_url, source_id, clicked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (click_id) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, query, c.ClickID, c.CampaignID, c.DeviceFingerprint, c.IPAddress, c.SourceURL, c.SourceID, c.ClickedAt); err != nil {
		return fmt.Errorf("attribution: insert click: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetClick(ctx context.Context, clickID string) (*AdClickTrace, error) {
	query := `
		SELECT click_id, campaign_id, device_fingerprint, ip_address, source_url, source_id, clicked_at
		FROM ad_click_traces
		WHERE click_id = $1
	`
	var c AdClickTrace
	if err := s.pool.QueryRow(ctx, query, strings.TrimSpace(clickID)).Scan(
		&c.ClickID, &c.CampaignID, &c.DeviceFingerprint, &c.IPAddress, &c.SourceURL, &c.SourceID, &c.ClickedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("attribution: select click: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) RecordFingerprint(ctx context.Context, fp *DeviceFingerprint) error {
	if err := prepareFingerprint(fp, s.now()); err != nil {
		return err
	}
	query := `
		INSERT INTO device_fingerprints (
			id, phone, campaign_id, device_session_id, browser, os, device_type,
			city, region, country, screen_resolution, timezone, language, created_at
		)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	if _, err := s.pool.Exec(ctx, query,
		fp.ID, fp.Phone, fp.CampaignID, fp.DeviceSessionID, fp.Browser, fp.OS, fp.DeviceType,
		fp.City, fp.Region, fp.Country, fp.ScreenResolution, fp.Timezone, fp.Language, fp.CreatedAt,
	); err != nil {
		return fmt.Errorf("attribution: insert fingerprint: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestFingerprint(ctx context.Context, phones []string) (*DeviceFingerprint, error) {
	if len(phones) == 0 {
		return nil, ErrNotFound
	}
	query := `
		SELECT id, COALESCE(phone, ''), campaign_id, device_session_id, browser, os, device_type,
			city, region, country, screen_resolution, timezone, language, created_at
		FROM device_fingerprints
		WHERE phone = ANY($1)
		ORDER BY created_at DESC
		LIMIT 1
	`
	var fp DeviceFingerprint
	if err := s.pool.QueryRow(ctx, query, phones).Scan(
		&fp.ID, &fp.Phone, &fp.CampaignID, &fp.DeviceSessionID, &fp.Browser, &fp.OS, &fp.DeviceType,
		&fp.City, &fp.Region, &fp.Country, &fp.ScreenResolution, &fp.Timezone, &fp.Language, &fp.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("attribution: select fingerprint: %w", err)
	}
	return &fp, nil
}
