package attribution

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/leadstitch/internal/phone"
)

var pendingRowColumns = []string{
	"id", "phone", "campaign_id", "campaign_name", "name",
	"utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term",
	"click_metadata", "status", "created_at", "converted_at", "lead_id", "resolved_by", "delay_ms",
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store := NewPostgresStore(mock, phone.NewNormalizer("55"))
	store.now = func() time.Time { return baseTime }
	return store, mock
}

func TestPostgresCreatePendingSupersedes(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE pending_attributions").
		WithArgs([]string{"5585999998888", "85999998888", "5999998888"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO pending_attributions").
		WithArgs(pgxmock.AnyArg(), "5585999998888", "c1", "Summer", "Ana",
			"facebook", "cpc", "summer", "", "",
			pgxmock.AnyArg(), "clid-9", pgxmock.AnyArg(), "pending", baseTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.CreatePending(context.Background(), &PendingAttribution{
		Phone:         "+55 (85) 99999-8888",
		CampaignID:    "c1",
		CampaignName:  "Summer",
		Name:          "Ana",
		UTM:           UTM{Source: "facebook", Medium: "cpc", Campaign: "summer"},
		ClickMetadata: ClickMetadata{CtwaClid: "clid-9"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreatePendingPlaceholderSkipsSupersede(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pending_attributions").
		WithArgs(pgxmock.AnyArg(), phone.Sentinel, "c1", "", "",
			"", "", "", "", "",
			pgxmock.AnyArg(), "", pgxmock.AnyArg(), "pending", baseTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.CreatePending(context.Background(), &PendingAttribution{CampaignID: "c1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindPendingFiltersRecordWindow(t *testing.T) {
	store, mock := newMockStore(t)
	narrow, _ := json.Marshal(ClickMetadata{CorrelationWindowSeconds: 30})
	wide, _ := json.Marshal(ClickMetadata{DeviceSessionID: "sess-1"})

	since := baseTime.Add(-5 * time.Minute)
	rows := pgxmock.NewRows(pendingRowColumns).
		AddRow("p-narrow", phone.Sentinel, "c1", "", "", "", "", "", "", "", narrow, "pending", baseTime.Add(-time.Minute), nil, "", "", int64(0)).
		AddRow("p-wide", phone.Sentinel, "c1", "Camp", "", "google", "", "", "", "", wide, "pending", baseTime.Add(-2*time.Minute), nil, "", "", int64(0))
	mock.ExpectQuery("SELECT id, phone").
		WithArgs(since, baseTime, phone.Sentinel).
		WillReturnRows(rows)

	got, err := store.FindPending(context.Background(), PendingQuery{Placeholder: true, Since: since, Until: baseTime})
	require.NoError(t, err)
	assert.Equal(t, "p-wide", got.ID)
	assert.Equal(t, "google", got.UTM.Source)
	assert.Equal(t, "sess-1", got.ClickMetadata.DeviceSessionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindPendingNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	since := baseTime.Add(-5 * time.Minute)
	phones := []string{"5585999998888"}
	mock.ExpectQuery("SELECT id, phone").
		WithArgs(since, baseTime, phones, "c1").
		WillReturnRows(pgxmock.NewRows(pendingRowColumns))

	_, err := store.FindPending(context.Background(), PendingQuery{Phones: phones, CampaignID: "c1", Since: since, Until: baseTime})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresFinalizePending(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE pending_attributions").
		WithArgs("p-1", "converted", baseTime, "lead-1", "exact_phone", int64(1500)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE pending_attributions").
		WithArgs("p-1", "converted", baseTime, "lead-1", "exact_phone", int64(1500)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	f := Finalization{Status: StatusConverted, LeadID: "lead-1", ResolvedBy: "exact_phone", Delay: 1500 * time.Millisecond}
	ok, err := store.FinalizePending(context.Background(), "p-1", f)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.FinalizePending(context.Background(), "p-1", f)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresGetClick(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT click_id").
		WithArgs("clid-1").
		WillReturnRows(pgxmock.NewRows([]string{"click_id", "campaign_id", "device_fingerprint", "ip_address", "source_url", "source_id", "clicked_at"}).
			AddRow("clid-1", "c1", "fp", "10.0.0.1", "https://fb.me/ad", "ad-77", baseTime))
	mock.ExpectQuery("SELECT click_id").
		WithArgs("clid-2").
		WillReturnError(pgx.ErrNoRows)

	got, err := store.GetClick(context.Background(), "clid-1")
	require.NoError(t, err)
	assert.Equal(t, "ad-77", got.SourceID)

	_, err = store.GetClick(context.Background(), "clid-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresLatestFingerprint(t *testing.T) {
	store, mock := newMockStore(t)
	phones := []string{"5585999998888", "85999998888"}
	mock.ExpectQuery("SELECT id, COALESCE").
		WithArgs(phones).
		WillReturnRows(pgxmock.NewRows([]string{"id", "phone", "campaign_id", "device_session_id", "browser", "os", "device_type", "city", "region", "country", "screen_resolution", "timezone", "language", "created_at"}).
			AddRow("fp-1", "5585999998888", "c1", "sess-1", "Chrome", "Android", "mobile", "Fortaleza", "CE", "BR", "1080x2400", "America/Fortaleza", "pt-BR", baseTime))

	fp, err := store.LatestFingerprint(context.Background(), phones)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", fp.DeviceSessionID)

	_, err = store.LatestFingerprint(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresExpirePending(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := baseTime.Add(-24 * time.Hour)
	mock.ExpectExec("UPDATE pending_attributions").WithArgs(cutoff).WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	n, err := store.ExpirePending(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
