package correlation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/leadstitch/internal/attribution"
	"github.com/wolfman30/leadstitch/internal/phone"
)

var t0 = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, store attribution.Store) *Orchestrator {
	t.Helper()
	return NewOrchestrator(RankedStrategies(store, nil, Windows{}, nil), phone.NewNormalizer("55"), nil, nil)
}

func mustPending(t *testing.T, store attribution.Store, p *attribution.PendingAttribution) *attribution.PendingAttribution {
	t.Helper()
	require.NoError(t, store.CreatePending(context.Background(), p))
	return p
}

func TestRankedOrder(t *testing.T) {
	o := newEngine(t, attribution.NewMemoryStore(phone.NewNormalizer("55")))
	assert.Equal(t, []StrategyName{StrategyAdClickID, StrategyExactPhone, StrategyPlaceholder, StrategyFingerprint}, o.Strategies())
}

func TestPlaceholderScenario(t *testing.T) {
	store := attribution.NewMemoryStore(phone.NewNormalizer("55"))
	p := mustPending(t, store, &attribution.PendingAttribution{Phone: phone.Sentinel, CampaignID: "c1", CreatedAt: t0})

	res, err := newEngine(t, store).Resolve(context.Background(), Inbound{Phone: "5585999998888", MessageID: "m1", Timestamp: t0.Add(60 * time.Second)})
	require.NoError(t, err)
	require.True(t, res.Resolved)
	assert.Equal(t, StrategyPlaceholder, res.Strategy)
	assert.Equal(t, p.ID, res.Pending.ID)
	assert.Equal(t, "c1", res.CampaignID())
	assert.Equal(t, 60*time.Second, res.Delay(t0.Add(60*time.Second)))
	assert.Equal(t, attribution.StatusConvertedViaCorrelation, res.Strategy.PendingStatus())
}

func TestExactPhoneMatchesWithoutCountryCode(t *testing.T) {
	store := attribution.NewMemoryStore(phone.NewNormalizer("55"))
	p := mustPending(t, store, &attribution.PendingAttribution{Phone: "5585999998888", CampaignID: "c1", CreatedAt: t0})

	res, err := newEngine(t, store).Resolve(context.Background(), Inbound{Phone: "85999998888", Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, res.Resolved)
	assert.Equal(t, StrategyExactPhone, res.Strategy)
	assert.Equal(t, p.ID, res.Pending.ID)
	assert.Equal(t, attribution.StatusConverted, res.Strategy.PendingStatus())
}

func TestWindowEnforcement(t *testing.T) {
	cases := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"just inside", DefaultWindow - time.Second, true},
		{"exact edge", DefaultWindow, true},
		{"just outside", DefaultWindow + time.Second, false},
		{"before creation", -time.Second, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := attribution.NewMemoryStore(phone.NewNormalizer("55"))
			mustPending(t, store, &attribution.PendingAttribution{Phone: "5585999998888", CampaignID: "c1", CreatedAt: t0})

			res, err := newEngine(t, store).Resolve(context.Background(), Inbound{Phone: "5585999998888", Timestamp: t0.Add(tc.offset)})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Resolved)
		})
	}
}

func TestAdClickBeatsExactPhone(t *testing.T) {
	store := attribution.NewMemoryStore(phone.NewNormalizer("55"))
	mustPending(t, store, &attribution.PendingAttribution{Phone: "5585999998888", CampaignID: "form-campaign", CreatedAt: t0})
	require.NoError(t, store.RecordClick(context.Background(), &attribution.AdClickTrace{ClickID: "clid-1", CampaignID: "ad-campaign", ClickedAt: t0}))

	res, err := newEngine(t, store).Resolve(context.Background(), Inbound{Phone: "5585999998888", ClickID: "clid-1", Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, res.Resolved)
	assert.Equal(t, StrategyAdClickID, res.Strategy)
	assert.Nil(t, res.Pending)
	assert.Equal(t, "ad-campaign", res.CampaignID())
}

func TestAdClickFromPendingMetadata(t *testing.T) {
	store := attribution.NewMemoryStore(phone.NewNormalizer("55"))
	p := mustPending(t, store, &attribution.PendingAttribution{
		Phone:         phone.Sentinel,
		CampaignID:    "c1",
		CreatedAt:     t0,
		ClickMetadata: attribution.ClickMetadata{CtwaClid: "clid-7"},
	})
	require.NoError(t, store.RecordClick(context.Background(), &attribution.AdClickTrace{ClickID: "clid-7", CampaignID: "c1", SourceID: "ad-77"}))

	res, err := newEngine(t, store).Resolve(context.Background(), Inbound{Phone: "5585999998888", Timestamp: t0.Add(8 * time.Minute)})
	require.NoError(t, err)
	require.True(t, res.Resolved)
	assert.Equal(t, StrategyAdClickID, res.Strategy)
	assert.Equal(t, p.ID, res.Pending.ID)
	assert.Equal(t, "ad-77", res.Trace.SourceID)
}

func TestAdClickWithoutTraceFallsThrough(t *testing.T) {
	store := attribution.NewMemoryStore(phone.NewNormalizer("55"))
	mustPending(t, store, &attribution.PendingAttribution{Phone: "5585999998888", CampaignID: "c1", CreatedAt: t0})

	res, err := newEngine(t, store).Resolve(context.Background(), Inbound{Phone: "5585999998888", ClickID: "unknown", Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, StrategyExactPhone, res.Strategy)
}

func TestAdClickIgnoresOtherVisitorsClick(t *testing.T) {
	store := attribution.NewMemoryStore(phone.NewNormalizer("55"))
	mustPending(t, store, &attribution.PendingAttribution{
		Phone:         phone.Sentinel,
		CampaignID:    "other",
		CreatedAt:     t0,
		ClickMetadata: attribution.ClickMetadata{CtwaClid: "clid-Y"},
	})
	require.NoError(t, store.RecordClick(context.Background(), &attribution.AdClickTrace{ClickID: "clid-Y", CampaignID: "other", ClickedAt: t0}))

	res, err := newEngine(t, store).Resolve(context.Background(), Inbound{Phone: "5585999998888", ClickID: "clid-X", Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.NotEqual(t, StrategyAdClickID, res.Strategy)
	assert.Nil(t, res.Trace)
}

func TestFingerprintStrategy(t *testing.T) {
	store := attribution.NewMemoryStore(phone.NewNormalizer("55"))
	p := mustPending(t, store, &attribution.PendingAttribution{
		Phone:         "5511988887777",
		CampaignID:    "c9",
		CreatedAt:     t0,
		ClickMetadata: attribution.ClickMetadata{DeviceSessionID: "sess-1"},
	})
	require.NoError(t, store.RecordFingerprint(context.Background(), &attribution.DeviceFingerprint{
		Phone: "5585999998888", CampaignID: "c9", DeviceSessionID: "sess-1", CreatedAt: t0,
	}))

	res, err := newEngine(t, store).Resolve(context.Background(), Inbound{Phone: "5585999998888", Timestamp: t0.Add(2 * time.Minute)})
	require.NoError(t, err)
	require.True(t, res.Resolved)
	assert.Equal(t, StrategyFingerprint, res.Strategy)
	assert.Equal(t, p.ID, res.Pending.ID)
	assert.Equal(t, "sess-1", res.Fingerprint.DeviceSessionID)
}

func TestUnresolved(t *testing.T) {
	store := attribution.NewMemoryStore(phone.NewNormalizer("55"))
	res, err := newEngine(t, store).Resolve(context.Background(), Inbound{Phone: "5585999998888", Timestamp: t0})
	require.NoError(t, err)
	assert.False(t, res.Resolved)
	assert.Equal(t, StrategyNone, res.Strategy)
}

type failingStore struct {
	*attribution.MemoryStore
	findErr        error
	fingerprintErr error
}

func (f *failingStore) FindPending(ctx context.Context, q attribution.PendingQuery) (*attribution.PendingAttribution, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.MemoryStore.FindPending(ctx, q)
}

func (f *failingStore) LatestFingerprint(ctx context.Context, phones []string) (*attribution.DeviceFingerprint, error) {
	if f.fingerprintErr != nil {
		return nil, f.fingerprintErr
	}
	return f.MemoryStore.LatestFingerprint(ctx, phones)
}

func TestLookupFailureAborts(t *testing.T) {
	boom := errors.New("connection refused")
	store := &failingStore{MemoryStore: attribution.NewMemoryStore(phone.NewNormalizer("55")), findErr: boom}

	_, err := newEngine(t, store).Resolve(context.Background(), Inbound{Phone: "5585999998888", Timestamp: t0})
	require.Error(t, err)
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, StrategyAdClickID, lookupErr.Strategy)
	assert.ErrorIs(t, err, boom)
}

func TestFingerprintFailureIsPartial(t *testing.T) {
	store := &failingStore{MemoryStore: attribution.NewMemoryStore(phone.NewNormalizer("55")), fingerprintErr: errors.New("timeout")}

	res, err := newEngine(t, store).Resolve(context.Background(), Inbound{Phone: "5585999998888", Timestamp: t0})
	require.NoError(t, err)
	assert.False(t, res.Resolved)
}

func TestRequestNormalizes(t *testing.T) {
	o := newEngine(t, attribution.NewMemoryStore(phone.NewNormalizer("55")))
	o.now = func() time.Time { return t0 }
	req := o.Request(Inbound{Phone: "+55 (85) 99999-8888", ContactName: "  Ana ", ClickID: " clid "})
	assert.Equal(t, "5585999998888", req.Phone)
	assert.Equal(t, t0, req.Timestamp)
	assert.Equal(t, "Ana", req.ContactName)
	assert.Equal(t, "clid", req.ClickID)
	assert.Contains(t, req.Variations, "85999998888")
}
