package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tipsterhub/service_layer/internal/app/domain/tip"
	"github.com/tipsterhub/service_layer/internal/app/storage/memory"
	"github.com/tipsterhub/service_layer/internal/cache"
	"github.com/tipsterhub/service_layer/internal/consensus"
	svcerrors "github.com/tipsterhub/service_layer/internal/errors"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu        sync.Mutex
	available []consensus.Availability
	availErr  error
	failFor   map[string]error
	calls     []string
	onPredict func(matchID string)
}

func (f *fakeBackend) Availability(context.Context) ([]consensus.Availability, error) {
	return f.available, f.availErr
}

func (f *fakeBackend) Predict(_ context.Context, matchID string) (consensus.Prediction, error) {
	f.mu.Lock()
	f.calls = append(f.calls, matchID)
	hook := f.onPredict
	f.mu.Unlock()
	if hook != nil {
		hook(matchID)
	}
	if err := f.failFor[matchID]; err != nil {
		return consensus.Prediction{}, err
	}
	raw, _ := json.Marshal(map[string]interface{}{
		"match_id": matchID,
		"predictions": map[string]interface{}{
			"confidence":      0.72,
			"recommended_bet": "home",
		},
		"analysis": map[string]interface{}{"explanation": "form favours the hosts"},
	})
	return consensus.ParsePrediction(raw)
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	store   *memory.Store
	backend *fakeBackend
	cache   *cache.Memory
	svc     *Service
	clock   *time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := memory.New()
	backend := &fakeBackend{failFor: map[string]error{}}
	c := cache.NewMemory()
	svc := New(store, store, backend, c, cfg, nil)
	now := baseTime
	svc.now = func() time.Time { return now }
	return &fixture{store: store, backend: backend, cache: c, svc: svc, clock: &now}
}

func (f *fixture) upsertMatch(t *testing.T, id string, kickoff time.Time, status tip.MatchStatus, sourceAt time.Time) tip.MarketMatch {
	t.Helper()
	m, _, err := f.store.UpsertMarketMatch(context.Background(), tip.MarketMatch{
		MatchID:   id,
		League:    "Premier League",
		HomeTeam:  "Home " + id,
		AwayTeam:  "Away " + id,
		KickoffAt: kickoff,
		Status:    status,
		SourceAt:  sourceAt,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) createListing(t *testing.T, matchID string, enrichedAt *time.Time, data string) tip.QuickPurchase {
	t.Helper()
	qp := tip.QuickPurchase{
		MatchID:        matchID,
		Name:           "Listing " + matchID,
		Kind:           tip.KindPrediction,
		Price:          decimal.NewFromInt(5),
		Currency:       "USD",
		IsActive:       true,
		LastEnrichedAt: enrichedAt,
	}
	if data != "" {
		qp.PredictionData = json.RawMessage(data)
	}
	created, err := f.store.CreateQuickPurchase(context.Background(), qp)
	require.NoError(t, err)
	return created
}

func timePtr(t time.Time) *time.Time { return &t }

func TestSyncFromAvailability_ClassifiesAndProcesses(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	kick := baseTime.Add(24 * time.Hour)
	source := baseTime.Add(-2 * time.Hour)

	// fresh: enriched after the match changed and within the window
	f.upsertMatch(t, "fresh", kick, tip.MatchUpcoming, source)
	f.createListing(t, "fresh", timePtr(baseTime.Add(-time.Hour)), `{"ok":true}`)
	// stale: enriched before the match data changed
	f.upsertMatch(t, "stale", kick.Add(time.Hour), tip.MatchUpcoming, source)
	f.createListing(t, "stale", timePtr(source.Add(-time.Minute)), `{"ok":true}`)
	// missing prediction data
	f.upsertMatch(t, "empty", kick.Add(-time.Hour), tip.MatchUpcoming, source)
	f.createListing(t, "empty", nil, "")
	// create from an upcoming match
	f.upsertMatch(t, "new", kick, tip.MatchUpcoming, source)
	// finished match is skipped
	f.upsertMatch(t, "done", baseTime.Add(-5*time.Hour), tip.MatchFinished, source)

	f.backend.available = []consensus.Availability{
		{MatchID: "fresh"}, {MatchID: "stale"}, {MatchID: "empty"}, {MatchID: "new"}, {MatchID: "done"},
		{MatchID: "new"},     // duplicate
		{MatchID: "unknown"}, // no metadata, no rows
	}

	report, err := f.svc.SyncFromAvailability(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, 6, report.Available)
	assert.Equal(t, 5, report.Candidates)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 2, report.Enriched)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.Failed)
	assert.False(t, report.Partial)
	assert.Empty(t, report.Errors)

	// enrich before create, earliest kickoff first
	assert.Equal(t, []string{"empty", "stale", "new"}, f.backend.calls)

	created, err := f.store.GetQuickPurchaseByMatchID(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "Home new vs Away new", created.Name)
	assert.True(t, created.IsActive)
	assert.True(t, created.HasPrediction())
	assert.Equal(t, 72, created.Confidence)
	assert.Equal(t, "home", created.PredictionType)
	assert.True(t, created.Price.Equal(decimal.RequireFromString("9.99")))
	require.NotNil(t, created.KickoffAt)

	enriched, err := f.store.GetQuickPurchaseByMatchID(ctx, "empty")
	require.NoError(t, err)
	assert.True(t, enriched.HasPrediction())
	assert.Equal(t, "form favours the hosts", enriched.Analysis)
	require.NotNil(t, enriched.LastEnrichedAt)
	assert.True(t, enriched.LastEnrichedAt.Equal(baseTime))
}

func TestSyncFromAvailability_SecondPassSkipsAndUsesCache(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.upsertMatch(t, "m1", baseTime.Add(48*time.Hour), tip.MatchUpcoming, baseTime.Add(-time.Hour))
	f.backend.available = []consensus.Availability{{MatchID: "m1"}}

	first, err := f.svc.SyncFromAvailability(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)

	second, err := f.svc.SyncFromAvailability(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, f.backend.callCount())

	// past the freshness window the listing is re-enriched from the cache
	*f.clock = baseTime.Add(7 * time.Hour)
	third, err := f.svc.SyncFromAvailability(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, third.Enriched)
	assert.Equal(t, 1, third.CacheHits)
	assert.Equal(t, 1, f.backend.callCount())
}

func TestSyncFromAvailability_CreatesFromAvailabilityMetadata(t *testing.T) {
	f := newFixture(t, Config{DefaultPrice: decimal.NewFromInt(3), DefaultCurrency: "kes"})
	f.backend.available = []consensus.Availability{
		{MatchID: "a1", League: "Serie A", HomeTeam: "Inter", AwayTeam: "Milan", KickoffAt: baseTime.Add(3 * time.Hour)},
		{MatchID: "a2", HomeTeam: "Roma", AwayTeam: "Lazio", KickoffAt: baseTime.Add(-time.Hour)},
	}

	report, err := f.svc.SyncFromAvailability(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Skipped)

	qp, err := f.store.GetQuickPurchaseByMatchID(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "Inter vs Milan", qp.Name)
	assert.Equal(t, "KES", qp.Currency)
	assert.True(t, qp.Price.Equal(decimal.NewFromInt(3)))
}

func TestSyncFromAvailability_CollectsErrorsAndContinues(t *testing.T) {
	f := newFixture(t, Config{})
	kick := baseTime.Add(10 * time.Hour)
	f.upsertMatch(t, "bad", kick, tip.MatchUpcoming, time.Time{})
	f.upsertMatch(t, "good", kick.Add(time.Hour), tip.MatchUpcoming, time.Time{})
	f.backend.available = []consensus.Availability{{MatchID: "bad"}, {MatchID: "good"}}
	f.backend.failFor["bad"] = svcerrors.Timeout("predict", 20*time.Second)

	report, err := f.svc.SyncFromAvailability(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Created)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "bad", report.Errors[0].MatchID)
	assert.Equal(t, ActionCreate, report.Errors[0].Action)
	assert.Contains(t, report.Errors[0].Error, "timeout after 20s")
}

func TestSyncFromAvailability_StopsAtMaxDuration(t *testing.T) {
	f := newFixture(t, Config{})
	for _, id := range []string{"m1", "m2", "m3"} {
		f.upsertMatch(t, id, baseTime.Add(time.Hour), tip.MatchUpcoming, time.Time{})
		f.backend.available = append(f.backend.available, consensus.Availability{MatchID: id})
	}
	f.backend.onPredict = func(string) { *f.clock = f.clock.Add(40 * time.Second) }

	report, err := f.svc.SyncFromAvailability(context.Background(), Options{MaxDuration: time.Minute})
	require.NoError(t, err)
	assert.True(t, report.Partial)
	assert.Equal(t, "timeout", report.Reason)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Deferred)
}

func TestSyncFromAvailability_ClampsMaxDurationToConfig(t *testing.T) {
	f := newFixture(t, Config{MaxDuration: time.Minute})
	for _, id := range []string{"m1", "m2", "m3"} {
		f.upsertMatch(t, id, baseTime.Add(time.Hour), tip.MatchUpcoming, time.Time{})
		f.backend.available = append(f.backend.available, consensus.Availability{MatchID: id})
	}
	f.backend.onPredict = func(string) { *f.clock = f.clock.Add(40 * time.Second) }

	report, err := f.svc.SyncFromAvailability(context.Background(), Options{MaxDuration: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, report.Budget)
	assert.True(t, report.Partial)
	assert.Equal(t, "timeout", report.Reason)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Deferred)

	report, err = f.svc.SyncFromAvailability(context.Background(), Options{MaxDuration: -time.Second, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, report.Budget)
}

func TestSyncFromAvailability_LimitAndDryRun(t *testing.T) {
	f := newFixture(t, Config{})
	for i, id := range []string{"m3", "m1", "m2"} {
		f.upsertMatch(t, id, baseTime.Add(time.Duration(3-i)*time.Hour), tip.MatchUpcoming, time.Time{})
		f.backend.available = append(f.backend.available, consensus.Availability{MatchID: id})
	}

	plan, err := f.svc.SyncFromAvailability(context.Background(), Options{DryRun: true, Limit: 1})
	require.NoError(t, err)
	assert.True(t, plan.DryRun)
	assert.Len(t, plan.Plan, 3)
	assert.Equal(t, 2, plan.Deferred)
	assert.Zero(t, f.backend.callCount())

	report, err := f.svc.SyncFromAvailability(context.Background(), Options{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 2, report.Deferred)
	assert.Equal(t, []string{"m2"}, f.backend.calls)
}

func TestSyncFromAvailability_RejectsOverlap(t *testing.T) {
	f := newFixture(t, Config{})
	f.upsertMatch(t, "m1", baseTime.Add(time.Hour), tip.MatchUpcoming, time.Time{})
	f.backend.available = []consensus.Availability{{MatchID: "m1"}}

	var overlapErr error
	f.backend.onPredict = func(string) {
		_, overlapErr = f.svc.SyncFromAvailability(context.Background(), Options{})
	}
	_, err := f.svc.SyncFromAvailability(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, IsSyncRunning(overlapErr))
}

func TestSyncFromAvailability_AvailabilityFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.backend.availErr = svcerrors.Upstream("consensus", errors.New("boom"))

	_, err := f.svc.SyncFromAvailability(context.Background(), Options{})
	require.Error(t, err)
	assert.Equal(t, svcerrors.CodeUpstream, svcerrors.GetServiceError(err).Code)
}

func TestSyncFromAvailability_SkipsListingsMissingFromAvailability(t *testing.T) {
	f := newFixture(t, Config{})
	f.createListing(t, "gone", nil, "")

	report, err := f.svc.SyncFromAvailability(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, f.backend.callCount())
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "prediction:42:0", CacheKey("42", nil))
	m := &tip.MarketMatch{SourceAt: time.Unix(1700000000, 0)}
	assert.Equal(t, "prediction:42:1700000000", CacheKey("42", m))
}

func TestNewPacer(t *testing.T) {
	p := newPacer(0)
	assert.True(t, p.Allow())
	assert.True(t, p.Allow())

	paced := newPacer(time.Hour)
	assert.True(t, paced.Allow())
	assert.False(t, paced.Allow())
}
