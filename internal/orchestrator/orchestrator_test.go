package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cragcoach/internal/aggregator"
	"cragcoach/internal/cache/store"
	"cragcoach/internal/climbing"
	"cragcoach/internal/contextcache"
	"cragcoach/internal/enhancer"
	"cragcoach/internal/formatter"
	"cragcoach/internal/logging"
	"cragcoach/internal/testutil"
)

var fixedNow = time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repo  *testutil.FakeRepository
	cache *spyCache
	orch  *Orchestrator
}

// spyCache counts invalidations on top of a real manager.
type spyCache struct {
	*contextcache.Manager
	invalidations atomic.Int32
}

func (s *spyCache) Invalidate(ctx context.Context, userID, conversationID string) bool {
	s.invalidations.Add(1)
	return s.Manager.Invalidate(ctx, userID, conversationID)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := testutil.NewFakeRepository()
	for _, raw := range []string{"1", "2", "3"} {
		uid := climbing.MustUserID(raw)
		repo.Profiles[uid] = map[string]any{"years_climbing": 2, "highest_boulder_grade": "V5"}
		repo.Ticks[uid] = []climbing.Tick{
			{Date: "2024-01-10", RouteName: "Arete", Grade: "V4", Status: "sent"},
			{Date: "2024-01-24", RouteName: "Roof", Grade: "V5", Status: "sent"},
		}
	}
	mem, err := store.NewMemory(128)
	require.NoError(t, err)
	cache := &spyCache{Manager: contextcache.NewManager(mem, contextcache.Config{}, contextcache.WithLogger(logging.Nop()))}
	agg := aggregator.New(repo, aggregator.Config{}, aggregator.WithClock(func() time.Time { return fixedNow }), aggregator.WithLogger(logging.Nop()))
	orch := New(agg, enhancer.NewHeuristic(), cache, Config{}, WithLogger(logging.Nop()))
	return &fixture{repo: repo, cache: cache, orch: orch}
}

func (f *fixture) cached(t *testing.T, userID string) *formatter.Document {
	t.Helper()
	raw, ok := f.cache.Get(context.Background(), userID, "")
	require.True(t, ok, "expected a cached document for %s", userID)
	doc, err := formatter.DecodeDocument(raw)
	require.NoError(t, err)
	return doc
}

func TestGetContextGeneratesOnMissAndServesFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, ok := f.orch.GetContext(ctx, 1, GetOptions{})
	require.True(t, ok)
	assert.Equal(t, formatter.Version, doc.ContextVersion)
	assert.Equal(t, formatter.LevelIntermediate, doc.Profile.ExperienceLevel)
	assert.Len(t, doc.RecentActivity.Ticks, 2)
	assert.False(t, doc.HasRelevance())

	again, ok := f.orch.GetContext(ctx, "1", GetOptions{})
	require.True(t, ok)
	assert.Equal(t, doc, again)
	assert.Equal(t, 1, f.repo.Calls("FetchProfile"))
}

func TestGetContextAddsRelevanceOnCacheHit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, ok := f.orch.GetContext(ctx, 1, GetOptions{})
	require.True(t, ok)

	doc, ok := f.orch.GetContext(ctx, 1, GetOptions{Query: "how do I fix my finger injury"})
	require.True(t, ok)
	require.True(t, doc.HasRelevance())
	assert.Equal(t, 0.7, doc.Relevance["health"])
	assert.Equal(t, 1, f.repo.Calls("FetchProfile"), "relevance path must not re-aggregate")

	cached := f.cached(t, "1")
	assert.Equal(t, doc.Relevance, cached.Relevance)
	assert.Equal(t, doc.Summary, cached.Summary)
}

func TestGetContextWithQueryOnMiss(t *testing.T) {
	f := newFixture(t)

	doc, ok := f.orch.GetContext(context.Background(), 2, GetOptions{Query: "next goal"})
	require.True(t, ok)
	assert.True(t, doc.HasRelevance())
	assert.Equal(t, 1, f.repo.Calls("FetchProfile"))
}

func TestGetContextForceRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, ok := f.orch.GetContext(ctx, 1, GetOptions{})
	require.True(t, ok)
	f.repo.Profiles[climbing.MustUserID(1)] = map[string]any{"years_climbing": 6}

	doc, ok := f.orch.GetContext(ctx, 1, GetOptions{ForceRefresh: true})
	require.True(t, ok)
	assert.Equal(t, formatter.LevelAdvanced, doc.Profile.ExperienceLevel)
	assert.Equal(t, 2, f.repo.Calls("FetchProfile"))
	assert.EqualValues(t, 1, f.cache.invalidations.Load())
}

func TestGetContextGenerationFailureIsAbsent(t *testing.T) {
	f := newFixture(t)
	f.repo.ErrTicks = errors.New("db down")

	doc, ok := f.orch.GetContext(context.Background(), 1, GetOptions{})
	assert.False(t, ok)
	assert.Nil(t, doc)

	_, cached := f.cache.Get(context.Background(), "1", "")
	assert.False(t, cached)
}

func TestGetContextRejectsInvalidUserID(t *testing.T) {
	f := newFixture(t)

	_, ok := f.orch.GetContext(context.Background(), "not a user", GetOptions{})
	assert.False(t, ok)
	assert.Zero(t, f.repo.Calls("FetchProfile"))
}

func TestHandleDataUpdateRegeneratesAndDropsRelevance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, ok := f.orch.GetContext(ctx, 1, GetOptions{Query: "training plan"})
	require.True(t, ok)
	require.True(t, f.cached(t, "1").HasRelevance())

	uid := climbing.MustUserID(1)
	f.repo.Ticks[uid] = append(f.repo.Ticks[uid], climbing.Tick{Date: "2024-01-30", RouteName: "Slab", Grade: "V6", Status: "sent"})

	require.True(t, f.orch.HandleDataUpdate(ctx, 1, "tick", map[string]any{"route_name": "Slab"}, ""))

	doc := f.cached(t, "1")
	assert.False(t, doc.HasRelevance())
	assert.Len(t, doc.RecentActivity.Ticks, 3)
	assert.Equal(t, "Slab", doc.RecentActivity.Ticks[0].RouteName)
}

func TestHandleDataUpdateFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.ErrProfile = errors.New("db down")

	assert.False(t, f.orch.HandleDataUpdate(context.Background(), 1, "profile", nil, ""))
	assert.False(t, f.orch.HandleDataUpdate(context.Background(), -4, "profile", nil, ""))
}

func TestRefreshContextOverwritesWithoutInvalidating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.True(t, f.cache.Set(ctx, "1", contextcache.Document{"context_version": "1.0", "summary": "stale"}, ""))

	require.True(t, f.orch.RefreshContext(ctx, 1, ""))

	assert.NotEqual(t, "stale", f.cached(t, "1").Summary)
	assert.Zero(t, f.cache.invalidations.Load())
}

func TestBulkRefreshIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	f.repo.FailUsers[climbing.MustUserID(2)] = errors.New("row fetch failed")

	results := f.orch.BulkRefresh(context.Background(), []any{1, 2, 3}, 0)

	assert.Equal(t, map[climbing.UserID]bool{"1": true, "2": false, "3": true}, results)
	f.cached(t, "1")
	f.cached(t, "3")
}

func TestBulkRefreshRecordsInvalidIDs(t *testing.T) {
	f := newFixture(t)

	results := f.orch.BulkRefresh(context.Background(), []any{"1", "bogus"}, 10)
	assert.Equal(t, map[climbing.UserID]bool{"1": true, "bogus": false}, results)
}

type stubAggregator struct {
	mu       sync.Mutex
	inFlight int
	peak     int
	panicFor climbing.UserID
	delay    time.Duration
}

func (s *stubAggregator) AggregateAll(ctx context.Context, userID any, conversationID string) (climbing.Aggregate, error) {
	uid := climbing.MustUserID(userID)
	if uid == s.panicFor {
		panic("aggregator exploded")
	}
	s.mu.Lock()
	s.inFlight++
	s.peak = max(s.peak, s.inFlight)
	s.mu.Unlock()
	time.Sleep(s.delay)
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return climbing.Aggregate{UserID: uid, WindowDays: 30}, nil
}

func newStubOrchestrator(t *testing.T, agg Aggregator) *Orchestrator {
	t.Helper()
	mem, err := store.NewMemory(128)
	require.NoError(t, err)
	cache := contextcache.NewManager(mem, contextcache.Config{}, contextcache.WithLogger(logging.Nop()))
	return New(agg, enhancer.NewHeuristic(), cache, Config{BatchSize: 2}, WithLogger(logging.Nop()))
}

func TestBulkRefreshRecoversPanics(t *testing.T) {
	orch := newStubOrchestrator(t, &stubAggregator{panicFor: "2"})

	var results map[climbing.UserID]bool
	require.NotPanics(t, func() {
		results = orch.BulkRefresh(context.Background(), []any{1, 2, 3}, 0)
	})
	assert.Equal(t, map[climbing.UserID]bool{"1": true, "2": false, "3": true}, results)
}

func TestBulkRefreshBoundsConcurrencyByBatch(t *testing.T) {
	agg := &stubAggregator{delay: 20 * time.Millisecond}
	orch := newStubOrchestrator(t, agg)

	results := orch.BulkRefresh(context.Background(), []any{1, 2, 3, 4, 5}, 2)

	assert.Len(t, results, 5)
	for uid, ok := range results {
		assert.True(t, ok, "user %s", uid)
	}
	assert.LessOrEqual(t, agg.peak, 2)
}

func TestBulkRefreshCanceledContext(t *testing.T) {
	orch := newStubOrchestrator(t, &stubAggregator{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := orch.BulkRefresh(ctx, []any{1, 2}, 1)
	assert.Equal(t, map[climbing.UserID]bool{"1": false, "2": false}, results)
}
