package analytics

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskfleet/taskfleet/internal/api"
	"github.com/taskfleet/taskfleet/internal/store"
)

// fakeSource is a scriptable CounterSource that counts its invocations.
type fakeSource struct {
	mu       sync.Mutex
	calls    atomic.Int64
	counters store.TaskCounters
	err      error
	delay    time.Duration
}

func (f *fakeSource) FetchCounters(ctx context.Context, userID string) (store.TaskCounters, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return store.TaskCounters{}, fmt.Errorf("%w: %v", api.ErrUpstreamUnavailable, ctx.Err())
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters, f.err
}

func (f *fakeSource) set(c store.TaskCounters, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters = c
	f.err = err
}

func newTestCache(t *testing.T, src CounterSource) (*StatsCache, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewStatsCache(st, src, 5*time.Minute, 10*time.Minute, nil), st
}

func TestUserStats_MissRefreshesAndStores(t *testing.T) {
	src := &fakeSource{counters: store.TaskCounters{TotalTasks: 10, CompletedTasks: 4}}
	cache, st := newTestCache(t, src)
	ctx := context.Background()

	got, err := cache.UserStats(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 10, got.TotalTasks)
	assert.Equal(t, int64(1), src.calls.Load())

	row, err := st.UserStats(ctx, "7")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 10, row.TotalTasks)
}

func TestUserStats_FreshEntrySkipsUpstream(t *testing.T) {
	src := &fakeSource{counters: store.TaskCounters{TotalTasks: 10}}
	cache, st := newTestCache(t, src)
	ctx := context.Background()

	// Just inside the freshness window.
	base := time.Now()
	cache.now = func() time.Time { return base }
	require.NoError(t, st.UpsertUserStats(ctx, "7", store.TaskCounters{TotalTasks: 3}, base.Add(-5*time.Minute+time.Second)))

	got, err := cache.UserStats(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalTasks)
	assert.Equal(t, int64(0), src.calls.Load())
}

func TestUserStats_StaleEntryTriggersRefresh(t *testing.T) {
	src := &fakeSource{counters: store.TaskCounters{TotalTasks: 10}}
	cache, st := newTestCache(t, src)
	ctx := context.Background()

	// Just past the freshness window.
	base := time.Now()
	cache.now = func() time.Time { return base }
	require.NoError(t, st.UpsertUserStats(ctx, "7", store.TaskCounters{TotalTasks: 3}, base.Add(-5*time.Minute-time.Second)))

	got, err := cache.UserStats(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 10, got.TotalTasks)
	assert.Equal(t, int64(1), src.calls.Load())
}

func TestUserStats_ConcurrentMissesCollapse(t *testing.T) {
	src := &fakeSource{
		counters: store.TaskCounters{TotalTasks: 10},
		delay:    200 * time.Millisecond,
	}
	cache, _ := newTestCache(t, src)
	ctx := context.Background()

	const callers = 50
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.UserStats(ctx, "7")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), src.calls.Load(), "concurrent misses must share one upstream fetch")
}

func TestUserStats_StaleFallbackWhenUpstreamDown(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("%w: connection refused", api.ErrUpstreamUnavailable)}
	cache, st := newTestCache(t, src)
	ctx := context.Background()

	base := time.Now()
	cache.now = func() time.Time { return base }
	staleAt := base.Add(-time.Hour)
	require.NoError(t, st.UpsertUserStats(ctx, "7", store.TaskCounters{TotalTasks: 3}, staleAt))

	got, err := cache.UserStats(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalTasks)
	assert.True(t, got.RefreshedAt.Equal(staleAt), "stale timestamp must be preserved")
}

func TestUserStats_NoDataAndUpstreamDown(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("%w: connection refused", api.ErrUpstreamUnavailable)}
	cache, _ := newTestCache(t, src)

	_, err := cache.UserStats(context.Background(), "7")
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrDependencyUnavailable))
}

func TestUserStats_UnexpectedErrorNotMasked(t *testing.T) {
	boom := errors.New("boom")
	src := &fakeSource{err: boom}
	cache, st := newTestCache(t, src)
	ctx := context.Background()

	// Even with a stale entry available, a non-transport error propagates.
	require.NoError(t, st.UpsertUserStats(ctx, "7", store.TaskCounters{TotalTasks: 3}, time.Now().Add(-time.Hour)))

	_, err := cache.UserStats(ctx, "7")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestSystemSummary_RefreshDerivesActive(t *testing.T) {
	src := &fakeSource{counters: store.TaskCounters{TotalTasks: 100, CompletedTasks: 30}}
	cache, _ := newTestCache(t, src)

	sum, err := cache.SystemSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.TotalUsers)
	assert.Equal(t, 100, sum.TotalTasks)
	assert.Equal(t, 30, sum.CompletedTasks)
	assert.Equal(t, 70, sum.ActiveTasks)
}

func TestSystemSummary_FreshWindowIsWiderThanUserWindow(t *testing.T) {
	src := &fakeSource{counters: store.TaskCounters{TotalTasks: 100}}
	cache, st := newTestCache(t, src)
	ctx := context.Background()

	// 7 minutes old: stale for a user entry, still fresh for the summary.
	base := time.Now()
	cache.now = func() time.Time { return base }
	require.NoError(t, st.UpsertSystemSummary(ctx, store.SystemSummary{
		TotalTasks: 55, RefreshedAt: base.Add(-7 * time.Minute),
	}))

	sum, err := cache.SystemSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 55, sum.TotalTasks)
	assert.Equal(t, int64(0), src.calls.Load())
}

func TestSystemSummary_StaleFallback(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("%w: connection refused", api.ErrUpstreamUnavailable)}
	cache, st := newTestCache(t, src)
	ctx := context.Background()

	require.NoError(t, st.UpsertSystemSummary(ctx, store.SystemSummary{
		TotalTasks: 55, RefreshedAt: time.Now().Add(-time.Hour),
	}))

	sum, err := cache.SystemSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 55, sum.TotalTasks)
}

func TestCacheUserStats_PushBypassesFreshness(t *testing.T) {
	src := &fakeSource{}
	cache, st := newTestCache(t, src)
	ctx := context.Background()

	// A fresh entry exists; the push must still replace it.
	require.NoError(t, st.UpsertUserStats(ctx, "7", store.TaskCounters{TotalTasks: 3}, time.Now()))
	require.NoError(t, cache.CacheUserStats(ctx, "7", store.TaskCounters{TotalTasks: 9, CompletedTasks: 9}))

	row, err := st.UserStats(ctx, "7")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 9, row.TotalTasks)
	assert.Equal(t, int64(0), src.calls.Load())
}

func TestUserStats_RecoveryAfterOutage(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("%w: connection refused", api.ErrUpstreamUnavailable)}
	cache, st := newTestCache(t, src)
	ctx := context.Background()

	base := time.Now()
	cache.now = func() time.Time { return base }
	require.NoError(t, st.UpsertUserStats(ctx, "7", store.TaskCounters{TotalTasks: 3}, base.Add(-time.Hour)))

	got, err := cache.UserStats(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalTasks)

	// Upstream comes back; the next read refreshes for real.
	src.set(store.TaskCounters{TotalTasks: 12}, nil)
	got, err = cache.UserStats(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 12, got.TotalTasks)
}
