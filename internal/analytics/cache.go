package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/taskfleet/taskfleet/internal/api"
	"github.com/taskfleet/taskfleet/internal/monitoring"
	"github.com/taskfleet/taskfleet/internal/store"
)

// StatsCache is the read-through cache over the stats store.
//
// Invariants:
//   - At most one refresh per key is in flight; concurrent callers that
//     observe a stale or missing entry join it and share its result.
//   - All writes go through the store's atomic upsert; a refresh replaces
//     the entry, it never appends.
//   - Entries are never evicted; acceptable staleness is enforced here,
//     at read time.
type StatsCache struct {
	store     *store.Store
	source    CounterSource
	userTTL   time.Duration
	systemTTL time.Duration
	metrics   *monitoring.MetricsCollector

	sf singleflight.Group

	// now is swappable for freshness-boundary tests.
	now func() time.Time
}

// NewStatsCache wires the cache to its backing store and counter source.
func NewStatsCache(st *store.Store, src CounterSource, userTTL, systemTTL time.Duration, mc *monitoring.MetricsCollector) *StatsCache {
	if userTTL <= 0 {
		userTTL = 5 * time.Minute
	}
	if systemTTL <= 0 {
		systemTTL = 10 * time.Minute
	}
	if mc == nil {
		mc = monitoring.NewMetricsCollector()
	}
	return &StatsCache{
		store:     st,
		source:    src,
		userTTL:   userTTL,
		systemTTL: systemTTL,
		metrics:   mc,
		now:       time.Now,
	}
}

// UserStats returns the counters for userID, refreshing from the task
// service when the cached entry is stale or missing. An unreachable upstream
// degrades to the stale entry when one exists.
func (c *StatsCache) UserStats(ctx context.Context, userID string) (*store.UserStats, error) {
	entry, err := c.store.UserStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entry != nil && c.now().Sub(entry.RefreshedAt) < c.userTTL {
		c.metrics.RecordCacheHit()
		return entry, nil
	}
	c.metrics.RecordCacheMiss()

	v, err, _ := c.sf.Do("user:"+userID, func() (any, error) {
		return c.refreshUser(ctx, userID)
	})
	if err != nil {
		return c.degradeUser(userID, entry, err)
	}
	return v.(*store.UserStats), nil
}

func (c *StatsCache) refreshUser(ctx context.Context, userID string) (*store.UserStats, error) {
	counters, err := c.source.FetchCounters(ctx, userID)
	if err != nil {
		return nil, err
	}
	refreshedAt := c.now()
	if err := c.store.UpsertUserStats(ctx, userID, counters, refreshedAt); err != nil {
		return nil, err
	}
	c.metrics.RecordRefresh()
	log.Debug().Str("user_id", userID).Msg("user stats refreshed")
	return &store.UserStats{UserID: userID, TaskCounters: counters, RefreshedAt: refreshedAt}, nil
}

func (c *StatsCache) degradeUser(userID string, stale *store.UserStats, err error) (*store.UserStats, error) {
	if !errors.Is(err, api.ErrUpstreamUnavailable) {
		return nil, err
	}
	if stale != nil {
		c.metrics.RecordStaleFallback()
		log.Warn().Err(err).Str("user_id", userID).
			Time("refreshed_at", stale.RefreshedAt).
			Msg("task service unreachable, serving stale user stats")
		return stale, nil
	}
	return nil, fmt.Errorf("%w: %v", api.ErrDependencyUnavailable, err)
}

// SystemSummary returns the global summary, with the same refresh and
// degrade behavior as UserStats under its own freshness window.
func (c *StatsCache) SystemSummary(ctx context.Context) (*store.SystemSummary, error) {
	entry, err := c.store.SystemSummary(ctx)
	if err != nil {
		return nil, err
	}
	if entry != nil && c.now().Sub(entry.RefreshedAt) < c.systemTTL {
		c.metrics.RecordCacheHit()
		return entry, nil
	}
	c.metrics.RecordCacheMiss()

	v, err, _ := c.sf.Do("system", func() (any, error) {
		return c.refreshSystem(ctx)
	})
	if err != nil {
		if !errors.Is(err, api.ErrUpstreamUnavailable) {
			return nil, err
		}
		if entry != nil {
			c.metrics.RecordStaleFallback()
			log.Warn().Err(err).Msg("task service unreachable, serving stale system summary")
			return entry, nil
		}
		return nil, fmt.Errorf("%w: %v", api.ErrDependencyUnavailable, err)
	}
	return v.(*store.SystemSummary), nil
}

func (c *StatsCache) refreshSystem(ctx context.Context) (*store.SystemSummary, error) {
	counters, err := c.source.FetchCounters(ctx, "")
	if err != nil {
		return nil, err
	}
	sum := store.SystemSummary{
		// total_users stays 0: the user service exposes no counting endpoint.
		TotalUsers:     0,
		TotalTasks:     counters.TotalTasks,
		CompletedTasks: counters.CompletedTasks,
		ActiveTasks:    counters.TotalTasks - counters.CompletedTasks,
		RefreshedAt:    c.now(),
	}
	if err := c.store.UpsertSystemSummary(ctx, sum); err != nil {
		return nil, err
	}
	c.metrics.RecordRefresh()
	log.Debug().Msg("system summary refreshed")
	return &sum, nil
}

// CacheUserStats is the push path: another service proactively reports
// counters. It performs the same upsert as a refresh, bypassing the
// freshness check entirely.
func (c *StatsCache) CacheUserStats(ctx context.Context, userID string, counters store.TaskCounters) error {
	if err := c.store.UpsertUserStats(ctx, userID, counters, c.now()); err != nil {
		return err
	}
	c.metrics.RecordPush()
	return nil
}

// Ping reports whether the backing store is reachable.
func (c *StatsCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}
