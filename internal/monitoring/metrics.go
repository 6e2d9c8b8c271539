// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - requests/failures:  Handled request counts
//   - proxied:            Requests forwarded to a backend
//   - proxy_errors:       Forwards that failed at the transport level
//   - cache hits/misses:  Stats-cache read outcomes
//   - refreshes:          Upstream counter fetches that succeeded
//   - stale_fallbacks:    Reads served from a stale entry after an
//     upstream failure
//   - pushes:             Service-to-service counter upserts
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	requests atomic.Int64
	failures atomic.Int64

	proxied     atomic.Int64
	proxyErrors atomic.Int64

	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	refreshes      atomic.Int64
	staleFallbacks atomic.Int64
	pushes         atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startedAt: time.Now()}
}

// RecordRequest records one handled request.
func (mc *MetricsCollector) RecordRequest(success bool) {
	mc.requests.Add(1)
	if !success {
		mc.failures.Add(1)
	}
}

// RecordProxied records a request forwarded to a backend.
func (mc *MetricsCollector) RecordProxied() { mc.proxied.Add(1) }

// RecordProxyError records a forward that failed at the transport level.
func (mc *MetricsCollector) RecordProxyError() { mc.proxyErrors.Add(1) }

// RecordCacheHit records a fresh stats-cache read.
func (mc *MetricsCollector) RecordCacheHit() { mc.cacheHits.Add(1) }

// RecordCacheMiss records a stale or missing stats-cache read.
func (mc *MetricsCollector) RecordCacheMiss() { mc.cacheMisses.Add(1) }

// RecordRefresh records a successful upstream counter fetch.
func (mc *MetricsCollector) RecordRefresh() { mc.refreshes.Add(1) }

// RecordStaleFallback records a read served from a stale entry because the
// upstream was unreachable.
func (mc *MetricsCollector) RecordStaleFallback() { mc.staleFallbacks.Add(1) }

// RecordPush records a service-to-service counter upsert.
func (mc *MetricsCollector) RecordPush() { mc.pushes.Add(1) }

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// StatsResponse is the structured payload for the /stats endpoint.
type StatsResponse struct {
	Uptime        string     `json:"uptime"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartedAt     string     `json:"started_at"`
	Requests      Requests   `json:"requests"`
	Proxy         ProxyStats `json:"proxy"`
	Cache         CacheStats `json:"cache"`
}

// Requests holds request count metrics.
type Requests struct {
	Total  int64 `json:"total"`
	Failed int64 `json:"failed"`
}

// ProxyStats holds forwarding metrics.
type ProxyStats struct {
	Forwarded int64 `json:"forwarded"`
	Errors    int64 `json:"errors"`
}

// CacheStats holds stats-cache metrics.
type CacheStats struct {
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	HitRate        float64 `json:"hit_rate"`
	Refreshes      int64   `json:"refreshes"`
	StaleFallbacks int64   `json:"stale_fallbacks"`
	Pushes         int64   `json:"pushes"`
}

// Stats returns all counters in a structured format.
func (mc *MetricsCollector) Stats() StatsResponse {
	uptime := time.Since(mc.startedAt)
	hits := mc.cacheHits.Load()
	misses := mc.cacheMisses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: Requests{
			Total:  mc.requests.Load(),
			Failed: mc.failures.Load(),
		},
		Proxy: ProxyStats{
			Forwarded: mc.proxied.Load(),
			Errors:    mc.proxyErrors.Load(),
		},
		Cache: CacheStats{
			Hits:           hits,
			Misses:         misses,
			HitRate:        hitRate,
			Refreshes:      mc.refreshes.Load(),
			StaleFallbacks: mc.staleFallbacks.Load(),
			Pushes:         mc.pushes.Load(),
		},
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
