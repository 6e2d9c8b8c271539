// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined
// here. This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// PORTS AND SERVICE URLS
// =============================================================================

// DefaultGatewayPort is the port the API gateway listens on.
const DefaultGatewayPort = 8000

// DefaultAnalyticsPort is the port the analytics service listens on.
const DefaultAnalyticsPort = 8003

// DefaultUserServiceURL is the user service base URL.
const DefaultUserServiceURL = "http://localhost:8001"

// DefaultTaskServiceURL is the task service base URL.
const DefaultTaskServiceURL = "http://localhost:8002"

// DefaultAnalyticsServiceURL is the analytics service base URL.
const DefaultAnalyticsServiceURL = "http://localhost:8003"

// =============================================================================
// CACHE FRESHNESS
// =============================================================================

// DefaultUserStatsTTL is the freshness window for per-user task statistics.
// A cached row older than this triggers a refresh from the task service.
const DefaultUserStatsTTL = 5 * time.Minute

// DefaultSystemSummaryTTL is the freshness window for the global summary.
const DefaultSystemSummaryTTL = 10 * time.Minute

// DefaultStatsDBPath is the sqlite file backing the stats cache.
const DefaultStatsDBPath = "/tmp/taskfleet-analytics.db"

// =============================================================================
// HTTP AND NETWORKING
// =============================================================================

// DefaultProxyTimeout bounds one proxied round trip to a backend.
const DefaultProxyTimeout = 30 * time.Second

// DefaultHealthProbeTimeout bounds a single backend health probe.
const DefaultHealthProbeTimeout = 5 * time.Second

// DefaultUpstreamFetchTimeout bounds one counter fetch from the task service.
const DefaultUpstreamFetchTimeout = 10 * time.Second

// MaxRequestBodySize is the maximum allowed request body (10MB).
const MaxRequestBodySize = 10 * 1024 * 1024

// DefaultServerReadTimeout for both HTTP servers.
const DefaultServerReadTimeout = 30 * time.Second

// DefaultServerWriteTimeout for both HTTP servers.
const DefaultServerWriteTimeout = 60 * time.Second

// DefaultShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM.
const DefaultShutdownTimeout = 10 * time.Second

// =============================================================================
// RATE LIMITING
// =============================================================================

// DefaultRateLimitPerSecond is requests per second per client IP.
const DefaultRateLimitPerSecond = 100

// DefaultRateLimitBurst is the per-IP burst allowance.
const DefaultRateLimitBurst = 200

// MaxRateLimitBuckets prevents memory exhaustion from too many IP buckets.
const MaxRateLimitBuckets = 10000

// RateLimitBucketTTL is how long an idle IP bucket is kept before cleanup.
const RateLimitBucketTTL = 15 * time.Minute
