// Package gateway is the public edge of the task tracker.
//
// DESIGN: Request flow:
//   - requestID middleware:  tag every request, echo X-Request-ID
//   - rate limiter:          per-IP token bucket
//   - auth gate:             resolve credentials to a Principal (all routes
//     except /auth/*, which must pass through so login can happen)
//   - proxy router:          forward to exactly one backend by path prefix
//
// Health endpoints and the loopback-only /stats endpoint are served locally,
// never proxied.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/taskfleet/taskfleet/internal/api"
	"github.com/taskfleet/taskfleet/internal/auth"
	"github.com/taskfleet/taskfleet/internal/config"
	"github.com/taskfleet/taskfleet/internal/monitoring"
)

// Gateway authenticates and forwards inbound requests.
type Gateway struct {
	cfg        *config.Config
	resolver   *auth.Resolver
	targets    []ProxyTarget
	httpClient *http.Client
	metrics    *monitoring.MetricsCollector
	limiter    *ipRateLimiter
	startedAt  time.Time
}

// New builds a gateway from configuration. The proxy target table is fixed
// at startup and immutable afterwards.
func New(cfg *config.Config, resolver *auth.Resolver, mc *monitoring.MetricsCollector) *Gateway {
	if mc == nil {
		mc = monitoring.NewMetricsCollector()
	}
	return &Gateway{
		cfg:      cfg,
		resolver: resolver,
		targets: []ProxyTarget{
			{Name: "user", Prefix: "/auth", BaseURL: cfg.Services.UserServiceURL},
			{Name: "user", Prefix: "/user", BaseURL: cfg.Services.UserServiceURL},
			{Name: "task", Prefix: "/tasks", BaseURL: cfg.Services.TaskServiceURL},
			{Name: "analytics", Prefix: "/analytics", BaseURL: cfg.Services.AnalyticsServiceURL},
		},
		httpClient: &http.Client{Timeout: cfg.Proxy.Timeout},
		metrics:    mc,
		limiter:    newIPRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		startedAt:  time.Now(),
	}
}

// Routes builds the gateway handler chain.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /services/health", g.handleServicesHealth)
	mux.HandleFunc("GET /stats", g.handleOpStats)

	for _, t := range g.targets {
		proxy := g.proxyHandler(t)
		if t.Prefix != "/auth" {
			proxy = g.resolver.Middleware(proxy)
		}
		mux.Handle(t.Prefix+"/", proxy)
		mux.Handle(t.Prefix, proxy)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		api.WriteFailure(w, http.StatusNotFound, "Route not found")
	})

	return g.requestID(g.limiter.middleware(mux))
}

type requestIDKey struct{}

// RequestIDFromContext returns the request ID tagged by the middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestID tags each request with an ID and echoes it back to the client.
func (g *Gateway) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (g *Gateway) handleOpStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		api.WriteFailure(w, http.StatusForbidden, "Access denied")
		return
	}
	api.WriteJSON(w, http.StatusOK, g.metrics.Stats())
}
