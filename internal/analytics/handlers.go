package analytics

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/taskfleet/taskfleet/internal/api"
	"github.com/taskfleet/taskfleet/internal/auth"
	"github.com/taskfleet/taskfleet/internal/config"
	"github.com/taskfleet/taskfleet/internal/monitoring"
	"github.com/taskfleet/taskfleet/internal/store"
)

// Handler serves the analytics HTTP surface.
type Handler struct {
	cache    *StatsCache
	resolver *auth.Resolver
	metrics  *monitoring.MetricsCollector
}

// NewHandler wires the analytics routes to the cache and auth resolver.
func NewHandler(cache *StatsCache, resolver *auth.Resolver, mc *monitoring.MetricsCollector) *Handler {
	if mc == nil {
		mc = monitoring.NewMetricsCollector()
	}
	return &Handler{cache: cache, resolver: resolver, metrics: mc}
}

// Routes builds the service mux. Everything under /analytics/ sits behind
// the auth gate; /health and the loopback-only /stats do not.
func (h *Handler) Routes() http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("GET /analytics/stats/{userId}", h.handleUserStats)
	protected.Handle("GET /analytics/summary", auth.RequireAdmin(http.HandlerFunc(h.handleSummary)))
	protected.HandleFunc("GET /analytics/trends/{userId}", h.handleTrends)
	protected.HandleFunc("GET /analytics/productivity/{userId}", h.handleProductivity)
	protected.HandleFunc("GET /analytics/dashboard/{userId}", h.handleDashboard)
	protected.HandleFunc("POST /analytics/cache/{userId}", h.handleCachePush)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /stats", h.handleOpStats)
	mux.Handle("/analytics/", h.resolver.Middleware(protected))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		api.WriteFailure(w, http.StatusNotFound, "Route not found")
	})
	return mux
}

// selfOrAdmin enforces the self-or-admin rule for the path's userId.
// Returns the user id, or "" after writing the 403.
func selfOrAdmin(w http.ResponseWriter, r *http.Request) string {
	userID := r.PathValue("userId")
	p, ok := auth.FromContext(r.Context())
	if !ok {
		api.WriteError(w, api.ErrMissingCredentials)
		return ""
	}
	if !p.CanAccessUser(userID) {
		api.WriteFailure(w, http.StatusForbidden, "Access denied")
		return ""
	}
	return userID
}

func (h *Handler) handleUserStats(w http.ResponseWriter, r *http.Request) {
	userID := selfOrAdmin(w, r)
	if userID == "" {
		return
	}
	stats, err := h.cache.UserStats(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err, "fetching user statistics")
		return
	}
	h.metrics.RecordRequest(true)
	api.WriteJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.cache.SystemSummary(r.Context())
	if err != nil {
		h.fail(w, r, err, "fetching system summary")
		return
	}
	h.metrics.RecordRequest(true)
	api.WriteJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (h *Handler) handleTrends(w http.ResponseWriter, r *http.Request) {
	userID := selfOrAdmin(w, r)
	if userID == "" {
		return
	}
	stats, err := h.cache.UserStats(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err, "fetching trends")
		return
	}
	h.metrics.RecordRequest(true)
	api.WriteJSON(w, http.StatusOK, map[string]any{"trends": Trends(stats.TaskCounters)})
}

func (h *Handler) handleProductivity(w http.ResponseWriter, r *http.Request) {
	userID := selfOrAdmin(w, r)
	if userID == "" {
		return
	}
	stats, err := h.cache.UserStats(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err, "fetching productivity metrics")
		return
	}
	h.metrics.RecordRequest(true)
	api.WriteJSON(w, http.StatusOK, map[string]any{"metrics": Productivity(stats.TaskCounters)})
}

// Dashboard combines stats, trends, and productivity for one user.
type Dashboard struct {
	Stats        *store.UserStats   `json:"stats"`
	Trends       TrendReport        `json:"trends"`
	Productivity ProductivityReport `json:"productivity"`
}

// handleDashboard fetches the three dashboard parts concurrently. The
// singleflight layer collapses their upstream refreshes into one; any part
// failing fails the whole call, never a partial dashboard.
func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID := selfOrAdmin(w, r)
	if userID == "" {
		return
	}

	var dash Dashboard
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		stats, err := h.cache.UserStats(ctx, userID)
		if err == nil {
			dash.Stats = stats
		}
		return err
	})
	g.Go(func() error {
		stats, err := h.cache.UserStats(ctx, userID)
		if err == nil {
			dash.Trends = Trends(stats.TaskCounters)
		}
		return err
	})
	g.Go(func() error {
		stats, err := h.cache.UserStats(ctx, userID)
		if err == nil {
			dash.Productivity = Productivity(stats.TaskCounters)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		h.fail(w, r, err, "fetching dashboard data")
		return
	}
	h.metrics.RecordRequest(true)
	api.WriteJSON(w, http.StatusOK, map[string]any{"dashboard": dash})
}

// handleCachePush accepts proactively reported counters from another
// service. Admin or internal-service principals only; the body is upserted
// verbatim with absent counters defaulting to 0.
func (h *Handler) handleCachePush(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	p, ok := auth.FromContext(r.Context())
	if !ok {
		api.WriteError(w, api.ErrMissingCredentials)
		return
	}
	if !p.IsAdmin() && !p.IsInternalService() {
		api.WriteFailure(w, http.StatusForbidden, "Access denied")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.WriteFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !gjson.ValidBytes(body) {
		api.WriteFailure(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	counters := countersFromJSON(gjson.ParseBytes(body))
	if err := h.cache.CacheUserStats(r.Context(), userID, counters); err != nil {
		h.fail(w, r, err, "caching statistics")
		return
	}
	h.metrics.RecordRequest(true)
	api.WriteMessage(w, http.StatusOK, "Statistics cached successfully")
}

// handleHealth reports service liveness, degrading when the store is down.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":    "OK",
		"service":   "Analytics Service",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.cache.Ping(r.Context()); err != nil {
		health["status"] = "degraded"
	}
	api.WriteJSON(w, http.StatusOK, health)
}

// handleOpStats returns operational counters. Restricted to loopback to
// keep internals off the public surface.
func (h *Handler) handleOpStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		api.WriteFailure(w, http.StatusForbidden, "Access denied")
		return
	}
	api.WriteJSON(w, http.StatusOK, h.metrics.Stats())
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, what string) {
	h.metrics.RecordRequest(false)
	log.Error().Err(err).Str("path", r.URL.Path).Msg("error " + what)
	api.WriteError(w, err)
}

// isLoopback reports whether remoteAddr is a loopback address.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
