package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/taskfleet/taskfleet/internal/api"
)

// handleHealth reports the gateway's own liveness. Always 200.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         "OK",
		"service":        "API Gateway",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(g.startedAt).Seconds()),
		"services": map[string]string{
			"user":      g.cfg.Services.UserServiceURL,
			"task":      g.cfg.Services.TaskServiceURL,
			"analytics": g.cfg.Services.AnalyticsServiceURL,
		},
	})
}

// handleServicesHealth probes every backend's /health concurrently, each
// probe bounded by its own timeout. One dead dependency never masks the
// liveness of the others: failures are captured per entry and the aggregate
// always returns 200 with the full breakdown.
func (g *Gateway) handleServicesHealth(w http.ResponseWriter, r *http.Request) {
	backends := map[string]string{
		"user":      g.cfg.Services.UserServiceURL,
		"task":      g.cfg.Services.TaskServiceURL,
		"analytics": g.cfg.Services.AnalyticsServiceURL,
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	services := make(map[string]json.RawMessage, len(backends))

	for name, baseURL := range backends {
		wg.Add(1)
		go func(name, baseURL string) {
			defer wg.Done()
			entry := g.probeHealth(r.Context(), baseURL)
			mu.Lock()
			services[name] = entry
			mu.Unlock()
		}(name, baseURL)
	}
	wg.Wait()

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"gateway": map[string]string{
			"status":    "OK",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
		"services": services,
	})
}

// probeHealth issues one GET {base}/health and renders the per-service
// entry. The upstream's health payload is embedded raw, untouched.
func (g *Gateway) probeHealth(ctx context.Context, baseURL string) json.RawMessage {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Proxy.HealthProbeTimeout)
	defer cancel()

	entry := []byte(`{}`)
	fail := func(err error) json.RawMessage {
		entry, _ = sjson.SetBytes(entry, "status", "ERROR")
		entry, _ = sjson.SetBytes(entry, "error", err.Error())
		return entry
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/health", nil)
	if err != nil {
		return fail(err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("target", baseURL).Msg("health probe failed")
		return fail(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(err)
	}

	status := "OK"
	if resp.StatusCode != http.StatusOK {
		status = "ERROR"
	}
	entry, _ = sjson.SetBytes(entry, "status", status)
	entry, _ = sjson.SetBytes(entry, "http_status", resp.StatusCode)
	if gjson.ValidBytes(body) {
		entry, _ = sjson.SetRawBytes(entry, "response", body)
	} else {
		entry, _ = sjson.SetBytes(entry, "response", string(body))
	}
	return entry
}
