// Package analytics maintains a time-boxed cache of per-user task counters
// and derives trend and productivity figures from it.
//
// DESIGN: Read-through cache over sqlite with two freshness windows (per-user
// and system-wide). A stale or missing entry triggers a refresh from the task
// service; concurrent refreshes for one key collapse into a single upstream
// call via singleflight. When the upstream is unreachable, a stale entry is
// served rather than an error.
package analytics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/taskfleet/taskfleet/internal/api"
	"github.com/taskfleet/taskfleet/internal/auth"
	"github.com/taskfleet/taskfleet/internal/store"
)

// CounterSource supplies fresh task counters. An empty userID requests the
// global (non-scoped) summary.
type CounterSource interface {
	FetchCounters(ctx context.Context, userID string) (store.TaskCounters, error)
}

// TaskServiceClient fetches counters from the task service's summary
// endpoint, authenticating with the shared service token.
type TaskServiceClient struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

// NewTaskServiceClient creates a client for the task service at baseURL.
func NewTaskServiceClient(baseURL, serviceToken string, timeout time.Duration) *TaskServiceClient {
	return &TaskServiceClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		serviceToken: serviceToken,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// FetchCounters calls GET {base}/tasks/stats/summary. Transport failures,
// non-200 statuses, and malformed envelopes all surface as
// api.ErrUpstreamUnavailable so the cache can degrade uniformly.
func (c *TaskServiceClient) FetchCounters(ctx context.Context, userID string) (store.TaskCounters, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/stats/summary", nil)
	if err != nil {
		return store.TaskCounters{}, fmt.Errorf("build stats request: %w", err)
	}
	req.Header.Set(auth.HeaderServiceToken, c.serviceToken)
	if userID != "" {
		req.Header.Set(auth.HeaderUserID, userID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return store.TaskCounters{}, fmt.Errorf("%w: %v", api.ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return store.TaskCounters{}, fmt.Errorf("%w: task service returned %d", api.ErrUpstreamUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return store.TaskCounters{}, fmt.Errorf("%w: %v", api.ErrUpstreamUnavailable, err)
	}
	if !gjson.GetBytes(body, "success").Bool() {
		return store.TaskCounters{}, fmt.Errorf("%w: task service reported failure", api.ErrUpstreamUnavailable)
	}
	stats := gjson.GetBytes(body, "data.stats")
	if !stats.Exists() {
		return store.TaskCounters{}, fmt.Errorf("%w: malformed stats envelope", api.ErrUpstreamUnavailable)
	}
	return countersFromJSON(stats), nil
}

// countersFromJSON reads a counters object, defaulting absent fields to 0.
func countersFromJSON(v gjson.Result) store.TaskCounters {
	return store.TaskCounters{
		TotalTasks:        int(v.Get("total_tasks").Int()),
		CompletedTasks:    int(v.Get("completed_tasks").Int()),
		PendingTasks:      int(v.Get("pending_tasks").Int()),
		InProgressTasks:   int(v.Get("in_progress_tasks").Int()),
		CancelledTasks:    int(v.Get("cancelled_tasks").Int()),
		UrgentTasks:       int(v.Get("urgent_tasks").Int()),
		HighPriorityTasks: int(v.Get("high_priority_tasks").Int()),
		OverdueTasks:      int(v.Get("overdue_tasks").Int()),
	}
}
