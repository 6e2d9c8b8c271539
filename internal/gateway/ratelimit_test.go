package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestIPRateLimiter_EnforcesBurst(t *testing.T) {
	l := newIPRateLimiter(0.001, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.allow("10.0.0.1"), "request %d within burst", i)
	}
	assert.False(t, l.allow("10.0.0.1"))
}

func TestIPRateLimiter_BucketsPerIP(t *testing.T) {
	l := newIPRateLimiter(0.001, 1)

	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	// A different client is unaffected.
	assert.True(t, l.allow("10.0.0.2"))
}

func TestRateLimitMiddleware_Returns429(t *testing.T) {
	l := newIPRateLimiter(0.001, 1)
	h := l.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Same IP, different port: still the same bucket.
	req = httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.RemoteAddr = "10.0.0.1:5001"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := gjson.Parse(rec.Body.String())
	assert.False(t, body.Get("success").Bool())
	assert.Equal(t, "Too many requests from this IP, please try again later.", body.Get("message").String())
}
