package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestMiddleware_ShortCircuitsUnauthenticated(t *testing.T) {
	r := NewResolver(testSecret, testServiceToken)

	reached := false
	h := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/analytics/stats/7", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, reached, "handler must not run without credentials")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := gjson.Parse(rec.Body.String())
	assert.False(t, body.Get("success").Bool())
	assert.Equal(t, "Access token required", body.Get("message").String())
}

func TestMiddleware_AttachesPrincipal(t *testing.T) {
	r := NewResolver(testSecret, testServiceToken)

	var got Principal
	h := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		p, ok := FromContext(req.Context())
		require.True(t, ok)
		got = p
	}))

	tok := signToken(t, jwt.MapClaims{
		"userId": "7", "exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodGet, "/analytics/stats/7", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "7", got.ID)
	assert.Equal(t, KindEndUser, got.Kind)
}

func TestRequireAdmin(t *testing.T) {
	reached := false
	h := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))

	// Non-admin principal.
	req := httptest.NewRequest(http.MethodGet, "/analytics/summary", nil)
	req = req.WithContext(WithPrincipal(req.Context(), Principal{ID: "7", Role: RoleUser, Kind: KindEndUser}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.False(t, reached)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Admin access required", gjson.Get(rec.Body.String(), "message").String())

	// Admin principal.
	req = httptest.NewRequest(http.MethodGet, "/analytics/summary", nil)
	req = req.WithContext(WithPrincipal(req.Context(), Principal{ID: "1", Role: RoleAdmin, Kind: KindEndUser}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.True(t, reached)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// No principal at all.
	req = httptest.NewRequest(http.MethodGet, "/analytics/summary", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
