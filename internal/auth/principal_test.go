package auth

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskfleet/taskfleet/internal/api"
)

const (
	testSecret       = "test-jwt-secret"
	testServiceToken = "svc-secret"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

func headersWith(key, value string) http.Header {
	h := http.Header{}
	h.Set(key, value)
	return h
}

func TestResolve_ServiceToken(t *testing.T) {
	r := NewResolver(testSecret, testServiceToken)

	p, err := r.Resolve(headersWith(HeaderServiceToken, testServiceToken))
	require.NoError(t, err)
	assert.Equal(t, InternalServiceID, p.ID)
	assert.Equal(t, RoleAdmin, p.Role)
	assert.Equal(t, KindInternalService, p.Kind)
	assert.True(t, p.IsAdmin())
	assert.True(t, p.IsInternalService())
}

func TestResolve_WrongServiceTokenFallsThrough(t *testing.T) {
	r := NewResolver(testSecret, testServiceToken)

	// A mismatched service token alone means no credentials at all.
	_, err := r.Resolve(headersWith(HeaderServiceToken, "wrong"))
	assert.True(t, errors.Is(err, api.ErrMissingCredentials))

	// But a valid bearer token alongside it still authenticates.
	h := headersWith(HeaderServiceToken, "wrong")
	h.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"userId": "7", "exp": time.Now().Add(time.Hour).Unix(),
	}))
	p, err := r.Resolve(h)
	require.NoError(t, err)
	assert.Equal(t, "7", p.ID)
	assert.Equal(t, KindEndUser, p.Kind)
}

func TestResolve_NoCredentials(t *testing.T) {
	r := NewResolver(testSecret, testServiceToken)

	_, err := r.Resolve(http.Header{})
	assert.True(t, errors.Is(err, api.ErrMissingCredentials))

	_, err = r.Resolve(headersWith("Authorization", "Basic dXNlcjpwYXNz"))
	assert.True(t, errors.Is(err, api.ErrMissingCredentials))

	_, err = r.Resolve(headersWith("Authorization", "Bearer "))
	assert.True(t, errors.Is(err, api.ErrMissingCredentials))
}

func TestResolve_ValidBearerToken(t *testing.T) {
	r := NewResolver(testSecret, testServiceToken)

	h := headersWith("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"userId": "42", "role": "user", "exp": time.Now().Add(time.Hour).Unix(),
	}))
	p, err := r.Resolve(h)
	require.NoError(t, err)
	assert.Equal(t, "42", p.ID)
	assert.Equal(t, RoleUser, p.Role)
	assert.Equal(t, KindEndUser, p.Kind)
	assert.False(t, p.IsAdmin())
}

func TestResolve_AdminClaim(t *testing.T) {
	r := NewResolver(testSecret, testServiceToken)

	h := headersWith("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"userId": "1", "role": "admin", "exp": time.Now().Add(time.Hour).Unix(),
	}))
	p, err := r.Resolve(h)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, p.Role)
	assert.Equal(t, KindEndUser, p.Kind)
}

func TestResolve_UnknownRoleDowngradesToUser(t *testing.T) {
	r := NewResolver(testSecret, testServiceToken)

	h := headersWith("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"userId": "1", "role": "superadmin", "exp": time.Now().Add(time.Hour).Unix(),
	}))
	p, err := r.Resolve(h)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, p.Role)
}

func TestResolve_NumericSubjectClaim(t *testing.T) {
	r := NewResolver(testSecret, testServiceToken)

	// User ids arrive as JSON numbers from the user service.
	h := headersWith("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"id": float64(42), "exp": time.Now().Add(time.Hour).Unix(),
	}))
	p, err := r.Resolve(h)
	require.NoError(t, err)
	assert.Equal(t, "42", p.ID)
}

func TestResolve_SubClaimFallback(t *testing.T) {
	r := NewResolver(testSecret, testServiceToken)

	h := headersWith("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"sub": "abc", "exp": time.Now().Add(time.Hour).Unix(),
	}))
	p, err := r.Resolve(h)
	require.NoError(t, err)
	assert.Equal(t, "abc", p.ID)
}

func TestResolve_ExpiredToken(t *testing.T) {
	r := NewResolver(testSecret, testServiceToken)

	h := headersWith("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"userId": "7", "exp": time.Now().Add(-time.Hour).Unix(),
	}))
	_, err := r.Resolve(h)
	assert.True(t, errors.Is(err, api.ErrInvalidCredentials))
}

func TestResolve_WrongSigningKey(t *testing.T) {
	r := NewResolver(testSecret, testServiceToken)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": "7", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = r.Resolve(headersWith("Authorization", "Bearer "+forged))
	assert.True(t, errors.Is(err, api.ErrInvalidCredentials))
}

func TestResolve_GarbageToken(t *testing.T) {
	r := NewResolver(testSecret, testServiceToken)

	_, err := r.Resolve(headersWith("Authorization", "Bearer not.a.jwt"))
	assert.True(t, errors.Is(err, api.ErrInvalidCredentials))
}

func TestResolve_TokenWithoutSubject(t *testing.T) {
	r := NewResolver(testSecret, testServiceToken)

	h := headersWith("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}))
	_, err := r.Resolve(h)
	assert.True(t, errors.Is(err, api.ErrInvalidCredentials))
}

func TestPrincipal_CanAccessUser(t *testing.T) {
	user := Principal{ID: "7", Role: RoleUser, Kind: KindEndUser}
	assert.True(t, user.CanAccessUser("7"))
	assert.False(t, user.CanAccessUser("8"))

	admin := Principal{ID: "1", Role: RoleAdmin, Kind: KindEndUser}
	assert.True(t, admin.CanAccessUser("8"))
}
