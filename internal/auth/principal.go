// Package auth resolves request credentials into a typed principal and
// guards routes with it.
//
// DESIGN: Two credential kinds share one entry point:
//   - A shared service secret (X-Service-Token) identifies trusted backends
//     and yields the fixed internal-service principal with admin role.
//   - A bearer JWT identifies an end user; signature and expiry are verified
//     against the configured signing key.
//
// Resolution happens exactly once at the edge. Route guards only ever look
// at the resolved Principal, never at raw headers.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/taskfleet/taskfleet/internal/api"
)

// Role is the authorization role carried by a principal.
type Role string

// Roles known to the system.
const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Kind distinguishes where a principal's credential came from. Authorization
// rules depend on Kind, not on Role alone: an end-user token claiming the
// admin role is still only trusted after signature verification.
type Kind string

// Principal kinds.
const (
	KindEndUser         Kind = "end-user"
	KindInternalService Kind = "internal-service"
)

// InternalServiceID is the sentinel identity for service-to-service calls.
const InternalServiceID = "internal-service"

// HeaderServiceToken carries the shared internal-service secret.
const HeaderServiceToken = "X-Service-Token"

// HeaderUserID scopes a service-to-service counter request to one user.
const HeaderUserID = "X-User-Id"

// Principal is the authenticated identity attached to a request.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Kind Kind   `json:"kind"`
}

// IsAdmin reports whether the principal carries the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// IsInternalService reports whether the principal is a trusted backend.
func (p Principal) IsInternalService() bool { return p.Kind == KindInternalService }

// CanAccessUser implements the self-or-admin rule.
func (p Principal) CanAccessUser(userID string) bool {
	return p.IsAdmin() || p.ID == userID
}

// Resolver turns request headers into a Principal.
type Resolver struct {
	jwtSecret    []byte
	serviceToken []byte
}

// NewResolver creates a resolver for the given signing key and shared secret.
func NewResolver(jwtSecret, serviceToken string) *Resolver {
	return &Resolver{
		jwtSecret:    []byte(jwtSecret),
		serviceToken: []byte(serviceToken),
	}
}

// Resolve parses the request credentials. A matching service token wins
// outright; a mismatched one falls through to the bearer-token path so a
// stray header cannot lock out an otherwise valid user.
func (r *Resolver) Resolve(h http.Header) (Principal, error) {
	if tok := h.Get(HeaderServiceToken); tok != "" {
		if subtle.ConstantTimeCompare([]byte(tok), r.serviceToken) == 1 {
			return Principal{ID: InternalServiceID, Role: RoleAdmin, Kind: KindInternalService}, nil
		}
	}

	authz := h.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return Principal{}, api.ErrMissingCredentials
	}
	raw := strings.TrimPrefix(authz, "Bearer ")
	if raw == "" {
		return Principal{}, api.ErrMissingCredentials
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.jwtSecret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", api.ErrInvalidCredentials, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, api.ErrInvalidCredentials
	}

	id := claimString(claims, "userId")
	if id == "" {
		id = claimString(claims, "id")
	}
	if id == "" {
		id = claimString(claims, "sub")
	}
	if id == "" {
		return Principal{}, fmt.Errorf("%w: token has no subject", api.ErrInvalidCredentials)
	}

	role := RoleUser
	if claimString(claims, "role") == string(RoleAdmin) {
		role = RoleAdmin
	}

	return Principal{ID: id, Role: role, Kind: KindEndUser}, nil
}

// claimString reads a claim that may be a string or a JSON number (user ids
// are integers in the user service).
func claimString(claims jwt.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}
