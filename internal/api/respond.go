// Package api defines the JSON response envelope and error taxonomy shared
// by the gateway and the analytics service.
//
// DESIGN: Every JSON response, success or failure, uses the same shape:
//
//	{"success": bool, "data": {...}, "message": "..."}
//
// Handlers return sentinel errors from this package; WriteError maps them to
// status codes at the edge. Internal error detail never reaches the wire.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Sentinel errors for the failure modes the services distinguish.
var (
	// ErrMissingCredentials: no bearer token and no service secret (401).
	ErrMissingCredentials = errors.New("access token required")

	// ErrInvalidCredentials: token present but signature or expiry failed (401).
	ErrInvalidCredentials = errors.New("invalid or expired token")

	// ErrForbidden: authenticated but not authorized for the resource (403).
	ErrForbidden = errors.New("access denied")

	// ErrUpstreamUnavailable: transport-level failure reaching a backend.
	ErrUpstreamUnavailable = errors.New("service temporarily unavailable")

	// ErrDependencyUnavailable: no cached data and the upstream is unreachable (502).
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrNotFound: the requested resource does not exist (404).
	ErrNotFound = errors.New("not found")
)

// Envelope is the uniform JSON response body.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes a success envelope with the given payload.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: true, Data: data})
}

// WriteMessage writes a success envelope carrying only a message.
func WriteMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: true, Message: msg})
}

// WriteFailure writes a failure envelope with an explicit status and message.
func WriteFailure(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Success: false, Message: msg})
}

// WriteError maps err onto the taxonomy and writes the failure envelope.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMissingCredentials):
		WriteFailure(w, http.StatusUnauthorized, "Access token required")
	case errors.Is(err, ErrInvalidCredentials):
		WriteFailure(w, http.StatusUnauthorized, "Invalid or expired token")
	case errors.Is(err, ErrForbidden):
		WriteFailure(w, http.StatusForbidden, "Access denied")
	case errors.Is(err, ErrUpstreamUnavailable):
		WriteFailure(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	case errors.Is(err, ErrDependencyUnavailable):
		WriteFailure(w, http.StatusBadGateway, "Statistics source unavailable")
	case errors.Is(err, ErrNotFound):
		WriteFailure(w, http.StatusNotFound, "Not found")
	default:
		WriteFailure(w, http.StatusInternalServerError, "Internal server error")
	}
}
