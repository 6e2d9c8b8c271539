package gateway

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/taskfleet/taskfleet/internal/api"
	"github.com/taskfleet/taskfleet/internal/config"
)

// ProxyTarget maps a path prefix to a backend. RewriteTo, when set,
// replaces the prefix on the outbound path; empty means the prefix is
// preserved as-is.
type ProxyTarget struct {
	Name      string
	Prefix    string
	BaseURL   string
	RewriteTo string
}

// rewritePath applies the target's prefix substitution.
func (t ProxyTarget) rewritePath(path string) string {
	if t.RewriteTo == "" || !strings.HasPrefix(path, t.Prefix) {
		return path
	}
	return t.RewriteTo + strings.TrimPrefix(path, t.Prefix)
}

// writeBearing reports whether the method carries a request body that must
// be re-emitted explicitly.
func writeBearing(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// hop-by-hop headers never forwarded to a backend.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// proxyHandler forwards requests to t, unmodified except for the path
// rewrite, and translates transport failures into the uniform 503 envelope.
func (g *Gateway) proxyHandler(t ProxyTarget) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.forward(w, r, t)
	})
}

func (g *Gateway) forward(w http.ResponseWriter, r *http.Request, t ProxyTarget) {
	targetURL := strings.TrimRight(t.BaseURL, "/") + t.rewritePath(r.URL.Path)
	if r.URL.RawQuery != "" {
		targetURL += "?" + r.URL.RawQuery
	}

	// The body may already have been consumed and parsed upstream of the
	// router, so it is re-serialized to bytes and written with an explicit
	// Content-Length. Relying on streaming here silently drops the body on
	// write-bearing methods.
	var body []byte
	if writeBearing(r.Method) {
		r.Body = http.MaxBytesReader(w, r.Body, config.MaxRequestBodySize)
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			api.WriteFailure(w, http.StatusBadRequest, "Failed to read request body")
			return
		}
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, bytes.NewReader(body))
	if err != nil {
		api.WriteFailure(w, http.StatusBadGateway, "Invalid upstream request")
		return
	}

	copyRequestHeaders(outReq.Header, r.Header)
	if len(body) > 0 {
		outReq.ContentLength = int64(len(body))
		if gjson.ValidBytes(body) {
			outReq.Header.Set("Content-Type", "application/json")
		}
	}

	log.Info().
		Str("request_id", RequestIDFromContext(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("target", targetURL).
		Msg("proxying request")

	resp, err := g.httpClient.Do(outReq)
	if err != nil {
		g.metrics.RecordProxyError()
		log.Error().Err(err).
			Str("path", r.URL.Path).
			Str("target", targetURL).
			Msg("proxy error")
		api.WriteFailure(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	g.metrics.RecordProxied()

	// Backend response passes through unchanged.
	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// copyRequestHeaders copies client headers onto the outbound request,
// skipping hop-by-hop headers and Content-Length (set explicitly).
func copyRequestHeaders(dst, src http.Header) {
	for k, vv := range src {
		if k == "Content-Length" {
			continue
		}
		skip := false
		for _, h := range hopHeaders {
			if http.CanonicalHeaderKey(h) == k {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// copyHeaders copies HTTP headers from source to destination.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = vv
	}
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
