package gateway

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/taskfleet/taskfleet/internal/api"
	"github.com/taskfleet/taskfleet/internal/config"
)

// ipRateLimiter keeps one token bucket per client IP with TTL cleanup, so
// the bucket table cannot grow without bound.
type ipRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*ipBucket
	rps     rate.Limit
	burst   int
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(perSecond float64, burst int) *ipRateLimiter {
	if perSecond <= 0 {
		perSecond = config.DefaultRateLimitPerSecond
	}
	if burst <= 0 {
		burst = config.DefaultRateLimitBurst
	}
	l := &ipRateLimiter{
		buckets: make(map[string]*ipBucket),
		rps:     rate.Limit(perSecond),
		burst:   burst,
	}
	go l.cleanupLoop()
	return l
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		// When the table is full, let the request through untracked rather
		// than punish a new client for the table's size.
		if len(l.buckets) >= config.MaxRateLimitBuckets {
			return true
		}
		b = &ipBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	return b.limiter.Allow()
}

func (l *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !l.allow(ip) {
			api.WriteFailure(w, http.StatusTooManyRequests,
				"Too many requests from this IP, please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cleanupLoop periodically drops buckets for idle IPs.
func (l *ipRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(config.RateLimitBucketTTL)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-config.RateLimitBucketTTL)
		l.mu.Lock()
		for ip, b := range l.buckets {
			if b.lastSeen.Before(cutoff) {
				delete(l.buckets, ip)
			}
		}
		l.mu.Unlock()
	}
}
