package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/amakua/uapk-gateway/pkg/auth"
)

// rateLimitConfig holds the rate limiter settings.
type rateLimitConfig struct {
	rps   rate.Limit
	burst int
}

// GlobalRateLimiter manages per-IP rate limiters.
type GlobalRateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	config   rateLimitConfig
}

// visitor tracks the rate limiter and last seen time for an IP.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewGlobalRateLimiter creates a new rate limiter.
// rps: requests per second allowed.
// burst: maximum burst size.
func NewGlobalRateLimiter(rps int, burst int) *GlobalRateLimiter {
	rl := &GlobalRateLimiter{
		visitors: make(map[string]*visitor),
		config: rateLimitConfig{
			rps:   rate.Limit(rps),
			burst: burst,
		},
	}
	// Start background cleanup
	go rl.cleanupVisitors()
	return rl
}

// getVisitor retrieving the limiter for a given IP, creating if necessary.
func (rl *GlobalRateLimiter) getVisitor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.config.rps, rl.config.burst)
		rl.visitors[ip] = &visitor{limiter, time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors removes stale visitor entries to prevent memory leaks.
// Checks every minute, removes entries older than 3 minutes.
func (rl *GlobalRateLimiter) cleanupVisitors() {
	for {
		time.Sleep(1 * time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware returns a Handler that enforces rate limits.
func (rl *GlobalRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			// Fallback if unable to split (e.g. no port or weird format)
			// In production, check X-Forwarded-For if behind proxy
			ip = r.RemoteAddr
			// Basic cleanup of ipv6 brackets if present
			ip = strings.TrimPrefix(ip, "[")
			ip = strings.TrimSuffix(ip, "]")
		}

		limiter := rl.getVisitor(ip)
		if !limiter.Allow() {
			// RFC 7807 Error Response
			// Calculate retry after if possible, but standard Allow() doesn't give duration.
			// Reserve() does.
			// MVP: just fail with generic message.
			WriteTooManyRequests(w, 5) // Suggest 5 seconds backoff
			return
		}

		next.ServeHTTP(w, r)
	})
}

// OrgRateLimiter rate-limits per org rather than per IP, so one noisy
// agent in an org can't starve another org's budget of request capacity.
// Must run behind a session or capability middleware that has already
// populated the request context with an auth.Principal.
type OrgRateLimiter struct {
	*GlobalRateLimiter
}

func NewOrgRateLimiter(rps, burst int) *OrgRateLimiter {
	return &OrgRateLimiter{GlobalRateLimiter: NewGlobalRateLimiter(rps, burst)}
}

// WithContextRateLimit enforces a per-org rate limit using the
// auth.Principal attached to the request context. Requests without a
// resolvable principal fall through unthrottled here — they are rejected
// earlier by the auth middleware that would have set it.
func (rl *OrgRateLimiter) WithContextRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, err := auth.GetOrgID(r.Context())
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.getVisitor(orgID).Allow() {
			WriteTooManyRequests(w, 5)
			return
		}
		next.ServeHTTP(w, r)
	})
}
