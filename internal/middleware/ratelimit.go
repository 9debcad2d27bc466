package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ukydev/vehicle-care/internal/httputil"
	"golang.org/x/time/rate"
)

// sweepThreshold is the number of tracked clients above which idle limiters
// are dropped.
const sweepThreshold = 1024

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware limits requests per client IP with a token bucket
// that refills maxRequests tokens per window.
type RateLimitMiddleware struct {
	mu         sync.Mutex
	clients    map[string]*clientLimiter
	trustProxy bool
	now        func() time.Time
}

// NewRateLimitMiddleware creates a new rate limiting middleware. With
// trustProxy the client IP is taken from X-Forwarded-For or X-Real-IP; only
// set it when a reverse proxy in front of the server overwrites them.
func NewRateLimitMiddleware(trustProxy bool) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		clients:    make(map[string]*clientLimiter),
		trustProxy: trustProxy,
		now:        time.Now,
	}
}

// RateLimit applies rate limiting based on IP address
func (m *RateLimitMiddleware) RateLimit(maxRequests int, window time.Duration) func(http.Handler) http.Handler {
	every := rate.Every(window / time.Duration(maxRequests))
	retryAfter := strconv.Itoa(int(math.Ceil((window / time.Duration(maxRequests)).Seconds())))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := m.limiter(getClientIP(r, m.trustProxy), every, maxRequests, window)
			if !limiter.AllowN(m.now(), 1) {
				w.Header().Set("Retry-After", retryAfter)
				httputil.WriteError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *RateLimitMiddleware) limiter(ip string, every rate.Limit, burst int, window time.Duration) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if len(m.clients) > sweepThreshold {
		for key, c := range m.clients {
			if now.Sub(c.lastSeen) > window {
				delete(m.clients, key)
			}
		}
	}

	c, ok := m.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(every, burst)}
		m.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

// getClientIP extracts the client IP from the request. Forwarding headers
// are only read behind a trusted proxy.
func getClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
			return strings.TrimSpace(strings.Split(ip, ",")[0])
		}
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return strings.TrimSpace(ip)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
