package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/darkden-lab/argus-tracker/internal/auth"
	"github.com/darkden-lab/argus-tracker/internal/httputil"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// limiterStore keeps one token bucket per caller and evicts idle ones.
type limiterStore struct {
	limiters sync.Map
	rps      float64
	burst    int
}

func newLimiterStore(rps float64, burst int) *limiterStore {
	s := &limiterStore{rps: rps, burst: burst}
	go s.cleanup()
	return s
}

func (s *limiterStore) get(key string) *rate.Limiter {
	now := time.Now()
	v, _ := s.limiters.LoadOrStore(key, &limiterEntry{
		limiter:  rate.NewLimiter(rate.Limit(s.rps), s.burst),
		lastSeen: now,
	})
	entry := v.(*limiterEntry)
	entry.mu.Lock()
	entry.lastSeen = now
	entry.mu.Unlock()
	return entry.limiter
}

func (s *limiterStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for now := range ticker.C {
		s.limiters.Range(func(key, value any) bool {
			entry := value.(*limiterEntry)
			entry.mu.Lock()
			idle := now.Sub(entry.lastSeen) > 3*time.Minute
			entry.mu.Unlock()
			if idle {
				s.limiters.Delete(key)
			}
			return true
		})
	}
}

// callerKey identifies the caller: the authenticated user when claims are
// present, otherwise the client IP.
func callerKey(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(claims.UserID, 10)
	}
	return "ip:" + clientIP(r)
}

// clientIP extracts the client IP address from the request, checking
// X-Forwarded-For first, then falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// RateLimitMiddleware enforces a token bucket per caller. Mount it after
// AuthMiddleware so field devices behind one NAT are limited per user.
func RateLimitMiddleware(rps float64, burst int) mux.MiddlewareFunc {
	store := newLimiterStore(rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.get(callerKey(r)).Allow() {
				httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
