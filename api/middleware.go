package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/greybox/hackcore/auth"
	hcerrors "github.com/greybox/hackcore/infrastructure/errors"
	"github.com/greybox/hackcore/infrastructure/logging"
	"github.com/greybox/hackcore/infrastructure/metrics"
)

// authMiddleware verifies the Bearer token on every request and attaches
// the resolved identity to the request context.
func authMiddleware(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" || token == header {
				writeError(w, hcerrors.Unauthorized("missing bearer token"))
				return
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				writeError(w, hcerrors.Unauthorized("invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}

// loggingMiddleware logs and records metrics for every request, styled on
// the teacher's LogRequest/RecordHTTPRequest pairing.
func loggingMiddleware(log *logging.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			duration := time.Since(start)

			log.LogRequest(r.Context(), r.Method, r.URL.Path, rec.status, duration)
			if m != nil {
				m.RecordHTTPRequest("api", r.Method, r.URL.Path, statusClass(rec.status), duration)
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func statusClass(status int) string {
	switch {
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// perUserLimiter rate-limits POST /processes per authenticated user, since
// that is the only endpoint that admits new work onto the schedule.
type perUserLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newPerUserLimiter(rps float64, burst int) *perUserLimiter {
	return &perUserLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *perUserLimiter) allow(user string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[user]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[user] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func rateLimitMiddleware(limiter *perUserLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if !limiter.allow(identity.UserID) {
				writeError(w, hcerrors.New(hcerrors.ErrCodeRateLimitExceeded, "too many process starts", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
