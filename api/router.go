package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greybox/hackcore/auth"
	"github.com/greybox/hackcore/infrastructure/logging"
	"github.com/greybox/hackcore/infrastructure/metrics"
)

// NewRouter builds the full HTTP surface: authenticated process endpoints,
// the websocket event stream, and unauthenticated health/metrics probes.
func NewRouter(s *Server, verifier *auth.Verifier, log *logging.Logger, m *metrics.Metrics, rps float64, burst int) http.Handler {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(log, m))

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	authed := r.NewRoute().Subrouter()
	authed.Use(authMiddleware(verifier))

	limiter := newPerUserLimiter(rps, burst)
	authed.Handle("/processes", rateLimitMiddleware(limiter)(http.HandlerFunc(s.handleStartProcess))).Methods(http.MethodPost)
	authed.HandleFunc("/processes", s.handleListProcesses).Methods(http.MethodGet)
	authed.HandleFunc("/processes/{id}", s.handleGetProcess).Methods(http.MethodGet)
	authed.HandleFunc("/processes/{id}", s.handleCancelProcess).Methods(http.MethodDelete)
	authed.HandleFunc("/processes/{id}/pause", s.handlePauseProcess).Methods(http.MethodPost)
	authed.HandleFunc("/processes/{id}/resume", s.handleResumeProcess).Methods(http.MethodPost)
	authed.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	return r
}
