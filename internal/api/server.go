// Package api exposes live verification over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VedanshGovind/FinGuard-AI/internal/challenge"
	"github.com/VedanshGovind/FinGuard-AI/internal/circuitbreaker"
	"github.com/VedanshGovind/FinGuard-AI/internal/core"
	"github.com/VedanshGovind/FinGuard-AI/internal/decision"
	"github.com/VedanshGovind/FinGuard-AI/internal/emitter"
	"github.com/VedanshGovind/FinGuard-AI/internal/fusion"
	"github.com/VedanshGovind/FinGuard-AI/internal/middleware"
)

const maxBodyBytes = 1 << 20

// Verifier runs verification requests. *fusion.Orchestrator implements it.
type Verifier interface {
	Verify(ctx context.Context, req fusion.Request) *fusion.SessionVerdict
	Analyze(ctx context.Context, requestID string, m core.Modality, ref core.MediaRef) (core.ModalitySignal, decision.Verdict, error)
}

// ChallengeIssuer issues and resolves spoken challenge codes.
type ChallengeIssuer interface {
	Issue(ctx context.Context, sessionID string) (challenge.Challenge, error)
	Resolve(ctx context.Context, sessionID string) (string, error)
	Revoke(ctx context.Context, sessionID string) error
}

// Publisher accepts decided verdict events without blocking.
type Publisher interface {
	Emit(ev *emitter.Event) bool
}

// HealthReporter summarizes pipeline circuit breakers.
type HealthReporter interface {
	Health() circuitbreaker.HealthStatus
}

// Deps wires the server. Challenges, Bus, Breakers, Limiter and Gatherer
// are optional.
type Deps struct {
	Verifier   Verifier
	Challenges ChallengeIssuer
	Publisher  Publisher
	Explainer  emitter.Explainer
	Bus        *emitter.Bus
	Breakers   HealthReporter
	Limiter    *middleware.RateLimiter
	Gatherer   prometheus.Gatherer
	Mode       string
	Offline    bool

	// StreamHeartbeat is the SSE keep-alive interval.
	StreamHeartbeat time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	deps Deps
}

func NewServer(d Deps) *Server {
	if d.StreamHeartbeat <= 0 {
		d.StreamHeartbeat = 15 * time.Second
	}
	return &Server{deps: d}
}

// Router builds the route table with the middleware chain applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Recover, middleware.RequestID, middleware.Logging, middleware.CORS)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	if s.deps.Limiter != nil {
		v1.Use(s.deps.Limiter.Middleware)
	}
	v1.HandleFunc("/verify/live", s.handleVerifyLive).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/analyze/{modality}", s.handleAnalyze).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/challenges", s.handleIssueChallenge).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/verdicts/stream", s.handleStream).Methods(http.MethodGet)

	return r
}

// HTTPServer returns an http.Server for addr. WriteTimeout stays unset so
// the verdict stream can hold its connection open.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("[API] Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: middleware.RequestIDFrom(r.Context())})
}

// decodeBody reads a JSON body. An empty body leaves dst untouched when
// allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
