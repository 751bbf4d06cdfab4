package server

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/bridge"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/config"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/observe"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/syncx"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/trace"
	"github.com/GriffinCanCode/good-listener/backend/vadstream/internal/vad"
)

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Scorer   string `json:"scorer"`
	Sessions int    `json:"sessions"`
	Error    string `json:"error,omitempty"`
}

// SessionInfo describes one live stream on /sessions.
type SessionInfo struct {
	ID        string `json:"id"`
	Submitted int64  `json:"submitted"`
	Processed int64  `json:"processed"`
	Rejected  int64  `json:"rejected"`
	InSpeech  bool   `json:"in_speech"`
}

// HealthFunc probes the scorer backend.
type HealthFunc func(ctx context.Context) error

// Server routes HTTP requests to the streaming bridge and status endpoints.
type Server struct {
	cfg      *config.Config
	bridge   *bridge.Handler
	limiter  *connLimiter
	sessions *syncx.Map[string, *vad.Session]
	health   HealthFunc
	metrics  *observe.Metrics
	scrape   http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics records engine and bridge metrics through m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealthCheck sets the scorer probe used by /healthz.
func WithHealthCheck(fn HealthFunc) Option {
	return func(s *Server) { s.health = fn }
}

// WithScrapeHandler serves h on /metrics.
func WithScrapeHandler(h http.Handler) Option {
	return func(s *Server) { s.scrape = h }
}

// New creates a server streaming through scorers from factory.
func New(cfg *config.Config, factory bridge.ScorerFactory, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		limiter:  newConnLimiter(cfg.MaxConnsPerIP),
		sessions: syncx.NewMap[string, *vad.Session](),
		metrics:  observe.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bridge = bridge.New(cfg.Bridge(), factory,
		bridge.WithMetrics(s.metrics),
		bridge.WithSessionHooks(
			func(sess *vad.Session) { s.sessions.Store(sess.ID(), sess) },
			func(sess *vad.Session) { s.sessions.Delete(sess.ID()) },
		))
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET "+StreamPath, s.limiter.limit(s.bridge))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /sessions", s.handleSessions)
	if s.scrape != nil {
		mux.Handle("GET /metrics", s.scrape)
	}

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

// Sessions returns a snapshot of the live streams ordered by id.
func (s *Server) Sessions() []SessionInfo {
	live := s.sessions.Values()
	out := make([]SessionInfo, 0, len(live))
	for _, sess := range live {
		st := sess.Stats()
		out = append(out, SessionInfo{
			ID:        sess.ID(),
			Submitted: st.Submitted,
			Processed: st.Processed,
			Rejected:  st.Rejected,
			InSpeech:  st.InSpeech,
		})
	}
	slices.SortFunc(out, func(a, b SessionInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Scorer: s.cfg.Scorer, Sessions: s.sessions.Len()}
	code := http.StatusOK
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
		defer cancel()
		if err := s.health(ctx); err != nil {
			trace.Logger(ctx).Warn("health check failed", "error", err)
			resp.Status = "unavailable"
			resp.Error = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Sessions())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
