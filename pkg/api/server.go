// Package api exposes the coordination engine over HTTP: action and
// workflow dispatch, manifest administration, session and approval
// operations. Responses are JSON; failures use the RFC 7807 problem
// envelope from apierror.go.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/baton/pkg/approval"
	"github.com/Mindburn-Labs/baton/pkg/auth"
	"github.com/Mindburn-Labs/baton/pkg/authz"
	"github.com/Mindburn-Labs/baton/pkg/conductor"
	"github.com/Mindburn-Labs/baton/pkg/registry"
)

// Server wires the engine's surfaces to HTTP handlers. Construct with
// NewServer and mount Handler(); optional collaborators default to off.
type Server struct {
	conductor *conductor.Conductor
	registry  *registry.Registry
	graph     *authz.Graph
	approvals *approval.Manager
	validator *auth.JWTValidator
	limiter   *GlobalRateLimiter
	idem      IdempotencyStorer
	origins   []string
	version   string
	logger    *slog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithAuthz enables the POST /v1/authz/check surface.
func WithAuthz(g *authz.Graph) Option {
	return func(s *Server) { s.graph = g }
}

// WithApprovals enables the /v1/approvals surfaces.
func WithApprovals(m *approval.Manager) Option {
	return func(s *Server) { s.approvals = m }
}

// WithValidator enables bearer-token authentication. Without it every
// non-public request is rejected, so a server without a validator is
// only useful behind an authenticating proxy or in tests.
func WithValidator(v *auth.JWTValidator) Option {
	return func(s *Server) { s.validator = v }
}

// WithRateLimit enables the per-client limiter.
func WithRateLimit(rps, burst int) Option {
	return func(s *Server) { s.limiter = NewGlobalRateLimiter(rps, burst) }
}

// WithIdempotency enables Idempotency-Key replay on mutating routes.
func WithIdempotency(store IdempotencyStorer) Option {
	return func(s *Server) { s.idem = store }
}

// WithCORSOrigins sets the allowed CORS origins. Empty means allow all.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithVersion sets the version string reported by GET /version.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer builds a Server around the conductor and registry. The two are
// mandatory; everything else arrives through options.
func NewServer(c *conductor.Conductor, reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		conductor: c,
		registry:  reg,
		version:   "dev",
		logger:    slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler assembles the route table and middleware chain. Request flow:
// request id, CORS, bearer auth, rate limit (keyed by principal once auth
// ran), idempotency replay, then the mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /readiness", s.handleReadiness)
	mux.HandleFunc("GET /version", s.handleVersion)

	mux.HandleFunc("POST /v1/actions", s.handleCoordinateAction)
	mux.HandleFunc("POST /v1/workflows", s.handleCoordinateWorkflow)

	mux.HandleFunc("POST /v1/manifests", s.handleRegisterManifest)
	mux.HandleFunc("GET /v1/manifests", s.handleListManifests)
	mux.HandleFunc("GET /v1/manifests/{domain}", s.handleGetManifest)
	mux.HandleFunc("POST /v1/manifests/{domain}/disable", s.handleDisableOrchestra)
	mux.HandleFunc("POST /v1/manifests/{domain}/enable", s.handleEnableOrchestra)

	mux.HandleFunc("POST /v1/authz/check", s.handleAuthzCheck)

	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /v1/sessions/{id}/abort", s.handleAbortSession)

	mux.HandleFunc("GET /v1/approvals", s.handleListApprovals)
	mux.HandleFunc("GET /v1/approvals/{id}", s.handleGetApproval)
	mux.HandleFunc("POST /v1/approvals/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/approvals/{id}/deny", s.handleDeny)

	var h http.Handler = mux
	if s.idem != nil {
		h = IdempotencyMiddleware(s.idem)(h)
	}
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	h = AuthMiddleware(s.validator)(h)
	h = CORSMiddleware(s.origins)(h)
	return RequestIDMiddleware(h)
}

// ListenAndServe runs the server until ctx is cancelled, then drains
// in-flight requests for up to ten seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Coordinate calls can park on a human approval decision, so no
		// write deadline; the approval window bounds the wait instead.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded JSON body into dst, writing the 400 itself on
// failure. Callers bail out when it returns false.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}
