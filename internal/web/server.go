// Package web exposes the upload API: accept a CSV, poll its processing
// record and read the episodes it enriched.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/config"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/core"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/jobqueue"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/logging"
	mw "github.com/fperellaholfeld/Episode-Information-Completion/internal/web/middleware"
)

// UploadStore is the persistence the handlers need.
type UploadStore interface {
	CreateUpload(ctx context.Context, filePath string, createdAt time.Time) (core.Upload, error)
	GetUpload(ctx context.Context, id int64) (core.Upload, error)
	ListUploads(ctx context.Context, limit int) ([]core.Upload, error)
	EnrichedEpisodes(ctx context.Context, uploadID int64) ([]core.EnrichedEpisode, error)
}

// Queue accepts ingestion jobs.
type Queue interface {
	Enqueue(ctx context.Context, cmd jobqueue.Command) error
	Len() int
	Cap() int
}

// Pinger reports database health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// UploadRecorder counts accepted uploads.
type UploadRecorder interface {
	UploadAccepted()
}

// Deps are the collaborators of a Server. Health, Recorder and Registry are
// optional.
type Deps struct {
	Uploads  UploadStore
	Queue    Queue
	Health   Pinger
	Recorder UploadRecorder
	Registry *prometheus.Registry
}

// Server is the HTTP server for the upload API.
type Server struct {
	cfg      *config.Config
	uploads  UploadStore
	queue    Queue
	health   Pinger
	recorder UploadRecorder
	registry *prometheus.Registry
	slots    *uploadSlots
	now      func() time.Time

	router *chi.Mux
	server *http.Server
}

// NewServer wires routes and middleware.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		uploads:  deps.Uploads,
		queue:    deps.Queue,
		health:   deps.Health,
		recorder: deps.Recorder,
		registry: deps.Registry,
		slots:    newUploadSlots(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		now:      time.Now,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	}
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute).middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.cfg.Metrics.Enabled && s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.cfg.Security))

		r.Route("/uploads", func(r chi.Router) {
			r.Get("/", s.handleListUploads)
			r.With(s.uploadRateLimit()).Post("/", s.handleCreateUpload)
			r.Get("/{uploadID}", s.handleGetUpload)
			r.Get("/{uploadID}/episodes", s.handleUploadEpisodes)
		})
	})
}

// uploadRateLimit is the stricter per-IP limit on new uploads.
func (s *Server) uploadRateLimit() func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	return newRateLimiter(s.cfg.Rate.UploadLimit, time.Minute).middleware
}

// Start begins listening on the configured address. It returns nil after
// Shutdown, including when Shutdown ran first.
func (s *Server) Start() error {
	logging.FromContext(context.Background()).Info("http server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

type healthResponse struct {
	Status     string           `json:"status"`
	Database   string           `json:"database"`
	QueueDepth int              `json:"queue_depth"`
	QueueCap   int              `json:"queue_capacity"`
	Uploads    uploadSlotStatus `json:"uploads"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Database:   "ok",
		QueueDepth: s.queue.Len(),
		QueueCap:   s.queue.Cap(),
		Uploads:    s.slots.Status(),
	}
	status := http.StatusOK

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("health check: database unreachable", "error", err)
			resp.Status, resp.Database = "degraded", "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSONStatus(w, r, status, resp)
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a fixed-window limiter keyed by client IP. Stale entries are
// swept during allow, so it runs no goroutine.
type rateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rate      int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		visitors:  make(map[string]*visitor),
		rate:      rate,
		window:    window,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// allow consumes a token for ip and reports whether the request may proceed.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.window*2 {
		for key, v := range rl.visitors {
			if now.Sub(v.lastReset) > rl.window*2 {
				delete(rl.visitors, key)
			}
		}
		rl.lastSweep = now
	}

	v, exists := rl.visitors[ip]
	if !exists || now.Sub(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: now}
		return true
	}
	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", fmt.Sprint(int(rl.window.Seconds())))
			respondError(w, r, errRateLimited, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSONStatus encodes v with the given status. Encoding errors are only
// logged since the header is already sent.
func writeJSONStatus(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	writeJSONStatus(w, r, http.StatusOK, v)
}
