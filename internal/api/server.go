package api

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"roulette/pkg/types"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

// StatsSource answers the live counters; the hub serves them from its own goroutine
type StatsSource interface {
	Stats(ctx context.Context) (types.Stats, error)
}

// Journal is the read side of the session journal
type Journal interface {
	HealthCheck(ctx context.Context) error
	ListRecentSessions(ctx context.Context, limit int) ([]types.SessionRecord, error)
}

// Options configure the HTTP surface
type Options struct {
	AllowedOrigins []string
	// TrustProxyHeaders lets X-Forwarded-For decide the client address the
	// connect budget is keyed on
	TrustProxyHeaders bool
	RequestTimeout    time.Duration
	Logger            *zap.Logger
	Now               func() time.Time
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// No matchmaking state lives here; every answer comes from the hub or the journal
type Server struct {
	stats   StatsSource
	journal Journal
	ws      http.Handler
	router  chi.Router
	logger  *zap.Logger
	now     func() time.Time
	started time.Time
}

type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Journal       string    `json:"journal"`
	Goroutines    int       `json:"goroutines"`
	UptimeSeconds float64   `json:"uptimeSeconds"`
}

type RecentSessionsResponse struct {
	Sessions []types.SessionRecord `json:"sessions"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewServer builds the router; ws serves the websocket upgrade on /ws
func NewServer(stats StatsSource, journal Journal, ws http.Handler, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}

	s := &Server{
		stats:   stats,
		journal: journal,
		ws:      ws,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	s.started = s.now()
	s.setupRoutes(opts)
	return s
}

func (s *Server) setupRoutes(opts Options) {
	r := chi.NewRouter()

	if opts.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(s.logger))

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.healthCheck)
	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(opts.RequestTimeout))
		r.Use(jsonContent)
		r.Get("/stats", s.getStats)
		r.Get("/sessions/recent", s.listRecentSessions)
	})
	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}

	s.router = r
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) uptime() float64 {
	return s.now().Sub(s.started).Seconds()
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:        "healthy",
		Timestamp:     s.now().UTC(),
		Journal:       "healthy",
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: s.uptime(),
	}
	code := http.StatusOK

	if s.journal == nil {
		response.Journal = "disabled"
	} else if err := s.journal.HealthCheck(ctx); err != nil {
		s.logger.Warn("Journal health check failed", zap.Error(err))
		response.Status = "unhealthy"
		response.Journal = "error: " + err.Error()
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, response)
}

// GET /api/stats
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		s.logger.Warn("Stats unavailable", zap.Error(err))
		s.sendError(w, "Stats unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// GET /api/sessions/recent?limit=N
func (s *Server) listRecentSessions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.sendError(w, "Session journal disabled", http.StatusNotFound)
		return
	}

	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxRecentLimit)
	}

	sessions, err := s.journal.ListRecentSessions(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list sessions", zap.Error(err))
		s.sendError(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, RecentSessionsResponse{Sessions: sessions})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func jsonContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
