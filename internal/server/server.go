package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"

	"github.com/jonathan/resume-tailor/internal/config"
	"github.com/jonathan/resume-tailor/internal/db"
	"github.com/jonathan/resume-tailor/internal/events"
	"github.com/jonathan/resume-tailor/internal/fetch"
	"github.com/jonathan/resume-tailor/internal/llm"
	"github.com/jonathan/resume-tailor/internal/metrics"
	"github.com/jonathan/resume-tailor/internal/server/middleware"
	"github.com/jonathan/resume-tailor/internal/server/ratelimit"
	"github.com/jonathan/resume-tailor/internal/storage"
)

// maxUploadBytes bounds multipart resume uploads.
const maxUploadBytes = 10 << 20

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	handler     http.Handler
	store       db.Store
	llm         llm.Client
	provider    llm.Provider
	fetcher     *fetch.CachedFetcher
	uploader    storage.Uploader
	publisher   events.Publisher
	recorder    *metrics.Recorder
	registry    *prometheus.Registry
	rateLimiter *ratelimit.Limiter
	jwtService  *JWTService
	sessions    *sessionRegistry
	streams     *streamHub
	fs          afero.Fs // nil when /parse-local is disabled
	parseRoot   string
	validate    *validator.Validate
	useBrowser  bool
	corsOrigin  string
}

// Config holds server configuration and its collaborators. Store, LLM and
// JWT are required; the rest have defaults.
type Config struct {
	Port        int
	CORSOrigin  string
	UseBrowser  bool
	MaxSessions int

	Store     db.Store
	LLM       llm.Client
	Provider  llm.Provider
	JWT       *config.JWTConfig
	Fetcher   *fetch.CachedFetcher
	Uploader  storage.Uploader  // nil disables stored exports
	Publisher events.Publisher  // nil publishes nothing
	RateLimit *ratelimit.Config // nil reads RATE_LIMIT_* from the environment
	ParseRoot string            // directory /parse-local reads from; empty disables it
	FS        afero.Fs          // filesystem for /parse-local, overrides ParseRoot
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("server: LLM client is required")
	}
	if cfg.JWT == nil {
		return nil, fmt.Errorf("server: JWT config is required")
	}

	s := &Server{
		store:      cfg.Store,
		llm:        cfg.LLM,
		provider:   cfg.Provider,
		fetcher:    cfg.Fetcher,
		uploader:   cfg.Uploader,
		publisher:  cfg.Publisher,
		fs:         cfg.FS,
		useBrowser: cfg.UseBrowser,
		corsOrigin: cfg.CORSOrigin,
		jwtService: NewJWTService(cfg.JWT),
		streams:    newStreamHub(),
	}
	if s.fetcher == nil {
		s.fetcher = fetch.NewCachedFetcher(nil)
	}
	if s.publisher == nil {
		s.publisher = events.NoopPublisher{}
	}
	if s.fs == nil && cfg.ParseRoot != "" {
		root, err := filepath.Abs(cfg.ParseRoot)
		if err != nil {
			return nil, fmt.Errorf("server: invalid parse root: %w", err)
		}
		s.fs = afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), root))
		s.parseRoot = root
	}
	if s.corsOrigin == "" {
		s.corsOrigin = "*"
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.recorder = metrics.NewRecorder(s.registry)
	s.sessions = newSessionRegistry(cfg.MaxSessions, s.recorder)

	rlConfig := cfg.RateLimit
	if rlConfig == nil {
		rlConfig = ratelimit.LoadConfig()
	}
	s.rateLimiter = ratelimit.NewLimiter(rlConfig)

	s.validate = validator.New(validator.WithRequiredStructEnabled())
	if err := s.validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		return nil, fmt.Errorf("failed to register validator: %w", err)
	}

	auth := middleware.SessionAuth(s.jwtService.AsTokenValidator())
	session := func(h http.HandlerFunc) http.Handler { return auth(h) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// Wizard sessions
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.Handle("GET /sessions/{id}", session(s.handleGetSession))
	mux.Handle("DELETE /sessions/{id}", session(s.handleDeleteSession))
	mux.Handle("POST /sessions/{id}/advance", session(s.handleAdvance))
	mux.Handle("POST /sessions/{id}/retreat", session(s.handleRetreat))
	mux.Handle("POST /sessions/{id}/reset", session(s.handleReset))
	mux.Handle("POST /sessions/{id}/navigate", session(s.handleNavigate))
	mux.Handle("POST /sessions/{id}/fragment", session(s.handleFragment))
	mux.Handle("POST /sessions/{id}/load", session(s.handleLoad))
	mux.Handle("GET /sessions/{id}/history", session(s.handleHistory))
	mux.Handle("GET /sessions/{id}/events", session(s.handleSessionEvents))

	// Collaborators
	mux.HandleFunc("POST /parse", s.handleParse)
	mux.HandleFunc("POST /parse-local", s.handleParseLocal)
	mux.HandleFunc("POST /parse-structured", s.handleParseStructured)
	mux.HandleFunc("POST /ats-check", s.handleATSCheck)
	mux.HandleFunc("POST /tailor", s.handleTailor)
	mux.HandleFunc("POST /tailor/all", s.handleTailorAll)
	mux.HandleFunc("POST /keywords", s.handleKeywords)
	mux.HandleFunc("POST /infer-company", s.handleInferCompany)
	mux.HandleFunc("POST /export", s.handleExport)
	mux.HandleFunc("POST /fetch-job", s.handleFetchJob)

	s.handler = s.withRateLimit(s.withLogging(s.withCORS(mux)))

	port := cfg.Port
	if port == 0 {
		port = config.DefaultPort
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // LLM calls can take minutes
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for requests and blocks until SIGINT or SIGTERM.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		s.Close()
		return fmt.Errorf("server error: %w", err)
	}
	log.Println("[server] shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.streams.closeAll()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.Close()
	log.Println("[server] stopped")
	return nil
}

// Close releases the server's collaborators.
func (s *Server) Close() {
	s.rateLimiter.Stop()
	s.streams.closeAll()
	if err := s.publisher.Close(); err != nil {
		log.Printf("[server] failed to close publisher: %v", err)
	}
	if err := s.llm.Close(); err != nil {
		log.Printf("[server] failed to close LLM client: %v", err)
	}
	s.store.Close()
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Export-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withLogging logs each request and records its latency.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		log.Printf("[%s] %s %d %v", r.Method, r.URL.Path, rec.status, elapsed)
		s.recorder.ObserveHTTP(r.Method, routeLabel(r), rec.status, elapsed)
	})
}

// routeLabel keeps metric cardinality bounded by using the matched mux
// pattern rather than the raw path.
func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		if _, path, ok := strings.Cut(r.Pattern, " "); ok {
			return path
		}
		return r.Pattern
	}
	return "unmatched"
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(clientID(r), r.URL.Path, r.Method)
		setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientID is the remote IP. X-Forwarded-For is not trusted.
func clientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 with the limit details.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}
	if info.RetryAfter > 0 {
		secs := int(info.RetryAfter.Seconds()) + 1
		response["retry_after"] = secs
		w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
	}

	log.Printf("[rate-limit] Rate limit exceeded: Limit=%d Remaining=%d", info.Limit, info.Remaining)
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[server] error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// handleError maps err to a status with HTTPStatus. Unexpected errors are
// logged and hidden from the client.
func (s *Server) handleError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("[server] internal error: %v", err)
		s.errorResponse(w, status, "internal server error")
		return
	}
	s.errorResponse(w, status, err.Error())
}

// decodeJSON reads a JSON body into v and validates it.
func (s *Server) decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	if err := s.validate.Struct(v); err != nil {
		var fe validator.ValidationErrors
		if errors.As(err, &fe) && len(fe) > 0 {
			return &ErrValidation{Field: fe[0].Field(), Message: validationMessage(err)}
		}
		return &ErrValidation{Field: "body", Message: err.Error()}
	}
	return nil
}
