package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pinellas-property-scraper/internal/lookup"
	"github.com/JakeFAU/pinellas-property-scraper/internal/metrics"
	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
)

const (
	errMissingFields = "Address and county required"
	maxBodyBytes     = 1 << 16
	readyTimeout     = 2 * time.Second
)

// Looker runs a single property lookup.
type Looker interface {
	Lookup(ctx context.Context, raw string) lookup.Result
	County() string
}

// History reads persisted lookups.
type History interface {
	GetLookup(ctx context.Context, id string) (property.LookupRecord, error)
	ListLookups(ctx context.Context, filter property.LookupFilter) ([]property.LookupRecord, error)
}

// Pinger is implemented by dependencies that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the Server.
type Options struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	TestAddress    string
	// Ready lists dependencies checked by /readyz.
	Ready []Pinger
}

// Server wires HTTP handlers to the lookup service and history store.
type Server struct {
	router  chi.Router
	looker  Looker
	history *HistoryHandler
	opts    Options
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(looker Looker, history History, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		looker:  looker,
		history: NewHistoryHandler(history, logger),
		opts:    opts,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	if opts.RequestTimeout > 0 {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Post("/search", s.search)
		r.Get("/test", s.testLookup)
		r.Route("/lookups", func(r chi.Router) {
			r.Get("/", s.history.ListLookups)
			r.Get("/{lookup_id}", s.history.GetLookup)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	for _, p := range s.opts.Ready {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "running",
		"message":            "Property lookup API is running",
		"supported_counties": []string{s.looker.County()},
	})
}

type searchRequest struct {
	Address string `json:"address"`
	County  string `json:"county"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	addr := strings.TrimSpace(req.Address)
	county := strings.TrimSpace(req.County)
	if addr == "" || county == "" {
		writeError(w, http.StatusBadRequest, errMissingFields)
		return
	}
	if !strings.EqualFold(county, s.looker.County()) {
		writeError(w, http.StatusOK, fmt.Sprintf("%s County scraper not yet implemented", county))
		return
	}
	s.respond(w, r, addr)
}

func (s *Server) testLookup(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, s.opts.TestAddress)
}

// respond runs the lookup and writes its payload. Lookup failures are
// reported in the body with a 200, callers branch on "status".
func (s *Server) respond(w http.ResponseWriter, r *http.Request, addr string) {
	res := s.looker.Lookup(r.Context(), addr)
	if !res.OK() {
		s.logger.Info("lookup failed",
			zap.String("lookup_id", res.LookupID),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(res.Err),
		)
	}
	writeJSON(w, http.StatusOK, res.Payload())
}

type requestIDKey struct{}

// RequestID returns the request ID stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" || len(reqID) > 64 {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", RequestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"status":"error","error":"request timed out"}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"status": string(property.StatusError),
		"error":  msg,
	})
}
