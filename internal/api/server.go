package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/keyturner/internal/device"
	"github.com/seantiz/keyturner/internal/engine"
	"github.com/seantiz/keyturner/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	// Pairing and lock commands wait behind every queued radio job.
	writeTimeout = 5 * time.Minute
)

// Option configures a Server.
type Option func(*Server)

// WithRateLimit limits device routes to perSecond requests per client IP with
// the given burst. A zero rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 {
			s.limiter = newIPRateLimiter(perSecond, burst, rateLimitEvictTTL)
		}
	}
}

// WithTrustedProxy makes the server take the client IP from X-Forwarded-For
// or X-Real-IP. Enable it only behind a reverse proxy that sets those headers;
// otherwise clients can pick their own rate limit key.
func WithTrustedProxy() Option {
	return func(s *Server) {
		s.trustProxy = true
	}
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router  *chi.Mux
	store   store.Store
	radios  *device.Registry
	service *engine.Service
	logger  *slog.Logger
	addr    string
	limiter *ipRateLimiter
	// trustProxy enables chi's RealIP middleware.
	trustProxy bool
	validate   *validator.Validate
	tracer     trace.Tracer
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, s store.Store, radios *device.Registry, svc *engine.Service, logger *slog.Logger, opts ...Option) *Server {
	srv := &Server{
		router:   chi.NewRouter(),
		store:    s,
		radios:   radios,
		service:  svc,
		logger:   logger.With("component", "api"),
		addr:     addr,
		validate: validator.New(),
		tracer:   otel.Tracer("github.com/seantiz/keyturner/internal/api"),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.router.Use(middleware.RequestID)
	if srv.trustProxy {
		srv.router.Use(middleware.RealIP)
	}
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(srv.tracingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.NotFound(s.handleNotFound)
	s.router.MethodNotAllowed(s.handleMethodNotAllowed)

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/radios", s.handleListRadios)
		r.Get("/stats", s.handleGetStats)

		r.Get("/operations", s.handleListOperations)
		r.Get("/operations/{id}", s.handleGetOperation)
		r.Get("/operations/{id}/events", s.handleStreamEvents)
		r.Get("/operations/{id}/events/history", s.handleGetEventHistory)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)

			r.Get("/scan", s.handleScan)
			r.Post("/operations", s.handleSubmitOperation)
			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/", s.handlePairDevice)
				r.Delete("/{address}", s.handleUnpairDevice)
				r.Get("/{address}/state", s.handleDeviceState)
				r.Post("/{address}/{action}", s.handleDeviceCommand)
			})
		})
	})

	s.legacyRoutes()
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down", "cause", context.Cause(ctx))
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// tracingMiddleware opens a span per request, named after the matched route.
func (s *Server) tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.tracer.Start(r.Context(), r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			))
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		route := routePattern(r)
		span.SetName(r.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", ww.Status()),
		)
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	s.writeError(w, http.StatusNotFound, "Endpoint not found")
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}
