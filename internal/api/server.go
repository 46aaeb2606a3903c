package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nextconvert/assembler/internal/api/handlers"
	"github.com/nextconvert/assembler/internal/api/middleware"
	"github.com/nextconvert/assembler/internal/api/websocket"
	"github.com/nextconvert/assembler/internal/modules/jobs"
	"github.com/nextconvert/assembler/internal/shared/metrics"
	"github.com/nextconvert/assembler/internal/shared/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ServerConfig holds dependencies for the API server
type ServerConfig struct {
	AllowedOrigins []string
	Logger         *zap.Logger
	// Redis backs the rate limiter; nil disables rate limiting.
	Redis    *redis.Client
	Checks   map[string]handlers.HealthChecker
	Storage  *storage.Service
	WSHub    *websocket.Hub
	Jobs     *jobs.Module
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server represents the API server
type Server struct {
	cfg ServerConfig
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{cfg: cfg}
}

// Router returns the configured HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.cfg.Logger))
	r.Use(chimiddleware.Recoverer)
	if s.cfg.Metrics != nil {
		r.Use(middleware.MetricsMiddleware(s.cfg.Metrics))
	}
	r.Use(middleware.SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	limit := func(cfg middleware.RateLimitConfig) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler { return next }
	}
	if s.cfg.Redis != nil {
		limit = middleware.NewRateLimiter(s.cfg.Redis, s.cfg.Logger).Limit
	}

	healthHandler := handlers.NewHealthHandler(s.cfg.Checks)
	assemblyHandler := handlers.NewAssemblyHandler(s.cfg.Jobs, s.cfg.Storage, s.cfg.Logger)
	uploadHandler := handlers.NewUploadHandler(s.cfg.Storage, s.cfg.Logger)

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limit(middleware.GlobalRateLimit))

		r.Route("/assemblies", func(r chi.Router) {
			r.With(
				limit(middleware.AssemblyCreationRateLimit),
				middleware.RequireJSON(middleware.MaxManifestSize),
			).Post("/", assemblyHandler.Create)
			r.With(middleware.NoCache).Get("/", assemblyHandler.List)
			r.With(middleware.NoCache).Get("/{id}", assemblyHandler.Get)
			r.Post("/{id}/cancel", assemblyHandler.Cancel)
			r.Get("/{id}/download", assemblyHandler.Download)
		})

		r.With(limit(middleware.UploadRateLimit)).Post("/uploads", uploadHandler.Upload)

		r.Route("/animations", func(r chi.Router) {
			r.Get("/", handlers.ListAnimations)
			r.With(middleware.RequireJSON(middleware.MaxManifestSize)).Post("/validate", handlers.ValidateAnimation)
		})

		if s.cfg.WSHub != nil {
			r.Get("/ws", s.cfg.WSHub.HandleConnection)
		}
	})

	return r
}
