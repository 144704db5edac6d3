package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/franckdigital/xamila-backend-sub001/internal/config"
	"github.com/franckdigital/xamila-backend-sub001/internal/metrics"
	"github.com/franckdigital/xamila-backend-sub001/internal/util"
)

// RouteRegistrar mounts a handler's routes under /api/v1.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(cfg config.ServerConfig, logger *zap.Logger, health HealthCheck, handlers ...RouteRegistrar) chi.Router {
	router := chi.NewRouter()
	rs := responder{logger: logger}

	if cfg.RequireHTTPS {
		router.Use(requireHTTPS)
	}

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(metrics.Middleware)
	router.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Request-Id"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				util.Warn("Health check failed", util.ErrorField(err))
				rs.respondWithJSON(w, http.StatusServiceUnavailable, Response{Error: "unhealthy", Message: "Service unhealthy"})
				return
			}
		}
		rs.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{"status": "healthy", "service": "xamila-core"}, ""))
	})
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	// API routes
	router.Route("/api/v1", func(r chi.Router) {
		for _, h := range handlers {
			h.RegisterRoutes(r)
		}
	})

	// 404 handler
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rs.respondWithJSON(w, http.StatusNotFound, Response{Error: "not_found", Message: "endpoint not found"})
	})

	// Method not allowed handler
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		rs.respondWithJSON(w, http.StatusMethodNotAllowed, Response{Error: "method_not_allowed", Message: "method not allowed"})
	})

	return router
}
