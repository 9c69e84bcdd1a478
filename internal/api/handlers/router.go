package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/api/middleware"
	"github.com/drfirst/go-intake/internal/observability/metrics"
)

// RouterConfig assembles the full HTTP surface
type RouterConfig struct {
	ServiceName string
	Auth        middleware.AuthConfig
	Metrics     *metrics.Metrics
}

// Router mounts health, readiness and metrics next to the authenticated /api/v1 routes
func (a *API) Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(a.logger))
	r.Use(middleware.Logger(a.logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Get("/health", a.Health)
	r.Get("/ready", a.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(middleware.Auth(cfg.Auth))
		r.Mount("/", a.Routes())
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respond(w, req, http.StatusNotFound, ErrorResponse{Error: "route not found", RequestID: middleware.GetRequestID(req.Context())})
	})
	a.logger.Debug("router assembled", zap.String("service", cfg.ServiceName))
	return r
}
