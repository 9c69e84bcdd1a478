// Package handlers provides HTTP handlers for the intake API.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/api/middleware"
	"github.com/drfirst/go-intake/internal/apperrors"
	"github.com/drfirst/go-intake/internal/domain/profile"
	"github.com/drfirst/go-intake/internal/intake"
)

// DefaultMaxUploadBytes bounds a multipart submission
const DefaultMaxUploadBytes = 64 << 20

// Checker reports whether a dependency is usable
type Checker func(ctx context.Context) error

// API serves the /api/v1 routes
type API struct {
	templates *intake.TemplateService
	submitter *intake.Submitter
	profiles  profile.Repository
	checks    map[string]Checker
	maxUpload int64
	logger    *zap.Logger
}

// Options configures an API. Checks back /ready.
type Options struct {
	Checks         map[string]Checker
	MaxUploadBytes int64
}

// New creates the API handlers
func New(templates *intake.TemplateService, submitter *intake.Submitter, profiles profile.Repository, opts Options, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &API{
		templates: templates,
		submitter: submitter,
		profiles:  profiles,
		checks:    opts.Checks,
		maxUpload: opts.MaxUploadBytes,
		logger:    logger,
	}
}

// Routes returns the authenticated routes, mounted under /api/v1
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/catalog", a.Catalog)

	r.Route("/builder", func(r chi.Router) {
		r.Post("/questions", a.NewQuestion)
		r.Post("/default-check", a.DefaultCheck)
		r.Post("/reorder", a.Reorder)
		r.Post("/duplicate", a.Duplicate)
		r.Post("/prepare", a.Prepare)
	})

	r.Route("/templates", func(r chi.Router) {
		r.Post("/", a.CreateTemplate)
		r.Get("/", a.ListTemplates)
		r.Get("/{id}", a.GetTemplate)
		r.Put("/{id}", a.UpdateTemplate)
		r.Patch("/{id}", a.PatchTemplate)
		r.Delete("/{id}", a.DeleteTemplate)
	})

	r.Route("/responses", func(r chi.Router) {
		r.Post("/", a.SubmitResponse)
		r.Get("/{id}", a.GetResponse)
		r.Post("/{id}/complete", a.CompleteResponse)
		r.Post("/{id}/review", a.ReviewResponse)
		r.Post("/{id}/attachments", a.AddAttachments)
		r.Post("/{id}/merge", a.MergeResponse)
		r.Get("/{id}/fhir", a.ResponseFHIR)
	})

	r.Route("/intakes", func(r chi.Router) {
		r.Post("/", a.SubmitIntake)
		r.Get("/{id}", a.GetIntake)
	})

	r.Route("/patients/{id}", func(r chi.Router) {
		r.Get("/profile", a.GetProfile)
		r.Get("/fhir", a.ProfileFHIR)
	})
	return r
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// statusFor maps the error taxonomy onto HTTP
func statusFor(err error) int {
	var v *apperrors.ValidationError
	switch {
	case errors.As(err, &v):
		if v.Code == apperrors.CodeShapeMismatch {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case apperrors.IsNotFound(err):
		return http.StatusNotFound
	case apperrors.IsAccessDenied(err):
		return http.StatusForbidden
	case apperrors.IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := ErrorResponse{Error: err.Error(), RequestID: middleware.GetRequestID(r.Context())}
	var v *apperrors.ValidationError
	if errors.As(err, &v) {
		body.Code, body.Field = v.Code, v.Field
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", body.RequestID),
			zap.Error(err))
		body.Error = "internal server error"
	}
	render.Status(r, status)
	render.JSON(w, r, body)
}

func (a *API) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	a.fail(w, r, apperrors.Invalid("body", apperrors.CodeInvalidValue, "%s", msg))
}

func respond(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

// pathID parses the {id} parameter as a uuid
func pathID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.Invalid("id", apperrors.CodeInvalidValue, "%q is not a valid id", raw)
	}
	return id, nil
}

func actor(r *http.Request) intake.Actor {
	a, _ := intake.ActorFrom(r.Context())
	return a
}

// Health handles GET /health
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]interface{}{"status": "ok", "time": time.Now().UTC()})
}

// Ready handles GET /ready
func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(a.checks))
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			a.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	respond(w, r, status, map[string]interface{}{"ready": status == http.StatusOK, "checks": results})
}
