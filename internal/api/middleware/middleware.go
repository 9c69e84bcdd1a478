// Package middleware provides HTTP middleware for the intake API.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-intake/internal/intake"
	"github.com/drfirst/go-intake/internal/observability/metrics"
)

type contextKey string

const (
	RequestIDKey   contextKey = "request_id"
	APIKeyKey      contextKey = "api_key"
	TraceParentKey contextKey = "traceparent"
)

// RequestID adds a unique request ID to each request
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// AuthConfig selects the accepted credentials. With neither set every request
// runs as DevActor, which config validation only allows outside production.
type AuthConfig struct {
	// APIKeys maps key to client id
	APIKeys map[string]string
	// AdminClients lists API clients that act as admins
	AdminClients []string
	// JWTSecret verifies HS256 bearer tokens
	JWTSecret []byte
}

// DevActor is used when no credentials are configured
var DevActor = intake.Actor{ID: "dev", Role: intake.RoleAdmin}

// Claims are the bearer token claims we read
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

var errBadToken = errors.New("invalid bearer token")

// Auth authenticates the caller by bearer token or API key and stores the
// resulting intake.Actor on the context
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	admins := make(map[string]bool, len(cfg.AdminClients))
	for _, c := range cfg.AdminClients {
		admins[c] = true
	}
	open := len(cfg.APIKeys) == 0 && len(cfg.JWTSecret) == 0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open {
				next.ServeHTTP(w, r.WithContext(intake.WithActor(r.Context(), DevActor)))
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

			var actor intake.Actor
			switch {
			case apiKey != "":
				clientID, valid := cfg.APIKeys[apiKey]
				if !valid {
					unauthorized(w, "invalid API key")
					return
				}
				actor = intake.Actor{ID: clientID, Role: roleFor(admins[clientID])}
				r = r.WithContext(context.WithValue(r.Context(), APIKeyKey, clientID))

			case bearer != "" && len(cfg.JWTSecret) > 0:
				a, err := parseToken(bearer, cfg.JWTSecret)
				if err != nil {
					unauthorized(w, err.Error())
					return
				}
				actor = a

			case bearer != "":
				// API keys may also arrive as a bearer token
				clientID, valid := cfg.APIKeys[bearer]
				if !valid {
					unauthorized(w, "invalid API key")
					return
				}
				actor = intake.Actor{ID: clientID, Role: roleFor(admins[clientID])}
				r = r.WithContext(context.WithValue(r.Context(), APIKeyKey, clientID))

			default:
				unauthorized(w, "missing credentials")
				return
			}

			next.ServeHTTP(w, r.WithContext(intake.WithActor(r.Context(), actor)))
		})
	}
}

func roleFor(admin bool) string {
	if admin {
		return intake.RoleAdmin
	}
	return ""
}

func parseToken(raw string, secret []byte) (intake.Actor, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return intake.Actor{}, errBadToken
	}
	if claims.Subject == "" {
		return intake.Actor{}, errors.New("bearer token has no subject")
	}
	return intake.Actor{ID: claims.Subject, Role: claims.Role}, nil
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":` + strconv.Quote(msg) + `}`))
}

// GetClientID extracts the API client id from context
func GetClientID(ctx context.Context) string {
	if id, ok := ctx.Value(APIKeyKey).(string); ok {
		return id
	}
	if a, ok := intake.ActorFrom(ctx); ok {
		return a.ID
	}
	return ""
}

// Metrics records request durations by route pattern
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			m.HTTPRequestsDuration.
				WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).
				Observe(time.Since(start).Seconds())
		})
	}
}

// Logger logs HTTP requests
func Logger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", GetRequestID(r.Context())),
				zap.String("client_id", GetClientID(r.Context())),
			)
		})
	}
}

// Tracing adds OpenTelemetry tracing
func Tracing(serviceName string) func(http.Handler) http.Handler {
	tracer := otel.Tracer(serviceName)
	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.url", r.URL.String()),
					attribute.String("http.user_agent", r.UserAgent()),
				))
			defer span.End()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.status_code", wrapped.statusCode))
		})
	}
}

// Recover handles panics
func Recover(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.String("request_id", GetRequestID(r.Context())),
					)
					http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORS adds CORS headers
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Request-ID, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
