package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	"voucherpay/internal/common/api"
)

// Headers set by the upstream auth proxy once it has verified the caller.
const (
	UserIDHeader    = "X-User-ID"
	UserPhoneHeader = "X-User-Phone"
)

// Context keys
type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	IdentityKey      contextKey = "identity"
	RequestIDKey     contextKey = "request_id"
	AdminKey         contextKey = "admin"
)

// Identity is the verified caller of a user route
type Identity struct {
	UserID string
	Phone  string
}

// GetCorrelationID retrieves the correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return v
	}
	return ""
}

// GetIdentity retrieves the caller identity from context
func GetIdentity(ctx context.Context) Identity {
	if v, ok := ctx.Value(IdentityKey).(Identity); ok {
		return v
	}
	return Identity{}
}

// WithIdentity returns ctx carrying id
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// CorrelationID middleware adds a correlation ID to each request
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get("X-Correlation-ID")
		if correlationID == "" {
			correlationID = ulid.Make().String()
		}

		ctx := context.WithValue(r.Context(), CorrelationIDKey, correlationID)
		w.Header().Set("X-Correlation-ID", correlationID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID middleware adds a request ID to each request
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := ulid.Make().String()
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger creates a structured logging middleware
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"correlation_id", GetCorrelationID(r.Context()),
					"user_id", r.Header.Get(UserIDHeader),
					"user_agent", r.UserAgent(),
					"remote_addr", r.RemoteAddr,
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Recoverer recovers from panics and logs them
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						"panic", rec,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
						"method", r.Method,
						"correlation_id", GetCorrelationID(r.Context()),
					)

					api.InternalError(w, "An unexpected error occurred")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// RequireIdentity reads the identity headers and rejects requests without
// a user id.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Identity{
			UserID: strings.TrimSpace(r.Header.Get(UserIDHeader)),
			Phone:  strings.TrimSpace(r.Header.Get(UserPhoneHeader)),
		}
		if id.UserID == "" {
			api.Unauthorized(w, "Missing caller identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// APIKeyValidator checks an API key and returns the caller it belongs to
type APIKeyValidator func(ctx context.Context, apiKey string) (subject string, err error)

// ErrInvalidAPIKey is returned by validators for an unknown key
var ErrInvalidAPIKey = errors.New("invalid api key")

// StaticAPIKey accepts exactly one configured key. An empty key rejects
// everything.
func StaticAPIKey(key, subject string) APIKeyValidator {
	return func(_ context.Context, apiKey string) (string, error) {
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
			return "", ErrInvalidAPIKey
		}
		return subject, nil
	}
}

// APIKeyAuth validates API key authentication
func APIKeyAuth(validator APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Unauthorized(w, "Missing authorization header")
				return
			}

			// Support both "Bearer <key>" and "ApiKey <key>"
			var apiKey string
			if strings.HasPrefix(authHeader, "Bearer ") {
				apiKey = strings.TrimPrefix(authHeader, "Bearer ")
			} else if strings.HasPrefix(authHeader, "ApiKey ") {
				apiKey = strings.TrimPrefix(authHeader, "ApiKey ")
			} else {
				api.Unauthorized(w, "Invalid authorization format")
				return
			}

			subject, err := validator(r.Context(), apiKey)
			if err != nil {
				api.Unauthorized(w, "Invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), AdminKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdmin returns the subject of a request authenticated by APIKeyAuth
func GetAdmin(ctx context.Context) string {
	if v, ok := ctx.Value(AdminKey).(string); ok {
		return v
	}
	return ""
}
