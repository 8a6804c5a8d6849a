package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/tendant/simple-dataspace/pkg/dataspace"
)

// responseWriter captures status code and response size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// LoggingMiddleware logs each request once it completes
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			logger.Info("request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"bytes", rw.bytesWritten,
				"duration", time.Since(start),
				"principal", dataspace.SessionFromContext(r.Context()).Principal(),
			)
		})
	}
}

// RecoveryMiddleware recovers from panics and returns 500 error
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic", "request_id", middleware.GetReqID(r.Context()), "panic", rec)
					render.Status(r, http.StatusInternalServerError)
					render.JSON(w, r, ErrorResponse{
						Code:      "internal_error",
						Message:   "An internal server error occurred",
						RequestID: middleware.GetReqID(r.Context()),
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// NewTokenAuth returns an HS256 verifier for bearer tokens signed with secret.
func NewTokenAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// Authenticator turns the verified token's subject into the request's
// session. It must run after jwtauth.Verifier. Requests without a valid token
// are rejected with 401.
func Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", dataspace.ErrUnauthenticated, err))
			return
		}
		if token == nil {
			writeError(w, r, fmt.Errorf("%w: no token", dataspace.ErrUnauthenticated))
			return
		}
		subject, _ := claims["sub"].(string)
		if subject == "" {
			writeError(w, r, fmt.Errorf("%w: token has no subject", dataspace.ErrUnauthenticated))
			return
		}

		ctx := dataspace.WithSession(r.Context(), dataspace.AuthenticatedAs(subject))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
