package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
)

// NewRouter mounts the handler under /api/v1 behind bearer token
// authentication and adds an unauthenticated /health endpoint.
func NewRouter(h *Handler, tokenAuth *jwtauth.JWTAuth) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoveryMiddleware(h.logger))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jwtauth.Verifier(tokenAuth))
		r.Use(Authenticator)
		r.Use(LoggingMiddleware(h.logger.With("component", "http")))
		r.Mount("/", h.Routes())
	})

	return r
}
