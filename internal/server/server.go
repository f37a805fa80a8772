// Package server exposes the research orchestrator over HTTP. It is a
// thin mapping layer: validation of request shapes, auth resolution, and
// translation of the orchestrator's error taxonomy to status codes.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/prismnews/research-engine/internal/auth"
	"github.com/prismnews/research-engine/internal/research"
)

type ctxKey int

const userIDKey ctxKey = iota

// userID returns the authenticated user id stored by the auth middleware.
func userID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// Server routes research API requests.
type Server struct {
	orch *research.Orchestrator
	auth *auth.Service
	mux  *chi.Mux
}

// New builds the router.
func New(orch *research.Orchestrator, authSvc *auth.Service) *Server {
	s := &Server{orch: orch, auth: authSvc}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/api/research-requests", s.handleCreateRequest)
		r.Get("/api/research-requests", s.handleListRequests)
		r.Get("/api/research-requests/{id}", s.handleGetRequest)
		r.Post("/api/research-requests/{id}/start", s.handleStartResearch)
		r.Patch("/api/research-followup-questions/{id}", s.handleAnswerFollowup)
	})

	s.mux = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// requireAuth resolves the bearer token and stashes the user id in the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.auth.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, id)))
	})
}

// requestLogger logs each request with zap after it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
