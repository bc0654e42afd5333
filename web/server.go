// Package web exposes the HTTP API: project CRUD, deployment triggers and
// history, incoming webhooks and fleet status.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/skiff-cd/skiff/config"
)

type Server struct {
	httpServer *http.Server
}

func NewServer(cfg *config.Config, handler *Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort),
			Handler:           NewRouter(handler),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// NewRouter builds the API routing tree.
func NewRouter(handler *Handler) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger)

	router.Get("/health", handler.Health)

	router.Route("/projects", func(r chi.Router) {
		r.Get("/", handler.ListProjects)
		r.Post("/", handler.CreateProject)
		r.Route("/{projectID}", func(r chi.Router) {
			r.Get("/", handler.GetProject)
			r.Put("/", handler.UpdateProject)
			r.Delete("/", handler.DeleteProject)
			r.Post("/deploy", handler.Deploy)
			r.Get("/deployments", handler.ListDeployments)
		})
	})

	router.Get("/deployments/{deploymentID}", handler.GetDeployment)
	router.Post("/webhooks/{projectID}", handler.Webhook)
	router.Get("/fleet", handler.Fleet)

	return router
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Millisecond))
	})
}
