package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler, authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(cors)
	if authMiddleware != nil {
		r.Use(authMiddleware)
	}
	r.Use(requestLogger)

	r.Get("/health", h.Health)
	r.Route("/api/github", func(r chi.Router) {
		r.Get("/install", h.Install)
		r.Get("/installed", h.Installed)
		r.Get("/repos", h.Repos)
		r.Post("/publish", h.Publish)
	})
	r.Route("/api/projects", func(r chi.Router) {
		r.Get("/files", h.BaseFiles)
		r.Get("/files-from-db", h.FilesFromDB)
		r.Get("/min", h.Min)
		r.Post("/update-github-repo", h.UpdateRepo)
		r.Get("/{projectId}/files", h.ProjectFiles)
		r.Get("/{projectId}/meta", h.Meta)
		r.Get("/{projectId}/snapshots/{digest}", h.Snapshot)
	})
	r.Post("/api/vercel/update-last-deployment", h.UpdateDeployment)
	return r
}
