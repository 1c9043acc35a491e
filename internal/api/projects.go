package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/shaun/publisher/internal/log"
	"github.com/shaun/publisher/internal/publish"
	"github.com/shaun/publisher/internal/store"
)

func flag(v string) bool { return v == "1" || strings.EqualFold(v, "true") }

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func installationID(id int64) *string {
	if id == 0 {
		return nil
	}
	s := strconv.FormatInt(id, 10)
	return &s
}

func (h *Handler) storeFailure(w http.ResponseWriter, err error) {
	log.Error("project store failed", "error", err)
	respondError(w, http.StatusInternalServerError, err.Error())
}

// BaseFiles returns the template tree.
func (h *Handler) BaseFiles(w http.ResponseWriter, r *http.Request) {
	base, err := h.svc.BaseFiles()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, BaseFilesResponse{Files: base})
}

// FilesFromDB returns the latest generated files of a project, optionally
// over the template tree and scaffolded.
func (h *Handler) FilesFromDB(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID := q.Get("projectId")
	if projectID == "" {
		respondError(w, http.StatusBadRequest, "missing projectId")
		return
	}
	got, err := h.svc.ProjectFiles(r.Context(), projectID, publish.FilesOptions{
		IncludeBase: flag(q.Get("includeBase")),
		Scaffold:    flag(q.Get("scaffold")),
	})
	if err != nil {
		respondError(w, publish.KindOf(err).HTTPStatus(), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, FilesResponse{OK: true, Files: got, Count: len(got)})
}

// ProjectFiles returns every fragment of a project merged into one tree.
func (h *Handler) ProjectFiles(w http.ResponseWriter, r *http.Request) {
	got, err := h.svc.MergedFiles(r.Context(), chi.URLParam(r, "projectId"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, FilesResponse{OK: true, Files: got, Count: len(got)})
}

// Snapshot returns the file set archived by a publish.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Snapshot(r.Context(), chi.URLParam(r, "projectId"), chi.URLParam(r, "digest"))
	if err != nil {
		kind := publish.KindOf(err)
		if kind == publish.KindUnknown {
			log.Error("read snapshot failed", "error", err)
		}
		respondError(w, kind.HTTPStatus(), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (h *Handler) Meta(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProject(r.Context(), chi.URLParam(r, "projectId"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Project not found")
		return
	}
	if err != nil {
		h.storeFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, MetaResponse{
		GitHubInstallationID: installationID(p.InstallationID),
		GitHubRepo:           optional(p.Repo),
	})
}

func (h *Handler) Min(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		respondError(w, http.StatusBadRequest, "missing projectId")
		return
	}
	p, err := h.store.GetProject(r.Context(), projectID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		h.storeFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, MinResponse{
		InstallationID:    installationID(p.InstallationID),
		Repo:              optional(p.Repo),
		LastDeploymentURL: optional(p.LastDeploymentURL),
	})
}

func (h *Handler) UpdateRepo(w http.ResponseWriter, r *http.Request) {
	var body UpdateRepoRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	projectID, repo := strings.TrimSpace(body.ProjectID), strings.TrimSpace(body.Repo)
	if projectID == "" || repo == "" {
		respondError(w, http.StatusBadRequest, "projectId and repo are required")
		return
	}
	_, err := h.store.UpdateProject(r.Context(), projectID, func(p *store.Project) { p.Repo = repo })
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		h.storeFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, okResponse{OK: true})
}

// appName picks the hosting app name: explicit app, then the name part of
// repo, then the name part of the project's stored repository.
func (h *Handler) appName(r *http.Request, body DeploymentRequest) (string, error) {
	if app := strings.TrimSpace(body.App); app != "" {
		return app, nil
	}
	if _, name, ok := strings.Cut(body.Repo, "/"); ok && strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name), nil
	}
	if body.ProjectID == "" {
		return "", nil
	}
	p, err := h.store.GetProject(r.Context(), body.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	_, name, _ := strings.Cut(p.Repo, "/")
	return strings.TrimSpace(name), nil
}

// UpdateDeployment records the production URL of a project's hosted app.
func (h *Handler) UpdateDeployment(w http.ResponseWriter, r *http.Request) {
	var body DeploymentRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	app, err := h.appName(r, body)
	if err != nil {
		h.storeFailure(w, err)
		return
	}
	if app == "" {
		respondError(w, http.StatusBadRequest, "could not infer the app name: pass app in the body or set the project's repository")
		return
	}
	url := "https://" + app + ".vercel.app"
	if body.ProjectID != "" {
		_, err := h.store.UpdateProject(r.Context(), body.ProjectID, func(p *store.Project) { p.LastDeploymentURL = url })
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "project not found")
			return
		}
		if err != nil {
			h.storeFailure(w, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, DeploymentResponse{OK: true, App: app, URL: url})
}
