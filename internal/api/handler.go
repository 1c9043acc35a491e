package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/shaun/publisher/internal/github"
	"github.com/shaun/publisher/internal/log"
	"github.com/shaun/publisher/internal/publish"
	"github.com/shaun/publisher/internal/store"
)

// InstallCookie remembers which project started a GitHub App installation.
const InstallCookie = "publish_project_id"

const maxBodyBytes = 16 << 20

type Handler struct {
	store   store.Store
	svc     *publish.Service
	gh      *github.Connector
	appSlug string
}

// NewHandler wires the HTTP handlers. gh may be nil when GitHub is not
// configured; the endpoints that need it then answer 500.
func NewHandler(st store.Store, svc *publish.Service, gh *github.Connector, appSlug string) *Handler {
	return &Handler{store: st, svc: svc, gh: gh, appSlug: appSlug}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Install sends the browser to the GitHub App installation page.
func (h *Handler) Install(w http.ResponseWriter, r *http.Request) {
	if h.appSlug == "" {
		respondError(w, http.StatusInternalServerError, "GITHUB_APP_SLUG is not configured")
		return
	}
	if projectID := r.URL.Query().Get("projectId"); projectID != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     InstallCookie,
			Value:    projectID,
			Path:     "/",
			MaxAge:   600,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	http.Redirect(w, r, "https://github.com/apps/"+h.appSlug+"/installations/new", http.StatusFound)
}

// Installed is the GitHub App setup callback.
func (h *Handler) Installed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("installation_id")
	if raw == "" {
		respondJSON(w, http.StatusBadRequest, InstalledResponse{Message: "Missing installation_id"})
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondJSON(w, http.StatusBadRequest, InstalledResponse{Message: "installation_id must be a positive integer"})
		return
	}
	projectID := q.Get("projectId")
	if c, err := r.Cookie(InstallCookie); err == nil && c.Value != "" {
		projectID = c.Value
	}
	res := InstalledResponse{
		Success:        true,
		Message:        "GitHub App installed successfully",
		InstallationID: raw,
		SetupAction:    q.Get("setup_action"),
	}
	if projectID != "" {
		if err := h.attachInstallation(r, projectID, id); err != nil {
			log.Error("attach installation failed", "project_id", projectID, "error", err)
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		res.ProjectID = &projectID
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) attachInstallation(r *http.Request, projectID string, id int64) error {
	ctx := r.Context()
	_, err := h.store.UpdateProject(ctx, projectID, func(p *store.Project) { p.InstallationID = id })
	if errors.Is(err, store.ErrNotFound) {
		return h.store.PutProject(ctx, store.Project{ID: projectID, InstallationID: id})
	}
	return err
}

// Repos lists the repositories an installation can reach.
func (h *Handler) Repos(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("installation_id")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "missing installation_id")
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "installation_id must be a number")
		return
	}
	if h.gh == nil || !h.gh.Configured() {
		respondError(w, http.StatusInternalServerError, "Missing GITHUB_APP_ID / GITHUB_APP_PRIVATE_KEY")
		return
	}
	client, err := h.gh.Installation(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, github.Message(err))
		return
	}
	repos, err := client.ListInstallationRepos(r.Context())
	if err != nil {
		log.Error("list installation repositories failed", "installation_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, github.Message(err))
		return
	}
	if repos == nil {
		repos = []github.RepoSummary{}
	}
	respondJSON(w, http.StatusOK, ReposResponse{Repos: repos})
}

// Publish pushes a project's files to GitHub.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	var body PublishRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	req := publish.Request{
		ProjectID:     strings.TrimSpace(body.ProjectID),
		Repo:          strings.TrimSpace(body.Repo),
		Files:         body.Files,
		Direct:        body.Direct,
		AutoMerge:     body.AutoMerge,
		Branch:        strings.TrimSpace(body.Branch),
		DeployHookURL: strings.TrimSpace(body.DeployHookURL),
		Title:         body.Title,
		Body:          body.Body,
	}
	if body.InstallationID != "" {
		id, err := body.InstallationID.Int64()
		if err != nil {
			respondError(w, http.StatusBadRequest, "installation_id must be a number")
			return
		}
		req.InstallationID = id
	}

	res, err := h.svc.Publish(r.Context(), req)
	if err != nil {
		kind := publish.KindOf(err)
		if kind == publish.KindUnknown || kind == publish.RemoteFailure {
			log.Error("publish failed", "request_id", RequestIDFrom(r.Context()), "kind", kind.String(), "error", err)
		}
		respondError(w, kind.HTTPStatus(), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}
