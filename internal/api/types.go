package api

import (
	"encoding/json"

	"github.com/shaun/publisher/internal/files"
	"github.com/shaun/publisher/internal/github"
)

type errorResponse struct {
	Error string `json:"error"`
}

// PublishRequest is the body of POST /api/github/publish. installation_id
// may arrive as a number or a numeric string.
type PublishRequest struct {
	ProjectID      string          `json:"projectId"`
	InstallationID json.Number     `json:"installation_id"`
	Repo           string          `json:"repo"`
	Files          json.RawMessage `json:"files"`
	Direct         bool            `json:"direct"`
	AutoMerge      bool            `json:"autoMerge"`
	Branch         string          `json:"branch"`
	DeployHookURL  string          `json:"deployHookUrl"`
	Title          string          `json:"title"`
	Body           string          `json:"body"`
}

type InstalledResponse struct {
	Success        bool    `json:"success"`
	Message        string  `json:"message"`
	InstallationID string  `json:"installation_id"`
	SetupAction    string  `json:"setup_action"`
	ProjectID      *string `json:"projectId"`
}

type ReposResponse struct {
	Repos []github.RepoSummary `json:"repos"`
}

type FilesResponse struct {
	OK    bool          `json:"ok"`
	Files files.FileMap `json:"files"`
	Count int           `json:"count"`
}

type BaseFilesResponse struct {
	Files files.FileMap `json:"files"`
}

type MetaResponse struct {
	GitHubInstallationID *string `json:"githubInstallationId"`
	GitHubRepo           *string `json:"githubRepo"`
}

type MinResponse struct {
	InstallationID    *string `json:"installationId"`
	Repo              *string `json:"repo"`
	LastDeploymentURL *string `json:"lastDeploymentUrl"`
}

type UpdateRepoRequest struct {
	ProjectID string `json:"projectId"`
	Repo      string `json:"repo"`
}

type DeploymentRequest struct {
	ProjectID string `json:"projectId"`
	App       string `json:"app"`
	Repo      string `json:"repo"`
}

type DeploymentResponse struct {
	OK  bool   `json:"ok"`
	App string `json:"app"`
	URL string `json:"url"`
}

type okResponse struct {
	OK bool `json:"ok"`
}
