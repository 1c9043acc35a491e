// Package publish pushes a project's generated files to GitHub: it resolves
// the target and content, prepares a buildable tree, writes only what
// changed and finishes with a pull request or a direct push.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shaun/publisher/internal/archive"
	"github.com/shaun/publisher/internal/files"
	"github.com/shaun/publisher/internal/github"
	"github.com/shaun/publisher/internal/log"
	"github.com/shaun/publisher/internal/store"
)

const (
	DefaultTitle = "Publish from app"
	bodyTemplate = "This PR was opened automatically by the Publish endpoint.\nOwner: %s\nRepo: %s"
)

// RepoClient is the slice of the GitHub API a publish needs.
// Implemented by *github.Repo; inject a fake in tests.
type RepoClient interface {
	DefaultBranch(ctx context.Context) (string, error)
	BranchHead(ctx context.Context, branch string) (sha string, ok bool, err error)
	CreateInitialCommit(ctx context.Context, branch string) (string, error)
	CreateBranch(ctx context.Context, branch, sha string) error
	ReadFile(ctx context.Context, path, branch string) (github.File, bool, error)
	WriteFile(ctx context.Context, path, branch, content, message, sha string) error
	OpenPullRequest(ctx context.Context, pr github.PullRequest) (string, int, error)
	MergePullRequest(ctx context.Context, number int) (bool, error)
}

// Connector yields installation-scoped repository clients.
type Connector interface {
	Configured() bool
	Repo(ctx context.Context, installationID int64, owner, name string) (RepoClient, error)
}

type githubConnector struct{ c *github.Connector }

// GitHubConnector adapts a *github.Connector.
func GitHubConnector(c *github.Connector) Connector { return githubConnector{c: c} }

func (g githubConnector) Configured() bool { return g.c.Configured() }

func (g githubConnector) Repo(ctx context.Context, installationID int64, owner, name string) (RepoClient, error) {
	cl, err := g.c.Installation(ctx, installationID)
	if err != nil {
		return nil, err
	}
	return cl.Repo(owner, name), nil
}

// Request is one publish invocation.
type Request struct {
	ProjectID      string          `json:"projectId,omitempty"`
	InstallationID int64           `json:"installation_id,omitempty"`
	Repo           string          `json:"repo,omitempty"`
	Files          json.RawMessage `json:"files,omitempty"`
	// Direct pushes onto the base branch instead of opening a pull request.
	Direct        bool   `json:"direct,omitempty"`
	AutoMerge     bool   `json:"autoMerge,omitempty"`
	Branch        string `json:"branch,omitempty"`
	DeployHookURL string `json:"deployHookUrl,omitempty"`
	Title         string `json:"title,omitempty"`
	Body          string `json:"body,omitempty"`
}

// Result describes what a publish did. Merged and Deployed are set only when
// the corresponding best-effort call was attempted.
type Result struct {
	OK         bool     `json:"ok"`
	NoChanges  bool     `json:"no_changes,omitempty"`
	Repo       string   `json:"repo"`
	BaseBranch string   `json:"base_branch"`
	Branch     string   `json:"branch"`
	PRURL      string   `json:"pr_url,omitempty"`
	PRNumber   int      `json:"pr_number,omitempty"`
	Changed    []string `json:"changed"`
	Merged     *bool    `json:"merged,omitempty"`
	Deployed   *bool    `json:"deployed,omitempty"`
	Digest     string   `json:"digest"`
}

// Options wires a Service. Store and Connector are required.
type Options struct {
	Store     store.Store
	Connector Connector
	Flights   Flights
	Admission *Admission
	Archive   archive.Archiver
	Deploy    DeployHook
	// DeployHookURL is used when a request does not name one.
	DeployHookURL string
	// BaseFiles supplies the template tree merged by ProjectFiles.
	BaseFiles func() (files.FileMap, error)
	Now       func() time.Time
	Logger    *zap.SugaredLogger
}

type Service struct {
	store     store.Store
	connector Connector
	flights   Flights
	admission *Admission
	archive   archive.Archiver
	deploy    DeployHook
	hookURL   string
	baseFiles func() (files.FileMap, error)
	now       func() time.Time
	log       *zap.SugaredLogger
}

func NewService(o Options) *Service {
	s := &Service{
		store:     o.Store,
		connector: o.Connector,
		flights:   o.Flights,
		admission: o.Admission,
		archive:   o.Archive,
		deploy:    o.Deploy,
		hookURL:   o.DeployHookURL,
		baseFiles: o.BaseFiles,
		now:       o.Now,
		log:       o.Logger,
	}
	if s.flights == nil {
		s.flights = NewMemoryFlights()
	}
	if s.archive == nil {
		s.archive = archive.Nop{}
	}
	if s.baseFiles == nil {
		s.baseFiles = func() (files.FileMap, error) { return files.FileMap{}, nil }
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = log.With("component", "publish")
	}
	return s
}

// FlightKey identifies a publish of identical content to the same target.
func FlightKey(repo, branch, digest string) string {
	return repo + "@" + branch + "#" + digest
}

func remote(err error) *Error {
	return &Error{Kind: RemoteFailure, Msg: github.Message(err), Err: err}
}

type target struct {
	installationID int64
	repo           string
	owner, name    string
}

// Publish runs the full publish flow for req.
func (s *Service) Publish(ctx context.Context, req Request) (*Result, error) {
	if s.connector == nil || !s.connector.Configured() {
		return nil, newError(MissingConfiguration, "GitHub App credentials are not configured")
	}
	leave, ok := s.admission.TryEnter()
	if !ok {
		return nil, newError(Conflict, "too many publishes in progress, try again shortly")
	}
	defer leave()

	tgt, err := s.resolveTarget(ctx, req)
	if err != nil {
		return nil, err
	}
	content, err := s.resolveContent(ctx, req)
	if err != nil {
		return nil, err
	}
	prepared := Prepare(content, PrepareOptions{MergeDependencies: true})
	digest := files.Digest(prepared)

	branchID := req.Branch
	switch {
	case req.Direct:
		branchID = "direct"
	case branchID == "":
		branchID = "default"
	}
	key := FlightKey(tgt.repo, branchID, digest)
	release, ok := s.flights.Acquire(key)
	if !ok {
		return nil, newError(Conflict, "an identical publish to %s is already in progress", tgt.repo)
	}
	defer release()

	logger := s.log.With("repo", tgt.repo, "project_id", req.ProjectID, "digest", digest[:12])
	logger.Infow("publish started", "files", len(prepared), "direct", req.Direct)

	repo, err := s.connector.Repo(ctx, tgt.installationID, tgt.owner, tgt.name)
	if err != nil {
		if errors.Is(err, github.ErrMissingCredentials) {
			return nil, &Error{Kind: MissingConfiguration, Msg: err.Error(), Err: err}
		}
		return nil, remote(err)
	}

	base, baseSHA, err := s.ensureBase(ctx, repo)
	if err != nil {
		return nil, err
	}
	res := &Result{OK: true, Repo: tgt.repo, BaseBranch: base, Digest: digest, Changed: []string{}}

	working := base
	if !req.Direct {
		working = req.Branch
		if working == "" {
			working = fmt.Sprintf("publish/%d", s.now().UnixMilli())
		}
		if _, exists, err := repo.BranchHead(ctx, working); err != nil {
			return nil, remote(err)
		} else if !exists {
			if err := repo.CreateBranch(ctx, working, baseSHA); err != nil {
				return nil, remote(err)
			}
		}
	}
	res.Branch = working

	changed, err := writeChanged(ctx, repo, working, prepared)
	res.Changed = changed
	if err != nil {
		logger.Errorw("publish aborted while writing files", "branch", working, "written", len(changed), "error", err)
		return nil, err
	}

	if len(changed) == 0 {
		logger.Infow("publish found no changes", "branch", working)
		res.NoChanges = true
		s.persist(ctx, req.ProjectID, func(p *store.Project) { p.Repo = tgt.repo })
		return res, nil
	}

	s.snapshot(ctx, logger, req.ProjectID, tgt.repo, digest, prepared)
	hook := req.DeployHookURL
	if hook == "" {
		hook = s.hookURL
	}

	if req.Direct {
		res.Deployed = s.fireHook(ctx, logger, hook)
		s.persist(ctx, req.ProjectID, func(p *store.Project) { p.Repo = tgt.repo })
		logger.Infow("publish pushed directly", "branch", working, "changed", len(changed))
		return res, nil
	}

	title := req.Title
	if title == "" {
		title = DefaultTitle
	}
	body := req.Body
	if body == "" {
		body = fmt.Sprintf(bodyTemplate, tgt.owner, tgt.name)
	}
	res.PRURL, res.PRNumber, err = repo.OpenPullRequest(ctx, github.PullRequest{Title: title, Body: body, Head: working, Base: base})
	if err != nil {
		return nil, remote(err)
	}
	if req.AutoMerge {
		merged, err := repo.MergePullRequest(ctx, res.PRNumber)
		if err != nil {
			logger.Warnw("auto-merge failed", "pr", res.PRNumber, "error", github.Message(err))
		}
		res.Merged = &merged
	}
	res.Deployed = s.fireHook(ctx, logger, hook)
	s.persist(ctx, req.ProjectID, func(p *store.Project) {
		p.Repo = tgt.repo
		p.LastPRURL = res.PRURL
	})
	logger.Infow("publish opened pull request", "branch", working, "pr", res.PRURL, "changed", len(changed))
	return res, nil
}

func (s *Service) resolveTarget(ctx context.Context, req Request) (target, error) {
	t := target{installationID: req.InstallationID, repo: req.Repo}
	if req.ProjectID != "" && (t.installationID == 0 || t.repo == "") {
		p, err := s.store.GetProject(ctx, req.ProjectID)
		if errors.Is(err, store.ErrNotFound) {
			return target{}, newError(NotFound, "project not found")
		}
		if err != nil {
			return target{}, fmt.Errorf("load project: %w", err)
		}
		if t.installationID == 0 {
			t.installationID = p.InstallationID
		}
		if t.repo == "" {
			t.repo = p.Repo
		}
	}
	if t.installationID == 0 || t.repo == "" {
		return target{}, newError(MissingTarget, "installation_id and repo are required (either in body or fetched via projectId)")
	}
	owner, name, err := github.SplitRepo(t.repo)
	if err != nil {
		return target{}, &Error{Kind: InvalidInput, Msg: "repo must be in the form 'owner/name'", Err: err}
	}
	t.owner, t.name, t.repo = owner, name, owner+"/"+name
	return t, nil
}

func (s *Service) resolveContent(ctx context.Context, req Request) (files.FileMap, error) {
	m := files.Normalize(req.Files)
	if len(m) > 0 {
		return m, nil
	}
	if req.ProjectID != "" {
		frag, err := s.store.LatestFragment(ctx, req.ProjectID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("load files: %w", err)
		default:
			m = files.Normalize(frag.Files)
		}
	}
	if len(m) == 0 {
		return nil, newError(NoContent, "no files to publish: provide files or ensure the project has generated files")
	}
	return m, nil
}

// ensureBase returns the default branch and its tip, seeding an empty
// repository with an initial commit.
func (s *Service) ensureBase(ctx context.Context, repo RepoClient) (string, string, error) {
	base, err := repo.DefaultBranch(ctx)
	if err != nil {
		return "", "", remote(err)
	}
	sha, ok, err := repo.BranchHead(ctx, base)
	if err != nil {
		return "", "", remote(err)
	}
	if !ok {
		s.log.Infow("base branch missing, creating initial commit", "branch", base)
		if sha, err = repo.CreateInitialCommit(ctx, base); err != nil {
			return "", "", remote(err)
		}
	}
	return base, sha, nil
}

// writeChanged writes each file whose content differs from the branch, one
// path at a time. Files already written stay written if a later one fails.
func writeChanged(ctx context.Context, repo RepoClient, branch string, m files.FileMap) ([]string, error) {
	changed := []string{}
	for _, p := range m.Paths() {
		want := m[p]
		cur, exists, err := repo.ReadFile(ctx, p, branch)
		if err != nil {
			return changed, remote(err)
		}
		if exists && cur.Matches(want) {
			continue
		}
		msg := "chore: add " + p
		if exists {
			msg = "chore: update " + p
		}
		if err := repo.WriteFile(ctx, p, branch, want, msg, cur.SHA); err != nil {
			return changed, remote(err)
		}
		changed = append(changed, p)
	}
	return changed, nil
}

func (s *Service) fireHook(ctx context.Context, logger *zap.SugaredLogger, url string) *bool {
	if url == "" {
		return nil
	}
	err := s.deploy.Fire(ctx, url)
	if err != nil {
		logger.Warnw("deploy hook failed", "error", err)
	}
	ok := err == nil
	return &ok
}

func (s *Service) persist(ctx context.Context, projectID string, fn func(*store.Project)) {
	if projectID == "" {
		return
	}
	if _, err := s.store.UpdateProject(ctx, projectID, fn); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Warnw("persist project failed", "project_id", projectID, "error", err)
	}
}

func (s *Service) snapshot(ctx context.Context, logger *zap.SugaredLogger, projectID, repo, digest string, m files.FileMap) {
	err := s.archive.Put(ctx, archive.Snapshot{
		ProjectID: projectID,
		Repo:      repo,
		Digest:    digest,
		CreatedAt: s.now().UTC(),
		Files:     m,
	})
	if err != nil {
		logger.Warnw("archive snapshot failed", "error", err)
	}
}
