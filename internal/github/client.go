// Package github wraps the GitHub REST calls the publisher needs and the
// GitHub App installation authentication that scopes them.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v66/github"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/oauth2"
)

// ErrMissingCredentials means neither App credentials nor a token were
// configured.
var ErrMissingCredentials = errors.New("github app credentials not configured")

const installationCacheSize = 128

// Config selects App installation auth (AppID + PrivateKey) or a static
// token. App credentials win when both are present.
type Config struct {
	AppID      int64
	PrivateKey []byte
	Token      string
	// APIBaseURL overrides https://api.github.com/ (GitHub Enterprise, tests).
	APIBaseURL string
}

// Connector hands out API clients scoped to an installation.
type Connector struct {
	cfg     Config
	hc      *http.Client // optional; for tests
	mu      sync.Mutex
	clients *lru.Cache[int64, *Client]
}

func NewConnector(cfg Config) (*Connector, error) {
	cache, err := lru.New[int64, *Client](installationCacheSize)
	if err != nil {
		return nil, err
	}
	return &Connector{cfg: cfg, clients: cache}, nil
}

// NewConnectorWithHTTPClient returns a connector whose clients all use hc
// (e.g. in tests). No credentials are attached.
func NewConnectorWithHTTPClient(hc *http.Client) *Connector {
	cache, _ := lru.New[int64, *Client](installationCacheSize)
	return &Connector{hc: hc, clients: cache}
}

// Configured reports whether calls can be authenticated.
func (c *Connector) Configured() bool {
	return c.hc != nil || c.appMode() || c.cfg.Token != ""
}

func (c *Connector) appMode() bool {
	return c.cfg.AppID != 0 && len(c.cfg.PrivateKey) > 0
}

// Installation returns a client acting as the given installation.
func (c *Connector) Installation(ctx context.Context, installationID int64) (*Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients.Get(installationID); ok {
		return cl, nil
	}
	hc, err := c.httpClient(ctx, installationID)
	if err != nil {
		return nil, err
	}
	gh := github.NewClient(hc)
	if c.cfg.APIBaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(c.cfg.APIBaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse api base url: %w", err)
		}
		gh.BaseURL = u
	}
	cl := &Client{gh: gh}
	c.clients.Add(installationID, cl)
	return cl, nil
}

func (c *Connector) httpClient(ctx context.Context, installationID int64) (*http.Client, error) {
	switch {
	case c.hc != nil:
		return c.hc, nil
	case c.appMode():
		if installationID == 0 {
			return nil, fmt.Errorf("installation id is required")
		}
		tr, err := ghinstallation.New(http.DefaultTransport, c.cfg.AppID, installationID, c.cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("github app auth: %w", err)
		}
		if c.cfg.APIBaseURL != "" {
			tr.BaseURL = strings.TrimSuffix(c.cfg.APIBaseURL, "/")
		}
		return &http.Client{Transport: tr}, nil
	case c.cfg.Token != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.cfg.Token})
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: http.DefaultTransport})
		return oauth2.NewClient(ctx, ts), nil
	}
	return nil, ErrMissingCredentials
}

// Client is an authenticated API client.
type Client struct {
	gh *github.Client
}

// Repo scopes the client to one repository.
func (c *Client) Repo(owner, name string) *Repo {
	return &Repo{gh: c.gh, Owner: owner, Name: name}
}

// RepoSummary describes a repository an installation can reach.
type RepoSummary struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

// ListInstallationRepos pages through every repository the installation can
// access.
func (c *Client) ListInstallationRepos(ctx context.Context) ([]RepoSummary, error) {
	opts := &github.ListOptions{PerPage: 100}
	var out []RepoSummary
	for {
		page, resp, err := c.gh.Apps.ListRepos(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Repositories {
			out = append(out, RepoSummary{
				FullName:      r.GetFullName(),
				DefaultBranch: r.GetDefaultBranch(),
				Private:       r.GetPrivate(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// SplitRepo parses "owner/name".
func SplitRepo(full string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(full), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q, want owner/name", full)
	}
	return owner, name, nil
}

func statusOf(err error) int {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	return 0
}

// IsNotFound reports a 404 from the API.
func IsNotFound(err error) bool { return statusOf(err) == http.StatusNotFound }

func isConflict(err error) bool { return statusOf(err) == http.StatusConflict }

// IsEmptyRepository reports the 409 GitHub returns for git data calls on a
// repository without commits.
func IsEmptyRepository(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && isConflict(err) &&
		strings.Contains(strings.ToLower(ghErr.Message), "empty")
}

// Message returns the API-provided error message when there is one.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Message != "" {
		return ghErr.Message
	}
	return err.Error()
}
