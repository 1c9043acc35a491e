// Package githubtest provides an in-memory fake of the GitHub REST endpoints
// the publisher calls.
package githubtest

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Repo is the fake's view of one repository.
type Repo struct {
	DefaultBranch string
	Private       bool
	// RejectGitDataWhenEmpty makes blob/tree/commit calls answer 409 while
	// the repository has no commits, like github.com does.
	RejectGitDataWhenEmpty bool
	// MergeFails makes pull request merges answer 405.
	MergeFails bool
	// LargeFileSize, when set, makes the contents API answer files of at
	// least that many bytes with encoding "none" and no content, like
	// github.com does past 1 MB.
	LargeFileSize int

	refs    map[string]string            // branch → commit sha
	commits map[string]map[string]string // commit sha → files
	blobs   map[string]string
	trees   map[string]map[string]string
	pulls   []Pull
}

// Pull records an opened pull request.
type Pull struct {
	Number int
	Title  string
	Body   string
	Head   string
	Base   string
	Merged bool
}

// Server is a fake GitHub API.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	repos  map[string]*Repo
	seq    int
	writes int
	tokens int
	calls  []string
	auth   []string
}

// NewServer starts a fake. Close it when done.
func NewServer() *Server {
	s := &Server{repos: map[string]*Repo{}}
	r := chi.NewRouter()
	r.Post("/app/installations/{id}/access_tokens", s.accessToken)
	r.Get("/installation/repositories", s.listRepos)
	r.Route("/repos/{owner}/{repo}", func(r chi.Router) {
		r.Get("/", s.getRepo)
		r.Get("/git/ref/*", s.getRef)
		r.Post("/git/refs", s.createRef)
		r.Post("/git/blobs", s.createBlob)
		r.Post("/git/trees", s.createTree)
		r.Post("/git/commits", s.createCommit)
		r.Get("/contents/*", s.getContents)
		r.Put("/contents/*", s.putContents)
		r.Post("/pulls", s.createPull)
		r.Put("/pulls/{number}/merge", s.mergePull)
	})
	s.Server = httptest.NewServer(s.record(r))
	return s
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, r.Method+" "+r.URL.Path)
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// AddRepo registers an empty repository and returns it for tweaking.
func (s *Server) AddRepo(full, defaultBranch string) *Repo {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Repo{
		DefaultBranch: defaultBranch,
		refs:          map[string]string{},
		commits:       map[string]map[string]string{},
		blobs:         map[string]string{},
		trees:         map[string]map[string]string{},
	}
	s.repos[full] = r
	return r
}

// Seed commits files directly onto branch, creating it if needed.
func (s *Server) Seed(full, branch string, files map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.repos[full]
	snapshot := r.branchFiles(branch)
	for p, c := range files {
		snapshot[p] = c
	}
	r.refs[branch] = s.commit(r, snapshot)
}

// Files returns a copy of the files on branch.
func (s *Server) Files(full, branch string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[full]
	if !ok {
		return nil
	}
	if _, ok := r.refs[branch]; !ok {
		return nil
	}
	return r.branchFiles(branch)
}

// Branches lists the branches of a repository.
func (s *Server) Branches(full string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for b := range s.repos[full].refs {
		out = append(out, b)
	}
	return out
}

// Pulls returns the pull requests opened against a repository.
func (s *Server) Pulls(full string) []Pull {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Pull(nil), s.repos[full].pulls...)
}

// ContentWrites counts create/update calls on the contents API.
func (s *Server) ContentWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// TokensIssued counts installation access tokens handed out.
func (s *Server) TokensIssued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// Calls returns "METHOD /path" for every request seen.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// AuthHeaders returns the Authorization header of every request seen.
func (s *Server) AuthHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auth...)
}

// Client returns an http.Client that sends every request to the fake,
// whatever host it was addressed to.
func (s *Server) Client() *http.Client {
	return &http.Client{Transport: &RewriteTransport{BaseURL: s.URL}}
}

// RewriteTransport sends requests to BaseURL instead of the original host.
type RewriteTransport struct {
	BaseURL string
	Base    http.RoundTripper
}

func (t *RewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return nil, err
	}
	req = req.Clone(req.Context())
	req.URL.Scheme = u.Scheme
	req.URL.Host = u.Host
	return base.RoundTrip(req)
}

// handler helpers, all called with s.mu held

func (r *Repo) branchFiles(branch string) map[string]string {
	out := map[string]string{}
	for p, c := range r.commits[r.refs[branch]] {
		out[p] = c
	}
	return out
}

func (s *Server) nextSHA(seed string) string {
	s.seq++
	sum := sha1.Sum([]byte(fmt.Sprintf("%d:%s", s.seq, seed)))
	return hex.EncodeToString(sum[:])
}

func (s *Server) commit(r *Repo, files map[string]string) string {
	sha := s.nextSHA("commit")
	r.commits[sha] = files
	return sha
}

func blobSHA(content string) string {
	sum := sha1.Sum([]byte("blob " + strconv.Itoa(len(content)) + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func (s *Server) repo(w http.ResponseWriter, r *http.Request) (*Repo, string, bool) {
	full := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo")
	repo, ok := s.repos[full]
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found")
	}
	return repo, full, ok
}

func (s *Server) accessToken(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeError(w, http.StatusUnauthorized, "A JSON web token could not be decoded")
		return
	}
	s.mu.Lock()
	s.tokens++
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":      "ghs_installation_" + chi.URLParam(r, "id"),
		"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
}

func (s *Server) listRepos(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var repos []map[string]any
	for full, repo := range s.repos {
		repos = append(repos, map[string]any{
			"full_name":      full,
			"default_branch": repo.DefaultBranch,
			"private":        repo.Private,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_count": len(repos), "repositories": repos})
}

func (s *Server) getRepo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, full, ok := s.repo(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"full_name":      full,
		"default_branch": repo.DefaultBranch,
		"private":        repo.Private,
	})
}

func (s *Server) getRef(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, _, ok := s.repo(w, r)
	if !ok {
		return
	}
	ref := chi.URLParam(r, "*")
	if len(repo.refs) == 0 {
		writeError(w, http.StatusConflict, "Git Repository is empty.")
		return
	}
	branch, isHead := strings.CutPrefix(ref, "heads/")
	sha, exists := repo.refs[branch]
	if !isHead || !exists {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ref":    "refs/" + ref,
		"object": map[string]any{"type": "commit", "sha": sha},
	})
}

func (s *Server) createRef(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, _, ok := s.repo(w, r)
	if !ok {
		return
	}
	branch, ok := strings.CutPrefix(body.Ref, "refs/heads/")
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "Reference name is invalid")
		return
	}
	if _, exists := repo.refs[branch]; exists {
		writeError(w, http.StatusUnprocessableEntity, "Reference already exists")
		return
	}
	if _, known := repo.commits[body.SHA]; !known {
		writeError(w, http.StatusUnprocessableEntity, "Object does not exist")
		return
	}
	repo.refs[branch] = body.SHA
	writeJSON(w, http.StatusCreated, map[string]any{
		"ref":    body.Ref,
		"object": map[string]any{"type": "commit", "sha": body.SHA},
	})
}

func (s *Server) createBlob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, _, ok := s.repo(w, r)
	if !ok {
		return
	}
	if repo.RejectGitDataWhenEmpty && len(repo.refs) == 0 {
		writeError(w, http.StatusConflict, "Git Repository is empty.")
		return
	}
	content := body.Content
	if body.Encoding == "base64" {
		b, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "Invalid base64")
			return
		}
		content = string(b)
	}
	sha := blobSHA(content)
	repo.blobs[sha] = content
	writeJSON(w, http.StatusCreated, map[string]any{"sha": sha})
}

func (s *Server) createTree(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BaseTree string `json:"base_tree"`
		Tree     []struct {
			Path    string  `json:"path"`
			SHA     *string `json:"sha"`
			Content *string `json:"content"`
		} `json:"tree"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, _, ok := s.repo(w, r)
	if !ok {
		return
	}
	files := map[string]string{}
	for p, c := range repo.trees[body.BaseTree] {
		files[p] = c
	}
	for _, e := range body.Tree {
		switch {
		case e.Content != nil:
			files[e.Path] = *e.Content
		case e.SHA != nil:
			c, known := repo.blobs[*e.SHA]
			if !known {
				writeError(w, http.StatusUnprocessableEntity, "tree.sha is not a valid blob")
				return
			}
			files[e.Path] = c
		}
	}
	sha := s.nextSHA("tree")
	repo.trees[sha] = files
	writeJSON(w, http.StatusCreated, map[string]any{"sha": sha})
}

func (s *Server) createCommit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, _, ok := s.repo(w, r)
	if !ok {
		return
	}
	files, known := repo.trees[body.Tree]
	if !known {
		writeError(w, http.StatusUnprocessableEntity, "Tree SHA does not exist")
		return
	}
	snapshot := map[string]string{}
	for p, c := range files {
		snapshot[p] = c
	}
	sha := s.commit(repo, snapshot)
	writeJSON(w, http.StatusCreated, map[string]any{"sha": sha, "message": body.Message})
}

func (s *Server) getContents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, _, ok := s.repo(w, r)
	if !ok {
		return
	}
	path := chi.URLParam(r, "*")
	branch := r.URL.Query().Get("ref")
	if branch == "" {
		branch = repo.DefaultBranch
	}
	if _, exists := repo.refs[branch]; !exists {
		writeError(w, http.StatusNotFound, "No commit found for the ref "+branch)
		return
	}
	content, exists := repo.branchFiles(branch)[path]
	if !exists {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if repo.LargeFileSize > 0 && len(content) >= repo.LargeFileSize {
		writeJSON(w, http.StatusOK, map[string]any{
			"type":     "file",
			"path":     path,
			"size":     len(content),
			"encoding": "none",
			"content":  "",
			"sha":      blobSHA(content),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":     "file",
		"path":     path,
		"size":     len(content),
		"encoding": "base64",
		"content":  base64.StdEncoding.EncodeToString([]byte(content)),
		"sha":      blobSHA(content),
	})
}

func (s *Server) putContents(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string  `json:"message"`
		Content []byte  `json:"content"`
		SHA     *string `json:"sha"`
		Branch  string  `json:"branch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, _, ok := s.repo(w, r)
	if !ok {
		return
	}
	path := chi.URLParam(r, "*")
	branch := body.Branch
	if branch == "" {
		branch = repo.DefaultBranch
	}
	_, branchExists := repo.refs[branch]
	if !branchExists && len(repo.refs) > 0 {
		writeError(w, http.StatusNotFound, "Branch "+branch+" not found")
		return
	}
	files := repo.branchFiles(branch)
	existing, exists := files[path]
	switch {
	case exists && body.SHA == nil:
		writeError(w, http.StatusUnprocessableEntity, `Invalid request. "sha" wasn't supplied.`)
		return
	case exists && *body.SHA != blobSHA(existing):
		writeError(w, http.StatusConflict, fmt.Sprintf("%s does not match %s", path, *body.SHA))
		return
	}
	s.writes++
	files[path] = string(body.Content)
	repo.refs[branch] = s.commit(repo, files)
	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"content": map[string]any{"path": path, "sha": blobSHA(string(body.Content))},
		"commit":  map[string]any{"sha": repo.refs[branch], "message": body.Message},
	})
}

func (s *Server) createPull(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		Head  string `json:"head"`
		Base  string `json:"base"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, full, ok := s.repo(w, r)
	if !ok {
		return
	}
	for _, b := range []string{body.Head, body.Base} {
		if _, exists := repo.refs[b]; !exists {
			writeError(w, http.StatusUnprocessableEntity, "Validation Failed")
			return
		}
	}
	n := len(repo.pulls) + 1
	repo.pulls = append(repo.pulls, Pull{Number: n, Title: body.Title, Body: body.Body, Head: body.Head, Base: body.Base})
	writeJSON(w, http.StatusCreated, map[string]any{
		"number":   n,
		"html_url": fmt.Sprintf("https://github.com/%s/pull/%d", full, n),
		"state":    "open",
	})
}

func (s *Server) mergePull(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, _, ok := s.repo(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || n < 1 || n > len(repo.pulls) {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if repo.MergeFails {
		writeError(w, http.StatusMethodNotAllowed, "Pull Request is not mergeable")
		return
	}
	pr := &repo.pulls[n-1]
	files := repo.branchFiles(pr.Base)
	for p, c := range repo.branchFiles(pr.Head) {
		files[p] = c
	}
	repo.refs[pr.Base] = s.commit(repo, files)
	pr.Merged = true
	writeJSON(w, http.StatusOK, map[string]any{"merged": true, "sha": repo.refs[pr.Base], "message": "Pull Request successfully merged"})
}
