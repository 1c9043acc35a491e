package github

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/google/go-github/v66/github"
)

const (
	initialReadme  = "# Initial commit\n"
	initialMessage = "chore: initial commit"
)

// Repo performs calls against a single repository.
type Repo struct {
	gh    *github.Client
	Owner string
	Name  string
}

func (r *Repo) FullName() string { return r.Owner + "/" + r.Name }

// DefaultBranch returns the repository's default branch, "main" when the API
// reports none.
func (r *Repo) DefaultBranch(ctx context.Context) (string, error) {
	repo, _, err := r.gh.Repositories.Get(ctx, r.Owner, r.Name)
	if err != nil {
		return "", fmt.Errorf("get repository %s: %w", r.FullName(), err)
	}
	if b := repo.GetDefaultBranch(); b != "" {
		return b, nil
	}
	return "main", nil
}

// BranchHead returns the commit a branch points at. ok is false when the
// branch does not exist, including when the repository has no commits.
func (r *Repo) BranchHead(ctx context.Context, branch string) (sha string, ok bool, err error) {
	ref, _, err := r.gh.Git.GetRef(ctx, r.Owner, r.Name, "heads/"+branch)
	if err != nil {
		if IsNotFound(err) || IsEmptyRepository(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return ref.GetObject().GetSHA(), true, nil
}

// CreateInitialCommit seeds branch with a single README commit and returns
// its SHA. Repositories that refuse git data calls while empty are seeded
// through the contents API instead.
func (r *Repo) CreateInitialCommit(ctx context.Context, branch string) (string, error) {
	blob, _, err := r.gh.Git.CreateBlob(ctx, r.Owner, r.Name, &github.Blob{
		Content:  github.String(initialReadme),
		Encoding: github.String("utf-8"),
	})
	if err != nil {
		if IsEmptyRepository(err) {
			return r.seedWithContents(ctx, branch)
		}
		return "", fmt.Errorf("create blob: %w", err)
	}
	tree, _, err := r.gh.Git.CreateTree(ctx, r.Owner, r.Name, "", []*github.TreeEntry{{
		Path: github.String("README.md"),
		Mode: github.String("100644"),
		Type: github.String("blob"),
		SHA:  blob.SHA,
	}})
	if err != nil {
		return "", fmt.Errorf("create tree: %w", err)
	}
	commit, _, err := r.gh.Git.CreateCommit(ctx, r.Owner, r.Name, &github.Commit{
		Message: github.String(initialMessage),
		Tree:    &github.Tree{SHA: tree.SHA},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}
	if err := r.CreateBranch(ctx, branch, commit.GetSHA()); err != nil {
		return "", err
	}
	return commit.GetSHA(), nil
}

func (r *Repo) seedWithContents(ctx context.Context, branch string) (string, error) {
	res, _, err := r.gh.Repositories.CreateFile(ctx, r.Owner, r.Name, "README.md", &github.RepositoryContentFileOptions{
		Message: github.String(initialMessage),
		Content: []byte(initialReadme),
		Branch:  github.String(branch),
	})
	if err != nil {
		return "", fmt.Errorf("seed repository: %w", err)
	}
	return res.Commit.GetSHA(), nil
}

// CreateBranch points a new branch at sha.
func (r *Repo) CreateBranch(ctx context.Context, branch, sha string) error {
	_, _, err := r.gh.Git.CreateRef(ctx, r.Owner, r.Name, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.String(sha)},
	})
	if err != nil {
		return fmt.Errorf("create branch %s: %w", branch, err)
	}
	return nil
}

// File is a file's decoded content and blob SHA on a branch.
type File struct {
	Content string
	SHA     string
	// Truncated is set for files over the contents API size limit, which
	// come back without content.
	Truncated bool
}

// Matches reports whether the file already holds content. Truncated files
// are compared by git blob SHA.
func (f File) Matches(content string) bool {
	if f.Truncated {
		return BlobSHA(content) == f.SHA
	}
	return f.Content == content
}

// BlobSHA is the git object id of a blob holding content.
func BlobSHA(content string) string {
	sum := sha1.Sum([]byte("blob " + strconv.Itoa(len(content)) + "\x00" + content))
	return hex.EncodeToString(sum[:])
}

// ReadFile fetches path on branch. ok is false when the file does not exist.
func (r *Repo) ReadFile(ctx context.Context, path, branch string) (f File, ok bool, err error) {
	fc, _, _, err := r.gh.Repositories.GetContents(ctx, r.Owner, r.Name, path, &github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		if IsNotFound(err) {
			return File{}, false, nil
		}
		return File{}, false, err
	}
	if fc == nil {
		// path is a directory
		return File{}, false, nil
	}
	if fc.GetEncoding() == "none" {
		return File{SHA: fc.GetSHA(), Truncated: true}, true, nil
	}
	content, err := fc.GetContent()
	if err != nil {
		return File{}, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return File{Content: content, SHA: fc.GetSHA()}, true, nil
}

// WriteFile creates path when sha is empty and updates it otherwise. A 409
// on update means the file moved underneath us: the SHA is re-read and the
// update retried once.
func (r *Repo) WriteFile(ctx context.Context, path, branch, content, message, sha string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
		Branch:  github.String(branch),
	}
	if sha == "" {
		_, _, err := r.gh.Repositories.CreateFile(ctx, r.Owner, r.Name, path, opts)
		return err
	}
	opts.SHA = github.String(sha)
	_, _, err := r.gh.Repositories.UpdateFile(ctx, r.Owner, r.Name, path, opts)
	if err != nil && isConflict(err) {
		cur, ok, err2 := r.ReadFile(ctx, path, branch)
		if err2 != nil || !ok {
			return err
		}
		opts.SHA = github.String(cur.SHA)
		_, _, err = r.gh.Repositories.UpdateFile(ctx, r.Owner, r.Name, path, opts)
	}
	return err
}

// PullRequest is what OpenPullRequest needs.
type PullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// OpenPullRequest opens head → base and returns its URL and number.
func (r *Repo) OpenPullRequest(ctx context.Context, pr PullRequest) (string, int, error) {
	created, _, err := r.gh.PullRequests.Create(ctx, r.Owner, r.Name, &github.NewPullRequest{
		Title: github.String(pr.Title),
		Body:  github.String(pr.Body),
		Head:  github.String(pr.Head),
		Base:  github.String(pr.Base),
	})
	if err != nil {
		return "", 0, err
	}
	return created.GetHTMLURL(), created.GetNumber(), nil
}

// MergePullRequest merges the pull request with the default merge method.
func (r *Repo) MergePullRequest(ctx context.Context, number int) (bool, error) {
	res, _, err := r.gh.PullRequests.Merge(ctx, r.Owner, r.Name, number, "", nil)
	if err != nil {
		return false, err
	}
	return res.GetMerged(), nil
}
