package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shaun/publisher/internal/archive"
	"github.com/shaun/publisher/internal/files"
	"github.com/shaun/publisher/internal/github"
	"github.com/shaun/publisher/internal/github/githubtest"
	"github.com/shaun/publisher/internal/scaffold"
	"github.com/shaun/publisher/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

var fixedNow = time.UnixMilli(1700000000000)

const pageFiles = `{"src/app/page.tsx": "export default function Page() { return null }"}`

type fixture struct {
	srv     *githubtest.Server
	store   *store.Memory
	archive *archive.Memory
	svc     *Service
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	srv := githubtest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddRepo("octo/site", "main")

	f := &fixture{srv: srv, store: store.NewMemory(), archive: archive.NewMemory()}
	ctx := context.Background()
	require.NoError(t, f.store.PutProject(ctx, store.Project{ID: "p1", InstallationID: 7, Repo: "octo/site"}))
	_, err := f.store.AddFragment(ctx, store.Fragment{ProjectID: "p1", Files: json.RawMessage(pageFiles)})
	require.NoError(t, err)

	opts := Options{
		Store:     f.store,
		Connector: GitHubConnector(github.NewConnectorWithHTTPClient(srv.Client())),
		Archive:   f.archive,
		Now:       func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.svc = NewService(opts)
	return f
}

func TestPublish_emptyRepositoryOpensPullRequest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.Publish(ctx, Request{ProjectID: "p1"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "octo/site", res.Repo)
	assert.Equal(t, "main", res.BaseBranch)
	assert.Equal(t, "publish/1700000000000", res.Branch)
	assert.Equal(t, "https://github.com/octo/site/pull/1", res.PRURL)
	assert.Equal(t, 1, res.PRNumber)
	assert.Nil(t, res.Merged)
	assert.Nil(t, res.Deployed)
	assert.Contains(t, res.Changed, "src/app/page.tsx")
	assert.Contains(t, res.Changed, scaffold.ManifestPath)

	pulls := f.srv.Pulls("octo/site")
	require.Len(t, pulls, 1)
	assert.Equal(t, DefaultTitle, pulls[0].Title)
	assert.Equal(t, "This PR was opened automatically by the Publish endpoint.\nOwner: octo\nRepo: site", pulls[0].Body)
	assert.Equal(t, "main", pulls[0].Base)

	main := f.srv.Files("octo/site", "main")
	assert.Equal(t, map[string]string{"README.md": "# Initial commit\n"}, main)
	branch := f.srv.Files("octo/site", res.Branch)
	assert.Equal(t, "export default function Page() { return null }", branch["src/app/page.tsx"])
	assert.Contains(t, branch, "src/app/layout.tsx")

	p, err := f.store.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, res.PRURL, p.LastPRURL)

	snap, err := f.svc.Snapshot(ctx, "p1", res.Digest)
	require.NoError(t, err)
	assert.Equal(t, "octo/site", snap.Repo)
	assert.Equal(t, branch["src/app/page.tsx"], snap.Files["src/app/page.tsx"])

	_, err = f.svc.Snapshot(ctx, "p1", "0000")
	assert.Equal(t, NotFound, KindOf(err))
}

func TestPublish_gitDataRejectedOnEmptyRepository(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.AddRepo("octo/site", "main").RejectGitDataWhenEmpty = true

	res, err := f.svc.Publish(context.Background(), Request{ProjectID: "p1"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.PRURL)
	assert.Contains(t, f.srv.Files("octo/site", "main"), "README.md")
}

func TestPublish_directIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Publish(ctx, Request{ProjectID: "p1", Direct: true})
	require.NoError(t, err)
	assert.Equal(t, "main", first.Branch)
	assert.Empty(t, first.PRURL)
	assert.False(t, first.NoChanges)
	writes := f.srv.ContentWrites()

	second, err := f.svc.Publish(ctx, Request{ProjectID: "p1", Direct: true})
	require.NoError(t, err)
	assert.True(t, second.NoChanges)
	assert.Empty(t, second.Changed)
	assert.Equal(t, first.Digest, second.Digest)
	assert.Equal(t, writes, f.srv.ContentWrites())
	assert.Empty(t, f.srv.Pulls("octo/site"))
}

func TestPublish_onlyChangedFilesAreWritten(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Publish(ctx, Request{ProjectID: "p1", Direct: true})
	require.NoError(t, err)

	res, err := f.svc.Publish(ctx, Request{
		ProjectID: "p1",
		Direct:    true,
		Files:     json.RawMessage(`{"src/app/page.tsx": "export default function Page() { return 1 }"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/app/page.tsx"}, res.Changed)
}

func TestPublish_largeFilesComparedBySHA(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.AddRepo("octo/site", "main").LargeFileSize = 64
	logo := strings.Repeat("<svg/>", 32)
	f.srv.Seed("octo/site", "main", map[string]string{
		"src/app/page.tsx": strings.Repeat("// old\n", 16),
		"public/logo.svg":  logo,
	})

	payload, err := json.Marshal(map[string]string{
		"src/app/page.tsx": "export default function Page() { return null }",
		"public/logo.svg":  logo,
	})
	require.NoError(t, err)
	res, err := f.svc.Publish(context.Background(), Request{ProjectID: "p1", Direct: true, Files: payload})
	require.NoError(t, err)
	assert.Contains(t, res.Changed, "src/app/page.tsx")
	assert.NotContains(t, res.Changed, "public/logo.svg")
	assert.Equal(t, "export default function Page() { return null }", f.srv.Files("octo/site", "main")["src/app/page.tsx"])
}

func TestPublish_deployHook(t *testing.T) {
	var hits atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		hits.Add(1)
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer hook.Close()

	f := newFixture(t, func(o *Options) { o.DeployHookURL = hook.URL + "/ok" })
	ctx := context.Background()

	res, err := f.svc.Publish(ctx, Request{ProjectID: "p1", Direct: true})
	require.NoError(t, err)
	require.NotNil(t, res.Deployed)
	assert.True(t, *res.Deployed)

	res, err = f.svc.Publish(ctx, Request{
		ProjectID:     "p1",
		Direct:        true,
		DeployHookURL: hook.URL + "/fail",
		Files:         json.RawMessage(`{"src/app/page.tsx": "changed"}`),
	})
	require.NoError(t, err, "a failing hook must not fail the publish")
	require.NotNil(t, res.Deployed)
	assert.False(t, *res.Deployed)
	assert.Equal(t, int32(2), hits.Load())

	res, err = f.svc.Publish(ctx, Request{ProjectID: "p1", Direct: true})
	require.NoError(t, err)
	assert.True(t, res.NoChanges)
	assert.Nil(t, res.Deployed, "no hook without changes")
	assert.Equal(t, int32(2), hits.Load())
}

func TestPublish_autoMerge(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.Publish(context.Background(), Request{ProjectID: "p1", AutoMerge: true})
	require.NoError(t, err)
	require.NotNil(t, res.Merged)
	assert.True(t, *res.Merged)
	assert.Contains(t, f.srv.Files("octo/site", "main"), "src/app/page.tsx")
}

func TestPublish_autoMergeFailureStillSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.AddRepo("octo/site", "main").MergeFails = true

	res, err := f.svc.Publish(context.Background(), Request{ProjectID: "p1", AutoMerge: true})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.NotEmpty(t, res.PRURL)
	require.NotNil(t, res.Merged)
	assert.False(t, *res.Merged)
}

func TestPublish_explicitBranchIsReused(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.svc.Publish(ctx, Request{ProjectID: "p1", Branch: "feature/site"})
	require.NoError(t, err)
	assert.Equal(t, "feature/site", res.Branch)

	res, err = f.svc.Publish(ctx, Request{ProjectID: "p1", Branch: "feature/site"})
	require.NoError(t, err)
	assert.True(t, res.NoChanges)
	assert.Len(t, f.srv.Pulls("octo/site"), 1)
}

func TestPublish_bodyOverridesProject(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.AddRepo("octo/other", "trunk")

	res, err := f.svc.Publish(context.Background(), Request{ProjectID: "p1", Repo: "octo/other"})
	require.NoError(t, err)
	assert.Equal(t, "octo/other", res.Repo)
	assert.Equal(t, "trunk", res.BaseBranch)

	p, err := f.store.GetProject(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "octo/other", p.Repo)
}

func TestPublish_errors(t *testing.T) {
	tests := []struct {
		name string
		opts func(*Options)
		req  Request
		kind Kind
	}{
		{
			name: "unconfigured",
			opts: func(o *Options) { o.Connector = &blockingConnector{unconfigured: true} },
			req:  Request{ProjectID: "p1"},
			kind: MissingConfiguration,
		},
		{name: "unknown project", req: Request{ProjectID: "nope"}, kind: NotFound},
		{name: "no target", req: Request{Files: json.RawMessage(pageFiles)}, kind: MissingTarget},
		{name: "malformed repo", req: Request{InstallationID: 1, Repo: "octo", Files: json.RawMessage(pageFiles)}, kind: InvalidInput},
		{name: "no content", req: Request{InstallationID: 1, Repo: "octo/site", Files: json.RawMessage(`[]`)}, kind: NoContent},
		{name: "unknown repo", req: Request{InstallationID: 1, Repo: "octo/ghost", Files: json.RawMessage(pageFiles)}, kind: RemoteFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts)
			_, err := f.svc.Publish(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err), err.Error())
		})
	}
}

func TestPublish_identicalPublishIsRejectedWhileInFlight(t *testing.T) {
	flights := NewMemoryFlights()
	f := newFixture(t, func(o *Options) { o.Flights = flights })

	prepared := Prepare(files.Normalize([]byte(pageFiles)), PrepareOptions{MergeDependencies: true})
	release, ok := flights.Acquire(FlightKey("octo/site", "default", files.Digest(prepared)))
	require.True(t, ok)

	_, err := f.svc.Publish(context.Background(), Request{ProjectID: "p1"})
	assert.Equal(t, Conflict, KindOf(err))

	release()
	_, err = f.svc.Publish(context.Background(), Request{ProjectID: "p1"})
	require.NoError(t, err)
}

// blockingConnector parks every publish inside DefaultBranch until released.
type blockingConnector struct {
	unconfigured bool
	entered      chan struct{}
	release      chan struct{}
	once         sync.Once
}

func newBlockingConnector() *blockingConnector {
	return &blockingConnector{entered: make(chan struct{}), release: make(chan struct{})}
}

func (c *blockingConnector) Configured() bool { return !c.unconfigured }

func (c *blockingConnector) Repo(context.Context, int64, string, string) (RepoClient, error) {
	return blockingRepo{c}, nil
}

var errStopped = errors.New("stopped")

type blockingRepo struct{ c *blockingConnector }

func (r blockingRepo) DefaultBranch(ctx context.Context) (string, error) {
	r.c.once.Do(func() { close(r.c.entered) })
	select {
	case <-r.c.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "", errStopped
}

func (blockingRepo) BranchHead(context.Context, string) (string, bool, error) {
	return "", false, errStopped
}

func (blockingRepo) CreateInitialCommit(context.Context, string) (string, error) {
	return "", errStopped
}

func (blockingRepo) CreateBranch(context.Context, string, string) error { return errStopped }

func (blockingRepo) ReadFile(context.Context, string, string) (github.File, bool, error) {
	return github.File{}, false, errStopped
}

func (blockingRepo) WriteFile(context.Context, string, string, string, string, string) error {
	return errStopped
}

func (blockingRepo) OpenPullRequest(context.Context, github.PullRequest) (string, int, error) {
	return "", 0, errStopped
}

func (blockingRepo) MergePullRequest(context.Context, int) (bool, error) { return false, errStopped }

func TestPublish_concurrentGuards(t *testing.T) {
	tests := []struct {
		name   string
		opts   func(*Options)
		second Request
	}{
		{
			name:   "same content",
			second: Request{ProjectID: "p1"},
		},
		{
			name:   "admission full",
			opts:   func(o *Options) { o.Admission = NewAdmission(1) },
			second: Request{ProjectID: "p1", Files: json.RawMessage(`{"other.txt": "x"}`)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newBlockingConnector()
			flights := NewMemoryFlights()
			f := newFixture(t, func(o *Options) {
				o.Connector = conn
				o.Flights = flights
				if tt.opts != nil {
					tt.opts(o)
				}
			})
			ctx := context.Background()
			prepared := Prepare(files.Normalize([]byte(pageFiles)), PrepareOptions{MergeDependencies: true})
			key := FlightKey("octo/site", "default", files.Digest(prepared))

			done := make(chan error, 1)
			go func() {
				_, err := f.svc.Publish(ctx, Request{ProjectID: "p1"})
				done <- err
			}()
			<-conn.entered
			assert.True(t, flights.InFlight(key))

			_, err := f.svc.Publish(ctx, tt.second)
			assert.Equal(t, Conflict, KindOf(err))
			assert.True(t, flights.InFlight(key), "a rejected publish must not release the holder")

			close(conn.release)
			first := <-done
			assert.Equal(t, RemoteFailure, KindOf(first))
			assert.False(t, flights.InFlight(key))
		})
	}
}

func TestProjectFiles(t *testing.T) {
	base := files.FileMap{"package.json": `{"name":"base"}`, "src/app/page.tsx": "base page"}
	f := newFixture(t, func(o *Options) {
		o.BaseFiles = func() (files.FileMap, error) { return base, nil }
	})
	ctx := context.Background()

	got, err := f.svc.ProjectFiles(ctx, "p1", FilesOptions{})
	require.NoError(t, err)
	assert.Equal(t, files.FileMap{"src/app/page.tsx": "export default function Page() { return null }"}, got)

	got, err = f.svc.ProjectFiles(ctx, "p1", FilesOptions{IncludeBase: true})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"base"}`, got["package.json"])
	assert.Equal(t, "base page", got["src/app/page.tsx"])
	got["package.json"] = "mutated"
	assert.Equal(t, `{"name":"base"}`, base["package.json"], "base tree must not be shared")

	got, err = f.svc.ProjectFiles(ctx, "p1", FilesOptions{Scaffold: true})
	require.NoError(t, err)
	assert.Contains(t, got, scaffold.ManifestPath)
	assert.Contains(t, got, "src/app/layout.tsx")
	assert.Contains(t, got, "src/components/ui/button.tsx")

	_, err = f.store.AddFragment(ctx, store.Fragment{ProjectID: "p2", Files: json.RawMessage(`{"app/page.tsx": "x", "src/app/about/page.tsx": "y"}`)})
	require.NoError(t, err)
	got, err = f.svc.ProjectFiles(ctx, "p2", FilesOptions{})
	require.NoError(t, err)
	assert.Equal(t, files.FileMap{"src/app/page.tsx": "x", "src/app/about/page.tsx": "y"}, got)

	_, err = f.svc.ProjectFiles(ctx, "missing", FilesOptions{})
	assert.Equal(t, NotFound, KindOf(err))
}

func TestMergedFiles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.store.AddFragment(ctx, store.Fragment{ProjectID: "p1", Files: json.RawMessage(`{"src/app/page.tsx": "v2", "b.txt": "b"}`)})
	require.NoError(t, err)

	got, err := f.svc.MergedFiles(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, files.FileMap{"src/app/page.tsx": "v2", "b.txt": "b"}, got)

	got, err = f.svc.MergedFiles(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, files.FileMap{"README.md": EmptyProjectReadme}, got)
}
