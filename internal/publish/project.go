package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaun/publisher/internal/archive"
	"github.com/shaun/publisher/internal/files"
	"github.com/shaun/publisher/internal/scaffold"
	"github.com/shaun/publisher/internal/store"
)

// EmptyProjectReadme stands in for a project that has no generated files.
const EmptyProjectReadme = "# Empty project\n\nNo files were found in Fragment.files.\n"

// FilesOptions control ProjectFiles.
type FilesOptions struct {
	// IncludeBase overlays the template tree; template files win.
	IncludeBase bool
	// Scaffold completes the tree, UI primitives included, so it builds on
	// its own.
	Scaffold bool
}

// ProjectFiles returns the latest generated files of a project.
func (s *Service) ProjectFiles(ctx context.Context, projectID string, opts FilesOptions) (files.FileMap, error) {
	frag, err := s.store.LatestFragment(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(NotFound, "no generated files found for this project")
	}
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}
	out := files.Normalize(frag.Files)
	if len(out) == 0 {
		return nil, newError(NotFound, "no generated files found for this project")
	}
	if opts.IncludeBase {
		base, err := s.BaseFiles()
		if err != nil {
			return nil, err
		}
		out.Merge(base)
	}
	root := files.DetectAppRoot(out)
	out = files.RelocateAppRoot(out, root)
	if opts.Scaffold {
		out = scaffold.Complete(out, scaffold.Options{Root: root, UIPrimitives: true})
	}
	return out, nil
}

// MergedFiles folds every fragment of a project, oldest first, into one
// tree. A project without files yields a placeholder README.
func (s *Service) MergedFiles(ctx context.Context, projectID string) (files.FileMap, error) {
	frags, err := s.store.ListFragments(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list fragments: %w", err)
	}
	out := files.FileMap{}
	for _, f := range frags {
		out.Merge(files.Normalize(f.Files))
	}
	if len(out) == 0 {
		out["README.md"] = EmptyProjectReadme
	}
	return out, nil
}

// BaseFiles returns a fresh copy of the template tree.
func (s *Service) BaseFiles() (files.FileMap, error) {
	base, err := s.baseFiles()
	if err != nil {
		return nil, fmt.Errorf("load base files: %w", err)
	}
	return base.Clone(), nil
}

// Snapshot returns the file set archived by an earlier publish of projectID
// whose prepared content hashed to digest.
func (s *Service) Snapshot(ctx context.Context, projectID, digest string) (archive.Snapshot, error) {
	snap, err := s.archive.Get(ctx, projectID, digest)
	if errors.Is(err, archive.ErrNotFound) {
		return archive.Snapshot{}, newError(NotFound, "no snapshot %s for this project", digest)
	}
	if err != nil {
		return archive.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return snap, nil
}
