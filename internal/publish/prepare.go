package publish

import (
	"github.com/shaun/publisher/internal/files"
	"github.com/shaun/publisher/internal/scaffold"
)

// PrepareOptions control Prepare.
type PrepareOptions struct {
	// UIPrimitives adds placeholder UI components during completion.
	UIPrimitives bool
	// MergeDependencies adds required dependencies missing from package.json.
	MergeDependencies bool
}

// Prepare makes a file map publishable: one app root, a complete scaffold
// and a sanitized package manifest, in that order.
func Prepare(m files.FileMap, opts PrepareOptions) files.FileMap {
	root := files.DetectAppRoot(m)
	out := files.RelocateAppRoot(m, root)
	out = scaffold.Complete(out, scaffold.Options{Root: root, UIPrimitives: opts.UIPrimitives})
	if manifest, ok := out[scaffold.ManifestPath]; ok {
		out[scaffold.ManifestPath] = scaffold.SanitizeManifest(manifest, opts.MergeDependencies)
	}
	return out
}
