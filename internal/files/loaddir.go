package files

import (
	"fmt"
	"io/fs"
	"path"
)

var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".next":        true,
}

// LoadDir reads every regular file under fsys into a FileMap.
func LoadDir(fsys fs.FS) (FileMap, error) {
	out := FileMap{}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != "." && skipDirs[path.Base(p)] {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		b, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		out[p] = CleanContent(string(b))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
