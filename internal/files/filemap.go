// Package files turns loosely shaped project payloads into flat path→content
// maps and provides the path conventions the rest of the publisher relies on.
package files

import (
	"sort"
	"strings"
)

// FileMap maps a repository-relative, slash-separated path to text content.
// Keys never start with "/".
type FileMap map[string]string

// Paths returns the keys in lexical order.
func (m FileMap) Paths() []string {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Clone returns a shallow copy. A nil map clones to an empty one.
func (m FileMap) Clone() FileMap {
	out := make(FileMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge copies src into m, overwriting existing keys.
func (m FileMap) Merge(src FileMap) {
	for k, v := range src {
		m[k] = v
	}
}

// Has reports whether any of the given paths is present.
func (m FileMap) Has(paths ...string) bool {
	for _, p := range paths {
		if _, ok := m[p]; ok {
			return true
		}
	}
	return false
}

// CleanPath trims surrounding whitespace and leading slashes.
func CleanPath(p string) string {
	return strings.TrimLeft(strings.TrimSpace(p), "/")
}

// CleanContent strips NUL characters and a leading byte-order mark.
func CleanContent(s string) string {
	if strings.IndexByte(s, 0) >= 0 {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	return strings.TrimPrefix(s, "\ufeff")
}
