package files

import "strings"

// AppRoot is the directory holding the router entry point.
type AppRoot string

const (
	RootApp    AppRoot = "app"
	RootSrcApp AppRoot = "src/app"

	DefaultAppRoot = RootSrcApp
)

func (r AppRoot) prefix() string { return string(r) + "/" }

// Other returns the competing convention.
func (r AppRoot) Other() AppRoot {
	if r == RootApp {
		return RootSrcApp
	}
	return RootApp
}

// Valid reports whether r is one of the two known conventions.
func (r AppRoot) Valid() bool { return r == RootApp || r == RootSrcApp }

func (m FileMap) uses(r AppRoot) bool {
	for p := range m {
		if strings.HasPrefix(p, r.prefix()) {
			return true
		}
	}
	return false
}

// DetectAppRoot picks the convention that is present alone, falling back to
// DefaultAppRoot when both or neither appear.
func DetectAppRoot(m FileMap) AppRoot {
	app, src := m.uses(RootApp), m.uses(RootSrcApp)
	switch {
	case app && !src:
		return RootApp
	case src && !app:
		return RootSrcApp
	}
	return DefaultAppRoot
}

// RelocateAppRoot moves every file under the competing convention to target.
// If a moved file would land on a path that already exists, the file that
// was already at the target location is kept.
func RelocateAppRoot(m FileMap, target AppRoot) FileMap {
	if !target.Valid() {
		target = DefaultAppRoot
	}
	from := target.Other().prefix()
	out := make(FileMap, len(m))
	var moved [][2]string
	for p, content := range m {
		if strings.HasPrefix(p, from) {
			moved = append(moved, [2]string{target.prefix() + strings.TrimPrefix(p, from), content})
			continue
		}
		out[p] = content
	}
	for _, mv := range moved {
		if _, exists := out[mv[0]]; exists {
			continue
		}
		out[mv[0]] = mv[1]
	}
	return out
}
