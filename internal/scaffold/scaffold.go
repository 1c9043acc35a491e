// Package scaffold completes a file map into a minimal buildable Next.js
// project and cleans up its package manifest.
package scaffold

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaun/publisher/internal/files"
)

//go:embed defaults.yaml
var defaultsYAML []byte

const ManifestPath = "package.json"

// Defaults is the template and policy data a Completer works from.
type Defaults struct {
	Manifest struct {
		Name    string            `yaml:"name"`
		Private bool              `yaml:"private"`
		Scripts map[string]string `yaml:"scripts"`
	} `yaml:"manifest"`
	RequiredDependencies map[string]string `yaml:"required_dependencies"`
	Forbidden            struct {
		Dependencies       []string `yaml:"dependencies"`
		PostinstallPattern string   `yaml:"postinstall_pattern"`
		Dirs               []string `yaml:"dirs"`
		Extensions         []string `yaml:"extensions"`
	} `yaml:"forbidden"`
	NextConfigVariants []string          `yaml:"next_config_variants"`
	RootFiles          map[string]string `yaml:"root_files"`
	AppFiles           map[string]string `yaml:"app_files"`
	UIPrimitives       map[string]string `yaml:"ui_primitives"`
}

// LoadDefaults parses a defaults document.
func LoadDefaults(b []byte) (*Defaults, error) {
	var d Defaults
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("parse scaffold defaults: %w", err)
	}
	if len(d.NextConfigVariants) == 0 {
		return nil, fmt.Errorf("scaffold defaults: next_config_variants is empty")
	}
	return &d, nil
}

// Options tune a single completion.
type Options struct {
	// Root overrides app root detection when set.
	Root files.AppRoot
	// UIPrimitives adds placeholder button, card and input components.
	UIPrimitives bool
}

// Completer synthesizes missing project files.
type Completer struct {
	d           *Defaults
	postinstall *regexp.Regexp
}

func New(d *Defaults) (*Completer, error) {
	re, err := regexp.Compile(d.Forbidden.PostinstallPattern)
	if err != nil {
		return nil, fmt.Errorf("compile postinstall pattern: %w", err)
	}
	return &Completer{d: d, postinstall: re}, nil
}

var std = mustDefault()

func mustDefault() *Completer {
	d, err := LoadDefaults(defaultsYAML)
	if err != nil {
		panic(err)
	}
	c, err := New(d)
	if err != nil {
		panic(err)
	}
	return c
}

// Complete completes m with the embedded defaults.
func Complete(m files.FileMap, opts Options) files.FileMap { return std.Complete(m, opts) }

// SanitizeManifest sanitizes text with the embedded defaults.
func SanitizeManifest(text string, merge bool) string { return std.SanitizeManifest(text, merge) }

// Complete returns a copy of m with every missing scaffold file added.
// Existing keys are never overwritten. Forbidden schema files are removed
// after synthesis.
func (c *Completer) Complete(m files.FileMap, opts Options) files.FileMap {
	out := m.Clone()

	if !out.Has(c.d.NextConfigVariants...) {
		name := c.d.NextConfigVariants[0]
		out[name] = c.d.RootFiles[name]
	}
	for name, body := range c.d.RootFiles {
		if isNextConfig(name, c.d.NextConfigVariants) {
			continue
		}
		setIfAbsent(out, name, body)
	}
	setIfAbsent(out, ManifestPath, c.manifest())

	root := opts.Root
	if !root.Valid() {
		root = files.DetectAppRoot(out)
	}
	for name, body := range c.d.AppFiles {
		here := string(root) + "/" + name
		there := string(root.Other()) + "/" + name
		if out.Has(here, there) {
			continue
		}
		out[here] = body
	}

	if opts.UIPrimitives {
		for name, body := range c.d.UIPrimitives {
			setIfAbsent(out, name, body)
		}
	}

	for p := range out {
		if c.forbiddenPath(p) {
			delete(out, p)
		}
	}
	return out
}

func (c *Completer) forbiddenPath(p string) bool {
	for _, dir := range c.d.Forbidden.Dirs {
		if strings.HasPrefix(p, dir) {
			return true
		}
	}
	for _, ext := range c.d.Forbidden.Extensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

type manifestDoc struct {
	Name         string            `json:"name"`
	Private      bool              `json:"private"`
	Scripts      map[string]string `json:"scripts,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (c *Completer) manifest() string {
	doc := manifestDoc{
		Name:         c.d.Manifest.Name,
		Private:      c.d.Manifest.Private,
		Scripts:      c.d.Manifest.Scripts,
		Dependencies: c.d.RequiredDependencies,
	}
	s, err := encodeJSON(doc)
	if err != nil {
		panic(err) // only string maps
	}
	return s
}

func setIfAbsent(m files.FileMap, p, body string) {
	if _, ok := m[p]; !ok {
		m[p] = body
	}
}

func isNextConfig(name string, variants []string) bool {
	for _, v := range variants {
		if v == name {
			return true
		}
	}
	return false
}

func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
