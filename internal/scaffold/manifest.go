package scaffold

import (
	"bytes"
	"encoding/json"
	"io"
)

var dependencySections = []string{
	"dependencies",
	"devDependencies",
	"optionalDependencies",
	"peerDependencies",
}

// SanitizeManifest removes the forbidden postinstall hook and dependencies
// from a package.json document and, when merge is set, adds required
// dependencies the document does not already pin. Text that is not a JSON
// object is returned unchanged.
func (c *Completer) SanitizeManifest(text string, merge bool) string {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil || doc == nil {
		return text
	}
	if _, err := dec.Token(); err != io.EOF {
		return text
	}

	if scripts, ok := doc["scripts"].(map[string]any); ok {
		if cmd, ok := scripts["postinstall"].(string); ok && c.postinstall.MatchString(cmd) {
			delete(scripts, "postinstall")
		}
	}

	for _, section := range dependencySections {
		deps, ok := doc[section].(map[string]any)
		if !ok {
			continue
		}
		for _, name := range c.d.Forbidden.Dependencies {
			delete(deps, name)
		}
	}

	if merge {
		deps, ok := doc["dependencies"].(map[string]any)
		if !ok {
			deps = map[string]any{}
			doc["dependencies"] = deps
		}
		for name, version := range c.d.RequiredDependencies {
			if _, pinned := deps[name]; !pinned {
				deps[name] = version
			}
		}
	}

	out, err := encodeJSON(doc)
	if err != nil {
		return text
	}
	return out
}
