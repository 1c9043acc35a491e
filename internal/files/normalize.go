package files

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"
)

// Shape identifies which input variant a JSON value represents.
type Shape int

const (
	ShapeEmpty Shape = iota
	ShapeWrapper
	ShapeRecordArray
	ShapeFlatMap
	ShapeNestedTree
	ShapeScalar
)

func (s Shape) String() string {
	switch s {
	case ShapeEmpty:
		return "empty"
	case ShapeWrapper:
		return "wrapper"
	case ShapeRecordArray:
		return "record-array"
	case ShapeFlatMap:
		return "flat-map"
	case ShapeNestedTree:
		return "nested-tree"
	case ShapeScalar:
		return "scalar"
	}
	return fmt.Sprintf("shape(%d)", int(s))
}

// UnnamedPath holds a scalar payload that arrived without any path.
const UnnamedPath = "UNNAMED.txt"

var (
	wrapperFields = []string{"files", "root", "entry"}
	pathFields    = []string{"path", "filePath", "filepath", "name", "filename", "key"}
	// record value precedence differs from leaf precedence below.
	recordValueFields = []string{"content", "code", "value", "text", "data", "base64"}
	leafTextFields    = []string{"content", "code", "text", "value", "data"}
	contentLikeFields = []string{"content", "code", "text", "value", "data", "base64"}
)

type predicate struct {
	shape Shape
	match func(v any) bool
}

// classifiers run in order; the first match decides the shape.
var classifiers = []predicate{
	{ShapeEmpty, isEmpty},
	{ShapeWrapper, func(v any) bool { _, ok := wrapped(v); return ok }},
	{ShapeRecordArray, func(v any) bool { _, ok := v.([]any); return ok }},
	{ShapeFlatMap, isFlatMap},
	{ShapeNestedTree, func(v any) bool { _, ok := v.(map[string]any); return ok }},
	{ShapeScalar, func(any) bool { return true }},
}

// Classify returns the shape of a decoded JSON value.
func Classify(v any) Shape {
	for _, c := range classifiers {
		if c.match(v) {
			return c.shape
		}
	}
	return ShapeScalar
}

// Normalize decodes raw JSON and flattens it. Malformed input yields an
// empty map.
func Normalize(raw []byte) FileMap {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return FileMap{}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return FileMap{}
	}
	if _, err := dec.Token(); err != io.EOF {
		return FileMap{}
	}
	return NormalizeValue(v)
}

// NormalizeValue flattens an already decoded JSON value.
func NormalizeValue(v any) FileMap {
	out := FileMap{}
	visit(out, v, "")
	return out
}

func visit(out FileMap, v any, prefix string) {
	switch Classify(v) {
	case ShapeEmpty:
		return
	case ShapeWrapper:
		inner, _ := wrapped(v)
		visit(out, inner, prefix)
	case ShapeRecordArray:
		for _, item := range v.([]any) {
			rec, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if p := recordPath(rec); p != "" {
				absorb(out, join(prefix, p), firstPresent(rec, recordValueFields))
			}
			if nested, ok := rec["files"]; ok && !isEmpty(nested) {
				visit(out, nested, prefix)
			}
			if nested, ok := rec["children"]; ok && !isEmpty(nested) {
				visit(out, nested, prefix)
			}
		}
	case ShapeFlatMap, ShapeNestedTree:
		for k, child := range v.(map[string]any) {
			next := join(prefix, k)
			if isDirectory(child) {
				visit(out, child, next)
				continue
			}
			absorb(out, next, child)
		}
	case ShapeScalar:
		p := prefix
		if p == "" {
			p = UnnamedPath
		}
		absorb(out, p, v)
	}
}

func absorb(out FileMap, path string, v any) {
	path = CleanPath(path)
	if path == "" {
		return
	}
	out[path] = CleanContent(leafText(v))
}

func leafText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case map[string]any:
		for _, f := range leafTextFields {
			if s, ok := t[f].(string); ok {
				return s
			}
		}
		if s, ok := t["base64"].(string); ok {
			return decodeBase64(s)
		}
		return pretty(t)
	default:
		return pretty(t)
	}
}

// decodeBase64 is lossy for binary payloads: invalid UTF-8 is replaced.
func decodeBase64(s string) string {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return s
	}
	if !utf8.Valid(b) {
		return string(bytes.ToValidUTF8(b, []byte("\uFFFD")))
	}
	return string(b)
}

func pretty(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func wrapped(v any) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	for _, f := range wrapperFields {
		if inner, ok := m[f]; ok && truthy(inner) {
			return inner, true
		}
	}
	return nil, false
}

func isFlatMap(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	for _, child := range m {
		if isDirectory(child) {
			return false
		}
	}
	return true
}

// isDirectory reports whether a tree child should be descended into rather
// than read as a file.
func isDirectory(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		for _, f := range contentLikeFields {
			if _, ok := t[f]; ok {
				return false
			}
		}
		return true
	case []any:
		return true
	}
	return false
}

func recordPath(rec map[string]any) string {
	for _, f := range pathFields {
		switch p := rec[f].(type) {
		case string:
			if p != "" {
				return p
			}
		case json.Number:
			return p.String()
		}
	}
	return ""
}

func firstPresent(rec map[string]any, fields []string) any {
	for _, f := range fields {
		if v, ok := rec[f]; ok && v != nil {
			return v
		}
	}
	return nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

// truthy mirrors the loose notion of "set" used for wrapper fields.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case json.Number:
		return t.String() != "0"
	}
	return true
}

func join(prefix, p string) string {
	if prefix == "" {
		return p
	}
	return prefix + "/" + p
}
