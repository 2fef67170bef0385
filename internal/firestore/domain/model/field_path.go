package model

import (
	"errors"
	"fmt"
	"strings"
)

// DocumentIDField is the pseudo field addressing a document's identifier in
// filters, orderings and cursors.
const DocumentIDField = "__name__"

// FieldPath is a dot separated path into a document, like "customer.address.city"
type FieldPath struct {
	segments []string
	raw      string
}

// NewFieldPath parses a dot-separated string
func NewFieldPath(path string) (*FieldPath, error) {
	if path == "" {
		return nil, ErrEmptyFieldPath
	}
	if path == DocumentIDField {
		return &FieldPath{segments: []string{path}, raw: path}, nil
	}
	if strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") || strings.Contains(path, "..") {
		return nil, ErrInvalidFieldPathFormat
	}

	segments := strings.Split(path, ".")
	if len(segments) > MaxFieldPathDepth {
		return nil, ErrFieldPathTooDeep
	}
	for _, segment := range segments {
		if !isValidFieldName(segment) {
			return nil, fmt.Errorf("%w: invalid segment '%s'", ErrInvalidFieldName, segment)
		}
	}

	return &FieldPath{segments: segments, raw: path}, nil
}

// MustNewFieldPath creates a field path or panics if invalid
func MustNewFieldPath(path string) *FieldPath {
	fp, err := NewFieldPath(path)
	if err != nil {
		panic(fmt.Sprintf("invalid field path '%s': %v", path, err))
	}
	return fp
}

// Segments returns a copy of the individual path segments
func (fp *FieldPath) Segments() []string {
	return append([]string{}, fp.segments...)
}

// IsDocumentID reports whether the path addresses the document identifier
func (fp *FieldPath) IsDocumentID() bool {
	return fp.raw == DocumentIDField
}

func (fp *FieldPath) String() string {
	return fp.raw
}

// Lookup reads the value at the path. The second result is false when any
// segment is missing or a non-map is traversed.
func (fp *FieldPath) Lookup(data map[string]interface{}) (interface{}, bool) {
	var cur interface{} = data
	for _, seg := range fp.segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at the path, creating intermediate maps and replacing
// non-map values on the way.
func (fp *FieldPath) Set(data map[string]interface{}, value interface{}) {
	cur := data
	for _, seg := range fp.segments[:len(fp.segments)-1] {
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[seg] = next
		}
		cur = next
	}
	cur[fp.segments[len(fp.segments)-1]] = value
}

// Delete removes the value at the path if present
func (fp *FieldPath) Delete(data map[string]interface{}) {
	cur := data
	for _, seg := range fp.segments[:len(fp.segments)-1] {
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, fp.segments[len(fp.segments)-1])
}

// LeafPaths lists the dot paths of every non-map value in data. Empty maps
// count as leaves.
func LeafPaths(data map[string]interface{}) []string {
	var out []string
	var walk func(prefix string, m map[string]interface{})
	walk = func(prefix string, m map[string]interface{}) {
		for k, v := range m {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			if sub, ok := v.(map[string]interface{}); ok && len(sub) > 0 {
				walk(p, sub)
				continue
			}
			out = append(out, p)
		}
	}
	walk("", data)
	return out
}

// isValidFieldName checks a single segment against Firestore naming rules
func isValidFieldName(name string) bool {
	if name == "" || len(name) > MaxFieldNameLength {
		return false
	}
	for _, char := range []string{"/", "[", "]", "*", "`"} {
		if strings.Contains(name, char) {
			return false
		}
	}
	return !strings.HasPrefix(name, "__")
}

// Constants for validation
const (
	MaxFieldPathDepth  = 100
	MaxFieldNameLength = 1500
)

// Field path errors
var (
	ErrEmptyFieldPath         = errors.New("field path cannot be empty")
	ErrInvalidFieldPathFormat = errors.New("invalid field path format")
	ErrInvalidFieldName       = errors.New("invalid field name")
	ErrFieldPathTooDeep       = errors.New("field path exceeds maximum depth")
)
