package rules

import (
	"fmt"
	"regexp"
	"strings"
)

var variableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// segment is one element of a match pattern: a literal, a single segment
// variable {name} or a recursive variable {name=**}
type segment struct {
	literal   string
	variable  string
	recursive bool
}

type pattern struct {
	raw      string
	segments []segment
}

// compilePattern parses a database relative match pattern such as
// "items/{itemId}" or "{document=**}"
func compilePattern(raw string) (*pattern, error) {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("match pattern cannot be empty")
	}
	p := &pattern{raw: raw}
	parts := strings.Split(trimmed, "/")
	for i, part := range parts {
		switch {
		case part == "":
			return nil, fmt.Errorf("empty path segment")
		case strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}"):
			name := part[1 : len(part)-1]
			recursive := strings.HasSuffix(name, "=**")
			name = strings.TrimSuffix(name, "=**")
			if !variableName.MatchString(name) {
				return nil, fmt.Errorf("invalid variable name %q", name)
			}
			if recursive && i != len(parts)-1 {
				return nil, fmt.Errorf("recursive wildcard {%s=**} must be the last segment", name)
			}
			p.segments = append(p.segments, segment{variable: name, recursive: recursive})
		case strings.ContainsAny(part, "{}*"):
			return nil, fmt.Errorf("segment %q contains invalid characters", part)
		default:
			p.segments = append(p.segments, segment{literal: part})
		}
	}
	return p, nil
}

// match tests a path and binds the pattern variables. A listing addresses a
// collection rather than a document: it matches patterns naming one more
// segment, left unbound.
func (p *pattern) match(path string, listing bool) (map[string]string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	vars := make(map[string]string)
	for i, seg := range p.segments {
		if seg.recursive {
			vars[seg.variable] = strings.Join(parts[min(i, len(parts)):], "/")
			return vars, true
		}
		if i == len(parts) {
			// only the document segment of a listing may be missing
			return vars, listing && seg.variable != "" && i == len(p.segments)-1
		}
		switch {
		case seg.variable != "":
			vars[seg.variable] = parts[i]
		case seg.literal != parts[i]:
			return nil, false
		}
	}
	return vars, len(parts) == len(p.segments) && !listing
}
