package filter

import "strings"

// SegmentKind distinguishes path segments.
type SegmentKind int

const (
	// Literal matches one object key.
	Literal SegmentKind = iota
	// Wildcard matches every key of an object.
	Wildcard
)

// Segment is one step of a Path.
type Segment struct {
	Kind SegmentKind
	Name string
}

// Path selects keys inside a JSON document, written as "/a/*/c".
type Path []Segment

// ParsePath parses a slash separated path. Empty segments are ignored and
// "*" is a wildcard.
func ParsePath(s string) Path {
	parts := strings.Split(s, "/")
	path := make(Path, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "*":
			path = append(path, Segment{Kind: Wildcard})
		default:
			path = append(path, Segment{Kind: Literal, Name: part})
		}
	}
	return path
}

// String returns the path in its written form.
func (p Path) String() string {
	var b strings.Builder
	for _, seg := range p {
		b.WriteByte('/')
		if seg.Kind == Wildcard {
			b.WriteByte('*')
		} else {
			b.WriteString(seg.Name)
		}
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// Leaf returns the name of the last segment.
func (p Path) Leaf() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1].Name
}

// Visit calls fn with every object and key the path selects in root.
// Arrays met on the way are traversed element by element. fn may replace
// or delete parent[key].
func (p Path) Visit(root interface{}, fn func(parent map[string]interface{}, key string)) {
	if len(p) == 0 {
		return
	}
	visit(root, p, fn)
}

func visit(v interface{}, path Path, fn func(map[string]interface{}, string)) {
	switch node := v.(type) {
	case []interface{}:
		for _, elem := range node {
			visit(elem, path, fn)
		}
	case map[string]interface{}:
		seg, rest := path[0], path[1:]
		if seg.Kind == Literal {
			child, ok := node[seg.Name]
			if !ok {
				return
			}
			if len(rest) == 0 {
				fn(node, seg.Name)
				return
			}
			visit(child, rest, fn)
			return
		}

		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		for _, k := range keys {
			if len(rest) == 0 {
				fn(node, k)
				continue
			}
			visit(node[k], rest, fn)
		}
	}
}
