// Package fieldpath resolves dotted references such as "$.body.id" or
// "body.items[0].sku" against decoded JSON documents.
package fieldpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrEmptyPath = errors.New("empty field path")

// Path is a parsed field reference. The zero value refers to the document
// root.
type Path struct {
	raw      string
	segments []segment
}

type segment struct {
	key   string
	index int // -1 when the segment is a map key
}

// Parse accepts "$.a.b", "$.a[2].b" and "a.b". A leading "$" is optional.
func Parse(s string) (Path, error) {
	raw := strings.TrimSpace(s)
	p := strings.TrimPrefix(raw, "$")
	p = strings.TrimPrefix(p, ".")
	if p == "" {
		if raw == "$" {
			return Path{raw: raw}, nil
		}
		return Path{}, ErrEmptyPath
	}

	var segs []segment
	for _, part := range strings.Split(p, ".") {
		if part == "" {
			return Path{}, fmt.Errorf("field path %q: empty segment", s)
		}
		key := part
		var idx []int
		if open := strings.IndexByte(part, '['); open >= 0 {
			key = part[:open]
			rest := part[open:]
			for rest != "" {
				if rest[0] != '[' {
					return Path{}, fmt.Errorf("field path %q: unexpected %q", s, rest)
				}
				end := strings.IndexByte(rest, ']')
				if end < 0 {
					return Path{}, fmt.Errorf("field path %q: unclosed index", s)
				}
				n, err := strconv.Atoi(rest[1:end])
				if err != nil || n < 0 {
					return Path{}, fmt.Errorf("field path %q: bad index %q", s, rest[1:end])
				}
				idx = append(idx, n)
				rest = rest[end+1:]
			}
		}
		if key != "" {
			segs = append(segs, segment{key: key, index: -1})
		}
		for _, n := range idx {
			segs = append(segs, segment{index: n})
		}
	}
	return Path{raw: raw, segments: segs}, nil
}

// Join builds a path from plain map keys.
func Join(keys ...string) Path {
	segs := make([]segment, 0, len(keys))
	for _, k := range keys {
		segs = append(segs, segment{key: k, index: -1})
	}
	return Path{raw: strings.Join(keys, "."), segments: segs}
}

func (p Path) String() string {
	if p.raw != "" {
		return p.raw
	}
	parts := make([]string, 0, len(p.segments))
	for _, s := range p.segments {
		if s.index >= 0 {
			parts = append(parts, "["+strconv.Itoa(s.index)+"]")
			continue
		}
		parts = append(parts, s.key)
	}
	return strings.Join(parts, ".")
}

// Lookup walks doc and reports whether every segment was present.
func (p Path) Lookup(doc any) (any, bool) {
	cur := doc
	for _, s := range p.segments {
		if s.index >= 0 {
			arr, ok := cur.([]any)
			if !ok || s.index >= len(arr) {
				return nil, false
			}
			cur = arr[s.index]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[s.key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Stringify renders a scalar the way it should appear in a URL or a key.
// Objects and arrays are rejected.
func Stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case nil:
		return "null", true
	default:
		return "", false
	}
}
