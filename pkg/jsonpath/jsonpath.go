// Package jsonpath implements the restricted JSONPath dialect used by the
// replay store's ignore_paths masking and the RAG phantom-document
// strategy. The dialect is exactly: $.a.b, $.a[*].b, $[*]. Anything richer
// fails to parse; strict replay mode turns that into a fatal error instead
// of a silent fallback.
package jsonpath

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported marks an expression outside the supported dialect.
var ErrUnsupported = errors.New("unsupported jsonpath expression")

type segment struct {
	key      string
	wildcard bool
}

// Path is a compiled expression.
type Path struct {
	expr     string
	segments []segment
}

// Parse compiles an expression. Valid forms are `$`, `$[*]`, `$.a`,
// `$.a.b`, `$.a[*]`, `$.a[*].b` and deeper chains of the same shapes.
func Parse(expr string) (*Path, error) {
	if !strings.HasPrefix(expr, "$") {
		return nil, fmt.Errorf("%w: %q must start with $", ErrUnsupported, expr)
	}
	rest := expr[1:]
	var segs []segment
	for rest != "" {
		switch {
		case strings.HasPrefix(rest, "[*]"):
			segs = append(segs, segment{wildcard: true})
			rest = rest[3:]
		case strings.HasPrefix(rest, "."):
			rest = rest[1:]
			end := len(rest)
			for i, r := range rest {
				if r == '.' || r == '[' {
					end = i
					break
				}
			}
			key := rest[:end]
			if key == "" || strings.ContainsAny(key, "*?()@'\"") {
				return nil, fmt.Errorf("%w: %q", ErrUnsupported, expr)
			}
			segs = append(segs, segment{key: key})
			rest = rest[end:]
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupported, expr)
		}
	}
	return &Path{expr: expr, segments: segs}, nil
}

// String returns the original expression.
func (p *Path) String() string { return p.expr }

// Select returns the values matched by the path in document order.
func (p *Path) Select(doc any) []any {
	var out []any
	p.walk(doc, 0, func(parent any, key string, idx int, val any) {
		out = append(out, val)
	})
	return out
}

// Apply replaces every matched value with fn(old) and returns the match
// count. The document must be decoded JSON (map[string]any / []any leaves).
func (p *Path) Apply(doc any, fn func(old any) any) int {
	n := 0
	p.walk(doc, 0, func(parent any, key string, idx int, val any) {
		n++
		switch c := parent.(type) {
		case map[string]any:
			c[key] = fn(val)
		case []any:
			c[idx] = fn(val)
		}
	})
	return n
}

// walk visits matches at the final segment; the root itself cannot be
// replaced in place, so a bare `$` matches nothing for Apply.
func (p *Path) walk(node any, depth int, visit func(parent any, key string, idx int, val any)) {
	if depth == len(p.segments) {
		return
	}
	seg := p.segments[depth]
	last := depth == len(p.segments)-1
	if seg.wildcard {
		arr, ok := node.([]any)
		if !ok {
			return
		}
		for i, v := range arr {
			if last {
				visit(arr, "", i, v)
			} else {
				p.walk(v, depth+1, visit)
			}
		}
		return
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return
	}
	v, ok := obj[seg.key]
	if !ok {
		return
	}
	if last {
		visit(obj, seg.key, 0, v)
	} else {
		p.walk(v, depth+1, visit)
	}
}
