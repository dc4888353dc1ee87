package component

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

// splitSegment separates "name[1][2]" into "name" and [1 2].
func splitSegment(seg string) (string, []int, error) {
	i := strings.IndexByte(seg, '[')
	if i < 0 {
		return seg, nil, nil
	}
	base, rest := seg[:i], seg[i:]
	var idx []int
	for rest != "" {
		end := strings.IndexByte(rest, ']')
		if rest[0] != '[' || end < 0 {
			return "", nil, fmt.Errorf("malformed index in %q", seg)
		}
		k, err := strconv.Atoi(rest[1:end])
		if err != nil || k < 0 {
			return "", nil, fmt.Errorf("malformed index in %q", seg)
		}
		idx = append(idx, k)
		rest = rest[end+1:]
	}
	return base, idx, nil
}

func entryName(k int) string {
	return "[" + strconv.Itoa(k) + "]"
}

// Find resolves a path the way formulas do.
//
// The first name is searched among the component's own children, then in
// the namespace of each ancestor up to the root, so siblings and names of
// enclosing scopes are visible without qualification. "." is the component
// itself, ".." its parent and a leading "/" starts at the root. Entries are
// addressed as "table[2]". Missing iterable entries are not synthesised.
func (c *Component) Find(path string) (*Component, error) {
	if path == "" || path == "." {
		return c, nil
	}

	cur := c
	rest := path
	scoped := true
	if strings.HasPrefix(path, "/") {
		cur = c.Root()
		rest = strings.TrimPrefix(path, "/")
		scoped = false
		if rest == "" {
			return cur, nil
		}
		// "/root/x" and "/x" both work: the leading name may be the root's own.
		if first, tail, _ := strings.Cut(rest, "/"); first == cur.Name {
			if tail == "" {
				return cur, nil
			}
			rest = tail
		}
	}

	for i, seg := range strings.Split(rest, "/") {
		base, idx, err := splitSegment(seg)
		if err != nil {
			return nil, errors.Syntax(path, 0, err.Error())
		}
		switch base {
		case ".":
		case "..":
			if cur.Parent == nil {
				return nil, errors.NotFound(errors.PhaseResolve, fmt.Sprintf("parent of %s", cur.Path()))
			}
			cur = cur.Parent
		case "":
			if len(idx) == 0 {
				return nil, errors.Syntax(path, 0, "empty path segment")
			}
		default:
			var next *Component
			if i == 0 && scoped {
				next = cur.lookupScope(base)
			} else {
				next = cur.byName[base]
			}
			if next == nil {
				return nil, errors.NotFound(errors.PhaseResolve, fmt.Sprintf("%q from %s", path, c.Path()))
			}
			cur = next
		}
		for _, k := range idx {
			next := cur.byName[entryName(k)]
			if next == nil {
				return nil, errors.NotFound(errors.PhaseResolve, fmt.Sprintf("%q from %s", path, c.Path()))
			}
			cur = next
		}
	}
	return cur, nil
}

func (c *Component) lookupScope(name string) *Component {
	for s := c; s != nil; s = s.Parent {
		if x, ok := s.byName[name]; ok {
			return x
		}
		if s.Parent == nil && s.Name == name {
			return s
		}
	}
	return nil
}

// GetChild returns a child by name. "name[k]" and "[k]" address entries;
// missing iterable entries below max_entry_count are synthesised from the
// default template, and repeated calls return the same entry.
func (c *Component) GetChild(name string) (*Component, error) {
	base, idx, err := splitSegment(name)
	if err != nil {
		return nil, errors.NotFound(errors.PhaseResolve, err.Error())
	}
	cur := c
	if base != "" {
		if err := cur.materialize(); err != nil {
			return nil, err
		}
		x, ok := cur.byName[base]
		if !ok {
			return nil, errors.NotFound(errors.PhaseResolve, fmt.Sprintf("child %q of %s", base, c.Path()))
		}
		cur = x
	}
	for _, k := range idx {
		if err := cur.materialize(); err != nil {
			return nil, err
		}
		next, err := cur.entry(k, true)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// Resolve implements formula.Scope. Anything that cannot be found or read
// yet is reported as unresolved so that callers retry later.
func (c *Component) Resolve(path string, prop formula.Property, arg string, opts formula.Options) (formula.Value, error) {
	t, err := c.Find(path)
	if err != nil {
		if errors.KindOf(err) == errors.KindSyntax {
			return formula.None(), err
		}
		return formula.None(), errors.Unresolved(errors.PhaseResolve, path)
	}
	return t.Property(prop, arg, opts)
}
