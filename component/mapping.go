package component

import "slices"

// MapEntry locates one component in the built image.
type MapEntry struct {
	Path      string
	Offset    int
	Size      int
	Kind      Kind
	Encrypted bool
}

// Map lists the laid out, enabled components that occupy bytes, ordered by
// offset. Containers come before their first child.
func (c *Component) Map() []MapEntry {
	var out []MapEntry
	c.Walk(func(x *Component) bool {
		if x.disabled || x.inert || !x.laid {
			return false
		}
		if x.Size > 0 {
			out = append(out, MapEntry{
				Path:      x.Path(),
				Offset:    x.Offset,
				Size:      x.Size,
				Kind:      x.Kind,
				Encrypted: x.encrypted,
			})
		}
		return true
	})
	slices.SortStableFunc(out, func(a, b MapEntry) int { return a.Offset - b.Offset })
	return out
}
