package component

import (
	"fmt"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/wippyai/fwlayout/convert"
	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

const defaultName = "[default]"

type iterInfo struct {
	template *Component
	// starting holds the indices declared in the document; removed the
	// starting entries deleted since.
	starting map[int]bool
	removed  map[int]bool
	// maxEntries is -1 when unbounded.
	maxEntries int
}

func (c *Component) parseIterable() error {
	it := &iterInfo{
		starting:   make(map[int]bool),
		removed:    make(map[int]bool),
		maxEntries: -1,
	}
	if s, ok := c.node.Attr("max_entry_count"); ok {
		v, err := convert.StringToInt(s)
		if err != nil || v.Sign() < 0 || !v.IsInt64() {
			return errors.Structural(errors.PhaseParse, "max_entry_count %q is not a count", s)
		}
		it.maxEntries = int(v.Int64())
	}

	var overrides []*Node
	for _, n := range c.node.Children {
		switch n.Tag {
		case "default":
			if it.template != nil {
				return errors.Structural(errors.PhaseParse, "line %d: iterable has more than one <default>", n.Line)
			}
			t, err := c.newEntry(n, defaultName)
			if err != nil {
				return err
			}
			it.template = t
		case "entry":
			overrides = append(overrides, n)
		default:
			return errors.Structural(errors.PhaseParse, "line %d: <%s> inside iterable, want <default> or <entry>", n.Line, n.Tag)
		}
	}
	if it.template == nil {
		return errors.Structural(errors.PhaseParse, "iterable requires a <default> element")
	}
	c.iter = it

	for _, n := range overrides {
		s, ok := n.Attr("index")
		if !ok {
			return errors.Structural(errors.PhaseParse, "line %d: <entry> without index", n.Line)
		}
		k, err := strconv.Atoi(s)
		if err != nil || k < 0 {
			return errors.Structural(errors.PhaseParse, "line %d: entry index %q is not a non-negative integer", n.Line, s)
		}
		if it.starting[k] {
			return errors.Structural(errors.PhaseParse, "line %d: duplicate entry index %d", n.Line, k)
		}
		e, err := c.entry(k, true)
		if err != nil {
			return err
		}
		if err := e.applyOverrides(n); err != nil {
			return err
		}
		it.starting[k] = true
	}
	return nil
}

// entry returns entry k. Missing iterable entries are synthesised from the
// default template when synthesize is set.
func (c *Component) entry(k int, synthesize bool) (*Component, error) {
	if e, ok := c.byName[entryName(k)]; ok {
		return e, nil
	}
	if c.iter == nil || !synthesize {
		return nil, errors.NotFound(errors.PhaseResolve, fmt.Sprintf("entry %d of %s", k, c.Path()))
	}
	if c.iter.maxEntries >= 0 && k >= c.iter.maxEntries {
		return nil, errors.New(errors.PhaseResolve, errors.KindOutOfBounds).
			Value(k).
			Detail("entry %d exceeds max_entry_count %d", k, c.iter.maxEntries).
			Build()
	}

	e := c.iter.template.clone(c)
	e.rename(k)
	e.Removable = true
	c.byName[e.Name] = e
	i, _ := slices.BinarySearchFunc(c.Children, k, func(x *Component, k int) int { return x.index - k })
	c.Children = slices.Insert(c.Children, i, e)
	Logger().Debug("synthesised entry", zap.String("path", e.Path()))
	return e, nil
}

// Entries returns the entries of a table or iterable in index order.
func (c *Component) Entries() []*Component {
	if c.Kind != KindTable && c.Kind != KindIterable {
		return nil
	}
	return slices.Clone(c.Children)
}

// AddNewEntry creates an iterable entry at the first free index.
func (c *Component) AddNewEntry() (*Component, error) {
	if c.iter == nil {
		return nil, errors.Unsupported(errors.PhaseSettings, c.Kind.String()+" has no entries to add")
	}
	k := 0
	for _, e := range c.Children {
		if e.index != k {
			break
		}
		k++
	}
	e, err := c.entry(k, true)
	if err != nil {
		return nil, err
	}
	delete(c.iter.removed, k)
	c.Root().Reset()
	return e, nil
}

// RemoveEntry deletes iterable entry k.
func (c *Component) RemoveEntry(k int) error {
	if c.iter == nil {
		return errors.Unsupported(errors.PhaseSettings, c.Kind.String()+" has no removable entries")
	}
	e, ok := c.byName[entryName(k)]
	if !ok {
		return errors.NotFound(errors.PhaseSettings, fmt.Sprintf("entry %d of %s", k, c.Path()))
	}
	if !e.Removable {
		return errors.New(errors.PhaseSettings, errors.KindValidation).
			Value(k).
			Detail("entry %s is not removable", e.Path()).
			Build()
	}
	delete(c.byName, e.Name)
	c.Children = slices.DeleteFunc(c.Children, func(x *Component) bool { return x == e })
	if c.iter.starting[k] {
		c.iter.removed[k] = true
	}
	c.Root().Reset()
	return nil
}

// ensureEntries synthesises entries 0..count-1 for decomposition.
func (c *Component) ensureEntries(opts formula.Options) error {
	if c.f.count == "" {
		return nil
	}
	n, err := c.evalInt(c.f.count, opts)
	if err != nil {
		return err
	}
	for k := 0; k < n; k++ {
		if _, err := c.entry(k, true); err != nil {
			return err
		}
	}
	return nil
}
