package component

import (
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

const templateName = "[template]"

type tableInfo struct {
	template *Component
	// order is the layout order of the entries after sort or indices.
	order []*Component
}

// newEntry parses n as an entry container of c. Entries are built from
// the table's children or an iterable's <default> element.
func (c *Component) newEntry(n *Node, name string) (*Component, error) {
	e := &Component{
		Tag:       n.Tag,
		Kind:      KindEntry,
		Parent:    c,
		node:      n,
		env:       c.env,
		byName:    make(map[string]*Component),
		order:     c.order,
		alignByte: c.alignByte,
		signed:    c.signed,
		Name:      name,
		Label:     c.Label + name,
		index:     -1,
		Visible:   true,
		Saveable:  true,
	}
	if err := e.parseHints(); err != nil {
		return nil, err
	}
	if err := e.parseBody(); err != nil {
		return nil, e.trace(err, errors.PhaseParse)
	}
	return e, nil
}

func (c *Component) parseTable() error {
	tmpl := &Node{Tag: "entry", Attrs: map[string]string{}, Children: c.node.Children, Line: c.node.Line}
	t, err := c.newEntry(tmpl, templateName)
	if err != nil {
		return err
	}
	c.table = &tableInfo{template: t}

	// Best effort: the count may reference components parsed later.
	if err := c.regenerate(formula.Options{}); err != nil && !errors.IsUnresolved(err) {
		Logger().Debug("table count not known at parse time", zap.String("path", c.Path()), zap.Error(err))
	}
	return nil
}

// regenerate makes the entry set match the count formula. Existing
// entries below the count are kept.
func (c *Component) regenerate(opts formula.Options) error {
	n, err := c.evalInt(c.f.count, opts)
	if err != nil {
		return err
	}
	if n < 0 {
		return errors.LayoutViolation(errors.PhaseLayout, "table count %d is negative", n)
	}
	if n == len(c.Children) {
		return nil
	}

	for _, e := range c.Children[min(n, len(c.Children)):] {
		delete(c.byName, e.Name)
	}
	if n < len(c.Children) {
		c.Children = c.Children[:n]
	}
	for k := len(c.Children); k < n; k++ {
		e := c.table.template.clone(c)
		e.rename(k)
		e.Removable = false
		c.byName[e.Name] = e
		c.Children = append(c.Children, e)
	}
	c.table.order = nil
	Logger().Debug("table regenerated", zap.String("path", c.Path()), zap.Int("count", n))
	return nil
}

// tableOrder returns the entries in layout order.
func (c *Component) tableOrder(opts formula.Options) ([]*Component, error) {
	switch {
	case c.f.sort != "":
		return c.sortedEntries(opts)
	case c.f.indices != "":
		return c.indexedEntries(opts)
	}
	return c.Children, nil
}

type sortKey struct {
	e   *Component
	key formula.Value
}

// sortedEntries orders entries by a key evaluated in each entry's scope.
// Equal keys keep index order.
func (c *Component) sortedEntries(opts formula.Options) ([]*Component, error) {
	keys := make([]sortKey, 0, len(c.Children))
	for _, e := range c.Children {
		v, err := e.eval(c.f.sort, opts)
		if err != nil {
			return nil, e.trace(err, errors.PhaseLayout)
		}
		if v.IsNone() {
			return nil, e.trace(errors.Unresolved(errors.PhaseLayout, c.f.sort), errors.PhaseLayout)
		}
		if len(keys) > 0 && keys[0].key.Kind() != v.Kind() {
			return nil, errors.TypeMismatch(errors.PhaseLayout, "sort", v.Kind().String())
		}
		keys = append(keys, sortKey{e: e, key: v})
	}
	slices.SortStableFunc(keys, func(a, b sortKey) int {
		return compareValues(a.key, b.key)
	})
	out := make([]*Component, len(keys))
	for i, k := range keys {
		out[i] = k.e
	}
	return out, nil
}

func compareValues(a, b formula.Value) int {
	if x, ok := a.AsInt(); ok {
		y, _ := b.AsInt()
		return x.Cmp(y)
	}
	if x, ok := a.AsBytes(); ok {
		y, _ := b.AsBytes()
		return slices.Compare(x, y)
	}
	x, _ := a.AsString()
	y, _ := b.AsString()
	return strings.Compare(x, y)
}

// indexedEntries applies an explicit permutation: the i-th formula names
// the entry laid out at position i.
func (c *Component) indexedEntries(opts formula.Options) ([]*Component, error) {
	parts := strings.Split(c.f.indices, ",")
	if len(parts) != len(c.Children) {
		return nil, errors.LayoutViolation(errors.PhaseLayout, "indices lists %d entries, table has %d", len(parts), len(c.Children))
	}
	seen := make([]bool, len(c.Children))
	out := make([]*Component, 0, len(parts))
	for _, p := range parts {
		k, err := c.evalInt(strings.TrimSpace(p), opts)
		if err != nil {
			return nil, err
		}
		if k < 0 || k >= len(c.Children) || seen[k] {
			return nil, errors.LayoutViolation(errors.PhaseLayout, "indices %q is not a permutation of 0..%d", c.f.indices, len(c.Children)-1)
		}
		seen[k] = true
		out = append(out, c.Children[k])
	}
	return out, nil
}

// layoutOrder is the order children are placed in.
func (c *Component) layoutOrder() []*Component {
	if c.table != nil && c.table.order != nil {
		return c.table.order
	}
	return c.Children
}
