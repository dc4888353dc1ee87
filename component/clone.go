package component

import (
	"maps"

	"github.com/wippyai/fwlayout/convert"
	"github.com/wippyai/fwlayout/errors"
)

// clone deep copies the subtree rooted at c and attaches it to parent.
// Runtime state (layout, build, values read from buffers) is not copied.
func (c *Component) clone(parent *Component) *Component {
	x := &Component{
		DefaultValue: c.DefaultValue,
		explicit:     c.explicit,
		user:         c.user,
		order:        c.order,
		env:          c.env,
		node:         c.node,
		Parent:       parent,
		byName:       make(map[string]*Component, len(c.byName)),
		deps:         c.deps,
		dups:         c.dups,
		Name:         c.Name,
		Label:        c.Label,
		Description:  c.Description,
		Tag:          c.Tag,
		f:            c.f,
		Kind:         c.Kind,
		vtype:        c.vtype,
		index:        c.index,
		bits:         c.bits,
		bitPos:       c.bitPos,
		alignByte:    c.alignByte,
		Visible:      c.Visible,
		ReadOnly:     c.ReadOnly,
		Removable:    c.Removable,
		Saveable:     c.Saveable,
		CalcOnly:     c.CalcOnly,
		signed:       c.signed,
		inert:        c.inert,
		userSet:      c.userSet,
	}
	if c.table != nil {
		x.table = &tableInfo{template: c.table.template.clone(x)}
	}
	if c.iter != nil {
		it := *c.iter
		it.template = c.iter.template.clone(x)
		it.starting = maps.Clone(c.iter.starting)
		it.removed = maps.Clone(c.iter.removed)
		x.iter = &it
	}
	if c.elf != nil {
		e := *c.elf
		e.info, e.err, e.scanned = nil, nil, false
		x.elf = &e
	}

	for _, ch := range c.Children {
		cc := ch.clone(x)
		x.Children = append(x.Children, cc)
	}
	// Rebuild the namespace, including names promoted from groups.
	for name, target := range c.byName {
		if found := x.counterpart(c, target); found != nil {
			x.byName[name] = found
		}
	}
	return x
}

// counterpart maps target, a descendant of orig, to the same position in
// the clone c.
func (c *Component) counterpart(orig, target *Component) *Component {
	var chain []*Component
	for t := target; t != nil && t != orig; t = t.Parent {
		chain = append(chain, t)
	}
	cur := c
	for i := len(chain) - 1; i >= 0; i-- {
		pos := -1
		for j, ch := range chain[i].Parent.Children {
			if ch == chain[i] {
				pos = j
				break
			}
		}
		if pos < 0 || pos >= len(cur.Children) {
			return nil
		}
		cur = cur.Children[pos]
	}
	return cur
}

// rename turns a template copy into entry k of its parent. Descendant
// labels take the entry label as a prefix, as in "it[3].crc".
func (c *Component) rename(k int) {
	c.Name = entryName(k)
	c.index = k
	if c.Parent != nil {
		c.Label = c.Parent.Label + c.Name
	}
	c.Walk(func(x *Component) bool {
		if x != c {
			x.Label = c.Label + "." + x.Label
		}
		return true
	})
}

// applyOverrides copies the attributes of an <entry> override node onto the
// entry and, by name, onto its descendants.
func (c *Component) applyOverrides(n *Node) error {
	fields := c.f.fields()
	for attr, val := range n.Attrs {
		switch attr {
		case "index", "name":
		case "value":
			v, err := c.parseLiteral(val)
			if err != nil {
				return c.trace(err, errors.PhaseParse)
			}
			c.explicit, c.DefaultValue = v, v
			c.f.calculate = ""
		case "label":
			c.Label = val
		case "removable", "read_only", "visible", "save":
			b, err := convert.StringToBool(val)
			if err != nil {
				return c.trace(errors.Wrap(errors.PhaseParse, errors.KindStructural, err, attr), errors.PhaseParse)
			}
			switch attr {
			case "removable":
				c.Removable = b
			case "read_only":
				c.ReadOnly = b
			case "visible":
				c.Visible = b
			default:
				c.Saveable = b
			}
		case "dependency", "duplicates":
			deps, err := parseDependencies(val)
			if err != nil {
				return c.trace(err, errors.PhaseParse)
			}
			*fields[attr] = val
			if attr == "dependency" {
				c.deps = deps
			} else {
				c.dups = deps
			}
		default:
			if dst, ok := fields[attr]; ok {
				*dst = val
			}
		}
	}
	for _, cn := range n.Children {
		name := cn.Attrs["name"]
		child, ok := c.byName[name]
		if !ok {
			return c.trace(errors.Structural(errors.PhaseParse, "line %d: override of unknown component %q", cn.Line, name), errors.PhaseParse)
		}
		if err := child.applyOverrides(cn); err != nil {
			return c.trace(err, errors.PhaseParse)
		}
	}
	return nil
}
