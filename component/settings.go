package component

import (
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/wippyai/fwlayout/convert"
	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

const settingsTag = "settings"

// SettingsNode captures the user edits of the tree: values that were set,
// are saveable, not read only and differ from the default, plus iterable
// entries added or removed since parsing.
func (c *Component) SettingsNode() *Node {
	root := &Node{Tag: settingsTag, Attrs: map[string]string{"layout": c.Name}}
	root.Children = c.settingsChildren()
	return root
}

// SaveSettings writes the settings document.
func (c *Component) SaveSettings(w io.Writer) error {
	if err := WriteNode(w, c.SettingsNode()); err != nil {
		return errors.Wrap(errors.PhaseSettings, errors.KindInvalidData, err, "write settings")
	}
	return nil
}

func (c *Component) settingsChildren() []*Node {
	var out []*Node
	for _, ch := range c.Children {
		if n, ok := ch.settingsNode(); ok {
			out = append(out, n)
		}
	}
	if c.iter != nil {
		removed := make([]int, 0, len(c.iter.removed))
		for k := range c.iter.removed {
			removed = append(removed, k)
		}
		slices.Sort(removed)
		for _, k := range removed {
			out = append(out, &Node{Tag: "entry", Attrs: map[string]string{
				"index":   strconv.Itoa(k),
				"removed": "true",
			}})
		}
	}
	return out
}

func (c *Component) settingsNode() (*Node, bool) {
	n := &Node{Tag: c.Tag, Attrs: map[string]string{"name": c.Name}}
	keep := false
	if c.Kind == KindEntry {
		n.Tag = "entry"
		n.Attrs = map[string]string{"index": strconv.Itoa(c.index)}
		if it := c.Parent.iter; it != nil && !it.starting[c.index] {
			n.Attrs["added"] = "true"
			keep = true
		}
	}
	if c.userSet && c.Saveable && !c.ReadOnly && !c.user.Equal(c.DefaultValue) {
		n.Attrs["value"] = formatValue(c.user)
		keep = true
	}
	n.Children = c.settingsChildren()
	return n, keep || len(n.Children) > 0
}

func formatValue(v formula.Value) string {
	switch v.Kind() {
	case formula.KindInt:
		i, _ := v.AsInt()
		return convert.IntToString(i)
	case formula.KindBytes:
		b, _ := v.AsBytes()
		return convert.BytesToString(b)
	case formula.KindString:
		s, _ := v.AsString()
		return s
	}
	return ""
}

// LoadSettings applies a settings document to the tree.
func (c *Component) LoadSettings(r io.Reader) error {
	n, err := ReadNode(r)
	if err != nil {
		return err
	}
	return c.ApplySettings(n)
}

// ApplySettings applies an already decoded settings document.
func (c *Component) ApplySettings(n *Node) error {
	if n.Tag != settingsTag {
		return errors.Structural(errors.PhaseSettings, "settings document root is <%s>, want <%s>", n.Tag, settingsTag)
	}
	if err := c.applySettings(n); err != nil {
		return c.trace(err, errors.PhaseSettings)
	}
	c.Root().Reset()
	return nil
}

func (c *Component) applySettings(n *Node) error {
	for _, cn := range n.Children {
		if cn.Tag == "entry" {
			if err := c.applyEntrySettings(cn); err != nil {
				return err
			}
			continue
		}
		t, ok := c.byName[cn.Attrs["name"]]
		if !ok {
			return errors.NotFound(errors.PhaseSettings, fmt.Sprintf("line %d: component %q", cn.Line, cn.Attrs["name"]))
		}
		if err := t.applyNode(cn); err != nil {
			return t.trace(err, errors.PhaseSettings)
		}
	}
	return nil
}

func (c *Component) applyEntrySettings(n *Node) error {
	k, err := strconv.Atoi(n.Attrs["index"])
	if err != nil || k < 0 {
		return errors.Structural(errors.PhaseSettings, "line %d: entry index %q", n.Line, n.Attrs["index"])
	}
	if n.Attrs["removed"] == "true" {
		if _, ok := c.byName[entryName(k)]; !ok {
			return nil
		}
		return c.RemoveEntry(k)
	}
	e, err := c.entry(k, true)
	if err != nil {
		return err
	}
	if c.iter != nil {
		delete(c.iter.removed, k)
	}
	if err := e.applyNode(n); err != nil {
		return e.trace(err, errors.PhaseSettings)
	}
	return nil
}

func (c *Component) applyNode(n *Node) error {
	if err := c.materialize(); err != nil {
		return err
	}
	if s, ok := n.Attr("value"); ok {
		v, err := c.parseLiteral(s)
		if err != nil {
			return err
		}
		if err := c.setValue(v); err != nil {
			return err
		}
	}
	return c.applySettings(n)
}
