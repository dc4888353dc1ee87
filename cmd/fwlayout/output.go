package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/fwlayout/component"
	"github.com/wippyai/fwlayout/formula"
)

type styles struct {
	title    lipgloss.Style
	path     lipgloss.Style
	offset   lipgloss.Style
	kind     lipgloss.Style
	value    lipgloss.Style
	selected lipgloss.Style
	warn     lipgloss.Style
	err      lipgloss.Style
	help     lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain, plain, plain}
	}
	return styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1),
		path:   lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98")),
		offset: lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		kind:   lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		value:  lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90")),
		selected: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")),
		warn: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C")),
		err:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		help: lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
	}
}

func (s styles) mapLine(e component.MapEntry) string {
	line := fmt.Sprintf("%s %8d  %s %s",
		s.offset.Render(fmt.Sprintf("0x%08x", e.Offset)),
		e.Size,
		s.kind.Render(fmt.Sprintf("%-9s", e.Kind)),
		s.path.Render(e.Path))
	if e.Encrypted {
		line += " " + s.warn.Render("encrypted")
	}
	return line
}

type mapRow struct {
	Path      string `yaml:"path"`
	Offset    string `yaml:"offset"`
	Kind      string `yaml:"kind"`
	Size      int    `yaml:"size"`
	Encrypted bool   `yaml:"encrypted,omitempty"`
}

func writeMap(w io.Writer, entries []component.MapEntry) error {
	rows := make([]mapRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, mapRow{
			Path:      e.Path,
			Offset:    fmt.Sprintf("0x%x", e.Offset),
			Kind:      e.Kind.String(),
			Size:      e.Size,
			Encrypted: e.Encrypted,
		})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rows); err != nil {
		return err
	}
	return enc.Close()
}

// writeValues prints the decomposed tree as nested YAML, in layout order.
func writeValues(w io.Writer, root *component.Component) error {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	doc.Content = append(doc.Content, scalar(root.Name), valuesNode(root))
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func valuesNode(c *component.Component) *yaml.Node {
	if len(c.Children) == 0 {
		v, err := c.Value()
		if err != nil {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
		}
		return valueScalar(v)
	}
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, ch := range c.Children {
		if ch.Inert() || ch.Disabled() {
			continue
		}
		n.Content = append(n.Content, scalar(ch.Name), valuesNode(ch))
	}
	return n
}

func valueScalar(v formula.Value) *yaml.Node {
	switch v.Kind() {
	case formula.KindNone:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	case formula.KindString:
		s, _ := v.AsString()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s, Style: yaml.DoubleQuotedStyle}
	}
	return scalar(v.String())
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}
