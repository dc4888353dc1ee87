package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/fwlayout/component"
	"github.com/wippyai/fwlayout/layout"
)

type editorState int

const (
	stateBrowse editorState = iota
	stateEdit
)

type row struct {
	c     *component.Component
	depth int
}

type editorModel struct {
	ctx      context.Context
	err      error
	im       *layout.Image
	status   string
	opts     options
	rows     []row
	input    textinput.Model
	st       styles
	selected int
	top      int
	height   int
	state    editorState
}

func newEditorModel(ctx context.Context, opts options) *editorModel {
	return &editorModel{
		ctx:    ctx,
		opts:   opts,
		st:     newStyles(opts.color),
		height: 24,
		state:  stateBrowse,
	}
}

type loadedMsg struct {
	err error
	im  *layout.Image
}

func (m *editorModel) Init() tea.Cmd {
	return m.load
}

func (m *editorModel) load() tea.Msg {
	im, err := openImage(m.ctx, m.opts)
	return loadedMsg{im: im, err: err}
}

// refresh lists every live component below the root.
func (m *editorModel) refresh() {
	m.rows = m.rows[:0]
	var walk func(c *component.Component, depth int)
	walk = func(c *component.Component, depth int) {
		for _, ch := range c.Children {
			if ch.Inert() {
				continue
			}
			m.rows = append(m.rows, row{c: ch, depth: depth})
			walk(ch, depth+1)
		}
	}
	walk(m.im.Root(), 0)
	if m.selected >= len(m.rows) {
		m.selected = max(len(m.rows)-1, 0)
	}
}

func (m *editorModel) current() *component.Component {
	if m.selected < len(m.rows) {
		return m.rows[m.selected].c
	}
	return nil
}

func (m *editorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.im = msg.im
		m.refresh()
		return m, nil

	case tea.WindowSizeMsg:
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.state == stateEdit {
			return m.updateEdit(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m *editorModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if m.im != nil {
			_ = m.im.Close(m.ctx)
		}
		return m, tea.Quit
	}
	if m.im == nil {
		return m, nil
	}

	c := m.current()
	switch msg.String() {
	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if m.selected < len(m.rows)-1 {
			m.selected++
		}
	case "enter":
		if c == nil {
			break
		}
		if c.Kind == component.KindIterable {
			e, err := c.AddNewEntry()
			m.report(err, "added "+pathOf(e))
			m.refresh()
			break
		}
		if len(c.Children) > 0 || c.ReadOnly {
			m.status = c.Path() + " is not editable"
			break
		}
		m.input = textinput.New()
		m.input.Prompt = c.Name + ": "
		m.input.Width = 40
		if v, err := c.Value(); err == nil && !v.IsNone() {
			m.input.Placeholder = v.String()
		}
		m.input.Focus()
		m.state = stateEdit
		return m, textinput.Blink
	case "d":
		if c != nil && c.Removable && c.Parent != nil {
			err := c.Parent.RemoveEntry(c.Index())
			m.report(err, "removed "+c.Path())
			m.refresh()
		}
	case "c":
		if c != nil && c.UserSet() {
			c.ClearValue()
			m.status = "reset " + c.Path()
		}
	case "b":
		res, err := m.im.Build(m.ctx)
		if err == nil {
			m.status = fmt.Sprintf("built %d bytes, %s", len(res.Data), res.Digest)
		}
		m.report(err, m.status)
		m.refresh()
	case "s":
		path := m.settingsPath()
		err := writeFile(path, m.im.SaveSettings)
		m.report(err, "settings saved to "+path)
	}
	m.scroll()
	return m, nil
}

func (m *editorModel) updateEdit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.state = stateBrowse
		return m, nil
	case "enter":
		c := m.current()
		err := c.SetValueString(m.input.Value())
		m.report(err, "set "+c.Path())
		m.state = stateBrowse
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *editorModel) report(err error, ok string) {
	m.err = err
	if err == nil {
		m.status = ok
	} else {
		m.status = ""
	}
}

func (m *editorModel) settingsPath() string {
	switch {
	case m.opts.saveSettings != "":
		return m.opts.saveSettings
	case m.opts.settings != "":
		return m.opts.settings
	}
	return strings.TrimSuffix(m.opts.layoutFile, ".xml") + ".settings.xml"
}

func (m *editorModel) visible() int {
	return max(m.height-6, 5)
}

func (m *editorModel) scroll() {
	if m.selected < m.top {
		m.top = m.selected
	}
	if n := m.visible(); m.selected >= m.top+n {
		m.top = m.selected - n + 1
	}
}

func (m *editorModel) View() string {
	if m.im == nil {
		if m.err != nil {
			return m.st.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
		}
		return "Loading layout..."
	}

	var b strings.Builder
	b.WriteString(m.st.title.Render("Layout Editor"))
	b.WriteString(" ")
	b.WriteString(m.opts.layoutFile)
	b.WriteString("\n\n")

	end := min(m.top+m.visible(), len(m.rows))
	for i := m.top; i < end; i++ {
		line := m.formatRow(m.rows[i])
		if i == m.selected {
			b.WriteString(m.st.selected.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch {
	case m.state == stateEdit:
		b.WriteString(m.input.View())
		b.WriteString("\n")
		b.WriteString(m.st.help.Render("enter apply • esc cancel"))
	case m.err != nil:
		b.WriteString(m.st.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
		fallthrough
	default:
		if m.status != "" {
			b.WriteString(m.st.value.Render(m.status))
			b.WriteString("\n")
		}
		b.WriteString(m.st.help.Render("↑/↓ select • enter edit/add entry • d remove entry • c reset • b build • s save • q quit"))
	}
	return b.String()
}

func (m *editorModel) formatRow(r row) string {
	c := r.c
	var b strings.Builder
	b.WriteString(strings.Repeat("  ", r.depth))
	b.WriteString(m.st.path.Render(c.Name))
	b.WriteString(" ")
	b.WriteString(m.st.kind.Render(c.Kind.String()))

	switch {
	case c.Kind == component.KindIterable:
		fmt.Fprintf(&b, " (%d entries)", len(c.Entries()))
	case len(c.Children) == 0:
		v, err := c.Value()
		switch {
		case err != nil:
			b.WriteString(" " + m.st.err.Render("error"))
		case v.IsNone():
			b.WriteString(" " + m.st.help.Render("unresolved"))
		default:
			b.WriteString(" = " + m.st.value.Render(v.String()))
		}
	}
	if c.UserSet() {
		b.WriteString(" " + m.st.warn.Render("*"))
	}
	if c.ReadOnly {
		b.WriteString(" " + m.st.help.Render("(read only)"))
	}
	return b.String()
}

func pathOf(c *component.Component) string {
	if c == nil {
		return ""
	}
	return c.Path()
}

func runInteractive(opts options) error {
	p := tea.NewProgram(newEditorModel(context.Background(), opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
