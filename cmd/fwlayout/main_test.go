package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/fwlayout/component"
	"github.com/wippyai/fwlayout/config"
)

const testLayout = `
<layout name="img" byte_order="big" max_size="64">
  <field name="magic" type="bytes" size="2" value="4657"/>
  <field name="label" type="string" size="8" value="boot"/>
  <register name="ctrl">
    <bitfield name="en" bits="1" value="1"/>
  </register>
  <iterable name="it" max_entry_count="4">
    <default><field name="v" size="1" value="5"/></default>
    <entry index="0"/>
  </iterable>
</layout>`

func writeLayout(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.xml")
	if err := os.WriteFile(path, []byte(testLayout), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testOptions(t *testing.T) options {
	return options{cfg: config.Default(), layoutFile: writeLayout(t)}
}

func TestSetFlags(t *testing.T) {
	var s setFlags
	if err := s.Set("a/b=0x10"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set("novalue"); err == nil {
		t.Error("Set accepted a flag without =")
	}
	if s.String() != "a/b=0x10" {
		t.Errorf("got %q", s.String())
	}
}

func TestRunBuildAndDecompose(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t)
	opts.output = filepath.Join(filepath.Dir(opts.layoutFile), "out.bin")
	opts.sets = setFlags{"label=kernel"}
	opts.saveSettings = filepath.Join(filepath.Dir(opts.layoutFile), "settings.xml")

	if err := run(ctx, opts, []string{"build"}); err != nil {
		t.Fatalf("build: %v", err)
	}
	data, err := os.ReadFile(opts.output)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte{0x46, 0x57, 'k', 'e', 'r', 'n', 'e', 'l'}) {
		t.Errorf("image: % x", data)
	}
	settings, err := os.ReadFile(opts.saveSettings)
	if err != nil || !bytes.Contains(settings, []byte(`name="label"`)) {
		t.Errorf("settings: %s, %v", settings, err)
	}

	dec := testOptions(t)
	dec.output = filepath.Join(filepath.Dir(dec.layoutFile), "values.yaml")
	if err := run(ctx, dec, []string{"decompose", opts.output}); err != nil {
		t.Fatalf("decompose: %v", err)
	}
	raw, err := os.ReadFile(dec.output)
	if err != nil {
		t.Fatal(err)
	}
	var values map[string]map[string]any
	if err := yaml.Unmarshal(raw, &values); err != nil {
		t.Fatalf("values yaml: %v\n%s", err, raw)
	}
	img := values["img"]
	if img["label"] != "kernel" || img["magic"] != "4657" {
		t.Errorf("values: %v", img)
	}
	if ctrl, ok := img["ctrl"].(map[string]any); !ok || ctrl["en"] != "0x1" {
		t.Errorf("ctrl: %v", img["ctrl"])
	}
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"flash"}, "unknown command"},
		{"decompose without file", []string{"decompose"}, "needs an image"},
		{"missing image", []string{"decompose", "/nonexistent.bin"}, "read image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(ctx, testOptions(t), tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want %q", err, tt.want)
			}
		})
	}
}

func TestWriteMap(t *testing.T) {
	entries := []component.MapEntry{
		{Path: "img", Offset: 0, Size: 4, Kind: component.KindField},
		{Path: "img/blob", Offset: 2, Size: 2, Kind: component.KindField, Encrypted: true},
	}
	var out bytes.Buffer
	if err := writeMap(&out, entries); err != nil {
		t.Fatalf("writeMap: %v", err)
	}
	var rows []mapRow
	if err := yaml.Unmarshal(out.Bytes(), &rows); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(rows) != 2 || rows[1].Offset != "0x2" || !rows[1].Encrypted || rows[0].Encrypted {
		t.Errorf("rows: %+v", rows)
	}

	line := newStyles(false).mapLine(entries[1])
	for _, want := range []string{"0x00000002", "img/blob", "encrypted"} {
		if !strings.Contains(line, want) {
			t.Errorf("map line %q lacks %s", line, want)
		}
	}
}

func TestEditor(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t)
	opts.saveSettings = filepath.Join(filepath.Dir(opts.layoutFile), "edits.xml")
	m := newEditorModel(ctx, opts)
	m.Update(m.load())
	if m.im == nil {
		t.Fatalf("load: %v", m.err)
	}
	defer m.im.Close(ctx)

	key := func(s string) {
		t.Helper()
		var msg tea.KeyMsg
		switch s {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
		}
		m.Update(msg)
	}
	selectRow := func(name string) {
		t.Helper()
		for i, r := range m.rows {
			if r.c.Name == name {
				m.selected = i
				return
			}
		}
		t.Fatalf("no row %s", name)
	}

	selectRow("label")
	key("enter")
	if m.state != stateEdit {
		t.Fatal("enter did not start editing")
	}
	m.input.SetValue("rootfs")
	key("enter")
	if m.err != nil || m.state != stateBrowse {
		t.Fatalf("edit: %v", m.err)
	}

	selectRow("it")
	key("enter")
	if got := len(m.current().Entries()); got != 2 {
		t.Errorf("entries after add: %d", got)
	}

	key("b")
	if m.err != nil || !strings.Contains(m.status, "sha256:") {
		t.Errorf("build: %v %q", m.err, m.status)
	}
	key("s")
	saved, err := os.ReadFile(opts.saveSettings)
	if err != nil || !bytes.Contains(saved, []byte("rootfs")) {
		t.Errorf("saved settings: %s, %v", saved, err)
	}

	if !strings.Contains(m.View(), "Layout Editor") {
		t.Error("view lacks the title")
	}
}

func TestOpenImageSettings(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t)
	opts.settings = filepath.Join(t.TempDir(), "missing.xml")
	if _, err := openImage(ctx, opts); err == nil {
		t.Error("missing settings file accepted")
	}

	opts.settings = ""
	opts.sets = setFlags{"nope=1"}
	if _, err := openImage(ctx, opts); err == nil {
		t.Error("unknown -set path accepted")
	}

	opts.sets = nil
	im, err := openImage(ctx, opts)
	if err != nil {
		t.Fatalf("openImage: %v", err)
	}
	defer im.Close(ctx)
	if im.Root().Name != "img" {
		t.Errorf("root: %s", im.Root().Name)
	}
}
