package component

import (
	"context"
	"strings"
	"testing"

	"github.com/wippyai/fwlayout/buffer"
	"github.com/wippyai/fwlayout/elfscan"
	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

func mustParse(t *testing.T, doc string, env *Env) *Component {
	t.Helper()
	c, err := Parse(strings.NewReader(doc), env)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return c
}

// buildImage lays out and builds root, retrying deferred leaves the way the
// layout package does, and returns the image bytes.
func buildImage(t *testing.T, root *Component, maxSize int) []byte {
	t.Helper()
	ctx := context.Background()
	buf := buffer.New(maxSize, 0xFF)
	root.Reset()
	if err := root.BuildLayout(ctx, buf); err != nil {
		t.Fatalf("BuildLayout: %v", err)
	}
	for range 4 {
		if err := root.Build(ctx, buf); err != nil {
			t.Fatalf("Build: %v", err)
		}
		if root.Built() {
			break
		}
		root.Env().TakePending()
	}
	if !root.Built() {
		t.Fatal("tree not built after retries")
	}
	data, err := buf.ReadAt(root.Offset, root.Size)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	return data
}

func mustFind(t *testing.T, c *Component, path string) *Component {
	t.Helper()
	x, err := c.Find(path)
	if err != nil {
		t.Fatalf("Find(%q): %v", path, err)
	}
	return x
}

func intValue(t *testing.T, c *Component) int64 {
	t.Helper()
	v, err := c.Value()
	if err != nil {
		t.Fatalf("Value of %s: %v", c.Path(), err)
	}
	i, ok := v.AsInt()
	if !ok {
		t.Fatalf("value of %s is %v, want an integer", c.Path(), v)
	}
	return i.Int64()
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		kind errors.Kind
	}{
		{"malformed xml", `<layout><field name="a"></layout>`, errors.KindSyntax},
		{"unknown element", `<layout><bogus name="a"/></layout>`, errors.KindStructural},
		{"missing name", `<layout><field size="1"/></layout>`, errors.KindStructural},
		{"whitespace in name", `<layout><field name="a b" size="1"/></layout>`, errors.KindStructural},
		{"duplicate name", `<layout><field name="a" size="1"/><field name="a" size="1"/></layout>`, errors.KindStructural},
		{"duplicate promoted name", `<layout><field name="a" size="1"/><group name="g"><field name="a" size="1"/></group></layout>`, errors.KindStructural},
		{"offset and align", `<layout><field name="a" size="1" offset="4" align="4"/></layout>`, errors.KindStructural},
		{"encrypt without mode", `<layout><field name="a" size="16" encrypt="true"/></layout>`, errors.KindStructural},
		{"table without count", `<layout><table name="t"><field name="a" size="1"/></table></layout>`, errors.KindStructural},
		{"iterable without default", `<layout><iterable name="it"><entry index="0"/></iterable></layout>`, errors.KindStructural},
		{"bitfield outside register", `<layout><bitfield name="b" bits="1"/></layout>`, errors.KindStructural},
		{"overlapping bitfields", `<layout><register name="r"><bitfield name="a" bits="4"/><bitfield name="b" bits="4" bit_offset="2"/></register></layout>`, errors.KindStructural},
		{"value and calculate", `<layout><field name="a" size="1" value="1" calculate="2"/></layout>`, errors.KindStructural},
		{"bad dependency json", `<layout><field name="a" size="1" dependency="[{"/></layout>`, errors.KindStructural},
		{"unknown dependency", `<layout><field name="a" size="1" dependency='[{"copy": {"setting": "b"}}]'/></layout>`, errors.KindStructural},
		{"bad offline mode", `<layout><field name="a" size="1" offline_encryption="maybe"/></layout>`, errors.KindStructural},
		{"long label", `<layout><field name="a" size="1" label="` + strings.Repeat("x", 65) + `"/></layout>`, errors.KindStructural},
		{"bad integer", `<layout><field name="a" size="1" value="0xZZ"/></layout>`, errors.KindStructural},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc), nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.KindOf(err); got != tt.kind {
				t.Errorf("kind: got %s, want %s (%v)", got, tt.kind, err)
			}
		})
	}
}

func TestParseInheritance(t *testing.T) {
	root := mustParse(t, `
<layout byte_order="big" align_byte="0x00">
  <group name="g" signed="true">
    <field name="a" size="2" value="-2"/>
  </group>
  <field name="b" size="2" byte_order="little" value="1"/>
</layout>`, nil)

	a := mustFind(t, root, "a")
	if a.AlignByte() != 0 {
		t.Errorf("align byte: got %#x, want 0", a.AlignByte())
	}
	data := buildImage(t, root, 64)
	want := []byte{0xFF, 0xFE, 0x01, 0x00}
	if string(data) != string(want) {
		t.Errorf("image: got % x, want % x", data, want)
	}
}

func TestInertComponent(t *testing.T) {
	root := mustParse(t, `
<layout>
  <field name="flag" size="1" value="0"/>
  <field name="opt" size="2" enabled="flag" value="0x0707"/>
  <field name="tail" size="1" value="0xEE"/>
</layout>`, nil)

	opt := mustFind(t, root, "opt")
	if !opt.Inert() {
		t.Fatal("opt should be inert while flag is 0")
	}
	if data := buildImage(t, root, 16); string(data) != "\x00\xEE" {
		t.Errorf("disabled image: got % x", data)
	}
	if !opt.Disabled() || opt.Size != 0 {
		t.Errorf("opt: disabled %v size %d", opt.Disabled(), opt.Size)
	}

	if err := mustFind(t, root, "flag").SetValue(formula.Int64(1)); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	data := buildImage(t, root, 16)
	if want := []byte{0x01, 0x07, 0x07, 0xEE}; string(data) != string(want) {
		t.Errorf("enabled image: got % x, want % x", data, want)
	}
	if opt.Inert() {
		t.Error("opt still inert after layout enabled it")
	}
}

func TestFind(t *testing.T) {
	root := mustParse(t, `
<layout name="img">
  <group name="hdr">
    <field name="magic" size="2" value="0x4657"/>
    <field name="length" size="2" calculate="size(/img/body)"/>
  </group>
  <field name="body">
    <field name="x" size="4" value="1"/>
    <field name="y" size="4" calculate="x + 1"/>
  </field>
  <table name="t" count="2">
    <field name="k" size="1" calculate="index()"/>
  </table>
</layout>`, nil)

	y := mustFind(t, root, "body/y")
	tests := []struct {
		from *Component
		path string
		want string
	}{
		{root, "magic", "img/hdr/magic"},
		{root, "hdr/magic", "img/hdr/magic"},
		{root, "/body/y", "img/body/y"},
		{root, "/img/body/y", "img/body/y"},
		{root, "/", "img"},
		{root, "t[1]/k", "img/t[1]/k"},
		{y, "x", "img/body/x"},
		{y, ".", "img/body/y"},
		{y, "..", "img/body"},
		{y, "../../hdr", "img/hdr"},
		{y, "magic", "img/hdr/magic"},
		{y, "img", "img"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := mustFind(t, tt.from, tt.path)
			if got.Path() != tt.want {
				t.Errorf("got %s, want %s", got.Path(), tt.want)
			}
		})
	}

	for _, path := range []string{"missing", "body/z", "t[2]", "/img/.."} {
		if _, err := root.Find(path); errors.KindOf(err) != errors.KindNotFound {
			t.Errorf("Find(%q): got %v, want not found", path, err)
		}
	}
	if _, err := root.Find("t[x]"); errors.KindOf(err) != errors.KindSyntax {
		t.Errorf("malformed index: got %v, want syntax error", err)
	}
}

func TestFormulaValues(t *testing.T) {
	root := mustParse(t, `
<layout name="img">
  <group name="hdr">
    <field name="magic" size="2" value="0x4657"/>
    <field name="length" size="2" calculate="size(/img/body)"/>
  </group>
  <field name="body">
    <field name="x" size="4" value="1"/>
    <field name="y" size="4" calculate="x + 1"/>
  </field>
</layout>`, nil)

	length := mustFind(t, root, "length")
	if v, err := length.Value(); err != nil || !v.IsNone() {
		t.Errorf("length before layout: got %v, %v; want None", v, err)
	}
	if got := intValue(t, mustFind(t, root, "y")); got != 2 {
		t.Errorf("y: got %d, want 2", got)
	}

	data := buildImage(t, root, 64)
	want := []byte{0x57, 0x46, 0x08, 0x00, 1, 0, 0, 0, 2, 0, 0, 0}
	if string(data) != string(want) {
		t.Errorf("image: got % x, want % x", data, want)
	}
	if got := intValue(t, length); got != 8 {
		t.Errorf("length after build: got %d, want 8", got)
	}
}

func TestSetValue(t *testing.T) {
	root := mustParse(t, `
<layout>
  <field name="a" size="1" value="1"/>
  <field name="ro" size="1" value="2" read_only="true"/>
  <field name="s" type="string" size="4" value="ab"/>
  <field name="box"><field name="in" size="1" value="0"/></field>
</layout>`, nil)

	a := mustFind(t, root, "a")
	if err := a.SetValueString("0x7f"); err != nil {
		t.Fatalf("SetValueString: %v", err)
	}
	if got := intValue(t, a); got != 0x7f || !a.UserSet() || a.IsDefault() {
		t.Errorf("a: value %d, user set %v, default %v", got, a.UserSet(), a.IsDefault())
	}
	a.ClearValue()
	if !a.IsDefault() {
		t.Error("ClearValue did not restore the default")
	}

	tests := []struct {
		name string
		path string
		v    formula.Value
		kind errors.Kind
	}{
		{"read only", "ro", formula.Int64(3), errors.KindValidation},
		{"container", "box", formula.Int64(3), errors.KindUnsupported},
		{"bytes into int", "a", formula.Bytes([]byte{1}), errors.KindTypeMismatch},
		{"int into string", "s", formula.Int64(1), errors.KindTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mustFind(t, root, tt.path).SetValue(tt.v)
			if got := errors.KindOf(err); got != tt.kind {
				t.Errorf("got %v, want %s", err, tt.kind)
			}
			e, ok := err.(*errors.Error)
			if !ok || len(e.Path) == 0 || e.Path[len(e.Path)-1] != tt.path {
				t.Errorf("error path: %v", err)
			}
		})
	}
}

func TestDependencies(t *testing.T) {
	root := mustParse(t, `
<layout>
  <field name="b" size="1" dependency='[{"get": {"setting": "a"}}]'/>
  <field name="a" size="1" calculate="x * 2"/>
  <field name="x" size="1"/>
  <field name="mode" size="1" value="2"/>
  <field name="sw" size="1" dependency='[{"switch": {"setting": "mode", "cases": {"1": "0x10", "2": "0x20"}, "default": "0"}}]'/>
  <field name="sz" size="1" dependency='[{"get": {"setting": "a", "property": "size"}}]'/>
  <field name="mirror" size="1" duplicates='[{"get": {"setting": "mode"}}]'/>
</layout>`, nil)

	b := mustFind(t, root, "b")
	v, err := b.Value()
	if err != nil {
		t.Fatalf("b before a resolves: %v", err)
	}
	if !v.IsNone() {
		t.Errorf("b before a resolves: got %v, want None", v)
	}

	if err := mustFind(t, root, "x").SetValue(formula.Int64(3)); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if got := intValue(t, mustFind(t, root, "a")); got != 6 {
		t.Errorf("a: got %d, want 6", got)
	}
	if got := intValue(t, b); got != 6 {
		t.Errorf("b: got %d, want 6", got)
	}

	sw := mustFind(t, root, "sw")
	if got := intValue(t, sw); got != 0x20 {
		t.Errorf("switch case: got %#x, want 0x20", got)
	}
	if err := mustFind(t, root, "mode").SetValue(formula.Int64(9)); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if got := intValue(t, sw); got != 0 {
		t.Errorf("switch default: got %#x, want 0", got)
	}
	if got := intValue(t, mustFind(t, root, "sz")); got != 1 {
		t.Errorf("get size: got %d, want 1", got)
	}

	mirror := mustFind(t, root, "mirror")
	if err := mirror.SetValue(formula.Int64(1)); err != nil {
		t.Fatalf("SetValue mirror: %v", err)
	}
	if got := intValue(t, mirror); got != 9 {
		t.Errorf("duplicates: got %d, want the mirrored 9", got)
	}

	deps, err := sw.Dependencies(false)
	if err != nil || len(deps) != 1 || deps[0].Setting() != "mode" {
		t.Errorf("Dependencies: %v, %v", deps, err)
	}
}

func TestCycleResolvesToNone(t *testing.T) {
	root := mustParse(t, `
<layout>
  <field name="a" size="1" calculate="b + 1"/>
  <field name="b" size="1" calculate="a + 1"/>
</layout>`, nil)
	v, err := mustFind(t, root, "a").Value()
	if err != nil || !v.IsNone() {
		t.Errorf("cycle: got %v, %v; want None", v, err)
	}
}

type fakeScanner struct {
	symbols     map[string]uint64
	lastPath    string
	lastSymbols []string
}

func (s *fakeScanner) Scan(path, _ string, symbols []string) (*elfscan.Info, error) {
	s.lastPath, s.lastSymbols = path, append([]string(nil), symbols...)
	info := &elfscan.Info{
		Entry:   0x8004,
		Text:    elfscan.Segment{Data: []byte{0xDE, 0xAD, 0xBE, 0xEF}, Offset: 0x100, Address: 0x8000, Size: 4},
		Data:    elfscan.Segment{Offset: 0x200, Address: 0x9000, Size: 2, Data: []byte{1, 2}},
		BssSize: 0x40,
		Symbols: make(map[string]uint64),
	}
	for _, name := range symbols {
		if a, ok := s.symbols[name]; ok {
			info.Symbols[name] = a
		}
	}
	return info, nil
}

func TestElfFile(t *testing.T) {
	sc := &fakeScanner{symbols: map[string]uint64{"main": 0x8010}}
	env := &Env{ELF: sc, BaseDir: "/fw"}
	root := mustParse(t, `
<layout byte_order="big">
  <elf_file name="fw" value="app.elf"/>
  <field name="start" size="4" calculate="entry_address(fw)"/>
  <field name="main" size="4" calculate='symbol(fw, "main")'/>
  <field name="text" type="bytes" calculate="text(fw)"/>
  <field name="bss" size="2" calculate="bss_size(fw)"/>
</layout>`, env)

	data := buildImage(t, root, 64)
	want := []byte{
		0x00, 0x00, 0x80, 0x04,
		0x00, 0x00, 0x80, 0x10,
		0xDE, 0xAD, 0xBE, 0xEF,
		0x00, 0x40,
	}
	if string(data) != string(want) {
		t.Errorf("image: got % x, want % x", data, want)
	}
	if sc.lastPath != "/fw/app.elf" {
		t.Errorf("scan path: got %q", sc.lastPath)
	}
	if len(sc.lastSymbols) != 1 || sc.lastSymbols[0] != "main" {
		t.Errorf("symbols requested: %v", sc.lastSymbols)
	}

	fw := mustFind(t, root, "fw")
	_, err := fw.Property(formula.PropSymbol, "nope", formula.Options{})
	if errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("missing symbol: got %v, want not found", err)
	}
}
