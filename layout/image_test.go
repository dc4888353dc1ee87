package layout

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	digest "github.com/opencontainers/go-digest"

	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

func load(t *testing.T, doc string, opts Options) *Image {
	t.Helper()
	im, err := Load(context.Background(), strings.NewReader(doc), opts)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { _ = im.Close(context.Background()) })
	return im
}

func TestBuildRetriesDeferredValues(t *testing.T) {
	im := load(t, `
<layout name="img" byte_order="big" max_size="64">
  <field name="crc" size="4" calculate="crc32(body)"/>
  <group name="body">
    <field name="data" type="string" size="9" value="123456789"/>
  </group>
</layout>`, Options{})

	res, err := im.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := append([]byte{0xCB, 0xF4, 0x39, 0x26}, "123456789"...)
	if !bytes.Equal(res.Data, want) {
		t.Errorf("image: got % x, want % x", res.Data, want)
	}
	if res.Passes != 2 {
		t.Errorf("passes: got %d, want 2", res.Passes)
	}
	if res.Digest != digest.FromBytes(want) {
		t.Errorf("digest: got %s", res.Digest)
	}
	if err := Verify(res.Data, res.Digest); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestBuildUnresolved(t *testing.T) {
	im := load(t, `
<layout>
  <field name="a" size="1" calculate="b + 1"/>
  <field name="b" size="1" calculate="a + 1"/>
</layout>`, Options{MaxSize: 16})

	_, err := im.Build(context.Background())
	if errors.KindOf(err) != errors.KindUnresolved {
		t.Fatalf("got %v, want unresolved", err)
	}
	for _, path := range []string{"layout/a", "layout/b"} {
		if !strings.Contains(err.Error(), path) {
			t.Errorf("error does not name %s: %v", path, err)
		}
	}
}

func TestBuildSize(t *testing.T) {
	doc := `<layout max_size="8"><field name="a" size="2" value="0x0201"/></layout>`
	tests := []struct {
		name string
		opts Options
		want []byte
		kind errors.Kind
	}{
		{"trimmed", Options{}, []byte{1, 2}, ""},
		{"full", Options{FullSize: true}, []byte{1, 2, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, ""},
		{"override", Options{MaxSize: 1}, nil, errors.KindOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			im := load(t, doc, tt.opts)
			res, err := im.Build(context.Background())
			if tt.kind != "" {
				if got := errors.KindOf(err); got != tt.kind {
					t.Errorf("got %v, want %s", err, tt.kind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if !bytes.Equal(res.Data, tt.want) {
				t.Errorf("got % x, want % x", res.Data, tt.want)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		opts Options
		kind errors.Kind
	}{
		{"bad max_size", `<layout max_size="lots"/>`, Options{}, errors.KindStructural},
		{"zero max_size", `<layout max_size="0"/>`, Options{}, errors.KindStructural},
		{"missing plugin", `<layout/>`, Options{Plugins: map[string]string{"XOR": "/nonexistent/xor.wasm"}}, errors.KindNotFound},
		{"malformed", `<layout>`, Options{}, errors.KindSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), strings.NewReader(tt.doc), tt.opts)
			if got := errors.KindOf(err); got != tt.kind {
				t.Errorf("got %v, want %s", err, tt.kind)
			}
		})
	}
}

const iterDoc = `
<layout name="img" byte_order="big" max_size="64">
  <field name="n" size="1" calculate="count(it)"/>
  <iterable name="it" max_entry_count="4">
    <default><field name="v" size="2" value="0x0102"/></default>
    <entry index="0"/>
  </iterable>
</layout>`

func TestLookupAndSetValue(t *testing.T) {
	im := load(t, iterDoc, Options{})

	for _, path := range []string{"it", "/it", "img/it", "/img/it/"} {
		c, err := im.Lookup(path)
		if err != nil || c.Name != "it" {
			t.Errorf("Lookup(%q): %v, %v", path, c, err)
		}
	}
	if c, err := im.Lookup("/img"); err != nil || c != im.Root() {
		t.Errorf("Lookup root: %v, %v", c, err)
	}
	if _, err := im.Lookup("img/nope"); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("unknown child: got %v", err)
	}

	if err := im.SetValue("img/it[2]/v", "0x0A0B"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	res, err := im.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if want := []byte{2, 1, 2, 0x0A, 0x0B}; !bytes.Equal(res.Data, want) {
		t.Errorf("got % x, want % x", res.Data, want)
	}
}

func TestDecompose(t *testing.T) {
	doc := `
<layout max_size="16">
  <field name="n" size="1" value="2"/>
  <iterable name="it" count="n">
    <default><field name="v" size="1" value="5"/></default>
  </iterable>
</layout>`
	src := load(t, doc, Options{})
	if err := src.SetValue("it[1]/v", "7"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	built, err := src.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if want := []byte{2, 5, 7}; !bytes.Equal(built.Data, want) {
		t.Fatalf("built % x, want % x", built.Data, want)
	}

	dst := load(t, doc, Options{})
	n, err := dst.Decompose(context.Background(), built.Data)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if n != len(built.Data) {
		t.Errorf("consumed %d bytes, want %d", n, len(built.Data))
	}
	c, err := dst.Lookup("it[1]/v")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if v, _ := c.Value(); !v.Equal(formula.Int64(7)) {
		t.Errorf("it[1]/v: got %v", v)
	}

	rebuilt, err := dst.Build(context.Background())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rebuilt.Digest != built.Digest {
		t.Errorf("rebuild digest %s, want %s", rebuilt.Digest, built.Digest)
	}
}

func TestMap(t *testing.T) {
	im := load(t, iterDoc, Options{})
	m, err := im.Map(context.Background())
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	paths := make([]string, 0, len(m))
	for _, e := range m {
		paths = append(paths, e.Path)
	}
	want := []string{"img", "img/n", "img/it", "img/it[0]", "img/it[0]/v"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Errorf("map paths: got %v, want %v", paths, want)
	}
}

func TestSettingsFile(t *testing.T) {
	dir := t.TempDir()
	layoutPath := filepath.Join(dir, "image.xml")
	if err := os.WriteFile(layoutPath, []byte(iterDoc), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := LoadFile(context.Background(), layoutPath, Options{})
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	defer src.Close(context.Background())
	if err := src.SetValue("it[3]/v", "0x33"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	var settings bytes.Buffer
	if err := src.SaveSettings(&settings); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	dst := load(t, iterDoc, Options{})
	if err := dst.LoadSettings(&settings); err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	a, err := src.Build(context.Background())
	if err != nil {
		t.Fatalf("Build src: %v", err)
	}
	b, err := dst.Build(context.Background())
	if err != nil {
		t.Fatalf("Build dst: %v", err)
	}
	if a.Digest != b.Digest {
		t.Errorf("settings reload changed the image:\n% x\n% x", a.Data, b.Data)
	}
}

func TestVerify(t *testing.T) {
	data := []byte("firmware")
	tests := []struct {
		name string
		d    digest.Digest
		kind errors.Kind
	}{
		{"match", digest.FromBytes(data), ""},
		{"mismatch", digest.FromString("other"), errors.KindTamper},
		{"malformed", digest.Digest("sha256:xyz"), errors.KindInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(data, tt.d)
			if tt.kind == "" {
				if err != nil {
					t.Errorf("Verify: %v", err)
				}
				return
			}
			if got := errors.KindOf(err); got != tt.kind {
				t.Errorf("got %v, want %s", err, tt.kind)
			}
		})
	}
}
