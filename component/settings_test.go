package component

import (
	"bytes"
	"strings"
	"testing"

	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

const settingsDoc = `
<layout name="img">
  <field name="a" size="1" value="1"/>
  <field name="ro" size="1" value="2" read_only="true"/>
  <field name="nosave" size="1" value="3" save="false"/>
  <field name="name" type="string" size="8" value="boot"/>
  <register name="ctrl">
    <bitfield name="en" bits="1" value="0"/>
    <bitfield name="mode" bits="3" value="0"/>
  </register>
  <iterable name="it" max_entry_count="4">
    <default><field name="v" size="1" value="0"/></default>
    <entry index="1"/>
    <entry index="2"/>
  </iterable>
</layout>`

func TestSettingsRoundTrip(t *testing.T) {
	src := mustParse(t, settingsDoc, nil)
	set := func(path string, v formula.Value) {
		t.Helper()
		if err := mustFind(t, src, path).SetValue(v); err != nil {
			t.Fatalf("SetValue(%s): %v", path, err)
		}
	}
	set("a", formula.Int64(5))
	set("nosave", formula.Int64(9))
	set("name", formula.String("kernel"))
	set("mode", formula.Int64(3))
	set("it[2]/v", formula.Int64(7))

	it := mustFind(t, src, "it")
	e0, err := it.AddNewEntry()
	if err != nil {
		t.Fatalf("AddNewEntry: %v", err)
	}
	if err := e0.Children[0].SetValue(formula.Int64(4)); err != nil {
		t.Fatalf("SetValue new entry: %v", err)
	}
	if err := it.RemoveEntry(1); err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}

	var out bytes.Buffer
	if err := src.SaveSettings(&out); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	doc := out.String()
	for _, want := range []string{`<settings layout="img">`, `name="a"`, `value="0x5"`, `added="true"`, `removed="true"`} {
		if !strings.Contains(doc, want) {
			t.Errorf("settings lack %s:\n%s", want, doc)
		}
	}
	for _, unwanted := range []string{`name="ro"`, `name="nosave"`} {
		if strings.Contains(doc, unwanted) {
			t.Errorf("settings contain %s:\n%s", unwanted, doc)
		}
	}

	dst := mustParse(t, settingsDoc, nil)
	if err := dst.LoadSettings(strings.NewReader(doc)); err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	for path, want := range map[string]int64{"a": 5, "nosave": 3, "mode": 3, "en": 0, "it[0]/v": 4, "it[2]/v": 7} {
		if got := intValue(t, mustFind(t, dst, path)); got != want {
			t.Errorf("%s: got %d, want %d", path, got, want)
		}
	}
	if v, _ := mustFind(t, dst, "name").Value(); !v.Equal(formula.String("kernel")) {
		t.Errorf("name: got %v", v)
	}
	if _, err := dst.Find("it[1]"); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("removed entry still present: %v", err)
	}

	mustFind(t, src, "nosave").ClearValue()
	if a, b := buildImage(t, src, 64), buildImage(t, dst, 64); !bytes.Equal(a, b) {
		t.Errorf("images differ after reload:\n% x\n% x", a, b)
	}
}

func TestSettingsSkipDefaults(t *testing.T) {
	root := mustParse(t, settingsDoc, nil)
	if err := mustFind(t, root, "a").SetValue(formula.Int64(1)); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	n := root.SettingsNode()
	if len(n.Children) != 0 {
		t.Errorf("unchanged tree produced %d settings", len(n.Children))
	}
}

func TestLoadSettingsErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		kind errors.Kind
	}{
		{"read only", `<settings layout="img"><field name="ro" value="7"/></settings>`, errors.KindValidation},
		{"unknown component", `<settings layout="img"><field name="zz" value="7"/></settings>`, errors.KindNotFound},
		{"wrong root", `<layout name="img"/>`, errors.KindStructural},
		{"bad value", `<settings layout="img"><field name="a" value="seven"/></settings>`, errors.KindStructural},
		{"entry beyond max", `<settings layout="img"><iterable name="it"><entry index="9" added="true"/></iterable></settings>`, errors.KindOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := mustParse(t, settingsDoc, nil)
			err := root.LoadSettings(strings.NewReader(tt.doc))
			if got := errors.KindOf(err); got != tt.kind {
				t.Errorf("got %v, want %s", err, tt.kind)
			}
		})
	}
}
