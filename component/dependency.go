package component

import (
	"math/big"

	"github.com/tidwall/gjson"

	"github.com/wippyai/fwlayout/convert"
	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

// Dependency supplies a value derived from a reference setting elsewhere in
// the tree.
type Dependency interface {
	// Setting is the path of the reference setting.
	Setting() string
	// Resolve returns the supplied value for owner, or None while the
	// reference setting is unresolved.
	Resolve(owner *Component, opts formula.Options) (formula.Value, error)
}

// GetDependency copies a property of the reference setting.
type GetDependency struct {
	Path     string
	Property formula.Property
}

func (d *GetDependency) Setting() string { return d.Path }

func (d *GetDependency) Resolve(owner *Component, opts formula.Options) (formula.Value, error) {
	t, err := owner.Find(d.Path)
	if err != nil {
		if errors.KindOf(err) == errors.KindSyntax {
			return formula.None(), err
		}
		return formula.None(), nil
	}
	v, err := t.Property(d.Property, "", opts)
	if errors.IsUnresolved(err) {
		return formula.None(), nil
	}
	return v, err
}

type switchCase struct {
	key     *big.Int
	text    string
	formula string
}

// SwitchDependency maps values of the reference setting to formulas
// evaluated in the owner's scope.
type SwitchDependency struct {
	Path    string
	Default string
	cases   []switchCase
}

func (d *SwitchDependency) Setting() string { return d.Path }

func (d *SwitchDependency) Resolve(owner *Component, opts formula.Options) (formula.Value, error) {
	t, err := owner.Find(d.Path)
	if err != nil {
		return formula.None(), nil
	}
	v, err := t.resolveValue(opts)
	if err != nil || v.IsNone() {
		return formula.None(), err
	}

	src := d.Default
	for _, sc := range d.cases {
		if sc.matches(v) {
			src = sc.formula
			break
		}
	}
	if src == "" {
		return formula.None(), nil
	}
	o := opts
	o.AllowNone = true
	return owner.eval(src, o)
}

func (sc switchCase) matches(v formula.Value) bool {
	if i, ok := v.AsInt(); ok {
		return sc.key != nil && sc.key.Cmp(i) == 0
	}
	if s, ok := v.AsString(); ok {
		return sc.text == s
	}
	if b, ok := v.AsBytes(); ok {
		return sc.text == convert.BytesToString(b)
	}
	return false
}

// Dependencies returns the parsed dependency or, with duplicates set, the
// duplicates declaration.
func (c *Component) Dependencies(duplicates bool) ([]Dependency, error) {
	src := c.f.dependency
	if duplicates {
		src = c.f.duplicates
	}
	if src == "" {
		return nil, nil
	}
	return parseDependencies(src)
}

// evalDependencies returns the first value any dependency supplies.
func (c *Component) evalDependencies(deps []Dependency, opts formula.Options) (formula.Value, error) {
	for _, d := range deps {
		v, err := d.Resolve(c, opts)
		if err != nil {
			return formula.None(), err
		}
		if !v.IsNone() {
			return v, nil
		}
	}
	return formula.None(), nil
}

// parseDependencies reads a JSON array of single-key objects:
//
//	[{"get": {"setting": "../mode", "property": "value"}},
//	 {"switch": {"setting": "mode", "cases": {"1": "0x10"}, "default": "0"}}]
func parseDependencies(src string) ([]Dependency, error) {
	if !gjson.Valid(src) {
		return nil, errors.Structural(errors.PhaseParse, "dependency is not valid JSON: %s", src)
	}
	doc := gjson.Parse(src)
	if !doc.IsArray() {
		return nil, errors.Structural(errors.PhaseParse, "dependency must be a JSON array")
	}

	var deps []Dependency
	for _, item := range doc.Array() {
		obj := item.Map()
		if !item.IsObject() || len(obj) != 1 {
			return nil, errors.Structural(errors.PhaseParse, "dependency entry %s must be an object with one key", item.Raw)
		}
		for kind, body := range obj {
			d, err := parseDependency(kind, body)
			if err != nil {
				return nil, err
			}
			deps = append(deps, d)
		}
	}
	return deps, nil
}

func parseDependency(kind string, body gjson.Result) (Dependency, error) {
	setting := body.Get("setting").String()
	if setting == "" {
		return nil, errors.Structural(errors.PhaseParse, "%s dependency without setting", kind)
	}

	switch kind {
	case "get":
		prop := formula.PropValue
		if name := body.Get("property").String(); name != "" {
			p, ok := formula.LookupProperty(name)
			if !ok {
				return nil, errors.Structural(errors.PhaseParse, "unknown property %q in get dependency", name)
			}
			prop = p
		}
		return &GetDependency{Path: setting, Property: prop}, nil

	case "switch":
		d := &SwitchDependency{Path: setting, Default: body.Get("default").String()}
		var err error
		body.Get("cases").ForEach(func(k, v gjson.Result) bool {
			sc := switchCase{text: k.String(), formula: v.String()}
			if i, perr := convert.StringToInt(k.String()); perr == nil {
				sc.key = i
			}
			if _, perr := formula.Parse(sc.formula); perr != nil {
				err = perr
				return false
			}
			d.cases = append(d.cases, sc)
			return true
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, errors.Structural(errors.PhaseParse, "unknown dependency type %q", kind)
}
