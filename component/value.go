package component

import (
	"bytes"

	"github.com/wippyai/fwlayout/convert"
	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

// Value returns the component's effective value. None means the value cannot
// be determined yet.
func (c *Component) Value() (formula.Value, error) {
	return c.resolveValue(formula.Options{AllowCalculate: true, AllowNone: true})
}

// IsDefault reports whether the effective value equals the declared one.
func (c *Component) IsDefault() bool {
	v, err := c.Value()
	return err == nil && v.Equal(c.DefaultValue)
}

// UserSet reports whether the value was edited through SetValue.
func (c *Component) UserSet() bool { return c.userSet }

// resolveValue returns the effective value. Unresolved references yield
// None; every other failure is returned.
func (c *Component) resolveValue(opts formula.Options) (formula.Value, error) {
	if c.hasValue {
		return c.value, nil
	}
	if c.cachedOK {
		return c.cached, nil
	}
	if c.resolving {
		// A cycle through this component: defer.
		return formula.None(), nil
	}
	c.resolving = true
	defer func() { c.resolving = false }()

	v, err := c.computeValue(opts)
	if err != nil {
		if errors.IsUnresolved(err) {
			return formula.None(), nil
		}
		return formula.None(), err
	}
	// Values computed before layout may read formula sizes that layout
	// later grows, so only cache once the tree is laid out.
	if !v.IsNone() && opts.AllowCalculate && c.Root().laid {
		c.cached, c.cachedOK = v, true
	}
	return v, nil
}

func (c *Component) computeValue(opts formula.Options) (formula.Value, error) {
	if err := c.materialize(); err != nil {
		return formula.None(), err
	}
	switch {
	case c.Kind == KindRegister:
		return c.composeRegister(opts)
	case c.IsContainer():
		// Region bytes exist only once built or decomposed.
		return formula.None(), nil
	}
	return c.leafValue(opts)
}

// leafValue applies the value sources in priority order: duplicates, user
// edit, calculate, decoded bytes, declared value, dependency.
func (c *Component) leafValue(opts formula.Options) (formula.Value, error) {
	if len(c.dups) > 0 {
		return c.evalDependencies(c.dups, opts)
	}
	if c.userSet {
		return c.user, nil
	}
	if c.f.calculate != "" && opts.AllowCalculate {
		o := opts
		o.AllowNone = true
		return c.eval(c.f.calculate, o)
	}
	if c.decodedSet {
		return c.decoded, nil
	}
	if !c.explicit.IsNone() {
		return c.explicit, nil
	}
	if len(c.deps) > 0 {
		return c.evalDependencies(c.deps, opts)
	}
	return formula.None(), nil
}

// hasValueSource is false for reserved leaves: they only occupy space.
func (c *Component) hasValueSource() bool {
	return len(c.dups) > 0 || c.userSet || c.f.calculate != "" || c.decodedSet ||
		!c.explicit.IsNone() || len(c.deps) > 0
}

// SetValue records an edit. The tree is reset so that the next layout and
// build see it.
func (c *Component) SetValue(v formula.Value) error {
	if err := c.setValue(v); err != nil {
		return c.traceFrom(err)
	}
	c.Root().Reset()
	return nil
}

func (c *Component) setValue(v formula.Value) error {
	if c.ReadOnly {
		return errors.New(errors.PhaseSettings, errors.KindValidation).
			Detail("component is read only").
			Build()
	}
	if c.IsContainer() {
		return errors.New(errors.PhaseSettings, errors.KindUnsupported).
			Detail("containers take their value from their children").
			Build()
	}
	if err := c.checkType(v); err != nil {
		return err
	}
	if c.Kind == KindRegister {
		i, _ := v.AsInt()
		return c.distributeRegister(i, func(b *Component, fv formula.Value) {
			b.user, b.userSet = fv, true
		})
	}
	c.user, c.userSet = v, true
	return nil
}

// SetValueString parses s according to the declared type and sets it.
func (c *Component) SetValueString(s string) error {
	v, err := c.parseLiteral(s)
	if err != nil {
		return c.traceFrom(err)
	}
	return c.SetValue(v)
}

// ClearValue drops a user edit.
func (c *Component) ClearValue() {
	c.Walk(func(x *Component) bool {
		x.user, x.userSet = formula.None(), false
		return true
	})
	c.Root().Reset()
}

func (c *Component) checkType(v formula.Value) error {
	want := formula.KindInt
	switch {
	case c.Kind == KindRegister:
	case c.vtype == TypeBytes:
		want = formula.KindBytes
	case c.vtype == TypeString:
		want = formula.KindString
	}
	if v.Kind() != want {
		return errors.New(errors.PhaseSettings, errors.KindTypeMismatch).
			Value(v.String()).
			Detail("value of kind %s, want %s", v.Kind(), want).
			Build()
	}
	return nil
}

// render encodes v into exactly size bytes. Short byte strings are padded
// on the right with the align byte.
func (c *Component) render(v formula.Value, size int) ([]byte, error) {
	switch v.Kind() {
	case formula.KindInt:
		i, _ := v.AsInt()
		b, err := convert.IntToBytes(i, size, c.order, c.signed)
		if err != nil {
			return nil, errors.New(errors.PhaseBuild, errors.KindOverflow).
				Value(v.String()).
				Cause(err).
				Detail("value %s does not fit in %d byte(s)", v, size).
				Build()
		}
		return b, nil
	case formula.KindBytes, formula.KindString:
		raw, ok := v.AsBytes()
		if !ok {
			s, _ := v.AsString()
			raw = []byte(s)
		}
		if len(raw) > size {
			return nil, errors.Overflow(errors.PhaseBuild, v.String(), size)
		}
		out := make([]byte, size)
		copy(out, raw)
		for i := len(raw); i < size; i++ {
			out[i] = c.alignByte
		}
		return out, nil
	}
	return nil, errors.Unresolved(errors.PhaseBuild, c.Path())
}

// decode interprets raw region bytes according to the declared type.
func (c *Component) decode(raw []byte) formula.Value {
	switch c.vtype {
	case TypeBytes:
		return formula.Bytes(raw)
	case TypeString:
		return formula.String(string(bytes.TrimRight(raw, string([]byte{c.alignByte, 0}))))
	}
	return formula.Int(convert.BytesToInt(raw, c.order, c.signed))
}

// naturalSize is the width a leaf needs when no size is declared.
func (c *Component) naturalSize(opts formula.Options) (int, error) {
	if !c.hasValueSource() {
		return 0, nil
	}
	v, err := c.resolveValue(opts)
	if err != nil {
		return 0, err
	}
	switch v.Kind() {
	case formula.KindInt:
		i, _ := v.AsInt()
		n := convert.MinBytes(i)
		if _, err := convert.IntToBytes(i, n, c.order, c.signed); err != nil {
			n++
		}
		return n, nil
	case formula.KindBytes:
		b, _ := v.AsBytes()
		return len(b), nil
	case formula.KindString:
		s, _ := v.AsString()
		return len(s), nil
	}
	return 0, errors.New(errors.PhaseLayout, errors.KindUnresolved).
		Value(c.Path()).
		Detail("size of %s depends on a value that is not resolved", c.Name).
		Build()
}
