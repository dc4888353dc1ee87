package component

import (
	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

// Property reads one property of the component for formula evaluation.
func (c *Component) Property(p formula.Property, arg string, opts formula.Options) (formula.Value, error) {
	if p.IsELF() {
		return c.elfProperty(p, arg)
	}

	switch p {
	case formula.PropValue:
		return c.resolveValue(opts)

	case formula.PropSize:
		n, err := c.sizeValue(opts)
		if err != nil {
			return formula.None(), err
		}
		return formula.Int64(int64(n)), nil

	case formula.PropOffset:
		if !c.laid {
			return formula.None(), c.unresolved()
		}
		return formula.Int64(int64(c.Offset)), nil

	case formula.PropEnd:
		if !c.laid {
			return formula.None(), c.unresolved()
		}
		return formula.Int64(int64(c.Offset + c.Size)), nil

	case formula.PropAlign:
		a, err := c.alignValue(opts)
		if err != nil {
			return formula.None(), err
		}
		return formula.Int64(int64(a)), nil

	case formula.PropEnabled:
		switch c.enabledState(opts) {
		case True:
			return formula.Bool(true), nil
		case False:
			return formula.Bool(false), nil
		}
		return formula.None(), c.unresolved()

	case formula.PropIndex:
		for x := c; x != nil; x = x.Parent {
			if x.Kind == KindEntry {
				return formula.Int64(int64(x.index)), nil
			}
		}
		return formula.None(), errors.NotFound(errors.PhaseResolve, "entry enclosing "+c.Path())

	case formula.PropCount:
		n, err := c.countValue(opts)
		if err != nil {
			return formula.None(), err
		}
		return formula.Int64(int64(n)), nil

	case formula.PropLen:
		v, err := c.resolveValue(opts)
		if err != nil {
			return formula.None(), err
		}
		switch v.Kind() {
		case formula.KindBytes:
			b, _ := v.AsBytes()
			return formula.Int64(int64(len(b))), nil
		case formula.KindString:
			s, _ := v.AsString()
			return formula.Int64(int64(len(s))), nil
		}
		n, err := c.sizeValue(opts)
		if err != nil {
			return formula.None(), err
		}
		return formula.Int64(int64(n)), nil
	}
	return formula.None(), errors.Unsupported(errors.PhaseResolve, "property "+p.String())
}

func (c *Component) unresolved() error {
	return errors.Unresolved(errors.PhaseResolve, c.Path())
}

// sizeValue is the laid out size, or the size formula before layout.
func (c *Component) sizeValue(opts formula.Options) (int, error) {
	if c.laid || c.sizeSet {
		return c.Size, nil
	}
	if c.f.size != "" {
		return c.evalInt(c.f.size, opts)
	}
	return 0, c.unresolved()
}

func (c *Component) alignValue(opts formula.Options) (int, error) {
	if c.f.align == "" {
		return 1, nil
	}
	a, err := c.evalInt(c.f.align, opts)
	if err != nil {
		return 0, err
	}
	if a < 1 {
		return 0, errors.LayoutViolation(errors.PhaseLayout, "align must be positive, got %d", a)
	}
	return a, nil
}

func (c *Component) countValue(opts formula.Options) (int, error) {
	switch c.Kind {
	case KindTable:
		if c.laid {
			return len(c.Children), nil
		}
		return c.evalInt(c.f.count, opts)
	case KindIterable:
		return len(c.Children), nil
	}
	return len(c.Children), nil
}

// enabledState evaluates the enable formula without failing.
func (c *Component) enabledState(opts formula.Options) Tristate {
	if c.f.enabled == "" {
		return True
	}
	opts.AllowNone = true
	v, err := formula.Evaluate(c.f.enabled, c, opts)
	if err != nil || v.IsNone() {
		return Unknown
	}
	if v.Truthy() {
		return True
	}
	return False
}

// Enabled reports the current enable state.
func (c *Component) Enabled() Tristate {
	return c.enabledState(formula.Options{AllowCalculate: true})
}

// isEnabled is the authoritative check used by layout and decomposition.
func (c *Component) isEnabled(opts formula.Options) (bool, error) {
	if c.f.enabled == "" {
		return true, nil
	}
	v, err := formula.Evaluate(c.f.enabled, c, opts)
	if err != nil {
		return false, err
	}
	if v.IsNone() {
		return false, errors.Unresolved(errors.PhaseResolve, c.f.enabled)
	}
	return v.Truthy(), nil
}

func (c *Component) eval(src string, opts formula.Options) (formula.Value, error) {
	return formula.Evaluate(src, c, opts)
}

func (c *Component) evalInt(src string, opts formula.Options) (int, error) {
	v, err := formula.EvaluateInt(src, c, opts)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() {
		return 0, errors.Overflow(errors.PhaseResolve, v, 8)
	}
	return int(v.Int64()), nil
}
