package component

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/fwlayout/buffer"
	"github.com/wippyai/fwlayout/convert"
	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

// Build writes the bytes of c and its descendants into buf. BuildLayout
// must have run first.
//
// Leaves whose value is not resolved yet are recorded in the environment
// (see Env.TakePending) and their containers stay unfinished; calling Build
// again continues where the previous call stopped.
func (c *Component) Build(ctx context.Context, buf *buffer.Buffer) error {
	if err := c.build(ctx, buf); err != nil {
		return c.trace(err, errors.PhaseBuild)
	}
	return nil
}

func (c *Component) build(ctx context.Context, buf *buffer.Buffer) error {
	if c.built {
		return nil
	}
	if !c.laid {
		return errors.Structural(errors.PhaseBuild, "%s has no layout", c.Name)
	}
	if c.disabled || c.CalcOnly || c.Size == 0 && !c.IsContainer() || c.Kind == KindBitfield || c.Kind == KindElfFile {
		c.built = true
		return nil
	}

	if !c.prepared {
		if err := c.prepare(buf); err != nil {
			return err
		}
		c.prepared = true
	}

	if c.IsContainer() {
		done := true
		for _, ch := range c.Children {
			if err := ch.Build(ctx, buf); err != nil {
				return err
			}
			done = done && ch.built
		}
		if !done {
			return nil
		}
	} else {
		v, err := c.resolveValue(layoutOpts)
		if err != nil {
			return err
		}
		if v.IsNone() {
			if !c.hasValueSource() {
				// Reserved space: the prepared fill is the content.
				return c.finish(ctx, buf)
			}
			Logger().Debug("deferring unresolved value", zap.String("path", c.Path()))
			c.env.pending = append(c.env.pending, c)
			return nil
		}
		data, err := c.render(v, c.contentSize)
		if err != nil {
			return err
		}
		if err := buf.WriteAt(c.Offset, data); err != nil {
			return errors.Wrap(errors.PhaseBuild, errors.KindOutOfBounds, err, "write value")
		}
	}
	return c.finish(ctx, buf)
}

// prepare fills the region with the fill pattern, or the align byte.
func (c *Component) prepare(buf *buffer.Buffer) error {
	pattern := []byte{c.alignByte}
	if c.f.fill != "" {
		v, err := c.eval(c.f.fill, layoutOpts)
		if err != nil {
			return err
		}
		switch v.Kind() {
		case formula.KindBytes:
			pattern, _ = v.AsBytes()
		case formula.KindInt:
			i, _ := v.AsInt()
			if pattern, err = convert.IntToBytes(i, convert.MinBytes(i), c.order, false); err != nil {
				return errors.Wrap(errors.PhaseBuild, errors.KindOverflow, err, "fill")
			}
		default:
			return errors.Unresolved(errors.PhaseBuild, c.f.fill)
		}
	}
	if err := buf.Fill(c.Offset, c.Size, pattern); err != nil {
		return errors.Wrap(errors.PhaseBuild, errors.KindOutOfBounds, err, "fill region")
	}
	return nil
}

// finish pads the content, re-reads the plaintext region into the value and
// applies encryption.
func (c *Component) finish(ctx context.Context, buf *buffer.Buffer) error {
	if c.plainSize > c.contentSize {
		if err := buf.Fill(c.Offset+c.contentSize, c.plainSize-c.contentSize, []byte{c.alignByte}); err != nil {
			return errors.Wrap(errors.PhaseBuild, errors.KindOutOfBounds, err, "pad region")
		}
	}
	plain, err := buf.ReadAt(c.Offset, c.plainSize)
	if err != nil {
		return errors.Wrap(errors.PhaseBuild, errors.KindOutOfBounds, err, "read back region")
	}
	c.RawData = plain
	c.setReadBack(plain)

	if c.encrypted {
		out, err := c.encryptRegion(ctx, plain)
		if err != nil {
			return err
		}
		if err := buf.WriteAt(c.Offset, out); err != nil {
			return errors.Wrap(errors.PhaseBuild, errors.KindOutOfBounds, err, "write ciphertext")
		}
		if c.f.offline != offlineSave {
			c.value = formula.Bytes(out)
		}
	}
	c.built = true
	return nil
}

// setReadBack stores the value formulas see once the region is final.
func (c *Component) setReadBack(region []byte) {
	switch {
	case c.IsContainer():
		c.value = formula.Bytes(region)
	case c.Kind == KindRegister:
		c.value = formula.Int(convert.BytesToInt(region[:c.contentSize], c.order, false))
	default:
		c.value = c.decode(region[:c.contentSize])
	}
	c.hasValue = true
}

// Validate evaluates the validate formulas of every enabled component.
func (c *Component) Validate() error {
	var err error
	c.Walk(func(x *Component) bool {
		if err != nil || x.disabled || x.inert {
			return false
		}
		if x.f.validate == "" {
			return true
		}
		v, verr := x.eval(x.f.validate, layoutOpts)
		switch {
		case verr != nil:
			err = x.traceFrom(verr)
		case !v.Truthy():
			err = x.traceFrom(errors.Validation(errors.PhaseBuild, x.f.validateError, x.f.validate))
		}
		return err == nil
	})
	return err
}

// traceFrom attaches the full path of c to err.
func (c *Component) traceFrom(err error) error {
	names := c.pathNames()
	for i := len(names) - 1; i >= 0; i-- {
		err = errors.Trace(err, errors.PhaseBuild, names[i])
	}
	return err
}
