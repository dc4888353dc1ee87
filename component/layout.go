package component

import (
	"context"

	"github.com/wippyai/fwlayout/buffer"
	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

var layoutOpts = formula.Options{AllowCalculate: true}

// BuildLayout resolves the offset and size of c and its descendants,
// starting at the buffer cursor. The cursor is left at the end of c.
func (c *Component) BuildLayout(ctx context.Context, buf *buffer.Buffer) error {
	if err := c.layout(ctx, buf); err != nil {
		return c.trace(err, errors.PhaseLayout)
	}
	return nil
}

func (c *Component) layout(ctx context.Context, buf *buffer.Buffer) error {
	on, err := c.isEnabled(layoutOpts)
	if err != nil {
		return err
	}
	if !on && !c.CalcOnly {
		c.layDisabled(buf.Position())
		return nil
	}
	if err := c.materialize(); err != nil {
		return err
	}
	if c.CalcOnly || c.Kind == KindElfFile {
		c.layEmpty(buf.Position())
		return nil
	}

	start, err := c.placement(buf.Position())
	if err != nil {
		return err
	}
	if err := buf.Seek(start); err != nil {
		return errors.OutOfBounds(errors.PhaseLayout, start, 0, buf.MaxSize())
	}
	c.Offset = start

	declared := -1
	if c.f.size != "" {
		if declared, err = c.evalInt(c.f.size, layoutOpts); err != nil {
			return err
		}
		if declared < 0 {
			return errors.LayoutViolation(errors.PhaseLayout, "size %d is negative", declared)
		}
	}

	content, err := c.layoutContent(ctx, buf, declared)
	if err != nil {
		return err
	}
	if err := c.finishLayout(ctx, content, declared, buf.MaxSize()); err != nil {
		return err
	}
	if err := buf.Seek(c.Offset + c.Size); err != nil {
		return errors.OutOfBounds(errors.PhaseLayout, c.Offset, c.Size, buf.MaxSize())
	}
	c.laid = true
	return nil
}

// placement applies align and offset to the cursor position.
func (c *Component) placement(cursor int) (int, error) {
	start := cursor
	if c.f.align != "" {
		a, err := c.alignValue(layoutOpts)
		if err != nil {
			return 0, err
		}
		start = alignUp(start, a)
	}
	if c.f.offset != "" {
		off, err := c.evalInt(c.f.offset, layoutOpts)
		if err != nil {
			return 0, err
		}
		base := 0
		if c.Parent != nil {
			base = c.Parent.Offset
		}
		if base+off < cursor {
			return 0, errors.New(errors.PhaseLayout, errors.KindLayoutViolation).
				Value(base + off).
				Detail("requested offset %#x is behind the cursor at %#x", base+off, cursor).
				Build()
		}
		start = base + off
	}
	return start, nil
}

// layoutContent lays out children and returns the unpadded content size.
func (c *Component) layoutContent(ctx context.Context, buf *buffer.Buffer, declared int) (int, error) {
	switch {
	case c.Kind == KindTable:
		if err := c.regenerate(layoutOpts); err != nil {
			return 0, err
		}
		order, err := c.tableOrder(layoutOpts)
		if err != nil {
			return 0, err
		}
		c.table.order = order
		return c.layoutChildren(ctx, buf, declared)

	case c.IsContainer():
		return c.layoutChildren(ctx, buf, declared)

	case c.Kind == KindRegister:
		bits := c.registerBits()
		n := (bits + 7) / 8
		if declared >= 0 {
			if declared*8 < bits {
				return 0, errors.LayoutViolation(errors.PhaseLayout, "register of %d byte(s) cannot hold %d bits", declared, bits)
			}
			n = declared
		}
		for _, b := range c.Children {
			if b.inert {
				continue
			}
			on, err := b.isEnabled(layoutOpts)
			if err != nil {
				return 0, b.trace(err, errors.PhaseLayout)
			}
			b.Offset, b.Size, b.laid, b.disabled = c.Offset, 0, true, !on
		}
		return n, nil
	}

	if declared >= 0 {
		return declared, nil
	}
	return c.naturalSize(layoutOpts)
}

func (c *Component) layoutChildren(ctx context.Context, buf *buffer.Buffer, declared int) (int, error) {
	end := c.Offset
	for _, ch := range c.layoutOrder() {
		if err := ch.BuildLayout(ctx, buf); err != nil {
			return 0, err
		}
		end = max(end, ch.Offset+ch.Size)
	}
	span := end - c.Offset
	if declared >= 0 {
		if declared < span {
			return 0, errors.LayoutViolation(errors.PhaseLayout, "declared size %d is smaller than the %d byte(s) its children need", declared, span)
		}
		return declared, nil
	}
	return span, nil
}

// finishLayout applies padding and encryption growth and checks bounds.
func (c *Component) finishLayout(ctx context.Context, content, declared, limit int) error {
	c.contentSize = content
	plain := content
	if c.f.padding != "" {
		p, err := c.evalInt(c.f.padding, layoutOpts)
		if err != nil {
			return err
		}
		if p <= 0 {
			return errors.LayoutViolation(errors.PhaseLayout, "padding %d is not positive", p)
		}
		plain = alignUp(content, p)
		if declared >= 0 && plain != declared {
			return errors.LayoutViolation(errors.PhaseLayout, "declared size %d is not a multiple of padding %d", declared, p)
		}
	}
	c.plainSize = plain
	c.Size = plain

	on, err := c.encryptionActive(layoutOpts)
	if err != nil {
		return err
	}
	if on {
		c.encrypted = true
		if c.Size, err = c.layoutEncryption(ctx, plain); err != nil {
			return err
		}
	}
	c.sizeSet = true

	if c.Offset+c.Size > limit {
		return errors.OutOfBounds(errors.PhaseLayout, c.Offset, c.Size, limit)
	}
	return nil
}

// layDisabled marks c and its subtree as emitting nothing. A disabled
// component reads as its declared value.
func (c *Component) layDisabled(at int) {
	c.Walk(func(x *Component) bool {
		x.Offset, x.Size, x.contentSize, x.plainSize = at, 0, 0, 0
		x.laid, x.disabled = true, true
		return true
	})
	if !c.DefaultValue.IsNone() {
		c.value, c.hasValue = c.DefaultValue, true
	}
}

// layEmpty places a component that takes part in formulas but emits no
// bytes.
func (c *Component) layEmpty(at int) {
	c.Walk(func(x *Component) bool {
		x.Offset, x.Size, x.contentSize, x.plainSize = at, 0, 0, 0
		x.laid = true
		return true
	})
}

func alignUp(x, a int) int {
	if a <= 1 {
		return x
	}
	return (x + a - 1) / a * a
}
