package component

import (
	"context"
	"math/big"

	"go.uber.org/zap"

	"github.com/wippyai/fwlayout/buffer"
	"github.com/wippyai/fwlayout/convert"
	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

// Decompose reads the values of c and its descendants from buf, starting
// at offset, and returns the offset just past c.
//
// Placement follows the same rules as BuildLayout. Encrypted regions are
// decoded only when the encryption provider can decrypt their mode;
// otherwise their ciphertext becomes the value.
func (c *Component) Decompose(ctx context.Context, buf *buffer.Buffer, offset int) (int, error) {
	next, err := c.decompose(ctx, buf, offset)
	if err != nil {
		return 0, c.trace(err, errors.PhaseDecompose)
	}
	return next, nil
}

func (c *Component) decompose(ctx context.Context, buf *buffer.Buffer, cursor int) (int, error) {
	on, err := c.isEnabled(layoutOpts)
	if err != nil {
		return 0, err
	}
	if !on && !c.CalcOnly {
		c.layDisabled(cursor)
		return cursor, nil
	}
	if err := c.materialize(); err != nil {
		return 0, err
	}
	if c.CalcOnly || c.Kind == KindElfFile {
		c.layEmpty(cursor)
		return cursor, nil
	}

	start, err := c.placement(cursor)
	if err != nil {
		return 0, err
	}
	c.Offset = start

	declared := -1
	if c.f.size != "" {
		if declared, err = c.evalInt(c.f.size, layoutOpts); err != nil {
			return 0, err
		}
		if declared < 0 {
			return 0, errors.LayoutViolation(errors.PhaseDecompose, "size %d is negative", declared)
		}
	}

	enc, err := c.encryptionActive(layoutOpts)
	if err != nil {
		return 0, err
	}
	if enc {
		err = c.decomposeEncrypted(ctx, buf, declared)
	} else {
		err = c.decomposePlain(ctx, buf, declared)
	}
	if err != nil {
		return 0, err
	}
	c.laid = true
	return c.Offset + c.Size, nil
}

// decomposePlain reads an unencrypted region.
func (c *Component) decomposePlain(ctx context.Context, buf *buffer.Buffer, declared int) error {
	content, err := c.decomposeContent(ctx, buf, declared)
	if err != nil {
		return err
	}
	if err := c.finishLayout(ctx, content, declared, buf.MaxSize()); err != nil {
		return err
	}
	region, err := buf.ReadAt(c.Offset, c.plainSize)
	if err != nil {
		return errors.OutOfBounds(errors.PhaseDecompose, c.Offset, c.plainSize, buf.MaxSize())
	}
	return c.readRegion(region)
}

// decomposeContent reads children, or sizes a leaf, and returns the
// unpadded content size.
func (c *Component) decomposeContent(ctx context.Context, buf *buffer.Buffer, declared int) (int, error) {
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
	case c.Kind == KindIterable:
		if err := c.ensureEntries(layoutOpts); err != nil {
			return 0, err
		}
	}

	if !c.IsContainer() {
		if c.Kind == KindRegister {
			return c.layoutContent(ctx, buf, declared)
		}
		if declared >= 0 {
			return declared, nil
		}
		return c.naturalSize(layoutOpts)
	}

	pos := c.Offset
	end := c.Offset
	for _, ch := range c.layoutOrder() {
		next, err := ch.Decompose(ctx, buf, pos)
		if err != nil {
			return 0, err
		}
		pos = next
		end = max(end, ch.Offset+ch.Size)
	}
	span := end - c.Offset
	if declared >= 0 {
		if declared < span {
			return 0, errors.LayoutViolation(errors.PhaseDecompose, "declared size %d is smaller than the %d byte(s) its children need", declared, span)
		}
		return declared, nil
	}
	return span, nil
}

// readRegion turns the bytes of a decomposed region into values.
func (c *Component) readRegion(region []byte) error {
	c.RawData = region
	switch {
	case c.IsContainer():
		c.value, c.hasValue = formula.Bytes(region), true
	case c.Kind == KindRegister:
		v := convert.BytesToInt(region[:c.contentSize], c.order, false)
		c.value, c.hasValue = formula.Int(v), true
		// Bits above the declared bitfields are dropped.
		mask := new(big.Int).Lsh(big.NewInt(1), uint(c.registerBits()))
		v.And(v, mask.Sub(mask, big.NewInt(1)))
		err := c.distributeRegister(v, func(b *Component, fv formula.Value) {
			b.decoded, b.decodedSet = fv, true
			b.value, b.hasValue = fv, true
		})
		if err != nil {
			return c.trace(err, errors.PhaseDecompose)
		}
	default:
		v := c.decode(region[:c.contentSize])
		c.decoded, c.decodedSet = v, true
		c.value, c.hasValue = v, true
	}
	return nil
}

// decomposeEncrypted sizes an encrypted region by reading its children over
// the ciphertext, then decrypts it when possible and reads the children
// again over the plaintext.
func (c *Component) decomposeEncrypted(ctx context.Context, buf *buffer.Buffer, declared int) error {
	scratch, err := buffer.FromBytes(buf.Bytes(), buf.MaxSize(), buf.FillByte())
	if err != nil {
		return err
	}
	content, err := c.decomposeContent(ctx, scratch, declared)
	if err != nil {
		return err
	}
	if err := c.finishLayout(ctx, content, declared, buf.MaxSize()); err != nil {
		return err
	}
	ct, err := buf.ReadAt(c.Offset, c.Size)
	if err != nil {
		return errors.OutOfBounds(errors.PhaseDecompose, c.Offset, c.Size, buf.MaxSize())
	}

	plain, ok, err := c.decryptRegion(ctx, ct)
	if err != nil {
		return err
	}
	if !ok {
		Logger().Debug("keeping ciphertext", zap.String("path", c.Path()), zap.String("mode", c.f.mode))
		c.Walk(func(x *Component) bool {
			if x != c {
				x.decoded, x.decodedSet = formula.None(), false
				x.value, x.hasValue = formula.None(), false
			}
			return true
		})
		c.RawData = ct
		c.value, c.hasValue = formula.Bytes(ct), true
		return nil
	}

	if len(plain) < c.plainSize {
		return errors.New(errors.PhaseDecompose, errors.KindInvalidData).
			Detail("decrypted %d byte(s), region needs %d", len(plain), c.plainSize).
			Build()
	}
	plain = plain[:c.plainSize]
	if err := scratch.WriteAt(c.Offset, plain); err != nil {
		return err
	}
	if c.IsContainer() {
		again, err := c.decomposeContent(ctx, scratch, declared)
		if err != nil {
			return err
		}
		if again != c.contentSize {
			return errors.New(errors.PhaseDecompose, errors.KindInvalidData).
				Detail("plaintext content spans %d byte(s), ciphertext implied %d", again, c.contentSize).
				Build()
		}
	}
	return c.readRegion(plain)
}
