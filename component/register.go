package component

import (
	"math/big"

	"github.com/wippyai/fwlayout/convert"
	"github.com/wippyai/fwlayout/errors"
	"github.com/wippyai/fwlayout/formula"
)

// parseBitfield reads the width and position of a bitfield. Without
// bit_offset a bitfield starts where the previous one ended.
func (c *Component) parseBitfield() error {
	s, ok := c.node.Attr("bits")
	if !ok {
		return errors.Structural(errors.PhaseParse, "bitfield requires bits")
	}
	v, err := convert.StringToInt(s)
	if err != nil || v.Sign() <= 0 || !v.IsInt64() {
		return errors.Structural(errors.PhaseParse, "bits %q is not a positive width", s)
	}
	c.bits = int(v.Int64())

	pos := 0
	reg := c.Parent
	for _, sib := range reg.Children {
		pos = max(pos, sib.bitPos+sib.bits)
	}
	if c.f.bitOffset != "" {
		o, err := convert.StringToInt(c.f.bitOffset)
		if err != nil || o.Sign() < 0 || !o.IsInt64() {
			return errors.Structural(errors.PhaseParse, "bit_offset %q is not a bit position", c.f.bitOffset)
		}
		pos = int(o.Int64())
	}
	c.bitPos = pos
	for _, sib := range reg.Children {
		if pos < sib.bitPos+sib.bits && sib.bitPos < pos+c.bits {
			return errors.Structural(errors.PhaseParse, "bitfield %s overlaps %s", c.Name, sib.Name)
		}
	}
	return nil
}

// registerBits is the number of bits the bitfields span.
func (c *Component) registerBits() int {
	n := 0
	for _, b := range c.Children {
		n = max(n, b.bitPos+b.bits)
	}
	return n
}

// composeRegister ORs the enabled bitfields into the register value.
func (c *Component) composeRegister(opts formula.Options) (formula.Value, error) {
	acc := new(big.Int)
	for _, b := range c.Children {
		if b.inert || b.disabled {
			continue
		}
		v, err := b.resolveValue(opts)
		if err != nil {
			return formula.None(), b.trace(err, errors.PhaseResolve)
		}
		if v.IsNone() {
			if !b.hasValueSource() {
				continue
			}
			return formula.None(), nil
		}
		i, ok := v.AsInt()
		if !ok {
			return formula.None(), b.trace(errors.TypeMismatch(errors.PhaseResolve, "bitfield", v.Kind().String()), errors.PhaseResolve)
		}
		if i.Sign() < 0 || i.BitLen() > b.bits {
			return formula.None(), b.trace(errors.New(errors.PhaseBuild, errors.KindOverflow).
				Value(v.String()).
				Detail("value %s does not fit in %d bit(s)", v, b.bits).
				Build(), errors.PhaseBuild)
		}
		acc.Or(acc, i.Lsh(i, uint(b.bitPos)))
	}
	return formula.Int(acc), nil
}

// distributeRegister splits v into the bitfields through set.
func (c *Component) distributeRegister(v *big.Int, set func(b *Component, fv formula.Value)) error {
	if v.Sign() < 0 {
		return errors.Overflow(errors.PhaseSettings, v.String(), (c.registerBits()+7)/8)
	}
	if v.BitLen() > c.registerBits() {
		return errors.Overflow(errors.PhaseSettings, convert.IntToString(v), (c.registerBits()+7)/8)
	}
	for _, b := range c.Children {
		mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(b.bits)), big.NewInt(1))
		part := new(big.Int).Rsh(v, uint(b.bitPos))
		set(b, formula.Int(part.And(part, mask)))
	}
	return nil
}
