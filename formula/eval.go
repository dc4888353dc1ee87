package formula

import (
	"bytes"
	"hash/crc32"
	"math/big"

	"github.com/wippyai/fwlayout/errors"
)

type evaluator struct {
	scope Scope
	src   string
	opts  Options
}

func (e *evaluator) typeError(op string, v Value) error {
	err := errors.TypeMismatch(errors.PhaseResolve, op, v.Kind().String())
	err.Value = e.src
	return err
}

func (n *literal) eval(*evaluator) (Value, error) {
	return n.v, nil
}

func (n *ref) eval(e *evaluator) (Value, error) {
	if e.scope == nil {
		return e.unresolved(n.path)
	}
	v, err := e.scope.Resolve(n.path, n.prop, n.arg, e.opts)
	if err != nil {
		if errors.IsUnresolved(err) && e.opts.AllowNone {
			return None(), nil
		}
		return None(), err
	}
	if v.IsNone() && !e.opts.AllowNone {
		return e.unresolved(n.path)
	}
	return v, nil
}

func (e *evaluator) unresolved(path string) (Value, error) {
	if e.opts.AllowNone {
		return None(), nil
	}
	return None(), errors.Unresolved(errors.PhaseResolve, path)
}

func (n *unary) eval(e *evaluator) (Value, error) {
	x, err := n.x.eval(e)
	if err != nil {
		return None(), err
	}
	if n.op == "not" {
		return Bool(!x.Truthy()), nil
	}
	if x.IsNone() {
		return None(), nil
	}
	i, ok := x.AsInt()
	if !ok {
		return None(), e.typeError(n.op, x)
	}
	switch n.op {
	case "-":
		i.Neg(i)
	case "~":
		i.Not(i)
	}
	return Int(i), nil
}

func (n *binary) eval(e *evaluator) (Value, error) {
	l, err := n.l.eval(e)
	if err != nil {
		return None(), err
	}

	// and/or short-circuit and yield an operand, not a boolean.
	switch n.op {
	case "and":
		if !l.Truthy() {
			return l, nil
		}
		return n.r.eval(e)
	case "or":
		if l.Truthy() {
			return l, nil
		}
		return n.r.eval(e)
	}

	r, err := n.r.eval(e)
	if err != nil {
		return None(), err
	}

	switch n.op {
	case "==":
		return Bool(l.Equal(r)), nil
	case "!=":
		return Bool(!l.Equal(r)), nil
	}
	if l.IsNone() || r.IsNone() {
		return None(), nil
	}

	switch n.op {
	case "<", "<=", ">", ">=":
		c, err := e.compare(n.op, l, r)
		if err != nil {
			return None(), err
		}
		switch n.op {
		case "<":
			return Bool(c < 0), nil
		case "<=":
			return Bool(c <= 0), nil
		case ">":
			return Bool(c > 0), nil
		}
		return Bool(c >= 0), nil
	case "+":
		if lb, ok := l.AsBytes(); ok {
			rb, ok := r.AsBytes()
			if !ok {
				return None(), e.typeError(n.op, r)
			}
			return Bytes(append(lb, rb...)), nil
		}
		if ls, ok := l.AsString(); ok {
			rs, ok := r.AsString()
			if !ok {
				return None(), e.typeError(n.op, r)
			}
			return String(ls + rs), nil
		}
	}

	a, ok := l.AsInt()
	if !ok {
		return None(), e.typeError(n.op, l)
	}
	b, ok := r.AsInt()
	if !ok {
		return None(), e.typeError(n.op, r)
	}
	return e.arith(n.op, a, b)
}

func (e *evaluator) compare(op string, l, r Value) (int, error) {
	if l.Kind() != r.Kind() {
		return 0, e.typeError(op, r)
	}
	switch l.Kind() {
	case KindInt:
		return l.i.Cmp(r.i), nil
	case KindBytes:
		return bytes.Compare(l.b, r.b), nil
	case KindString:
		switch {
		case l.s < r.s:
			return -1, nil
		case l.s > r.s:
			return 1, nil
		}
		return 0, nil
	}
	return 0, e.typeError(op, l)
}

func (e *evaluator) arith(op string, a, b *big.Int) (Value, error) {
	z := new(big.Int)
	switch op {
	case "+":
		z.Add(a, b)
	case "-":
		z.Sub(a, b)
	case "*":
		z.Mul(a, b)
	case "/", "%":
		if b.Sign() == 0 {
			return None(), errors.New(errors.PhaseResolve, errors.KindInvalidData).
				Value(e.src).
				Detail("division by zero in %q", e.src).
				Build()
		}
		q, m := floorDivMod(a, b)
		if op == "/" {
			z = q
		} else {
			z = m
		}
	case "&":
		z.And(a, b)
	case "|":
		z.Or(a, b)
	case "^":
		z.Xor(a, b)
	case "<<", ">>":
		if b.Sign() < 0 || !b.IsInt64() || b.Int64() > 1<<16 {
			return None(), errors.New(errors.PhaseResolve, errors.KindInvalidData).
				Value(e.src).
				Detail("invalid shift count %s in %q", b, e.src).
				Build()
		}
		if op == "<<" {
			z.Lsh(a, uint(b.Int64()))
		} else {
			z.Rsh(a, uint(b.Int64()))
		}
	default:
		return None(), e.typeError(op, Int(a))
	}
	return Int(z), nil
}

// floorDivMod rounds the quotient toward negative infinity so the remainder
// takes the sign of the divisor.
func floorDivMod(a, b *big.Int) (*big.Int, *big.Int) {
	q, m := new(big.Int).QuoRem(a, b, new(big.Int))
	if m.Sign() != 0 && m.Sign() != b.Sign() {
		q.Sub(q, big.NewInt(1))
		m.Add(m, b)
	}
	return q, m
}

func (n *call) eval(e *evaluator) (Value, error) {
	args := make([]*big.Int, 0, len(n.args))
	for _, a := range n.args {
		v, err := a.eval(e)
		if err != nil {
			return None(), err
		}
		if v.IsNone() {
			return None(), nil
		}
		if n.name == "crc32" {
			b, ok := v.AsBytes()
			if !ok {
				return None(), e.typeError(n.name, v)
			}
			return Int64(int64(crc32.ChecksumIEEE(b))), nil
		}
		i, ok := v.AsInt()
		if !ok {
			return None(), e.typeError(n.name, v)
		}
		args = append(args, i)
	}

	switch n.name {
	case "min", "max":
		best := args[0]
		for _, a := range args[1:] {
			if (n.name == "min" && a.Cmp(best) < 0) || (n.name == "max" && a.Cmp(best) > 0) {
				best = a
			}
		}
		return Int(best), nil
	case "align_up":
		x, a := args[0], args[1]
		if a.Sign() <= 0 {
			return None(), errors.New(errors.PhaseResolve, errors.KindInvalidData).
				Value(e.src).
				Detail("align_up boundary must be positive in %q", e.src).
				Build()
		}
		return Int(AlignUp(x, a)), nil
	}
	return None(), errors.Syntax(e.src, n.pos, "unknown function "+n.name)
}

// AlignUp rounds x up to the next multiple of a (a > 0).
func AlignUp(x, a *big.Int) *big.Int {
	_, m := floorDivMod(x, a)
	if m.Sign() == 0 {
		return new(big.Int).Set(x)
	}
	z := new(big.Int).Sub(x, m)
	return z.Add(z, a)
}
