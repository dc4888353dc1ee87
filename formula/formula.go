// Package formula evaluates the expressions embedded in layout XML.
//
// A formula combines integer literals, strings and references to other
// components with Python-style operators:
//
//	size(../header) + 4
//	align_up(end(payload), 0x1000)
//	version == 2 and not enabled(legacy)
//	table[3]/crc
//
// A bare reference reads the component's value. Other properties use call
// syntax with the reference as the first argument; an empty argument list
// refers to the component that owns the formula.
//
// References are resolved through a Scope, normally the component tree.
// A reference that cannot be resolved yet yields an unresolved error so the
// caller can retry on a later pass, or a None value when Options.AllowNone
// is set.
package formula

import (
	"math/big"
	"sync"

	"github.com/wippyai/fwlayout/errors"
)

// Options control how strictly references resolve.
type Options struct {
	// AllowCalculate lets referenced components compute their own value
	// from formulas during this evaluation.
	AllowCalculate bool
	// AllowNone turns unresolved references into None instead of an error.
	AllowNone bool
}

// Scope resolves a reference relative to the component owning the formula.
type Scope interface {
	Resolve(path string, prop Property, arg string, opts Options) (Value, error)
}

// Expr is a parsed formula.
type Expr struct {
	root node
	src  string
}

var cache sync.Map // string -> *Expr

// Parse parses src. Results are cached per source string.
func Parse(src string) (*Expr, error) {
	if e, ok := cache.Load(src); ok {
		return e.(*Expr), nil
	}
	root, err := parse(src)
	if err != nil {
		return nil, err
	}
	e := &Expr{root: root, src: src}
	cache.Store(src, e)
	return e, nil
}

// String returns the formula source.
func (e *Expr) String() string { return e.src }

// Eval evaluates e against scope.
func (e *Expr) Eval(scope Scope, opts Options) (Value, error) {
	ev := &evaluator{src: e.src, scope: scope, opts: opts}
	return e.root.eval(ev)
}

// Evaluate parses and evaluates src.
func Evaluate(src string, scope Scope, opts Options) (Value, error) {
	e, err := Parse(src)
	if err != nil {
		return None(), err
	}
	return e.Eval(scope, opts)
}

// EvaluateInt evaluates src and requires an integer result. None is
// reported as unresolved.
func EvaluateInt(src string, scope Scope, opts Options) (*big.Int, error) {
	v, err := Evaluate(src, scope, opts)
	if err != nil {
		return nil, err
	}
	if v.IsNone() {
		return nil, errors.Unresolved(errors.PhaseResolve, src)
	}
	i, ok := v.AsInt()
	if !ok {
		return nil, errors.New(errors.PhaseResolve, errors.KindTypeMismatch).
			Value(src).
			Detail("formula %q yields %s, want int", src, v.Kind()).
			Build()
	}
	return i, nil
}

func syntaxError(src string, pos int, detail string) error {
	return errors.Syntax(src, pos, detail)
}
