package formula

import "math/big"

type node interface {
	eval(e *evaluator) (Value, error)
}

type literal struct {
	v Value
}

// ref reads a property of the component at path.
type ref struct {
	path string
	prop Property
	arg  string
}

// call invokes a helper function on evaluated arguments.
type call struct {
	name string
	args []node
	pos  int
}

type unary struct {
	op string
	x  node
}

type binary struct {
	op   string
	l, r node
}

func intLiteral(v *big.Int) *literal {
	return &literal{v: Int(v)}
}
