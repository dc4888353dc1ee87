package formula

import (
	"fmt"
	"slices"

	"github.com/wippyai/fwlayout/convert"
)

var helpers = map[string]bool{
	"min":      true,
	"max":      true,
	"align_up": true,
	"crc32":    true,
}

// Binary operator levels, lowest precedence first. Comparisons bind looser
// than bitwise operators.
var binaryLevels = [][]string{
	{"==", "!=", "<", "<=", ">", ">="},
	{"|"},
	{"^"},
	{"&"},
	{"<<", ">>"},
	{"+", "-"},
	{"*", "/", "%"},
}

type parser struct {
	src    string
	tokens []token
	pos    int
}

func parse(src string) (node, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, tokens: tokens}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.Type != tokEOF {
		return nil, p.unexpected(t)
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.Type != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(typ tokenType) (token, error) {
	t := p.next()
	if t.Type != typ {
		return t, syntaxError(p.src, t.Pos, fmt.Sprintf("expected %s, found %s", typ, describe(t)))
	}
	return t, nil
}

func (p *parser) unexpected(t token) error {
	return syntaxError(p.src, t.Pos, "unexpected "+describe(t))
}

func describe(t token) string {
	if t.Type == tokEOF {
		return t.Type.String()
	}
	return fmt.Sprintf("%s %q", t.Type, t.Value)
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.Type == tokKeyword && t.Value == word
}

func (p *parser) parseOr() (node, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.next()
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &binary{op: "or", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (node, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.next()
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = &binary{op: "and", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseNot() (node, error) {
	if p.isKeyword("not") {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unary{op: "not", x: x}, nil
	}
	return p.parseBinary(0)
}

func (p *parser) parseBinary(level int) (node, error) {
	if level == len(binaryLevels) {
		return p.parseUnary()
	}
	l, err := p.parseBinary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.Type != tokOp || !slices.Contains(binaryLevels[level], t.Value) {
			return l, nil
		}
		p.next()
		r, err := p.parseBinary(level + 1)
		if err != nil {
			return nil, err
		}
		l = &binary{op: t.Value, l: l, r: r}
	}
}

func (p *parser) parseUnary() (node, error) {
	t := p.peek()
	if t.Type == tokOp && (t.Value == "-" || t.Value == "+" || t.Value == "~") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unary{op: t.Value, x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.Type {
	case tokNumber:
		v, err := convert.StringToInt(t.Value)
		if err != nil {
			return nil, syntaxError(p.src, t.Pos, fmt.Sprintf("invalid number %q", t.Value))
		}
		return intLiteral(v), nil

	case tokString:
		return &literal{v: String(t.Value)}, nil

	case tokKeyword:
		switch t.Value {
		case "true":
			return &literal{v: Bool(true)}, nil
		case "false":
			return &literal{v: Bool(false)}, nil
		case "None":
			return &literal{v: None()}, nil
		}
		return nil, p.unexpected(t)

	case tokLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return n, nil

	case tokPath:
		if p.peek().Type == tokLParen {
			return p.parseCall(t)
		}
		return &ref{path: t.Value, prop: PropValue}, nil
	}
	return nil, p.unexpected(t)
}

// parseCall handles both property reads, whose first argument is a
// reference, and helper functions over values.
func (p *parser) parseCall(name token) (node, error) {
	p.next()
	if prop, ok := LookupProperty(name.Value); ok {
		return p.parseProperty(name, prop)
	}
	if !helpers[name.Value] {
		return nil, syntaxError(p.src, name.Pos, fmt.Sprintf("unknown function %q", name.Value))
	}

	c := &call{name: name.Value, pos: name.Pos}
	if p.peek().Type != tokRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			c.args = append(c.args, arg)
			if p.peek().Type != tokComma {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}

	switch {
	case c.name == "align_up" && len(c.args) != 2:
		return nil, syntaxError(p.src, name.Pos, "align_up takes two arguments")
	case c.name == "crc32" && len(c.args) != 1:
		return nil, syntaxError(p.src, name.Pos, "crc32 takes one argument")
	case len(c.args) == 0:
		return nil, syntaxError(p.src, name.Pos, c.name+" needs at least one argument")
	}
	return c, nil
}

func (p *parser) parseProperty(name token, prop Property) (node, error) {
	r := &ref{path: ".", prop: prop}
	if t := p.peek(); t.Type == tokPath {
		p.next()
		r.path = t.Value
	} else if t.Type != tokRParen {
		return nil, syntaxError(p.src, t.Pos, fmt.Sprintf("%s expects a reference, found %s", name.Value, describe(t)))
	}

	if prop == PropSymbol {
		if _, err := p.expect(tokComma); err != nil {
			return nil, err
		}
		sym, err := p.expect(tokString)
		if err != nil {
			return nil, err
		}
		r.arg = sym.Value
	}

	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	return r, nil
}
