package formula

import (
	"fmt"
	"unicode"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokNumber
	tokString
	tokPath
	tokKeyword
	tokOp
	tokLParen
	tokRParen
	tokComma
)

func (t tokenType) String() string {
	switch t {
	case tokEOF:
		return "end of formula"
	case tokNumber:
		return "number"
	case tokString:
		return "string"
	case tokPath:
		return "reference"
	case tokKeyword:
		return "keyword"
	case tokOp:
		return "operator"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokComma:
		return "','"
	}
	return "unknown"
}

type token struct {
	Value string
	Type  tokenType
	Pos   int
}

var keywords = map[string]bool{
	"and":   true,
	"or":    true,
	"not":   true,
	"true":  true,
	"false": true,
	"None":  true,
}

// Two-character operators are matched before single characters.
var operators = []string{
	"==", "!=", "<=", ">=", "<<", ">>",
	"<", ">", "+", "-", "*", "/", "%", "&", "|", "^", "~",
}

// tokenize splits a formula into tokens.
//
// A '/' is a path separator when it sits between two path segments with no
// whitespace ("a/b"), or when it appears where an operand is expected
// ("/root/x"). Anywhere else it is division, so "a / b" divides.
func tokenize(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	operand := true

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsSpace(r) {
			continue
		}

		switch {
		case r == '(':
			tokens = append(tokens, token{"(", tokLParen, i})
			operand = true
			continue
		case r == ')':
			tokens = append(tokens, token{")", tokRParen, i})
			operand = false
			continue
		case r == ',':
			tokens = append(tokens, token{",", tokComma, i})
			operand = true
			continue
		}

		// String literal
		if r == '"' || r == '\'' {
			quote := r
			start := i
			var s []rune
			i++
			for i < len(runes) && runes[i] != quote {
				if runes[i] == '\\' && i+1 < len(runes) {
					i++
				}
				s = append(s, runes[i])
				i++
			}
			if i >= len(runes) {
				return nil, syntaxError(input, start, "unterminated string")
			}
			tokens = append(tokens, token{string(s), tokString, start})
			operand = false
			continue
		}

		if unicode.IsDigit(r) {
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{string(runes[start:i]), tokNumber, start})
			i--
			operand = false
			continue
		}

		if isSegmentStart(r) || (r == '/' && operand) {
			start := i
			end, err := scanPath(input, runes, i)
			if err != nil {
				return nil, err
			}
			text := string(runes[start:end])
			typ := tokPath
			if keywords[text] {
				typ = tokKeyword
			}
			tokens = append(tokens, token{text, typ, start})
			i = end - 1
			operand = typ == tokKeyword && text != "true" && text != "false" && text != "None"
			continue
		}

		matched := false
		for _, op := range operators {
			n := len(op)
			if i+n <= len(runes) && string(runes[i:i+n]) == op {
				tokens = append(tokens, token{op, tokOp, i})
				i += n - 1
				matched = true
				break
			}
		}
		if !matched {
			return nil, syntaxError(input, i, fmt.Sprintf("unexpected character %q", r))
		}
		operand = true
	}

	tokens = append(tokens, token{"", tokEOF, len(runes)})
	return tokens, nil
}

func isSegmentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_' || r == '.'
}

func isSegmentChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.'
}

// scanPath returns the index just past the path starting at i.
func scanPath(input string, runes []rune, i int) (int, error) {
	if runes[i] == '/' {
		i++
	}
	for {
		for i < len(runes) && isSegmentChar(runes[i]) {
			i++
		}
		for i < len(runes) && runes[i] == '[' {
			start := i
			i++
			digits := 0
			for i < len(runes) && unicode.IsDigit(runes[i]) {
				i++
				digits++
			}
			if digits == 0 || i >= len(runes) || runes[i] != ']' {
				return 0, syntaxError(input, start, "entry index must be an integer literal")
			}
			i++
		}
		if i+1 < len(runes) && runes[i] == '/' && isSegmentStart(runes[i+1]) {
			i++
			continue
		}
		return i, nil
	}
}
