// Package calc evaluates arithmetic expressions without touching the
// host: no variables, no assignments, no code execution.
package calc

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ErrDivisionByZero is returned for x/0 and x%0.
var ErrDivisionByZero = errors.New("division by zero")

// maxDepth bounds nesting so hostile input cannot exhaust the stack.
const maxDepth = 64

var constants = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

type function struct {
	minArgs, maxArgs int // maxArgs < 0 means variadic
	fn               func(args []float64) float64
}

var functions = map[string]function{
	"sqrt":  {1, 1, func(a []float64) float64 { return math.Sqrt(a[0]) }},
	"abs":   {1, 1, func(a []float64) float64 { return math.Abs(a[0]) }},
	"floor": {1, 1, func(a []float64) float64 { return math.Floor(a[0]) }},
	"ceil":  {1, 1, func(a []float64) float64 { return math.Ceil(a[0]) }},
	"round": {1, 1, func(a []float64) float64 { return math.Round(a[0]) }},
	"min": {1, -1, func(a []float64) float64 {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Min(m, v)
		}
		return m
	}},
	"max": {1, -1, func(a []float64) float64 {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Max(m, v)
		}
		return m
	}},
}

// Eval parses and evaluates expr.
func Eval(expr string) (float64, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return 0, err
	}
	if len(toks) == 0 {
		return 0, errors.New("empty expression")
	}

	p := &parser{toks: toks}
	v, err := p.expr(0)
	if err != nil {
		return 0, err
	}
	if p.pos < len(p.toks) {
		return 0, fmt.Errorf("unexpected %q at position %d", p.toks[p.pos].text, p.toks[p.pos].pos)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("result is not a finite number")
	}
	return v, nil
}

// Format renders v in its shortest decimal form ("56088", "0.5").
func Format(v float64) string {
	if v == 0 {
		return "0" // avoid "-0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Evaluate is Eval followed by Format.
func Evaluate(expr string) (string, error) {
	v, err := Eval(expr)
	if err != nil {
		return "", err
	}
	return Format(v), nil
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func tokenize(s string) ([]token, error) {
	var toks []token
	runes := []rune(s)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || r == '.':
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			// exponent: 1e3, 2.5E-4
			if i < len(runes) && (runes[i] == 'e' || runes[i] == 'E') {
				j := i + 1
				if j < len(runes) && (runes[j] == '+' || runes[j] == '-') {
					j++
				}
				if j < len(runes) && unicode.IsDigit(runes[j]) {
					i = j
					for i < len(runes) && unicode.IsDigit(runes[i]) {
						i++
					}
				}
			}
			text := string(runes[start:i])
			n, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", text, start)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: n, pos: start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: strings.ToLower(string(runes[start:i])), pos: start})
		case strings.ContainsRune("+-*/%^", r):
			toks = append(toks, token{kind: tokOp, text: string(r), pos: i})
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) peekOp(ops string) (string, bool) {
	t, ok := p.peek()
	if !ok || t.kind != tokOp || !strings.Contains(ops, t.text) {
		return "", false
	}
	return t.text, true
}

// expr := term (('+' | '-') term)*
func (p *parser) expr(depth int) (float64, error) {
	if depth > maxDepth {
		return 0, errors.New("expression nested too deeply")
	}
	left, err := p.term(depth)
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.peekOp("+-")
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.term(depth)
		if err != nil {
			return 0, err
		}
		if op == "+" {
			left += right
		} else {
			left -= right
		}
	}
}

// term := unary (('*' | '/' | '%') unary)*
func (p *parser) term(depth int) (float64, error) {
	left, err := p.unary(depth)
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.peekOp("*/%")
		if !ok {
			return left, nil
		}
		p.pos++
		right, err := p.unary(depth)
		if err != nil {
			return 0, err
		}
		switch op {
		case "*":
			left *= right
		case "/":
			if right == 0 {
				return 0, ErrDivisionByZero
			}
			left /= right
		case "%":
			if right == 0 {
				return 0, ErrDivisionByZero
			}
			left = math.Mod(left, right)
		}
	}
}

// unary := ('+' | '-') unary | power
func (p *parser) unary(depth int) (float64, error) {
	if depth > maxDepth {
		return 0, errors.New("expression nested too deeply")
	}
	if op, ok := p.peekOp("+-"); ok {
		p.pos++
		v, err := p.unary(depth + 1)
		if err != nil {
			return 0, err
		}
		if op == "-" {
			return -v, nil
		}
		return v, nil
	}
	return p.power(depth)
}

// power := primary ('^' unary)?   right-associative
func (p *parser) power(depth int) (float64, error) {
	base, err := p.primary(depth)
	if err != nil {
		return 0, err
	}
	if _, ok := p.peekOp("^"); !ok {
		return base, nil
	}
	p.pos++
	exp, err := p.unary(depth + 1)
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

// primary := number | constant | func '(' args ')' | '(' expr ')'
func (p *parser) primary(depth int) (float64, error) {
	t, ok := p.peek()
	if !ok {
		return 0, errors.New("unexpected end of expression")
	}
	p.pos++

	switch t.kind {
	case tokNumber:
		return t.num, nil
	case tokLParen:
		v, err := p.expr(depth + 1)
		if err != nil {
			return 0, err
		}
		if err := p.expect(tokRParen, ")"); err != nil {
			return 0, err
		}
		return v, nil
	case tokIdent:
		if next, ok := p.peek(); ok && next.kind == tokLParen {
			return p.call(t, depth)
		}
		if v, ok := constants[t.text]; ok {
			return v, nil
		}
		return 0, fmt.Errorf("unknown identifier %q", t.text)
	}
	return 0, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
}

func (p *parser) call(name token, depth int) (float64, error) {
	fn, ok := functions[name.text]
	if !ok {
		return 0, fmt.Errorf("unknown function %q", name.text)
	}
	p.pos++ // '('

	var args []float64
	if t, ok := p.peek(); ok && t.kind == tokRParen {
		p.pos++
	} else {
		for {
			v, err := p.expr(depth + 1)
			if err != nil {
				return 0, err
			}
			args = append(args, v)
			t, ok := p.peek()
			if ok && t.kind == tokComma {
				p.pos++
				continue
			}
			if err := p.expect(tokRParen, ")"); err != nil {
				return 0, err
			}
			break
		}
	}

	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return 0, fmt.Errorf("%s: wrong number of arguments (%d)", name.text, len(args))
	}
	return fn.fn(args), nil
}

func (p *parser) expect(kind tokenKind, text string) error {
	t, ok := p.peek()
	if !ok {
		return fmt.Errorf("expected %q at end of expression", text)
	}
	if t.kind != kind {
		return fmt.Errorf("expected %q at position %d, got %q", text, t.pos, t.text)
	}
	p.pos++
	return nil
}
