package rules

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/clinical-report-engine/internal/domain"
)

// formula is a parsed calculate expression: arithmetic over numeric literals
// and field-path references, e.g. "vitals.weight / (vitals.height * vitals.height)".
type formula struct {
	root exprNode
}

type exprNode interface {
	eval(answers domain.AnswerMap) (float64, error)
}

type literalNode float64

func (n literalNode) eval(domain.AnswerMap) (float64, error) { return float64(n), nil }

type fieldNode string

func (n fieldNode) eval(answers domain.AnswerMap) (float64, error) {
	v, ok := answers[string(n)]
	if !ok || domain.IsEmptyValue(v) {
		return 0, fmt.Errorf("field %q has no value", string(n))
	}
	f, ok := domain.ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("field %q is not numeric", string(n))
	}
	return f, nil
}

type binaryNode struct {
	op          byte
	left, right exprNode
}

func (n *binaryNode) eval(answers domain.AnswerMap) (float64, error) {
	l, err := n.left.eval(answers)
	if err != nil {
		return 0, err
	}
	r, err := n.right.eval(answers)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		if r == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return l / r, nil
	}
	return 0, fmt.Errorf("unknown operator %q", string(n.op))
}

// parseFormula compiles a formula string once; evaluation is then a pure
// walk over the answer map.
func parseFormula(src string) (*formula, error) {
	p := &formulaParser{src: src}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, fmt.Errorf("unexpected %q at position %d", p.src[p.pos], p.pos)
	}
	return &formula{root: node}, nil
}

func (f *formula) eval(answers domain.AnswerMap) (float64, error) {
	return f.root.eval(answers)
}

type formulaParser struct {
	src string
	pos int
}

func (p *formulaParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *formulaParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

// parseExpr handles + and -
func (p *formulaParser) parseExpr() (exprNode, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

// parseTerm handles * and /
func (p *formulaParser) parseTerm() (exprNode, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

// parseFactor handles literals, field references, parens, and unary minus
func (p *formulaParser) parseFactor() (exprNode, error) {
	switch c := p.peek(); {
	case c == '(':
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ')' {
			return nil, fmt.Errorf("missing closing parenthesis at position %d", p.pos)
		}
		p.pos++
		return inner, nil
	case c == '-':
		p.pos++
		inner, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: '-', left: literalNode(0), right: inner}, nil
	case c >= '0' && c <= '9':
		return p.parseNumber()
	case isIdentByte(c):
		return p.parseField()
	case c == 0:
		return nil, fmt.Errorf("unexpected end of formula")
	default:
		return nil, fmt.Errorf("unexpected %q at position %d", string(c), p.pos)
	}
}

func (p *formulaParser) parseNumber() (exprNode, error) {
	start := p.pos
	for p.pos < len(p.src) && (p.src[p.pos] == '.' || (p.src[p.pos] >= '0' && p.src[p.pos] <= '9')) {
		p.pos++
	}
	f, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", p.src[start:p.pos])
	}
	return literalNode(f), nil
}

// parseField consumes a field path like "section.field_name"
func (p *formulaParser) parseField() (exprNode, error) {
	start := p.pos
	for p.pos < len(p.src) && (isIdentByte(p.src[p.pos]) || p.src[p.pos] == '.') {
		p.pos++
	}
	path := p.src[start:p.pos]
	if !strings.Contains(path, ".") {
		return nil, fmt.Errorf("field reference %q must be section.field", path)
	}
	return fieldNode(path), nil
}

func isIdentByte(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || (c >= '0' && c <= '9')
}
