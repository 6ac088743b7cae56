package coretools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/mika/saker/pkg/tool"
)

func calculatorTool() tool.Tool {
	def := tool.Definition{
		Name:        "calculator",
		Description: "Evaluate an arithmetic expression. Supports + - * / ^, parentheses and unary minus, e.g. (2 + 3) * -4 ^ 2.",
		Schema: tool.ObjectSchema(map[string]interface{}{
			"expression": tool.StringProp("The expression to evaluate"),
		}, "expression"),
	}
	return tool.NewFunc(def, func(ctx context.Context, args map[string]interface{}) (string, error) {
		var params struct {
			Expression string `json:"expression"`
		}
		if err := decodeArgs(args, &params); err != nil {
			return "", err
		}
		value, err := evaluate(params.Expression)
		if err != nil {
			return "", err
		}
		return encodeResult(map[string]interface{}{
			"expression": params.Expression,
			"result":     strconv.FormatFloat(value, 'f', -1, 64),
		})
	})
}

// evaluate parses and computes an arithmetic expression.
//
// Grammar, lowest precedence first:
//
//	expr    = term  { ("+" | "-") term }
//	term    = power { ("*" | "/") power }
//	power   = unary [ "^" power ]            right associative
//	unary   = "-" unary | primary
//	primary = number | "(" expr ")"
func evaluate(expression string) (float64, error) {
	p := &exprParser{input: []rune(expression)}
	value, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
	}
	if math.IsInf(value, 0) || math.IsNaN(value) {
		return 0, errors.New("result is not a finite number")
	}
	return value, nil
}

type exprParser struct {
	input []rune
	pos   int
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, errors.New("division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.peek() == '^' {
		p.pos++
		exponent, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exponent), nil
	}
	return base, nil
}

func (p *exprParser) parseUnary() (float64, error) {
	p.skipSpaces()
	if p.peek() == '-' {
		p.pos++
		value, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return -value, nil
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (float64, error) {
	p.skipSpaces()
	switch {
	case p.peek() == '(':
		p.pos++
		value, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpaces()
		if p.peek() != ')' {
			return 0, errors.New("missing closing parenthesis")
		}
		p.pos++
		return value, nil
	case unicode.IsDigit(p.peek()) || p.peek() == '.':
		return p.parseNumber()
	case p.pos >= len(p.input):
		return 0, errors.New("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unexpected %q at position %d", p.peek(), p.pos)
	}
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	seenDot := false
	for p.pos < len(p.input) {
		r := p.input[p.pos]
		if r == '.' {
			if seenDot {
				break
			}
			seenDot = true
		} else if !unicode.IsDigit(r) {
			break
		}
		p.pos++
	}
	text := string(p.input[start:p.pos])
	if text == "" || text == "." {
		return 0, fmt.Errorf("invalid number at position %d", start)
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", text)
	}
	return value, nil
}

// peek returns the rune at the cursor, or 0 at end of input.
func (p *exprParser) peek() rune {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) skipSpaces() {
	for p.pos < len(p.input) && strings.ContainsRune(" \t\n", p.input[p.pos]) {
		p.pos++
	}
}
