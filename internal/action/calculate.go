package action

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrEvaluation is wrapped by every EvaluationError.
var ErrEvaluation = errors.New("evaluation failed")

// EvaluationError reports an expression that is not plain arithmetic or
// cannot be computed.
type EvaluationError struct {
	Expr   string
	Reason string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("cannot evaluate %q: %s", e.Expr, e.Reason)
}

func (e *EvaluationError) Unwrap() error {
	return ErrEvaluation
}

// Evaluate computes an arithmetic expression over decimal numbers,
// + - * / % ^ (power, right-associative), unary signs and parentheses.
// Anything else is rejected; no names are ever resolved.
func Evaluate(expr string) (float64, error) {
	src := strings.NewReplacer("×", "*", "÷", "/", "**", "^").Replace(strings.TrimSpace(expr))
	if src == "" {
		return 0, &EvaluationError{Expr: expr, Reason: "empty expression"}
	}

	c := &calc{src: src}
	v, err := c.expr()
	if err == nil {
		c.skipSpace()
		if c.pos < len(c.src) {
			err = fmt.Errorf("unexpected %q", c.src[c.pos])
		}
	}
	if err != nil {
		return 0, &EvaluationError{Expr: expr, Reason: err.Error()}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &EvaluationError{Expr: expr, Reason: "result is not a finite number"}
	}
	return v, nil
}

type calc struct {
	src string
	pos int
}

func (c *calc) skipSpace() {
	for c.pos < len(c.src) && (c.src[c.pos] == ' ' || c.src[c.pos] == '\t') {
		c.pos++
	}
}

func (c *calc) peek() byte {
	c.skipSpace()
	if c.pos >= len(c.src) {
		return 0
	}
	return c.src[c.pos]
}

func (c *calc) expr() (float64, error) {
	x, err := c.term()
	if err != nil {
		return 0, err
	}
	for {
		op := c.peek()
		if op != '+' && op != '-' {
			return x, nil
		}
		c.pos++
		y, err := c.term()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			x += y
		} else {
			x -= y
		}
	}
}

func (c *calc) term() (float64, error) {
	x, err := c.unary()
	if err != nil {
		return 0, err
	}
	for {
		op := c.peek()
		if op != '*' && op != '/' && op != '%' {
			return x, nil
		}
		c.pos++
		y, err := c.unary()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			x *= y
		case '/', '%':
			if y == 0 {
				return 0, errors.New("division by zero")
			}
			if op == '/' {
				x /= y
			} else {
				x = math.Mod(x, y)
			}
		}
	}
}

func (c *calc) unary() (float64, error) {
	switch c.peek() {
	case '-':
		c.pos++
		x, err := c.unary()
		return -x, err
	case '+':
		c.pos++
		return c.unary()
	}
	return c.power()
}

func (c *calc) power() (float64, error) {
	base, err := c.primary()
	if err != nil {
		return 0, err
	}
	if c.peek() != '^' {
		return base, nil
	}
	c.pos++
	exp, err := c.unary()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (c *calc) primary() (float64, error) {
	ch := c.peek()
	switch {
	case ch == '(':
		c.pos++
		x, err := c.expr()
		if err != nil {
			return 0, err
		}
		if c.peek() != ')' {
			return 0, errors.New("missing closing parenthesis")
		}
		c.pos++
		return x, nil
	case ch == '.' || (ch >= '0' && ch <= '9'):
		start := c.pos
		for c.pos < len(c.src) && (c.src[c.pos] == '.' || (c.src[c.pos] >= '0' && c.src[c.pos] <= '9')) {
			c.pos++
		}
		v, err := strconv.ParseFloat(c.src[start:c.pos], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", c.src[start:c.pos])
		}
		return v, nil
	case ch == 0:
		return 0, errors.New("unexpected end of expression")
	}
	return 0, fmt.Errorf("unexpected %q", ch)
}

// FormatNumber renders whole numbers without a fractional part.
func FormatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
