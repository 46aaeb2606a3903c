// Package filtergraph builds ffmpeg filter chains and arithmetic expressions as
// typed values, lowered to ffmpeg's textual syntax only when rendered.
package filtergraph

import (
	"strconv"
	"strings"
)

const (
	precAdd = iota + 1
	precMul
	precAtom
)

// Expr is an ffmpeg expression (libavutil/eval syntax).
type Expr interface {
	String() string
	precedence() int
}

type number float64

func (n number) String() string {
	return strconv.FormatFloat(float64(n), 'f', -1, 64)
}

func (n number) precedence() int {
	if n < 0 {
		return precAdd
	}
	return precAtom
}

type variable string

func (v variable) String() string { return string(v) }
func (v variable) precedence() int { return precAtom }

type call struct {
	fn   string
	args []Expr
}

func (c call) String() string {
	parts := make([]string, len(c.args))
	for i, a := range c.args {
		parts[i] = a.String()
	}
	return c.fn + "(" + strings.Join(parts, ",") + ")"
}

func (c call) precedence() int { return precAtom }

type binary struct {
	op          byte
	left, right Expr
}

func (b binary) precedence() int {
	if b.op == '+' || b.op == '-' {
		return precAdd
	}
	return precMul
}

func (b binary) String() string {
	p := b.precedence()
	left := b.left.String()
	if b.left.precedence() < p {
		left = "(" + left + ")"
	}
	right := b.right.String()
	// Subtraction and division are not associative on the right.
	rp := b.right.precedence()
	if rp < p || (rp == p && (b.op == '-' || b.op == '/')) {
		right = "(" + right + ")"
	}
	return left + string(b.op) + right
}

// Num is a numeric literal.
func Num(v float64) Expr { return number(v) }

// Var references an ffmpeg expression variable such as t, iw or PI.
func Var(name string) Expr { return variable(name) }

// Call applies an ffmpeg expression function.
func Call(fn string, args ...Expr) Expr { return call{fn: fn, args: args} }

func Add(a, b Expr) Expr { return binary{'+', a, b} }
func Sub(a, b Expr) Expr { return binary{'-', a, b} }
func Mul(a, b Expr) Expr { return binary{'*', a, b} }
func Div(a, b Expr) Expr { return binary{'/', a, b} }

func Min(a, b Expr) Expr { return Call("min", a, b) }
func Max(a, b Expr) Expr { return Call("max", a, b) }
func Sin(a Expr) Expr { return Call("sin", a) }
func Cos(a Expr) Expr { return Call("cos", a) }
func Pow(a, b Expr) Expr { return Call("pow", a, b) }
func Trunc(a Expr) Expr { return Call("trunc", a) }
func Lt(a, b Expr) Expr { return Call("lt", a, b) }
func If(c, then, els Expr) Expr { return Call("if", c, then, els) }

// Common variables.
var (
	T    = Var("t")
	PI   = Var("PI")
	InW  = Var("iw")
	InH  = Var("ih")
	OutW = Var("ow")
	OutH = Var("oh")
	Zero = Num(0)
	One  = Num(1)
	Two  = Num(2)
	Half = Num(0.5)
)

// Even rounds an expression down to an even integer, as required by yuv420p.
func Even(e Expr) Expr {
	return Mul(Two, Trunc(Div(e, Two)))
}
