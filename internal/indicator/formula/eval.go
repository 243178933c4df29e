package formula

import (
	"fmt"
	"math"
)

// env carries evaluation state: the series lookup and the bar count.
type env struct {
	lookup func(name string) ([]float64, bool)
	n      int
}

type node interface {
	eval(e *env) ([]float64, error)
}

type numberNode struct {
	value float64
}

func (n *numberNode) eval(e *env) ([]float64, error) {
	out := make([]float64, e.n)
	for i := range out {
		out[i] = n.value
	}
	return out, nil
}

type identNode struct {
	name string
}

func (n *identNode) eval(e *env) ([]float64, error) {
	col, ok := e.lookup(n.name)
	if !ok {
		return nil, fmt.Errorf("formula references unknown column: %s", n.name)
	}
	return col, nil
}

type unaryNode struct {
	operand node
}

func (n *unaryNode) eval(e *env) ([]float64, error) {
	vals, err := n.operand.eval(e)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = -v
	}
	return out, nil
}

type binaryNode struct {
	op  string
	lhs node
	rhs node
}

func (n *binaryNode) eval(e *env) ([]float64, error) {
	lhs, err := n.lhs.eval(e)
	if err != nil {
		return nil, err
	}
	rhs, err := n.rhs.eval(e)
	if err != nil {
		return nil, err
	}

	out := make([]float64, e.n)
	for i := 0; i < e.n; i++ {
		out[i] = applyBinary(n.op, lhs[i], rhs[i])
	}
	return out, nil
}

// applyBinary evaluates one elementwise operation. Division by zero
// resolves to NaN; comparisons and boolean combination yield 1/0 with
// NaN operands counting as false.
func applyBinary(op string, a, b float64) float64 {
	switch op {
	case "+":
		return a + b
	case "-":
		return a - b
	case "*":
		return a * b
	case "/":
		if b == 0 {
			return math.NaN()
		}
		return a / b
	case "%":
		if b == 0 {
			return math.NaN()
		}
		return math.Mod(a, b)
	case ">":
		return boolVal(!hasNaN(a, b) && a > b)
	case "<":
		return boolVal(!hasNaN(a, b) && a < b)
	case ">=":
		return boolVal(!hasNaN(a, b) && a >= b)
	case "<=":
		return boolVal(!hasNaN(a, b) && a <= b)
	case "==":
		return boolVal(!hasNaN(a, b) && a == b)
	case "!=":
		return boolVal(!hasNaN(a, b) && a != b)
	case "&&":
		return boolVal(truthy(a) && truthy(b))
	case "||":
		return boolVal(truthy(a) || truthy(b))
	}
	return math.NaN()
}

func hasNaN(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func truthy(v float64) bool {
	return !math.IsNaN(v) && v != 0
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

type callNode struct {
	name string
	args []node
}

func (n *callNode) eval(e *env) ([]float64, error) {
	switch n.name {
	case "abs":
		vals, err := n.args[0].eval(e)
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = math.Abs(v)
		}
		return out, nil
	case "min", "max":
		lhs, err := n.args[0].eval(e)
		if err != nil {
			return nil, err
		}
		rhs, err := n.args[1].eval(e)
		if err != nil {
			return nil, err
		}
		out := make([]float64, e.n)
		for i := 0; i < e.n; i++ {
			if n.name == "min" {
				out[i] = math.Min(lhs[i], rhs[i])
			} else {
				out[i] = math.Max(lhs[i], rhs[i])
			}
		}
		return out, nil
	case "shift":
		vals, err := n.args[0].eval(e)
		if err != nil {
			return nil, err
		}
		offset := int(constValue(n.args[1]))
		out := make([]float64, e.n)
		for i := 0; i < e.n; i++ {
			j := i - offset
			if j >= 0 && j < e.n {
				out[i] = vals[j]
			} else {
				out[i] = math.NaN()
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported call: %s", n.name)
}

// constValue extracts the literal value of a compile-time constant node.
func constValue(nd node) float64 {
	switch v := nd.(type) {
	case *numberNode:
		return v.value
	case *unaryNode:
		return -constValue(v.operand)
	}
	return 0
}
