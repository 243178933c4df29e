// Package formula implements a small, purpose-built expression language
// for user-submitted custom indicator formulas. It supports arithmetic,
// comparisons, boolean combination and a fixed set of named-series
// operations over the working price table. Anything else (assignment,
// indexing, string literals, unknown function calls) is rejected
// statically at compile time, before any bar is evaluated. Formulas never
// gain access to the host runtime.
package formula

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// SandboxViolationError reports a disallowed construct in a formula. It
// is raised during Compile, never during evaluation.
type SandboxViolationError struct {
	Detail string
}

func (e *SandboxViolationError) Error() string {
	return fmt.Sprintf("formula sandbox violation: %s", e.Detail)
}

// allowedCalls maps permitted function names to their arity.
var allowedCalls = map[string]int{
	"abs":   1,
	"min":   2,
	"max":   2,
	"shift": 2,
}

// Program is a compiled, sandbox-validated formula.
type Program struct {
	src  string
	root node
	refs []string
}

// Compile parses and statically validates a formula. All sandbox checks
// happen here; a returned Program can only read named series.
func Compile(src string) (*Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &SandboxViolationError{Detail: "empty formula"}
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, &SandboxViolationError{Detail: fmt.Sprintf("unexpected trailing input near %q", p.peek().text)}
	}

	prog := &Program{src: src, root: root}
	collectRefs(root, &prog.refs)
	return prog, nil
}

// References returns the column names the formula reads, in order of
// first appearance. Preflight resolves these against the column set.
func (p *Program) References() []string {
	return p.refs
}

// Eval evaluates the formula over n bars. lookup resolves a column name
// to its series; a missing column is an error. Division by zero and NaN
// operands resolve to NaN, never an error.
func (p *Program) Eval(lookup func(name string) ([]float64, bool), n int) ([]float64, error) {
	env := &env{lookup: lookup, n: n}
	return p.root.eval(env)
}

func collectRefs(nd node, out *[]string) {
	switch v := nd.(type) {
	case *identNode:
		for _, seen := range *out {
			if seen == v.name {
				return
			}
		}
		*out = append(*out, v.name)
	case *unaryNode:
		collectRefs(v.operand, out)
	case *binaryNode:
		collectRefs(v.lhs, out)
		collectRefs(v.rhs, out)
	case *callNode:
		for _, arg := range v.args {
			collectRefs(arg, out)
		}
	}
}

// --- lexer ---

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

func lex(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || r == '.':
			j := i
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, string(runes[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			toks = append(toks, token{tokIdent, string(runes[i:j])})
			i = j
		case r == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case strings.ContainsRune("+-*/%", r):
			toks = append(toks, token{tokOp, string(r)})
			i++
		case r == '>' || r == '<':
			op := string(r)
			if i+1 < len(runes) && runes[i+1] == '=' {
				op += "="
				i++
			}
			toks = append(toks, token{tokOp, op})
			i++
		case r == '=' || r == '!':
			if i+1 < len(runes) && runes[i+1] == '=' {
				toks = append(toks, token{tokOp, string(r) + "="})
				i += 2
				continue
			}
			if r == '=' {
				return nil, &SandboxViolationError{Detail: "assignment is not permitted"}
			}
			return nil, &SandboxViolationError{Detail: "unary ! is not permitted"}
		case r == '&' || r == '|':
			if i+1 < len(runes) && runes[i+1] == r {
				toks = append(toks, token{tokOp, string(r) + string(r)})
				i += 2
				continue
			}
			return nil, &SandboxViolationError{Detail: fmt.Sprintf("bitwise %q is not permitted", string(r))}
		case r == '[' || r == ']':
			return nil, &SandboxViolationError{Detail: "indexing is not permitted"}
		case r == '"' || r == '\'' || r == '`':
			return nil, &SandboxViolationError{Detail: "string literals are not permitted"}
		default:
			return nil, &SandboxViolationError{Detail: fmt.Sprintf("disallowed character %q", string(r))}
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

// --- parser (precedence climbing) ---

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) done() bool { return p.peek().kind == tokEOF }

func (p *parser) parseExpr() (node, error) { return p.parseOr() }

func (p *parser) parseOr() (node, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && p.peek().text == "||" {
		p.next()
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = &binaryNode{op: "||", lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseAnd() (node, error) {
	lhs, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && p.peek().text == "&&" {
		p.next()
		rhs, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		lhs = &binaryNode{op: "&&", lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseComparison() (node, error) {
	lhs, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind == tokOp && isComparison(t.text) {
		p.next()
		rhs, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: t.text, lhs: lhs, rhs: rhs}, nil
	}
	return lhs, nil
}

func isComparison(op string) bool {
	switch op {
	case ">", "<", ">=", "<=", "==", "!=":
		return true
	}
	return false
}

func (p *parser) parseAdditive() (node, error) {
	lhs, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "+" || p.peek().text == "-") {
		op := p.next().text
		rhs, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		lhs = &binaryNode{op: op, lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "*" || p.peek().text == "/" || p.peek().text == "%") {
		op := p.next().text
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = &binaryNode{op: op, lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *parser) parseUnary() (node, error) {
	if t := p.peek(); t.kind == tokOp && t.text == "-" {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}
		return &numberNode{value: v}, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(t.text)
		}
		return &identNode{name: t.text}, nil
	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

func (p *parser) parseCall(name string) (node, error) {
	arity, ok := allowedCalls[name]
	if !ok {
		return nil, &SandboxViolationError{Detail: fmt.Sprintf("call to %q is not permitted", name)}
	}
	p.next() // consume '('
	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if p.next().kind != tokRParen {
		return nil, fmt.Errorf("missing closing parenthesis in call to %s", name)
	}
	if len(args) != arity {
		return nil, &SandboxViolationError{Detail: fmt.Sprintf("%s expects %d arguments, got %d", name, arity, len(args))}
	}
	if name == "shift" {
		// shift's offset must be a compile-time constant.
		if _, ok := args[1].(*numberNode); !ok {
			if u, isNeg := args[1].(*unaryNode); !isNeg {
				return nil, &SandboxViolationError{Detail: "shift offset must be a numeric literal"}
			} else if _, ok := u.operand.(*numberNode); !ok {
				return nil, &SandboxViolationError{Detail: "shift offset must be a numeric literal"}
			}
		}
	}
	return &callNode{name: name, args: args}, nil
}
