package main

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"
)

// Word operators accepted in expressions next to their symbolic forms.
var expressionKeywords = map[string]string{
	"and":   "&&",
	"or":    "||",
	"not":   "!",
	"div":   "/",
	"mod":   "%",
	"true":  "true",
	"false": "false",
}

func isExpressionKeyword(word string) bool {
	_, ok := expressionKeywords[word]
	return ok
}

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || ('0' <= c && c <= '9') || c == '.' || c == '-'
}

// compiledExpression is an expression rewritten into govaluate syntax:
// property names become escaped parameters ([build.dir]) and prefix::name
// functions become plain identifiers.
type compiledExpression struct {
	source    string
	text      string
	params    []string
	functions map[string]govaluate.ExpressionFunction
}

func (x *Expander) compile(expr string, loc Location) (*compiledExpression, error) {
	ce := &compiledExpression{source: expr, functions: make(map[string]govaluate.ExpressionFunction)}
	syntaxErr := func(reason string) error {
		return &ExpressionSyntaxError{Expression: expr, Reason: reason, Location: loc}
	}

	var b strings.Builder
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == '\'':
			end := i + 1
			for end < len(expr) && expr[end] != '\'' {
				if expr[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(expr) {
				return nil, syntaxErr("unterminated string literal")
			}
			b.WriteString(expr[i : end+1])
			i = end + 1

		case isIdentStart(c):
			j := i + 1
			for j < len(expr) && isIdentPart(expr[j]) {
				j++
			}
			// A trailing '.' or '-' belongs to the surrounding expression.
			for j > i+1 && (expr[j-1] == '.' || expr[j-1] == '-') {
				j--
			}
			word := expr[i:j]

			if strings.HasPrefix(expr[j:], "::") {
				k := j + 2
				for k < len(expr) && isIdentPart(expr[k]) {
					k++
				}
				name := word + "::" + expr[j+2:k]
				fn, ok := x.funcs.Lookup(name)
				if !ok {
					return nil, syntaxErr(fmt.Sprintf("unknown function '%s'", name))
				}
				if !strings.HasPrefix(strings.TrimLeft(expr[k:], " \t"), "(") {
					return nil, syntaxErr(fmt.Sprintf("expected '(' after '%s'", name))
				}
				mangled := mangleFunctionName(name)
				ce.functions[mangled] = fn
				b.WriteString(mangled)
				i = k
				continue
			}

			if op, ok := expressionKeywords[word]; ok {
				b.WriteString(op)
			} else {
				b.WriteString("[" + word + "]")
				if !slices.Contains(ce.params, word) {
					ce.params = append(ce.params, word)
				}
			}
			i = j

		case c == '[' || c == ']' || c == '{' || c == '}':
			return nil, syntaxErr(fmt.Sprintf("unexpected '%c'", c))

		default:
			b.WriteByte(c)
			i++
		}
	}
	ce.text = b.String()
	return ce, nil
}

func mangleFunctionName(name string) string {
	return strings.NewReplacer("::", "__", "-", "_", ".", "_").Replace(name)
}

// operandKind is the type a property value takes inside an expression.
// Values are strings unless an operator next to them needs something else.
type operandKind int

const (
	kindString operandKind = iota
	kindNumber
	kindBool
)

func (k operandKind) String() string {
	switch k {
	case kindNumber:
		return "number"
	case kindBool:
		return "boolean"
	default:
		return "string"
	}
}

// operatorPrecedence follows govaluate's binding order. Zero means the token
// is not a binary or prefix operator.
func operatorPrecedence(tok govaluate.ExpressionToken) int {
	op, _ := tok.Value.(string)
	switch tok.Kind {
	case govaluate.PREFIX:
		return 9
	case govaluate.MODIFIER:
		switch op {
		case "**":
			return 8
		case "*", "/", "%":
			return 7
		case "+", "-":
			return 6
		case "<<", ">>":
			return 5
		default:
			return 4
		}
	case govaluate.COMPARATOR:
		return 3
	case govaluate.LOGICALOP:
		if op == "&&" {
			return 2
		}
		return 1
	case govaluate.TERNARY:
		return 0
	}
	return -1
}

// literalKind reports the kind of the literal operand starting at tokens[i],
// reading a leading minus as part of a number.
func literalKind(tokens []govaluate.ExpressionToken, i int) (operandKind, bool) {
	if i < 0 || i >= len(tokens) {
		return kindString, false
	}
	tok := tokens[i]
	if tok.Kind == govaluate.PREFIX && tok.Value == "-" && i+1 < len(tokens) {
		tok = tokens[i+1]
	}
	switch tok.Kind {
	case govaluate.NUMERIC:
		return kindNumber, true
	case govaluate.BOOLEAN:
		return kindBool, true
	case govaluate.STRING:
		return kindString, true
	}
	return kindString, false
}

// operandRequirement is the kind op needs from a property whose other
// operand starts (or ends) at tokens[other]. ok is false when op accepts
// strings.
func operandRequirement(op govaluate.ExpressionToken, tokens []govaluate.ExpressionToken, other int) (operandKind, bool) {
	sym, _ := op.Value.(string)
	switch op.Kind {
	case govaluate.PREFIX:
		if sym == "!" {
			return kindBool, true
		}
		return kindNumber, true
	case govaluate.LOGICALOP:
		return kindBool, true
	case govaluate.TERNARY:
		if sym == "?" {
			return kindBool, true
		}
	case govaluate.MODIFIER:
		if sym != "+" {
			return kindNumber, true
		}
		if k, ok := literalKind(tokens, other); ok && k == kindNumber {
			return kindNumber, true
		}
	case govaluate.COMPARATOR:
		k, literal := literalKind(tokens, other)
		switch sym {
		case "==", "!=":
			if literal && k != kindString {
				return k, true
			}
		case ">", ">=", "<", "<=":
			if !literal || k != kindString {
				return kindNumber, true
			}
		}
	}
	return kindString, false
}

// inferOperandKinds decides which properties must be read as numbers or
// booleans. A property binds to whichever neighbouring operator binds
// tighter, so in "a && b > 2" b is compared as a number.
func inferOperandKinds(expr string, tokens []govaluate.ExpressionToken) (map[string]operandKind, error) {
	kinds := make(map[string]operandKind)
	for i, tok := range tokens {
		if tok.Kind != govaluate.VARIABLE {
			continue
		}
		name, _ := tok.Value.(string)

		left, right := -1, -1
		if i > 0 {
			left = operatorPrecedence(tokens[i-1])
		}
		if i+1 < len(tokens) {
			right = operatorPrecedence(tokens[i+1])
			if tokens[i+1].Kind == govaluate.PREFIX {
				right = -1
			}
		}

		var kind operandKind
		var ok bool
		switch {
		case left < 0 && right < 0:
			continue
		case left >= right:
			kind, ok = operandRequirement(tokens[i-1], tokens, i-2)
			if ok && tokens[i-1].Kind == govaluate.TERNARY {
				ok = false
			}
		default:
			kind, ok = operandRequirement(tokens[i+1], tokens, i+2)
		}
		if !ok {
			continue
		}
		if prev, seen := kinds[name]; seen && prev != kind {
			return nil, &ExpressionSyntaxError{
				Expression: expr,
				Reason:     fmt.Sprintf("property '%s' is used both as a %s and as a %s", name, prev, kind),
			}
		}
		kinds[name] = kind
	}
	return kinds, nil
}

// propertyParameters resolves govaluate parameters lazily, so operands that
// short-circuiting skips are never looked up.
type propertyParameters struct {
	x         *Expander
	expr      string
	kinds     map[string]operandKind
	loc       Location
	resolving []string
}

func (p propertyParameters) Get(name string) (interface{}, error) {
	value, err := p.x.lookup(name, p.loc, p.resolving)
	if err != nil {
		return nil, err
	}
	switch p.kinds[name] {
	case kindNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, p.conversionError(name, value, kindNumber)
		}
		return n, nil
	case kindBool:
		switch v := strings.TrimSpace(value); {
		case strings.EqualFold(v, "true"):
			return true, nil
		case strings.EqualFold(v, "false"):
			return false, nil
		}
		return nil, p.conversionError(name, value, kindBool)
	}
	return value, nil
}

func (p propertyParameters) conversionError(name, value string, kind operandKind) error {
	return &ExpressionSyntaxError{
		Expression: p.expr,
		Reason:     fmt.Sprintf("property '%s' is '%s', not a %s", name, value, kind),
		Location:   p.loc,
	}
}

func (x *Expander) evalExpression(expr string, loc Location, resolving []string) (string, error) {
	ce, err := x.compile(expr, loc)
	if err != nil {
		return "", err
	}
	evaluable, err := govaluate.NewEvaluableExpressionWithFunctions(ce.text, ce.functions)
	if err != nil {
		return "", &ExpressionSyntaxError{Expression: expr, Reason: "cannot parse", Location: loc, Cause: err}
	}
	kinds, err := inferOperandKinds(expr, evaluable.Tokens())
	if err != nil {
		return "", asBuildError(err, loc)
	}
	result, err := evaluable.Eval(propertyParameters{x: x, expr: expr, kinds: kinds, loc: loc, resolving: resolving})
	if err != nil {
		var be buildError
		if errors.As(err, &be) {
			return "", asBuildError(err, loc)
		}
		return "", &ExpressionSyntaxError{Expression: expr, Reason: "evaluation failed", Location: loc, Cause: err}
	}
	return formatValue(result), nil
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprint(val)
	}
}
