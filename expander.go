package main

import (
	"slices"
	"strings"
)

// Expander substitutes ${...} placeholders using a property table and a
// function registry.
//
// A placeholder holds an expression: a bare property name, a function call
// such as ${string::to-upper(name)}, or an operator expression such as
// ${int::parse(count) > 3 and debug == true}. Placeholders nest: the inner
// ones are expanded first and their results are read back as part of the
// outer expression's source, so ${${key}} reads the property named by key.
// $${ produces a literal ${.
type Expander struct {
	props *PropertyTable
	funcs *FunctionRegistry
}

func NewExpander(props *PropertyTable, funcs *FunctionRegistry) *Expander {
	if funcs == nil {
		funcs = NewFunctionRegistry()
	}
	return &Expander{props: props, funcs: funcs}
}

// Expand returns template with every placeholder resolved. loc is attached
// to any error so it points at the offending build-file construct.
func (x *Expander) Expand(template string, loc Location) (string, error) {
	return x.expand(template, loc, nil)
}

// expand carries the chain of dynamic properties being resolved so that a
// dynamic property referring back to itself fails instead of recursing.
func (x *Expander) expand(template string, loc Location, resolving []string) (string, error) {
	if !strings.Contains(template, "$") {
		return template, nil
	}

	var b strings.Builder
	b.Grow(len(template))
	for i := 0; i < len(template); {
		j := strings.IndexByte(template[i:], '$')
		if j < 0 {
			b.WriteString(template[i:])
			break
		}
		j += i
		b.WriteString(template[i:j])

		switch {
		case strings.HasPrefix(template[j:], "$${"):
			b.WriteString("${")
			i = j + 3
		case strings.HasPrefix(template[j:], "${"):
			end := matchingBrace(template, j+2)
			if end < 0 {
				return "", &ExpressionSyntaxError{
					Expression: template[j:],
					Reason:     "missing closing '}'",
					Location:   loc,
				}
			}
			value, err := x.evaluate(template[j+2:end], loc, resolving)
			if err != nil {
				return "", err
			}
			b.WriteString(value)
			i = end + 1
		default:
			b.WriteByte('$')
			i = j + 1
		}
	}
	return b.String(), nil
}

// matchingBrace returns the index of the '}' closing a placeholder whose body
// starts at start, or -1. Nested ${ open a level; quoted text is skipped.
func matchingBrace(s string, start int) int {
	depth := 1
	inQuote := false
	for k := start; k < len(s); k++ {
		c := s[k]
		if inQuote {
			switch c {
			case '\\':
				k++
			case '\'':
				inQuote = false
			}
			continue
		}
		switch {
		case c == '\'':
			inQuote = true
		case c == '$' && k+1 < len(s) && s[k+1] == '{':
			depth++
			k++
		case c == '}':
			depth--
			if depth == 0 {
				return k
			}
		}
	}
	return -1
}

func (x *Expander) evaluate(expr string, loc Location, resolving []string) (string, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return "", &ExpressionSyntaxError{Expression: "${}", Reason: "empty expression", Location: loc}
	}
	if strings.Contains(expr, "${") {
		inner, err := x.expand(expr, loc, resolving)
		if err != nil {
			return "", err
		}
		expr = strings.TrimSpace(inner)
	}
	if ValidPropertyName(expr) && !isExpressionKeyword(expr) {
		return x.lookup(expr, loc, resolving)
	}
	return x.evalExpression(expr, loc, resolving)
}

func (x *Expander) lookup(name string, loc Location, resolving []string) (string, error) {
	value, ok := x.props.Get(name)
	if !ok {
		return "", &UnresolvedPropertyError{Name: name, Location: loc}
	}
	if !x.props.IsDynamic(name) {
		return value, nil
	}
	if slices.Contains(resolving, name) {
		chain := append(slices.Clone(resolving), name)
		return "", &ExpressionSyntaxError{
			Expression: name,
			Reason:     "dynamic property refers to itself (" + strings.Join(chain, " -> ") + ")",
			Location:   loc,
		}
	}
	return x.expand(value, loc, append(slices.Clone(resolving), name))
}
