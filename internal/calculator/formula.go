package calculator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"rete/internal/errs"
	"rete/internal/value"
)

// EvalFormula evaluates the small expression language used by FormulaAction
// (spec §4.7): arithmetic (+ - * /), comparisons (== != < <= > >=), logical
// operators (&& || !), a cond ? then : else conditional, string
// concatenation via +, parentheses, variable references resolved against
// bindings, and the named functions abs, min, max, round, floor, ceil,
// sqrt, upper, lower, length, substring, coalesce, typeof, concat.
func EvalFormula(expr string, bindings map[string]value.Value) (value.Value, error) {
	p := &formulaParser{src: []rune(expr), bindings: bindings}
	p.skipSpace()
	v, err := p.parseConditional()
	if err != nil {
		return value.Value{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return value.Value{}, errs.Validation("EvalFormula", fmt.Sprintf("unexpected trailing input at %d in %q", p.pos, expr), nil)
	}
	return v, nil
}

type formulaParser struct {
	src      []rune
	pos      int
	bindings map[string]value.Value
}

func (p *formulaParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *formulaParser) peek() rune {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *formulaParser) match(s string) bool {
	p.skipSpace()
	r := []rune(s)
	if p.pos+len(r) > len(p.src) {
		return false
	}
	if string(p.src[p.pos:p.pos+len(r)]) != s {
		return false
	}
	p.pos += len(r)
	return true
}

// matchNot consumes a unary '!' but not the '!=' comparison operator.
func (p *formulaParser) matchNot() bool {
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == '!' && (p.pos+1 >= len(p.src) || p.src[p.pos+1] != '=') {
		p.pos++
		return true
	}
	return false
}

func (p *formulaParser) parseConditional() (value.Value, error) {
	cond, err := p.parseOr()
	if err != nil {
		return value.Value{}, err
	}
	p.skipSpace()
	if !p.match("?") {
		return cond, nil
	}
	thenV, err := p.parseConditional()
	if err != nil {
		return value.Value{}, err
	}
	if !p.match(":") {
		return value.Value{}, errs.Validation("EvalFormula", "expected ':' in conditional expression", nil)
	}
	elseV, err := p.parseConditional()
	if err != nil {
		return value.Value{}, err
	}
	b, ok := cond.Bool()
	if !ok {
		return value.Value{}, errs.Validation("EvalFormula", "conditional requires a boolean condition", nil)
	}
	if b {
		return thenV, nil
	}
	return elseV, nil
}

func (p *formulaParser) parseOr() (value.Value, error) {
	left, err := p.parseAnd()
	if err != nil {
		return value.Value{}, err
	}
	for {
		p.skipSpace()
		if !p.match("||") {
			return left, nil
		}
		lb, ok := left.Bool()
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "'||' requires boolean operands", nil)
		}
		right, err := p.parseAnd()
		if err != nil {
			return value.Value{}, err
		}
		rb, ok := right.Bool()
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "'||' requires boolean operands", nil)
		}
		left = value.NewBool(lb || rb)
	}
}

func (p *formulaParser) parseAnd() (value.Value, error) {
	left, err := p.parseNot()
	if err != nil {
		return value.Value{}, err
	}
	for {
		p.skipSpace()
		if !p.match("&&") {
			return left, nil
		}
		lb, ok := left.Bool()
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "'&&' requires boolean operands", nil)
		}
		right, err := p.parseNot()
		if err != nil {
			return value.Value{}, err
		}
		rb, ok := right.Bool()
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "'&&' requires boolean operands", nil)
		}
		left = value.NewBool(lb && rb)
	}
}

func (p *formulaParser) parseNot() (value.Value, error) {
	if p.matchNot() {
		v, err := p.parseNot()
		if err != nil {
			return value.Value{}, err
		}
		b, ok := v.Bool()
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "'!' requires a boolean operand", nil)
		}
		return value.NewBool(!b), nil
	}
	return p.parseComparison()
}

func (p *formulaParser) parseComparison() (value.Value, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return value.Value{}, err
	}
	p.skipSpace()
	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		if p.match(op) {
			right, err := p.parseAdditive()
			if err != nil {
				return value.Value{}, err
			}
			return compareOp(op, left, right)
		}
	}
	return left, nil
}

func compareOp(op string, l, r value.Value) (value.Value, error) {
	switch op {
	case "==":
		return value.NewBool(l.Equal(r)), nil
	case "!=":
		return value.NewBool(!l.Equal(r)), nil
	default:
		c, ok := l.Compare(r)
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "operands are not comparable", nil)
		}
		switch op {
		case "<":
			return value.NewBool(c < 0), nil
		case "<=":
			return value.NewBool(c <= 0), nil
		case ">":
			return value.NewBool(c > 0), nil
		case ">=":
			return value.NewBool(c >= 0), nil
		}
	}
	return value.Value{}, errs.Internal("EvalFormula", "unreachable comparison operator "+op, nil)
}

func (p *formulaParser) parseAdditive() (value.Value, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return value.Value{}, err
	}
	for {
		p.skipSpace()
		switch {
		case p.match("+"):
			right, err := p.parseMultiplicative()
			if err != nil {
				return value.Value{}, err
			}
			left, err = addValues(left, right)
			if err != nil {
				return value.Value{}, err
			}
		case p.match("-"):
			right, err := p.parseMultiplicative()
			if err != nil {
				return value.Value{}, err
			}
			lf, lok := left.AsFloat64()
			rf, rok := right.AsFloat64()
			if !lok || !rok {
				return value.Value{}, errs.Validation("EvalFormula", "'-' requires numeric operands", nil)
			}
			left = value.NewFloat(lf - rf)
		default:
			return left, nil
		}
	}
}

func addValues(l, r value.Value) (value.Value, error) {
	if l.Kind() == value.KindString || r.Kind() == value.KindString {
		return value.NewString(l.String() + r.String()), nil
	}
	lf, lok := l.AsFloat64()
	rf, rok := r.AsFloat64()
	if !lok || !rok {
		return value.Value{}, errs.Validation("EvalFormula", "'+' requires numeric or string operands", nil)
	}
	return value.NewFloat(lf + rf), nil
}

func (p *formulaParser) parseMultiplicative() (value.Value, error) {
	left, err := p.parseUnary()
	if err != nil {
		return value.Value{}, err
	}
	for {
		p.skipSpace()
		switch {
		case p.match("*"):
			right, err := p.parseUnary()
			if err != nil {
				return value.Value{}, err
			}
			lf, lok := left.AsFloat64()
			rf, rok := right.AsFloat64()
			if !lok || !rok {
				return value.Value{}, errs.Validation("EvalFormula", "'*' requires numeric operands", nil)
			}
			left = value.NewFloat(lf * rf)
		case p.match("/"):
			right, err := p.parseUnary()
			if err != nil {
				return value.Value{}, err
			}
			lf, lok := left.AsFloat64()
			rf, rok := right.AsFloat64()
			if !lok || !rok {
				return value.Value{}, errs.Validation("EvalFormula", "'/' requires numeric operands", nil)
			}
			if rf == 0 {
				return value.Value{}, errs.Validation("EvalFormula", "division by zero", nil)
			}
			left = value.NewFloat(lf / rf)
		default:
			return left, nil
		}
	}
}

func (p *formulaParser) parseUnary() (value.Value, error) {
	p.skipSpace()
	if p.match("-") {
		v, err := p.parseUnary()
		if err != nil {
			return value.Value{}, err
		}
		f, ok := v.AsFloat64()
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "unary '-' requires a numeric operand", nil)
		}
		return value.NewFloat(-f), nil
	}
	return p.parsePrimary()
}

func (p *formulaParser) parsePrimary() (value.Value, error) {
	p.skipSpace()
	if p.match("(") {
		v, err := p.parseConditional()
		if err != nil {
			return value.Value{}, err
		}
		if !p.match(")") {
			return value.Value{}, errs.Validation("EvalFormula", "missing closing ')'", nil)
		}
		return v, nil
	}
	if p.match("\"") {
		return p.parseStringLiteral()
	}

	start := p.pos
	for p.pos < len(p.src) && (unicode.IsLetter(p.src[p.pos]) || unicode.IsDigit(p.src[p.pos]) || p.src[p.pos] == '_' || p.src[p.pos] == '.') {
		p.pos++
	}
	if p.pos == start {
		return value.Value{}, errs.Validation("EvalFormula", fmt.Sprintf("unexpected character %q at %d", p.peek(), p.pos), nil)
	}
	tok := string(p.src[start:p.pos])

	p.skipSpace()
	if p.peek() == '(' {
		p.pos++
		if tok == "coalesce" {
			return p.parseCoalesce()
		}
		args, err := p.parseArgs()
		if err != nil {
			return value.Value{}, err
		}
		return callFunction(tok, args)
	}

	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return value.NewFloat(f), nil
	}
	if tok == "true" {
		return value.NewBool(true), nil
	}
	if tok == "false" {
		return value.NewBool(false), nil
	}
	v, ok := p.bindings[tok]
	if !ok {
		return value.Value{}, errs.Validation("EvalFormula", fmt.Sprintf("unbound variable %q", tok), nil)
	}
	return v, nil
}

func (p *formulaParser) parseStringLiteral() (value.Value, error) {
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != '"' {
		p.pos++
	}
	if p.pos >= len(p.src) {
		return value.Value{}, errs.Validation("EvalFormula", "unterminated string literal", nil)
	}
	s := string(p.src[start:p.pos])
	p.pos++ // consume closing quote
	return value.NewString(s), nil
}

func (p *formulaParser) parseArgs() ([]value.Value, error) {
	var args []value.Value
	p.skipSpace()
	if p.match(")") {
		return args, nil
	}
	for {
		v, err := p.parseConditional()
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		p.skipSpace()
		if p.match(",") {
			continue
		}
		if p.match(")") {
			return args, nil
		}
		return nil, errs.Validation("EvalFormula", "expected ',' or ')' in argument list", nil)
	}
}

// parseCoalesce scans coalesce(...)'s raw argument text (splitting on
// top-level commas, tracking paren/quote nesting) rather than evaluating
// eagerly like parseArgs, since coalesce's whole point is to tolerate a
// failing argument (most commonly an unbound variable) and fall through to
// the next one instead of aborting the formula.
func (p *formulaParser) parseCoalesce() (value.Value, error) {
	start := p.pos
	depth := 0
	inString := false
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case inString:
			if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '(':
			depth++
		case c == ')':
			if depth == 0 {
				goto done
			}
			depth--
		}
		p.pos++
	}
done:
	if p.pos >= len(p.src) {
		return value.Value{}, errs.Validation("EvalFormula", "missing closing ')' in coalesce()", nil)
	}
	raw := string(p.src[start:p.pos])
	p.pos++ // consume closing ')'

	parts := splitTopLevel(raw)
	var lastErr error
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := EvalFormula(part, p.bindings)
		if err != nil {
			lastErr = err
			continue
		}
		return v, nil
	}
	if lastErr == nil {
		lastErr = errs.Validation("EvalFormula", "coalesce() requires at least one argument", nil)
	}
	return value.Value{}, lastErr
}

// splitTopLevel splits s on commas that are not nested inside parentheses
// or a quoted string.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	inString := false
	last := 0
	runes := []rune(s)
	for i, c := range runes {
		switch {
		case inString:
			if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, string(runes[last:i]))
			last = i + 1
		}
	}
	parts = append(parts, string(runes[last:]))
	return parts
}

func callFunction(name string, args []value.Value) (value.Value, error) {
	switch name {
	case "abs":
		f, ok := arg0Float(args)
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "abs() requires one numeric argument", nil)
		}
		if f < 0 {
			f = -f
		}
		return value.NewFloat(f), nil
	case "min":
		return minMax(args, true)
	case "max":
		return minMax(args, false)
	case "round":
		f, ok := arg0Float(args)
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "round() requires one numeric argument", nil)
		}
		return value.NewFloat(math.Round(f)), nil
	case "floor":
		f, ok := arg0Float(args)
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "floor() requires one numeric argument", nil)
		}
		return value.NewFloat(math.Floor(f)), nil
	case "ceil":
		f, ok := arg0Float(args)
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "ceil() requires one numeric argument", nil)
		}
		return value.NewFloat(math.Ceil(f)), nil
	case "sqrt":
		f, ok := arg0Float(args)
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "sqrt() requires one numeric argument", nil)
		}
		if f < 0 {
			return value.Value{}, errs.Validation("EvalFormula", "sqrt() requires a non-negative argument", nil)
		}
		return value.NewFloat(math.Sqrt(f)), nil
	case "upper":
		s, ok := arg0String(args)
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "upper() requires one string argument", nil)
		}
		return value.NewString(strings.ToUpper(s)), nil
	case "lower":
		s, ok := arg0String(args)
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "lower() requires one string argument", nil)
		}
		return value.NewString(strings.ToLower(s)), nil
	case "substring":
		return substringFn(args)
	case "coalesce":
		// Handled by parseCoalesce before arguments are eagerly evaluated;
		// reached only if coalesce() is ever dispatched through callFunction
		// directly (e.g. a future caller), in which case the first argument
		// wins since no evaluation errors could have occurred by this point.
		if len(args) == 0 {
			return value.Value{}, errs.Validation("EvalFormula", "coalesce() requires at least one argument", nil)
		}
		return args[0], nil
	case "length":
		fallthrough
	case "len":
		if len(args) != 1 {
			return value.Value{}, errs.Validation("EvalFormula", "length() requires one argument", nil)
		}
		switch args[0].Kind() {
		case value.KindString:
			s, _ := args[0].Str()
			return value.NewInt(int64(len(s))), nil
		case value.KindList:
			l, _ := args[0].List()
			return value.NewInt(int64(len(l))), nil
		default:
			return value.Value{}, errs.Validation("EvalFormula", "length() requires a string or list", nil)
		}
	case "typeof":
		if len(args) != 1 {
			return value.Value{}, errs.Validation("EvalFormula", "typeof() requires one argument", nil)
		}
		return value.NewString(args[0].TypeName()), nil
	case "concat":
		var b strings.Builder
		for _, a := range args {
			b.WriteString(a.String())
		}
		return value.NewString(b.String()), nil
	default:
		return value.Value{}, errs.Validation("EvalFormula", fmt.Sprintf("unknown function %q", name), nil)
	}
}

func arg0Float(args []value.Value) (float64, bool) {
	if len(args) != 1 {
		return 0, false
	}
	return args[0].AsFloat64()
}

func arg0String(args []value.Value) (string, bool) {
	if len(args) != 1 {
		return "", false
	}
	return args[0].Str()
}

// substringFn implements substring(s, start[, length]) with Go-slice
// semantics clamped to the string's bounds rather than erroring on an
// out-of-range index, since a formula author clipping a field to "at most
// N chars" shouldn't have to bounds-check first.
func substringFn(args []value.Value) (value.Value, error) {
	if len(args) != 2 && len(args) != 3 {
		return value.Value{}, errs.Validation("EvalFormula", "substring() requires (string, start[, length])", nil)
	}
	s, ok := args[0].Str()
	if !ok {
		return value.Value{}, errs.Validation("EvalFormula", "substring() requires a string as its first argument", nil)
	}
	r := []rune(s)
	startF, ok := args[1].AsFloat64()
	if !ok {
		return value.Value{}, errs.Validation("EvalFormula", "substring() requires a numeric start index", nil)
	}
	start := int(startF)
	if start < 0 {
		start = 0
	}
	if start > len(r) {
		start = len(r)
	}
	end := len(r)
	if len(args) == 3 {
		lenF, ok := args[2].AsFloat64()
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "substring() requires a numeric length", nil)
		}
		end = start + int(lenF)
		if end > len(r) {
			end = len(r)
		}
		if end < start {
			end = start
		}
	}
	return value.NewString(string(r[start:end])), nil
}

func minMax(args []value.Value, wantMin bool) (value.Value, error) {
	if len(args) == 0 {
		return value.Value{}, errs.Validation("EvalFormula", "min()/max() require at least one argument", nil)
	}
	best := args[0]
	for _, a := range args[1:] {
		c, ok := a.Compare(best)
		if !ok {
			return value.Value{}, errs.Validation("EvalFormula", "min()/max() arguments are not comparable", nil)
		}
		if (wantMin && c < 0) || (!wantMin && c > 0) {
			best = a
		}
	}
	return best, nil
}
