// Package filter compiles message predicates written in CEL.
//
// Expressions see two variables: `msg`, the message body as a map, and `id`,
// the message identifier. A body field is addressed as `msg.type` or
// `msg["type"]`; use `has(msg.key)` to test presence. An expression that fails
// to evaluate (for example because a field is missing) does not match.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Filter is an immutable conjunction of compiled expressions. The zero value
// matches everything.
type Filter struct {
	clauses []clause
}

type clause struct {
	expr string
	prog cel.Program
}

var newEnv = sync.OnceValues(func() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("msg", cel.DynType),
		cel.Variable("id", cel.StringType),
	)
})

func Compile(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}

	env, err := newEnv()
	if err != nil {
		return Filter{}, fmt.Errorf("filter env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, fmt.Errorf("compile filter %q: %w", expr, iss.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return Filter{}, fmt.Errorf("compile filter %q: %w", expr, ErrNotPredicate)
	}

	prog, err := env.Program(ast)
	if err != nil {
		return Filter{}, fmt.Errorf("program filter %q: %w", expr, err)
	}

	return Filter{clauses: []clause{{expr: expr, prog: prog}}}, nil
}

func MustCompile(expr string) Filter {
	f, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return f
}

// Equals builds `msg.<field> == <value>` for string, bool and numeric values.
func Equals(field string, value any) (Filter, error) {
	var lit string
	switch v := value.(type) {
	case string:
		lit = strconv.Quote(v)
	case bool:
		lit = strconv.FormatBool(v)
	case int:
		lit = strconv.FormatFloat(float64(v), 'f', -1, 64)
		if !strings.Contains(lit, ".") {
			lit += ".0"
		}
	case float64:
		lit = strconv.FormatFloat(v, 'f', -1, 64)
		if !strings.ContainsAny(lit, ".eE") {
			lit += ".0"
		}
	default:
		return Filter{}, fmt.Errorf("equals %s: unsupported value type %T", field, value)
	}
	return Compile(fmt.Sprintf("msg[%s] == %s", strconv.Quote(field), lit))
}

// And conjoins filters; zero filters are skipped.
func And(filters ...Filter) Filter {
	var out Filter
	for _, f := range filters {
		out.clauses = append(out.clauses, f.clauses...)
	}
	return out
}

func (f Filter) IsZero() bool {
	return len(f.clauses) == 0
}

// Match reports whether the message satisfies every clause.
func (f Filter) Match(id string, body map[string]any) bool {
	if len(f.clauses) == 0 {
		return true
	}

	if body == nil {
		body = map[string]any{}
	}
	vars := map[string]any{
		"msg": body,
		"id":  id,
	}

	for _, c := range f.clauses {
		out, _, err := c.prog.Eval(vars)
		if err != nil {
			return false
		}
		b, ok := out.Value().(bool)
		if !ok || !b {
			return false
		}
	}
	return true
}

func (f Filter) String() string {
	if len(f.clauses) == 0 {
		return "true"
	}
	if len(f.clauses) == 1 {
		return f.clauses[0].expr
	}
	parts := make([]string, len(f.clauses))
	for i, c := range f.clauses {
		parts[i] = "(" + c.expr + ")"
	}
	return strings.Join(parts, " && ")
}
