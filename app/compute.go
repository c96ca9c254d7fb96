package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/artpar/hyperchannels/domain/model"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// computeOptions are the functions available to computed field
// expressions, in addition to the Expr builtins.
var computeOptions = []expr.Option{
	expr.AllowUndefinedVariables(),

	stringFunc("lower", strings.ToLower),
	stringFunc("upper", strings.ToUpper),
	stringFunc("trim", strings.TrimSpace),
	stringFunc("toString", func(s string) string { return s }),

	expr.Function("join", func(params ...any) (any, error) {
		if len(params) != 2 {
			return nil, fmt.Errorf("join(items, sep) takes 2 arguments, got %d", len(params))
		}
		items, ok := params[0].([]any)
		if !ok {
			return nil, fmt.Errorf("join: items must be an array, got %T", params[0])
		}
		parts := make([]string, len(items))
		for i, v := range items {
			parts[i] = toString(v)
		}
		return strings.Join(parts, toString(params[1])), nil
	}),

	// coalesce returns its first argument that is neither nil nor "".
	expr.Function("coalesce", func(params ...any) (any, error) {
		for _, p := range params {
			if !blank(p) {
				return p, nil
			}
		}
		return nil, nil
	}),
	expr.Function("default", func(params ...any) (any, error) {
		if len(params) != 2 {
			return nil, fmt.Errorf("default(value, fallback) takes 2 arguments, got %d", len(params))
		}
		if blank(params[0]) {
			return params[1], nil
		}
		return params[0], nil
	}),
}

// stringFunc exposes a one-argument string function. Its argument is
// converted with toString first.
func stringFunc(name string, fn func(string) string) expr.Option {
	return expr.Function(name, func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("%s takes 1 argument, got %d", name, len(params))
		}
		return fn(toString(params[0])), nil
	})
}

func blank(v any) bool {
	return v == nil || v == ""
}

// compileCompute compiles a computed field expression. Record members are
// the expression's variables; related records appear as maps of their
// members.
func compileCompute(expression string) (*vm.Program, error) {
	opts := append([]expr.Option{expr.Env(map[string]any{})}, computeOptions...)
	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return program, nil
}

func runCompute(program *vm.Program, rec model.Record) (any, error) {
	env, _ := computeEnv(rec).(map[string]any)
	if env == nil {
		env = map[string]any{}
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("run expression: %w", err)
	}
	return result, nil
}

// computeEnv turns record values into plain Expr values: records become
// maps of their members and JSON numbers become int or float64.
func computeEnv(v any) any {
	switch x := v.(type) {
	case model.Record:
		return computeEnv(x.Fields)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = computeEnv(model.Hydrate(val))
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = computeEnv(x[i])
		}
		return out
	case []model.Record:
		out := make([]any, len(x))
		for i := range x {
			out[i] = computeEnv(x[i])
		}
		return out
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case int64:
		return int(x)
	}
	return v
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
