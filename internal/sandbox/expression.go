package sandbox

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rotisserie/eris"
)

// Expression is a compiled single-expression logic body. The expression
// sees a flat name table (dependency values first, context second, so
// context wins on key conflicts) plus the `deps` and `params` maps for
// dotted fact ids that are not bare identifiers.
type Expression struct {
	program *vm.Program
	opts    Options
}

// CompileExpression parses and compiles an expression. Undefined names
// evaluate to nil so logic can presence-check skipped conditional edges.
func CompileExpression(src string, opts Options) (*Expression, error) {
	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, eris.Wrapf(err, "sandbox: compile expression")
	}
	return &Expression{program: program, opts: opts}, nil
}

// Invoke evaluates the expression under the configured time budget.
// Expressions have no loop constructs, so the budget is enforced by a
// watchdog rather than interpreter cancellation.
func (e *Expression) Invoke(ctx context.Context, deps map[string]any, params map[string]any) (any, error) {
	env := expressionEnv(deps, params)

	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: eris.Errorf("sandbox: expression panicked: %v", r)}
			}
		}()
		v, err := expr.Run(e.program, env)
		done <- result{value: v, err: err}
	}()

	budget := e.opts.timeout()
	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, eris.Wrap(r.err, "sandbox: expression")
		}
		return r.value, nil
	case <-timer.C:
		return nil, &TimeoutError{Budget: budget}
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "sandbox: expression cancelled")
	}
}

// Condition is a compiled boolean expression over a parent context, used
// to gate structured dependency edges.
type Condition struct {
	program *vm.Program
}

// CompileCondition compiles an edge condition.
func CompileCondition(src string) (*Condition, error) {
	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, eris.Wrapf(err, "sandbox: compile condition")
	}
	return &Condition{program: program}, nil
}

// Eval evaluates the condition against a context. Anything other than a
// clean boolean true is false; errors are reported so callers can decide
// to skip the edge.
func (c *Condition) Eval(params map[string]any) (bool, error) {
	env := expressionEnv(nil, params)
	out, err := expr.Run(c.program, env)
	if err != nil {
		return false, eris.Wrap(err, "sandbox: condition")
	}
	b, ok := out.(bool)
	if !ok {
		return false, nil
	}
	return b, nil
}

// expressionEnv builds the merged name table: deps first, context second,
// so context keys win deterministically, with the raw maps and the
// function allow-list alongside.
func expressionEnv(deps map[string]any, params map[string]any) map[string]any {
	env := make(map[string]any, len(deps)+len(params)+4)
	for k, v := range deps {
		env[k] = v
	}
	for k, v := range params {
		env[k] = v
	}
	env["deps"] = orEmpty(deps)
	env["params"] = orEmpty(params)
	// len, abs, min, max, sum, sort, int, float, string are expr
	// builtins; round is the one domain addition.
	env["round"] = func(v float64, places int) float64 {
		scale := math.Pow10(places)
		return math.Round(v*scale) / scale
	}
	env["money"] = func(v float64) string {
		return fmt.Sprintf("$%.2f", v)
	}
	return env
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
