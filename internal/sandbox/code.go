package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/finq/internal/table"
)

// safeModules is the stdlib subset code logic may import: date/time
// construction, numeric helpers, string and JSON handling. No os, no
// rand, no process access.
var safeModules = stdlib.GetModuleMap("math", "text", "times", "fmt", "json")

// Code is a compiled multi-statement logic body. The script reads `deps`
// and `ctx`, may call the injected `ledger` query handles, and assigns its
// result to `output`.
type Code struct {
	compiled *tengo.Compiled
	opts     Options
}

// CompileCode compiles a code body once. Input variables are declared with
// placeholder values and rebound per invocation.
func CompileCode(src string, opts Options) (*Code, error) {
	script := tengo.NewScript([]byte(src))
	script.SetImports(safeModules)

	if err := script.Add("deps", map[string]any{}); err != nil {
		return nil, eris.Wrap(err, "sandbox: declare deps")
	}
	if err := script.Add("ctx", map[string]any{}); err != nil {
		return nil, eris.Wrap(err, "sandbox: declare ctx")
	}
	if err := script.Add("ledger", &tengo.ImmutableMap{Value: map[string]tengo.Object{}}); err != nil {
		return nil, eris.Wrap(err, "sandbox: declare ledger")
	}

	compiled, err := script.Compile()
	if err != nil {
		return nil, eris.Wrap(err, "sandbox: compile code")
	}
	return &Code{compiled: compiled, opts: opts}, nil
}

// Invoke runs the code body under the time budget. RunContext gives real
// cancellation: an infinite loop is aborted when the deadline passes.
func (c *Code) Invoke(ctx context.Context, deps map[string]any, params map[string]any) (value any, err error) {
	budget := c.opts.timeout()
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	clone := c.compiled.Clone()
	if err := clone.Set("deps", sanitizeMap(deps)); err != nil {
		return nil, eris.Wrap(err, "sandbox: bind deps")
	}
	if err := clone.Set("ctx", sanitizeMap(params)); err != nil {
		return nil, eris.Wrap(err, "sandbox: bind ctx")
	}
	if err := clone.Set("ledger", c.ledgerModule(runCtx)); err != nil {
		return nil, eris.Wrap(err, "sandbox: bind ledger")
	}

	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = eris.Errorf("sandbox: code panicked: %v", r)
		}
	}()

	if err := clone.RunContext(runCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Budget: budget}
		}
		// Interpreter errors carry their own message; one string is all
		// that crosses the boundary.
		return nil, eris.Wrap(err, "sandbox: code")
	}

	out := clone.Get("output")
	if out == nil {
		return nil, eris.New("sandbox: code produced no result (assign `output`)")
	}
	v := out.Value()
	if v == nil {
		return nil, eris.New("sandbox: code produced no result (assign `output`)")
	}
	return v, nil
}

// ledgerModule wraps the configured query handles as tengo functions bound
// to the invocation context so cancellation reaches the store.
func (c *Code) ledgerModule(ctx context.Context) *tengo.ImmutableMap {
	fns := make(map[string]tengo.Object, len(c.opts.Queries))
	for name, fn := range c.opts.Queries {
		query := fn
		fns[name] = &tengo.UserFunction{
			Name: name,
			Value: func(args ...tengo.Object) (tengo.Object, error) {
				filter := map[string]any{}
				if len(args) > 0 {
					raw := tengo.ToInterface(args[0])
					if m, ok := raw.(map[string]any); ok {
						filter = m
					}
				}
				rows, err := query(ctx, filter)
				if err != nil {
					return nil, err
				}
				generic := make([]any, len(rows))
				for i, row := range rows {
					generic[i] = row
				}
				return tengo.FromInterface(sanitize(generic))
			},
		}
	}
	return &tengo.ImmutableMap{Value: fns}
}

// sanitize converts engine-native values into forms the interpreter
// accepts: tables to their record form, decimals to floats, timestamps to
// ISO strings.
func sanitize(v any) any {
	switch val := v.(type) {
	case *table.Table:
		records := make([]any, len(val.Records))
		for i, rec := range val.ToRecords() {
			records[i] = rec
		}
		cols := make([]any, len(val.Columns))
		for i, c := range val.Columns {
			cols[i] = c
		}
		return map[string]any{"columns": cols, "records": records}
	case map[string]any:
		return sanitizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitize(child)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeMap(child)
		}
		return out
	case decimal.Decimal:
		f, _ := val.Float64()
		return f
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}

func sanitizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = sanitize(v)
	}
	return out
}
