package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finq/internal/table"
)

func TestExpression_Arithmetic(t *testing.T) {
	e, err := CompileExpression("a + b", Options{})
	require.NoError(t, err)

	v, err := e.Invoke(context.Background(), nil, map[string]any{"a": 10, "b": 20})
	require.NoError(t, err)
	assert.EqualValues(t, 30, v)
}

func TestExpression_Builtins(t *testing.T) {
	e, err := CompileExpression("sum(items)", Options{})
	require.NoError(t, err)

	v, err := e.Invoke(context.Background(), nil, map[string]any{"items": []any{1, 2, 3}})
	require.NoError(t, err)
	assert.EqualValues(t, 6, v)
}

func TestExpression_ContextWinsOverDeps(t *testing.T) {
	e, err := CompileExpression("x", Options{})
	require.NoError(t, err)

	v, err := e.Invoke(context.Background(),
		map[string]any{"x": 1},
		map[string]any{"x": 2},
	)
	require.NoError(t, err)
	assert.EqualValues(t, 2, v)
}

func TestExpression_DottedDepIDsViaDepsMap(t *testing.T) {
	e, err := CompileExpression(`deps["fact.b"] * 2`, Options{})
	require.NoError(t, err)

	v, err := e.Invoke(context.Background(), map[string]any{"fact.b": 10}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 20, v)
}

func TestExpression_SkippedDepIsAbsent(t *testing.T) {
	e, err := CompileExpression(`"b" in deps ? deps["b"] : -1`, Options{})
	require.NoError(t, err)

	v, err := e.Invoke(context.Background(), map[string]any{}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, -1, v)
}

func TestExpression_NoImportMechanism(t *testing.T) {
	_, err := CompileExpression(`import("os")`, Options{})
	if err == nil {
		e, _ := CompileExpression(`import("os")`, Options{})
		_, err = e.Invoke(context.Background(), nil, nil)
	}
	require.Error(t, err)
}

func TestCondition_Eval(t *testing.T) {
	c, err := CompileCondition(`category == "Groceries"`)
	require.NoError(t, err)

	ok, err := c.Eval(map[string]any{"category": "Groceries"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Eval(map[string]any{"category": "Rent"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCondition_NonBoolIsFalse(t *testing.T) {
	c, err := CompileCondition(`category`)
	require.NoError(t, err)

	ok, err := c.Eval(map[string]any{"category": "Groceries"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCode_ReturnsOutput(t *testing.T) {
	code, err := CompileCode(`output := deps["fact.b"] * 2`, Options{})
	require.NoError(t, err)

	v, err := code.Invoke(context.Background(), map[string]any{"fact.b": int64(10)}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 20, v)
}

func TestCode_ReadsContext(t *testing.T) {
	code, err := CompileCode(`
x := 0
if v := ctx["x"]; v != undefined {
	x = v
}
output := x
`, Options{})
	require.NoError(t, err)

	v, err := code.Invoke(context.Background(), nil, map[string]any{"x": int64(5)})
	require.NoError(t, err)
	assert.EqualValues(t, 5, v)
}

func TestCode_NoOutputIsError(t *testing.T) {
	code, err := CompileCode(`x := 1`, Options{})
	require.NoError(t, err)

	_, err = code.Invoke(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no result")
}

func TestCode_TimeoutOnInfiniteLoop(t *testing.T) {
	code, err := CompileCode(`
n := 0
for {
	n++
}
output := n
`, Options{Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = code.Invoke(context.Background(), nil, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsTimeout(err), "expected timeout error, got %v", err)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestCode_LedgerQueryHandle(t *testing.T) {
	opts := Options{
		Queries: map[string]QueryFunc{
			"bank_transactions": func(ctx context.Context, filter map[string]any) ([]map[string]any, error) {
				return []map[string]any{
					{"amount": -50.0, "description": "Latest"},
					{"amount": -100.0, "description": "Old"},
				}, nil
			},
		},
	}
	code, err := CompileCode(`
rows := ledger.bank_transactions({})
total := 0.0
for row in rows {
	total += row.amount
}
output := total
`, opts)
	require.NoError(t, err)

	v, err := code.Invoke(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.EqualValues(t, -150.0, v)
}

func TestCode_TableDepSanitizedToRecords(t *testing.T) {
	tbl := table.FromRecords([]map[string]any{
		{"amount": -80.0, "category": "Groceries"},
	})
	code, err := CompileCode(`
rows := deps["ledger.all_transactions"].records
output := rows[0].amount
`, Options{})
	require.NoError(t, err)

	v, err := code.Invoke(context.Background(), map[string]any{"ledger.all_transactions": tbl}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, -80.0, v)
}
