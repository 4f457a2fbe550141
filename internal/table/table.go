// Package table is the in-memory tabular representation used for
// dataframe-typed facts. Its canonical on-the-wire form is a list of
// records with ISO-string dates; hydration and dehydration are a total,
// invertible pair so values survive the JSON-oriented cache.
package table

import (
	"sort"

	"github.com/sells-group/finq/internal/factctx"
)

// Table holds column names in a stable order plus row records.
type Table struct {
	Columns []string         `json:"columns"`
	Records []map[string]any `json:"records"`
}

// FromRecords hydrates a table from its persisted list-of-records form.
// Accepts []map[string]any or []any of maps (the shape JSON decoding
// produces). Unknown element shapes are skipped.
func FromRecords(v any) *Table {
	var records []map[string]any
	switch rows := v.(type) {
	case []map[string]any:
		records = rows
	case []any:
		for _, row := range rows {
			if m, ok := row.(map[string]any); ok {
				records = append(records, m)
			}
		}
	case *Table:
		return rows
	}

	colSet := make(map[string]bool)
	for _, rec := range records {
		for k := range rec {
			colSet[k] = true
		}
	}
	cols := make([]string, 0, len(colSet))
	for k := range colSet {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	if records == nil {
		records = []map[string]any{}
	}
	return &Table{Columns: cols, Records: records}
}

// ToRecords dehydrates the table into its JSON-safe record list: dates to
// ISO strings, decimals to floats, every cell canonicalized.
func (t *Table) ToRecords() []map[string]any {
	out := make([]map[string]any, len(t.Records))
	for i, rec := range t.Records {
		clean := make(map[string]any, len(rec))
		for k, v := range rec {
			clean[k] = factctx.Normalize(v)
		}
		out[i] = clean
	}
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Records)
}

// Filter returns a new table containing rows the predicate accepts.
func (t *Table) Filter(keep func(rec map[string]any) bool) *Table {
	out := &Table{Columns: t.Columns}
	for _, rec := range t.Records {
		if keep(rec) {
			out.Records = append(out.Records, rec)
		}
	}
	if out.Records == nil {
		out.Records = []map[string]any{}
	}
	return out
}

// Sum totals a numeric column, ignoring cells that are not numbers.
func (t *Table) Sum(column string) float64 {
	var total float64
	for _, rec := range t.Records {
		switch v := rec[column].(type) {
		case float64:
			total += v
		case int64:
			total += float64(v)
		case int:
			total += float64(v)
		}
	}
	return total
}

// GroupSum totals a numeric column per distinct value of a key column.
func (t *Table) GroupSum(keyColumn, valueColumn string) map[string]float64 {
	out := make(map[string]float64)
	for _, rec := range t.Records {
		key, ok := rec[keyColumn].(string)
		if !ok {
			continue
		}
		switch v := rec[valueColumn].(type) {
		case float64:
			out[key] += v
		case int64:
			out[key] += float64(v)
		case int:
			out[key] += float64(v)
		}
	}
	return out
}
