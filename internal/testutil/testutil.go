// Package testutil provides common testing utilities for the join engine:
// allocator setup with leak checks, standard test tables, table assertions
// and a naive nested-loop reference join to check results against.
package testutil

import (
	"fmt"
	"slices"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/partjoin/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	// defaultRowCount is the default number of rows in test tables.
	defaultRowCount = 4
)

// TestMemoryContext provides a checked allocator that must be empty again
// when released.
type TestMemoryContext struct {
	Allocator *memory.CheckedAllocator
	cleanup   func()
}

// Release asserts that every allocation was freed.
func (tmc *TestMemoryContext) Release() {
	if tmc.cleanup != nil {
		tmc.cleanup()
	}
}

// SetupMemoryTest creates a checked allocator for tests.
//
// Example usage:
//
//	mem := testutil.SetupMemoryTest(t)
//	defer mem.Release()
func SetupMemoryTest(tb testing.TB) *TestMemoryContext {
	tb.Helper()
	allocator := memory.NewCheckedAllocator(memory.NewGoAllocator())

	return &TestMemoryContext{
		Allocator: allocator,
		cleanup: func() {
			assert.Zero(tb, allocator.CurrentAlloc(), "arrow memory leaked")
		},
	}
}

// TestTableOption configures test table creation.
type TestTableOption func(*testTableConfig)

type testTableConfig struct {
	includeNulls bool
	rowCount     int
	withActive   bool
}

// WithNulls makes every third department missing.
func WithNulls() TestTableOption {
	return func(cfg *testTableConfig) {
		cfg.includeNulls = true
	}
}

// WithRowCount sets the number of rows in test data.
func WithRowCount(count int) TestTableOption {
	return func(cfg *testTableConfig) {
		cfg.rowCount = count
	}
}

// WithActiveColumn includes an 'active' boolean column.
func WithActiveColumn() TestTableOption {
	return func(cfg *testTableConfig) {
		cfg.withActive = true
	}
}

// EmployeeSchema is the schema of CreateEmployeeTable without options.
func EmployeeSchema() table.Schema {
	return table.Schema{
		{Name: "name", Type: table.KindString},
		{Name: "age", Type: table.KindInt},
		{Name: "department", Type: table.KindString},
		{Name: "salary", Type: table.KindInt},
	}
}

// CreateEmployeeTable creates the standard employee table keyed Row0, Row1, ...
//
// Default table includes:
// - name (string): ["Alice", "Bob", "Charlie", "David"]
// - age (int): [25, 30, 35, 28]
// - department (string): ["Engineering", "Sales", "Engineering", "Marketing"]
// - salary (int): [100000, 80000, 120000, 75000]
func CreateEmployeeTable(tb testing.TB, opts ...TestTableOption) *table.MemTable {
	tb.Helper()
	cfg := &testTableConfig{rowCount: defaultRowCount}
	for _, opt := range opts {
		opt(cfg)
	}

	schema := EmployeeSchema()
	if cfg.withActive {
		schema = append(schema, table.Column{Name: "active", Type: table.KindBool})
	}

	names := generateNames(cfg.rowCount)
	ages := generateAges(cfg.rowCount)
	departments := generateDepartments(cfg.rowCount)
	salaries := generateSalaries(cfg.rowCount)
	active := generateActiveFlags(cfg.rowCount)

	rows := make([]table.Row, cfg.rowCount)
	for i := range rows {
		dept := table.String(departments[i])
		if cfg.includeNulls && i%3 == 2 {
			dept = table.Missing()
		}
		cells := []table.Value{
			table.String(names[i]),
			table.Int(ages[i]),
			dept,
			table.Int(salaries[i]),
		}
		if cfg.withActive {
			cells = append(cells, table.Bool(active[i]))
		}
		rows[i] = table.Row{Key: fmt.Sprintf("Row%d", i), Cells: cells}
	}
	return NewTable(tb, schema, rows...)
}

// CreateDepartmentTable creates a department lookup table keyed D0, D1, ...
// Marketing is absent and Research has no employees.
func CreateDepartmentTable(tb testing.TB) *table.MemTable {
	tb.Helper()
	schema := table.Schema{
		{Name: "department", Type: table.KindString},
		{Name: "floor", Type: table.KindInt},
		{Name: "budget", Type: table.KindFloat},
	}
	return NewTable(tb, schema,
		KeyedRow("D0", table.String("Engineering"), table.Int(3), table.Float(1.5e6)),
		KeyedRow("D1", table.String("Sales"), table.Int(1), table.Float(7.5e5)),
		KeyedRow("D2", table.String("Research"), table.Int(4), table.Float(2e6)),
	)
}

// NewTable builds a MemTable and fails the test on error.
func NewTable(tb testing.TB, schema table.Schema, rows ...table.Row) *table.MemTable {
	tb.Helper()
	t, err := table.NewMemTable(schema, rows)
	require.NoError(tb, err)
	return t
}

// KeyedRow builds a row.
func KeyedRow(key string, cells ...table.Value) table.Row {
	return table.Row{Key: key, Cells: cells}
}

// Rows drains a table and fails the test on error.
func Rows(tb testing.TB, t table.Table) []table.Row {
	tb.Helper()
	rows, err := table.ReadAll(t)
	require.NoError(tb, err)
	return rows
}

// Keys returns the row keys of a table in order.
func Keys(tb testing.TB, t table.Table) []string {
	tb.Helper()
	rows := Rows(tb, t)
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	return keys
}

// AssertRowsEqual compares rows by key and cell value. Cells compare with
// Value.Equal so that missing equals missing.
func AssertRowsEqual(tb testing.TB, expected, actual []table.Row) {
	tb.Helper()
	require.Len(tb, actual, len(expected), "row counts should match")
	for i := range expected {
		assert.Equal(tb, expected[i].Key, actual[i].Key, "row %d key", i)
		require.Len(tb, actual[i].Cells, len(expected[i].Cells), "row %d width", i)
		for c := range expected[i].Cells {
			assert.True(tb, expected[i].Cells[c].Equal(actual[i].Cells[c]),
				"row %d (%s) column %d: expected %s, got %s",
				i, expected[i].Key, c, expected[i].Cells[c], actual[i].Cells[c])
		}
	}
}

// AssertTableEqual compares schema and rows of two tables.
func AssertTableEqual(tb testing.TB, expected, actual table.Table) {
	tb.Helper()
	require.NotNil(tb, expected, "expected table should not be nil")
	require.NotNil(tb, actual, "actual table should not be nil")
	assert.Equal(tb, expected.Schema(), actual.Schema(), "schemas should match")
	AssertRowsEqual(tb, Rows(tb, expected), Rows(tb, actual))
}

// AssertTableHasColumns verifies the column names of a table.
func AssertTableHasColumns(tb testing.TB, t table.Table, expected []string) {
	tb.Helper()
	require.NotNil(tb, t, "table should not be nil")
	assert.Equal(tb, expected, t.Schema().Names())
}

// ReferenceOptions describes a join for ReferenceJoin. Key indexes of -1 read
// the row key.
type ReferenceOptions struct {
	LeftKeys    []int
	RightKeys   []int
	MatchAny    bool
	RetainLeft  bool
	RetainRight bool
	// LeftCols and RightCols select the output columns. nil keeps all.
	LeftCols  []int
	RightCols []int
}

// ReferenceJoin joins two small tables with nested loops. Output rows are
// the matches ordered by left then right row, then the unmatched left rows,
// then the unmatched right rows. Keys are concatenated with "_" and "?"
// stands in for a missing side.
func ReferenceJoin(tb testing.TB, left, right table.Table, opts ReferenceOptions) []table.Row {
	tb.Helper()
	lrows, rrows := Rows(tb, left), Rows(tb, right)
	lcols := opts.LeftCols
	if lcols == nil {
		lcols = allColumns(left.Schema())
	}
	rcols := opts.RightCols
	if rcols == nil {
		rcols = allColumns(right.Schema())
	}

	leftMatched := make([]bool, len(lrows))
	rightMatched := make([]bool, len(rrows))
	var out []table.Row
	for li, l := range lrows {
		for ri, r := range rrows {
			if !referenceMatch(l, r, opts) {
				continue
			}
			leftMatched[li], rightMatched[ri] = true, true
			out = append(out, combine(l.Key+"_"+r.Key, &l, &r, lcols, rcols))
		}
	}
	if opts.RetainLeft {
		for li := range lrows {
			if !leftMatched[li] {
				out = append(out, combine(lrows[li].Key+"_?", &lrows[li], nil, lcols, rcols))
			}
		}
	}
	if opts.RetainRight {
		for ri := range rrows {
			if !rightMatched[ri] {
				out = append(out, combine("?_"+rrows[ri].Key, nil, &rrows[ri], lcols, rcols))
			}
		}
	}
	return out
}

func referenceMatch(l, r table.Row, opts ReferenceOptions) bool {
	for i := range opts.LeftKeys {
		eq := keyValue(l, opts.LeftKeys[i]).Equal(keyValue(r, opts.RightKeys[i]))
		switch {
		case opts.MatchAny && eq:
			return true
		case !opts.MatchAny && !eq:
			return false
		}
	}
	return !opts.MatchAny
}

func keyValue(row table.Row, col int) table.Value {
	if col < 0 {
		return table.String(row.Key)
	}
	return row.Cells[col]
}

func combine(key string, l, r *table.Row, lcols, rcols []int) table.Row {
	cells := make([]table.Value, 0, len(lcols)+len(rcols))
	for _, c := range lcols {
		if l == nil {
			cells = append(cells, table.Missing())
		} else {
			cells = append(cells, l.Cells[c])
		}
	}
	for _, c := range rcols {
		if r == nil {
			cells = append(cells, table.Missing())
		} else {
			cells = append(cells, r.Cells[c])
		}
	}
	return table.Row{Key: key, Cells: cells}
}

func allColumns(s table.Schema) []int {
	cols := make([]int, len(s))
	for i := range cols {
		cols[i] = i
	}
	return cols
}

// SortedKeys returns the keys of rows in ascending order.
func SortedKeys(rows []table.Row) []string {
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	slices.Sort(keys)
	return keys
}

// Helper functions for generating test data

func generateNames(count int) []string {
	baseNames := []string{"Alice", "Bob", "Charlie", "David", "Eve", "Frank", "Grace", "Henry"}
	names := make([]string, count)
	for i := range count {
		names[i] = baseNames[i%len(baseNames)]
	}
	return names
}

func generateAges(count int) []int64 {
	baseAges := []int64{25, 30, 35, 28, 32, 45, 29, 38}
	ages := make([]int64, count)
	for i := range count {
		ages[i] = baseAges[i%len(baseAges)]
	}
	return ages
}

func generateDepartments(count int) []string {
	baseDepts := []string{"Engineering", "Sales", "Engineering", "Marketing", "HR", "Finance", "Engineering", "Sales"}
	departments := make([]string, count)
	for i := range count {
		departments[i] = baseDepts[i%len(baseDepts)]
	}
	return departments
}

func generateSalaries(count int) []int64 {
	baseSalaries := []int64{100000, 80000, 120000, 75000, 90000, 110000, 95000, 85000}
	salaries := make([]int64, count)
	for i := range count {
		salaries[i] = baseSalaries[i%len(baseSalaries)]
	}
	return salaries
}

func generateActiveFlags(count int) []bool {
	baseFlags := []bool{true, true, false, true, true, false, true, false}
	flags := make([]bool, count)
	for i := range count {
		flags[i] = baseFlags[i%len(baseFlags)]
	}
	return flags
}
