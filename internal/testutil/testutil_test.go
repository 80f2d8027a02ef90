package testutil_test

import (
	"testing"

	"github.com/paveg/partjoin/internal/table"
	"github.com/paveg/partjoin/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupMemoryTest(t *testing.T) {
	mem := testutil.SetupMemoryTest(t)
	defer mem.Release()

	require.NotNil(t, mem.Allocator)
	buf := mem.Allocator.Allocate(64)
	mem.Allocator.Free(buf)
}

func TestCreateEmployeeTable(t *testing.T) {
	t.Run("default configuration", func(t *testing.T) {
		tbl := testutil.CreateEmployeeTable(t)
		assert.Equal(t, int64(4), tbl.RowCount())
		testutil.AssertTableHasColumns(t, tbl, []string{"name", "age", "department", "salary"})
		assert.Equal(t, []string{"Row0", "Row1", "Row2", "Row3"}, testutil.Keys(t, tbl))
	})

	t.Run("with active column", func(t *testing.T) {
		tbl := testutil.CreateEmployeeTable(t, testutil.WithActiveColumn())
		assert.True(t, tbl.Schema().Has("active"))
	})

	t.Run("with nulls and custom row count", func(t *testing.T) {
		tbl := testutil.CreateEmployeeTable(t, testutil.WithNulls(), testutil.WithRowCount(6))
		rows := testutil.Rows(t, tbl)
		require.Len(t, rows, 6)
		assert.True(t, rows[2].Cells[2].IsMissing())
		assert.True(t, rows[5].Cells[2].IsMissing())
		assert.False(t, rows[0].Cells[2].IsMissing())
	})
}

func TestAssertTableEqual(t *testing.T) {
	a := testutil.CreateEmployeeTable(t, testutil.WithNulls())
	b := testutil.CreateEmployeeTable(t, testutil.WithNulls())
	testutil.AssertTableEqual(t, a, b)
}

func TestReferenceJoin(t *testing.T) {
	employees := testutil.CreateEmployeeTable(t)
	departments := testutil.CreateDepartmentTable(t)

	opts := testutil.ReferenceOptions{
		LeftKeys:    []int{2},
		RightKeys:   []int{0},
		RetainLeft:  true,
		RetainRight: true,
		LeftCols:    []int{0},
		RightCols:   []int{1},
	}
	rows := testutil.ReferenceJoin(t, employees, departments, opts)

	expected := []table.Row{
		testutil.KeyedRow("Row0_D0", table.String("Alice"), table.Int(3)),
		testutil.KeyedRow("Row1_D1", table.String("Bob"), table.Int(1)),
		testutil.KeyedRow("Row2_D0", table.String("Charlie"), table.Int(3)),
		testutil.KeyedRow("Row3_?", table.String("David"), table.Missing()),
		testutil.KeyedRow("?_D2", table.Missing(), table.Int(4)),
	}
	testutil.AssertRowsEqual(t, expected, rows)
}

func TestReferenceJoinMatchAny(t *testing.T) {
	schema := table.Schema{{Name: "a", Type: table.KindInt}, {Name: "b", Type: table.KindInt}}
	left := testutil.NewTable(t, schema,
		testutil.KeyedRow("L0", table.Int(1), table.Int(9)),
		testutil.KeyedRow("L1", table.Int(2), table.Int(2)),
	)
	right := testutil.NewTable(t, schema,
		testutil.KeyedRow("R0", table.Int(7), table.Int(9)),
		testutil.KeyedRow("R1", table.Int(2), table.Int(2)),
	)

	rows := testutil.ReferenceJoin(t, left, right, testutil.ReferenceOptions{
		LeftKeys:  []int{0, 1},
		RightKeys: []int{0, 1},
		MatchAny:  true,
	})
	assert.Equal(t, []string{"L0_R0", "L1_R1"}, testutil.SortedKeys(rows))
}

func BenchmarkCreateEmployeeTable(b *testing.B) {
	for range b.N {
		_ = testutil.CreateEmployeeTable(b, testutil.WithRowCount(100))
	}
}
