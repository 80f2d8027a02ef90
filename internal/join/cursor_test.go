//nolint:testpackage // requires internal access to unexported types and functions
package join

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/paveg/partjoin/internal/errors"
	"github.com/paveg/partjoin/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedTable(t *testing.T, n int) *table.MemTable {
	t.Helper()
	rows := make([]table.Row, n)
	for i := range rows {
		rows[i] = table.Row{Key: fmt.Sprintf("r%d", i), Cells: []table.Value{table.Int(int64(i))}}
	}
	mt, err := table.NewMemTable(table.Schema{{Name: "n", Type: table.KindInt}}, rows)
	require.NoError(t, err)
	return mt
}

func TestLeftCursor(t *testing.T) {
	c := newLeftCursor(numberedTable(t, 5))
	defer func() { assert.NoError(t, c.close()) }()

	row, err := c.seek(2)
	require.NoError(t, err)
	assert.Equal(t, "r2", row.Key)

	row, err = c.seek(2)
	require.NoError(t, err)
	assert.Equal(t, "r2", row.Key)
	assert.Zero(t, c.reopens)

	row, err = c.seek(4)
	require.NoError(t, err)
	assert.Equal(t, "r4", row.Key)

	row, err = c.seek(0)
	require.NoError(t, err)
	assert.Equal(t, "r0", row.Key)
	assert.Equal(t, 1, c.reopens)

	_, err = c.seek(5)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrIntegrity))

	_, err = c.seek(-1)
	require.Error(t, err)
}

func TestRowKeyFuncs(t *testing.T) {
	t.Run("concatenate", func(t *testing.T) {
		f := newRowKeyFunc(Concatenate, "_")
		assert.Equal(t, "a_b", f("a", "b", true, true))
		assert.Equal(t, "a_?", f("a", "", true, false))
		assert.Equal(t, "?_b", f("", "b", false, true))
	})

	t.Run("custom separator", func(t *testing.T) {
		f := newRowKeyFunc(Concatenate, "+")
		assert.Equal(t, "a+b", f("a", "b", true, true))
	})

	t.Run("reuse", func(t *testing.T) {
		f := newRowKeyFunc(ReuseSingle, "_")
		assert.Equal(t, "a", f("a", "a", true, true))
		assert.Equal(t, "b", f("", "b", false, true))
	})

	t.Run("sequence", func(t *testing.T) {
		f := newRowKeyFunc(Sequence, "_")
		assert.Equal(t, "Row0", f("a", "b", true, true))
		assert.Equal(t, "Row1", f("", "b", false, true))
	})
}

func TestCompareProvisional(t *testing.T) {
	p := provisional{}
	match := table.Row{Cells: []table.Value{table.Int(1), table.Int(2), table.String("x")}}
	rightOnly := p.rightOnly(0, table.Row{Key: "y"})
	leftOnly := p.leftOnly(1)

	assert.Negative(t, compareProvisional(rightOnly, match))
	assert.Negative(t, compareProvisional(leftOnly, match))
	assert.Zero(t, compareProvisional(match, match))
	assert.Positive(t, compareProvisional(match, leftOnly))
}
