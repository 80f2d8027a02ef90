package extsort

import (
	"context"
	"math/rand"
	"os"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/partjoin/internal/errors"
	"github.com/paveg/partjoin/internal/execution"
	"github.com/paveg/partjoin/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sortSchema = table.Schema{
	{Name: "k", Type: table.KindInt},
	{Name: "seq", Type: table.KindInt},
	{Name: "s", Type: table.KindString},
}

func byK(a, b table.Row) int {
	return a.Cells[0].Compare(b.Cells[0])
}

func randomTable(t *testing.T, n int, keys int64) *table.MemTable {
	t.Helper()
	r := rand.New(rand.NewSource(42))
	rows := make([]table.Row, n)
	for i := range rows {
		s := table.String("v")
		if i%7 == 0 {
			s = table.Missing()
		}
		rows[i] = table.Row{
			Key:   "Row" + table.Int(int64(i)).String(),
			Cells: []table.Value{table.Int(r.Int63n(keys)), table.Int(int64(i)), s},
		}
	}
	tbl, err := table.NewMemTable(sortSchema, rows)
	require.NoError(t, err)
	return tbl
}

func assertSortedStable(t *testing.T, rows []table.Row) {
	t.Helper()
	for i := 1; i < len(rows); i++ {
		c := byK(rows[i-1], rows[i])
		require.LessOrEqual(t, c, 0, "row %d out of order", i)
		if c == 0 {
			prev, _ := rows[i-1].Cells[1].AsInt()
			cur, _ := rows[i].Cells[1].AsInt()
			require.Less(t, prev, cur, "equal keys must keep input order")
		}
	}
}

func spillFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestSorter_InMemory(t *testing.T) {
	dir := t.TempDir()
	input := randomTable(t, 200, 20)

	s := NewSorter(WithSpillDirectory(dir), WithBufferRows(1000))
	sorted, err := s.Sort(execution.Background(), input, byK)
	require.NoError(t, err)
	defer table.Release(sorted)

	_, inMemory := sorted.(*table.MemTable)
	assert.True(t, inMemory)
	assert.Equal(t, 0, spillFiles(t, dir))

	rows, err := table.ReadAll(sorted)
	require.NoError(t, err)
	assert.Len(t, rows, 200)
	assertSortedStable(t, rows)
}

func TestSorter_Spill(t *testing.T) {
	tests := []struct {
		name         string
		rows         int
		bufferRows   int
		maxOpenFiles int
	}{
		{"single merge", 1000, 100, 64},
		{"multi pass merge", 1000, 50, 3},
		{"exact multiple of buffer", 400, 100, 4},
		{"one run", 150, 100, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
			input := randomTable(t, tt.rows, 30)

			s := NewSorter(
				WithSpillDirectory(dir),
				WithBufferRows(tt.bufferRows),
				WithMaxOpenFiles(tt.maxOpenFiles),
				WithAllocator(mem),
			)
			sorted, err := s.Sort(execution.Background(), input, byK)
			require.NoError(t, err)
			assert.Equal(t, int64(tt.rows), sorted.RowCount())
			assert.LessOrEqual(t, spillFiles(t, dir), tt.maxOpenFiles-1)

			// restartable
			for pass := 0; pass < 2; pass++ {
				rows, err := table.ReadAll(sorted)
				require.NoError(t, err)
				require.Len(t, rows, tt.rows)
				assertSortedStable(t, rows)
				for _, r := range rows {
					seq, _ := r.Cells[1].AsInt()
					orig := input.Rows()[seq]
					assert.Equal(t, orig.Key, r.Key)
					assert.Equal(t, orig.Cells[2], r.Cells[2])
				}
			}

			table.Release(sorted)
			assert.Equal(t, 0, spillFiles(t, dir), "release removes spill files")
			mem.AssertSize(t, 0)
		})
	}
}

func TestSorter_Canceled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewSorter(WithSpillDirectory(dir), WithBufferRows(10))
	_, err := s.Sort(execution.New(ctx, nil), randomTable(t, 100, 5), byK)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCanceled)
	assert.Equal(t, 0, spillFiles(t, dir))
}

func TestSorter_Empty(t *testing.T) {
	empty, err := table.NewMemTable(sortSchema, nil)
	require.NoError(t, err)

	sorted, err := NewSorter().Sort(execution.Background(), empty, byK)
	require.NoError(t, err)
	rows, err := table.ReadAll(sorted)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFileContainer(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileContainer(dir, sortSchema, nil)
	require.NoError(t, err)
	c.batchRows = 3

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Add(table.Row{
			Key:   "r" + table.Int(int64(i)).String(),
			Cells: []table.Value{table.Int(int64(i)), table.Missing(), table.String("x")},
		}))
	}
	tbl, err := c.Close()
	require.NoError(t, err)
	assert.Equal(t, int64(10), tbl.RowCount())
	assert.FileExists(t, tbl.(*FileTable).Path())

	rows, err := table.ReadAll(tbl)
	require.NoError(t, err)
	require.Len(t, rows, 10)
	assert.Equal(t, "r9", rows[9].Key)
	assert.True(t, rows[9].Cells[1].IsMissing())

	assert.Error(t, c.Add(rows[0]))
	c.Release()
	assert.Equal(t, 0, spillFiles(t, dir))
}

func TestFileContainer_ReleaseBeforeClose(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileContainer(dir, sortSchema, nil)
	require.NoError(t, err)
	require.NoError(t, c.Add(table.Row{Key: "a", Cells: []table.Value{table.Int(1), table.Int(1), table.String("s")}}))

	c.Release()
	assert.Equal(t, 0, spillFiles(t, dir))
}

func TestContainerFactory_Empty(t *testing.T) {
	dir := t.TempDir()
	c, err := ContainerFactory(dir, nil)(sortSchema)
	require.NoError(t, err)

	tbl, err := c.Close()
	require.NoError(t, err)
	rows, err := table.ReadAll(tbl)
	require.NoError(t, err)
	assert.Empty(t, rows)
	table.Release(tbl)
	assert.Equal(t, 0, spillFiles(t, dir))
}
