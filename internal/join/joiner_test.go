package join_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"testing"

	"github.com/paveg/partjoin/internal/config"
	"github.com/paveg/partjoin/internal/errors"
	"github.com/paveg/partjoin/internal/extsort"
	"github.com/paveg/partjoin/internal/join"
	"github.com/paveg/partjoin/internal/memory"
	"github.com/paveg/partjoin/internal/monitoring"
	"github.com/paveg/partjoin/internal/table"
	"github.com/paveg/partjoin/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settings(mode join.JoinMode, keys ...join.KeyPair) join.Settings {
	s := join.DefaultSettings()
	s.Mode = mode
	s.Keys = keys
	return s
}

func newJoiner(t *testing.T, s join.Settings, opts ...join.Option) *join.Joiner {
	t.Helper()
	opts = append([]join.Option{
		join.WithMemoryMonitor(memory.NeverLow),
		join.WithBucketContainers(table.NewMemContainer),
	}, opts...)
	j, err := join.New(s, opts...)
	require.NoError(t, err)
	return j
}

func runJoin(t *testing.T, j *join.Joiner, left, right table.Table) *join.Result {
	t.Helper()
	res, err := j.Join(context.Background(), left, right)
	require.NoError(t, err)
	t.Cleanup(res.Release)
	return res
}

func TestJoinEmployeesWithDepartments(t *testing.T) {
	employees := testutil.CreateEmployeeTable(t)
	departments := testutil.CreateDepartmentTable(t)

	tests := []struct {
		mode        join.JoinMode
		retainLeft  bool
		retainRight bool
		keys        []string
	}{
		{join.Inner, false, false, []string{"Row0_D0", "Row1_D1", "Row2_D0"}},
		{join.LeftOuter, true, false, []string{"Row0_D0", "Row1_D1", "Row2_D0", "Row3_?"}},
		{join.RightOuter, false, true, []string{"Row0_D0", "Row1_D1", "Row2_D0", "?_D2"}},
		{join.FullOuter, true, true, []string{"Row0_D0", "Row1_D1", "Row2_D0", "Row3_?", "?_D2"}},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			j := newJoiner(t, settings(tt.mode, join.KeyPair{Left: "department", Right: "department"}))
			res := runJoin(t, j, employees, departments)

			testutil.AssertTableHasColumns(t, res.Table, []string{
				"name", "age", "department", "salary", "department (#1)", "floor", "budget",
			})
			assert.Equal(t, tt.keys, testutil.Keys(t, res.Table))

			expected := testutil.ReferenceJoin(t, employees, departments, testutil.ReferenceOptions{
				LeftKeys: []int{2}, RightKeys: []int{0},
				RetainLeft: tt.retainLeft, RetainRight: tt.retainRight,
			})
			testutil.AssertRowsEqual(t, expected, testutil.Rows(t, res.Table))
			assert.Empty(t, res.Warnings)
			assert.Nil(t, res.LeftCorrelation)
		})
	}
}

func TestJoinFullOuterScenario(t *testing.T) {
	schema := table.Schema{{Name: "k", Type: table.KindInt}, {Name: "v", Type: table.KindString}}
	rschema := table.Schema{{Name: "k", Type: table.KindInt}, {Name: "w", Type: table.KindString}}
	left := testutil.NewTable(t, schema,
		testutil.KeyedRow("A", table.Int(1), table.String("a")),
		testutil.KeyedRow("B", table.Int(2), table.String("b")),
		testutil.KeyedRow("C", table.Int(2), table.String("c")),
	)
	right := testutil.NewTable(t, rschema,
		testutil.KeyedRow("X", table.Int(2), table.String("x")),
		testutil.KeyedRow("Y", table.Int(3), table.String("y")),
	)

	s := settings(join.FullOuter, join.KeyPair{Left: "k", Right: "k"})
	s.RemoveRightKeys = true
	res := runJoin(t, newJoiner(t, s), left, right)

	expected := []table.Row{
		testutil.KeyedRow("B_X", table.Int(2), table.String("b"), table.String("x")),
		testutil.KeyedRow("C_X", table.Int(2), table.String("c"), table.String("x")),
		testutil.KeyedRow("A_?", table.Int(1), table.String("a"), table.Missing()),
		testutil.KeyedRow("?_Y", table.Missing(), table.Missing(), table.String("y")),
	}
	testutil.AssertRowsEqual(t, expected, testutil.Rows(t, res.Table))
}

func TestJoinMatchAnyCollapsesDuplicatePairs(t *testing.T) {
	schema := table.Schema{{Name: "a", Type: table.KindInt}, {Name: "b", Type: table.KindInt}}
	left := testutil.NewTable(t, schema,
		testutil.KeyedRow("L0", table.Int(1), table.Int(1)),
		testutil.KeyedRow("L1", table.Int(5), table.Int(6)),
	)
	right := testutil.NewTable(t, schema,
		testutil.KeyedRow("R0", table.Int(1), table.Int(1)),
		testutil.KeyedRow("R1", table.Int(9), table.Int(6)),
		testutil.KeyedRow("R2", table.Int(7), table.Int(7)),
	)

	s := settings(join.FullOuter,
		join.KeyPair{Left: "a", Right: "a"},
		join.KeyPair{Left: "b", Right: "b"})
	s.Composition = join.MatchAny
	s.DuplicateHandling = join.Filter

	res := runJoin(t, newJoiner(t, s), left, right)
	assert.Equal(t, []string{"L0_R0", "L1_R1", "?_R2"}, testutil.Keys(t, res.Table))
	// a differs in the second row and the right table is longer
	assert.Len(t, res.Warnings, 2)
}

func TestJoinMissingAndNumericKeys(t *testing.T) {
	ls := table.Schema{{Name: "k", Type: table.KindInt}}
	rs := table.Schema{{Name: "k", Type: table.KindFloat}}
	left := testutil.NewTable(t, ls,
		testutil.KeyedRow("L0", table.Int(3)),
		testutil.KeyedRow("L1", table.Missing()),
		testutil.KeyedRow("L2", table.Int(4)),
	)
	right := testutil.NewTable(t, rs,
		testutil.KeyedRow("R0", table.Missing()),
		testutil.KeyedRow("R1", table.Float(3.0)),
		testutil.KeyedRow("R2", table.Float(4.5)),
	)

	s := settings(join.Inner, join.KeyPair{Left: "k", Right: "k"})
	s.RemoveRightKeys = true
	res := runJoin(t, newJoiner(t, s), left, right)
	assert.Equal(t, []string{"L0_R1", "L1_R0"}, testutil.Keys(t, res.Table))
}

func TestJoinRowKeys(t *testing.T) {
	employees := testutil.CreateEmployeeTable(t)
	departments := testutil.CreateDepartmentTable(t)
	pair := join.KeyPair{Left: "department", Right: "department"}

	t.Run("sequence", func(t *testing.T) {
		s := settings(join.FullOuter, pair)
		s.RowKeyPolicy = join.Sequence
		res := runJoin(t, newJoiner(t, s), employees, departments)
		assert.Equal(t, []string{"Row0", "Row1", "Row2", "Row3", "Row4"}, testutil.Keys(t, res.Table))
	})

	t.Run("separator", func(t *testing.T) {
		s := settings(join.Inner, pair)
		s.RowKeySeparator = "|"
		res := runJoin(t, newJoiner(t, s), employees, departments)
		assert.Equal(t, []string{"Row0|D0", "Row1|D1", "Row2|D0"}, testutil.Keys(t, res.Table))
	})

	t.Run("joining on row keys reuses them", func(t *testing.T) {
		schema := table.Schema{{Name: "v", Type: table.KindInt}}
		left := testutil.NewTable(t, schema,
			testutil.KeyedRow("a", table.Int(1)),
			testutil.KeyedRow("b", table.Int(2)),
		)
		right := testutil.NewTable(t, table.Schema{{Name: "w", Type: table.KindInt}},
			testutil.KeyedRow("b", table.Int(20)),
			testutil.KeyedRow("c", table.Int(30)),
		)
		s := settings(join.FullOuter, join.KeyPair{Left: join.RowKeyColumn, Right: join.RowKeyColumn})
		res := runJoin(t, newJoiner(t, s), left, right)

		expected := []table.Row{
			testutil.KeyedRow("b", table.Int(2), table.Int(20)),
			testutil.KeyedRow("a", table.Int(1), table.Missing()),
			testutil.KeyedRow("c", table.Missing(), table.Int(30)),
		}
		testutil.AssertRowsEqual(t, expected, testutil.Rows(t, res.Table))
	})
}

// correlated flattens a correlation map for comparison.
func correlated(m join.CorrelationMap) map[string][]string {
	out := make(map[string][]string, len(m))
	for k := range m {
		out[k] = m.Keys(k)
	}
	return out
}

func TestJoinCorrelation(t *testing.T) {
	s := settings(join.FullOuter, join.KeyPair{Left: "department", Right: "department"})
	s.TrackCorrelation = true
	res := runJoin(t, newJoiner(t, s), testutil.CreateEmployeeTable(t), testutil.CreateDepartmentTable(t))

	assert.Equal(t, map[string][]string{
		"Row0": {"Row0_D0"},
		"Row1": {"Row1_D1"},
		"Row2": {"Row2_D0"},
		"Row3": {"Row3_?"},
	}, correlated(res.LeftCorrelation))
	assert.Equal(t, map[string][]string{
		"D0": {"Row0_D0", "Row2_D0"},
		"D1": {"Row1_D1"},
		"D2": {"?_D2"},
	}, correlated(res.RightCorrelation))
}

func TestJoinCorrelationWithCollidingKeys(t *testing.T) {
	schema := table.Schema{{Name: "v", Type: table.KindInt}}
	left := testutil.NewTable(t, schema,
		testutil.KeyedRow("a_b", table.Int(1)),
		testutil.KeyedRow("a", table.Int(1)),
		testutil.KeyedRow("a", table.Int(2)),
		testutil.KeyedRow("a", table.Int(2)))
	right := testutil.NewTable(t, schema,
		testutil.KeyedRow("c", table.Int(1)),
		testutil.KeyedRow("b_c", table.Int(1)),
		testutil.KeyedRow("d", table.Int(2)))

	s := settings(join.Inner, join.KeyPair{Left: "v", Right: "v"})
	s.TrackCorrelation = true
	res := runJoin(t, newJoiner(t, s), left, right)

	assert.Equal(t, []string{"a_b_b_c", "a_b_c", "a_b_c", "a_c", "a_d", "a_d"}, testutil.SortedKeys(testutil.Rows(t, res.Table)))
	assert.Equal(t, map[string][]string{
		"a_b": {"a_b_b_c", "a_b_c"},
		"a":   {"a_b_c", "a_c", "a_d"},
	}, correlated(res.LeftCorrelation))
	assert.Equal(t, map[string][]string{
		"c":   {"a_b_c", "a_c"},
		"b_c": {"a_b_b_c", "a_b_c"},
		"d":   {"a_d"},
	}, correlated(res.RightCorrelation))
}

func TestJoinDuplicateColumns(t *testing.T) {
	schema := table.Schema{{Name: "k", Type: table.KindInt}, {Name: "v", Type: table.KindString}}
	left := testutil.NewTable(t, schema,
		testutil.KeyedRow("L0", table.Int(1), table.String("a")),
		testutil.KeyedRow("L1", table.Int(2), table.String("b")),
	)
	same := testutil.NewTable(t, schema,
		testutil.KeyedRow("R0", table.Int(1), table.String("a")),
		testutil.KeyedRow("R1", table.Int(2), table.String("b")),
	)
	different := testutil.NewTable(t, schema,
		testutil.KeyedRow("R0", table.Int(1), table.String("a")),
		testutil.KeyedRow("R1", table.Int(2), table.String("z")),
		testutil.KeyedRow("R2", table.Int(3), table.String("c")),
	)
	pair := join.KeyPair{Left: "k", Right: "k"}

	t.Run("filter with equal content", func(t *testing.T) {
		s := settings(join.Inner, pair)
		s.DuplicateHandling = join.Filter
		res := runJoin(t, newJoiner(t, s), left, same)
		testutil.AssertTableHasColumns(t, res.Table, []string{"k", "v"})
		assert.Empty(t, res.Warnings)
	})

	t.Run("filter with differing content", func(t *testing.T) {
		s := settings(join.Inner, pair)
		s.DuplicateHandling = join.Filter
		res := runJoin(t, newJoiner(t, s), left, different)
		testutil.AssertTableHasColumns(t, res.Table, []string{"k", "v"})
		require.Len(t, res.Warnings, 2)
		assert.Contains(t, res.Warnings[0], `column "v"`)
		assert.Contains(t, res.Warnings[1], "right table has more rows")
	})

	t.Run("append suffix", func(t *testing.T) {
		s := settings(join.Inner, pair)
		s.Suffix = "_right"
		res := runJoin(t, newJoiner(t, s), left, same)
		testutil.AssertTableHasColumns(t, res.Table, []string{"k", "v", "k_right", "v_right"})
	})

	t.Run("dont execute", func(t *testing.T) {
		s := settings(join.Inner, pair)
		s.DuplicateHandling = join.DontExecute
		_, err := newJoiner(t, s).Join(context.Background(), left, same)
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, errors.ErrConfiguration))
	})
}

func TestJoinEmptyInputs(t *testing.T) {
	employees := testutil.CreateEmployeeTable(t)
	empty := testutil.NewTable(t, testutil.CreateDepartmentTable(t).Schema())
	pair := join.KeyPair{Left: "department", Right: "department"}

	res := runJoin(t, newJoiner(t, settings(join.LeftOuter, pair)), employees, empty)
	assert.Equal(t, []string{"Row0_?", "Row1_?", "Row2_?", "Row3_?"}, testutil.Keys(t, res.Table))

	res = runJoin(t, newJoiner(t, settings(join.Inner, pair)), employees, empty)
	assert.Zero(t, res.Table.RowCount())
}

func TestJoinCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j := newJoiner(t, settings(join.Inner, join.KeyPair{Left: "department", Right: "department"}))
	_, err := j.Join(ctx, testutil.CreateEmployeeTable(t), testutil.CreateDepartmentTable(t))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrCanceled))
	assert.True(t, stderrors.Is(err, context.Canceled))
}

// shrinkingTable returns all rows on the first pass only.
type shrinkingTable struct {
	*table.MemTable
	mu     sync.Mutex
	opened int
}

func (s *shrinkingTable) Iterator() (table.RowIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	if s.opened == 1 {
		return s.MemTable.Iterator()
	}
	short, err := table.NewMemTable(s.Schema(), s.Rows()[:1])
	if err != nil {
		return nil, err
	}
	return short.Iterator()
}

func TestJoinDetectsShrinkingLeftTable(t *testing.T) {
	left := &shrinkingTable{MemTable: testutil.CreateEmployeeTable(t)}
	j := newJoiner(t, settings(join.Inner, join.KeyPair{Left: "department", Right: "department"}))

	_, err := j.Join(context.Background(), left, testutil.CreateDepartmentTable(t))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrIntegrity))
}

type recordingMonitor struct {
	mu       sync.Mutex
	progress []float64
	messages []string
}

func (m *recordingMonitor) SetProgress(f float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, f)
}

func (m *recordingMonitor) SetMessage(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, s)
}

func TestJoinReportsProgressAndMetrics(t *testing.T) {
	mon := &recordingMonitor{}
	metrics := monitoring.NewMetricsCollector(true)
	j := newJoiner(t, settings(join.FullOuter, join.KeyPair{Left: "department", Right: "department"}),
		join.WithProgressMonitor(mon), join.WithMetrics(metrics))

	res := runJoin(t, j, testutil.CreateEmployeeTable(t, testutil.WithRowCount(50)), testutil.CreateDepartmentTable(t))
	assert.Equal(t, 1, res.Passes)

	require.NotEmpty(t, mon.progress)
	for i := 1; i < len(mon.progress); i++ {
		assert.GreaterOrEqual(t, mon.progress[i], mon.progress[i-1])
	}
	assert.InDelta(t, 1.0, mon.progress[len(mon.progress)-1], 1e-9)
	assert.Equal(t, []string{"partitioning", "sorting", "reassembling"}, mon.messages)

	summary := metrics.GetSummary()
	assert.Equal(t, 1, summary.OperationCounts["partition"])
	assert.Equal(t, 1, summary.OperationCounts["reassemble"])
	assert.Equal(t, 3, summary.OperationCounts["sort"])
	assert.Equal(t, int64(1), metrics.Counter("passes"))
}

func TestJoinReportsToGlobalCollector(t *testing.T) {
	original := monitoring.SetGlobalCollector(nil)
	defer monitoring.SetGlobalCollector(original)
	global := monitoring.EnableGlobalMonitoring()

	j := newJoiner(t, settings(join.Inner, join.KeyPair{Left: "department", Right: "department"}))
	assert.Same(t, global, j.Metrics())

	runJoin(t, j, testutil.CreateEmployeeTable(t), testutil.CreateDepartmentTable(t))
	assert.Equal(t, 1, monitoring.GlobalSummary().OperationCounts["partition"])
}

func TestJoinReleasesSpillFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.SpillDirectory = dir
	cfg.SortBufferRows = 8
	cfg.MaxOpenFiles = 3

	s := settings(join.FullOuter, join.KeyPair{Left: "department", Right: "department"})
	s.MaxOpenFiles = 3
	j, err := join.New(s, join.WithConfig(cfg), join.WithMemoryMonitor(memory.NeverLow))
	require.NoError(t, err)

	employees := testutil.CreateEmployeeTable(t, testutil.WithRowCount(64))
	departments := testutil.CreateDepartmentTable(t)
	res, err := j.Join(context.Background(), employees, departments)
	require.NoError(t, err)
	defer res.Release()

	expected := testutil.ReferenceJoin(t, employees, departments, testutil.ReferenceOptions{
		LeftKeys: []int{2}, RightKeys: []int{0}, RetainLeft: true, RetainRight: true,
	})
	testutil.AssertRowsEqual(t, expected, testutil.Rows(t, res.Table))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "intermediate files should be removed")
}

func TestJoinSpilledOutput(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewConfig()
	cfg.SpillDirectory = dir
	cfg.SpillOutput = true

	j, err := join.New(settings(join.Inner, join.KeyPair{Left: "department", Right: "department"}),
		join.WithConfig(cfg), join.WithMemoryMonitor(memory.NeverLow))
	require.NoError(t, err)

	res, err := j.Join(context.Background(), testutil.CreateEmployeeTable(t), testutil.CreateDepartmentTable(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"Row0_D0", "Row1_D1", "Row2_D0"}, testutil.Keys(t, res.Table))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	res.Release()
	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJoinOutputSchema(t *testing.T) {
	j := newJoiner(t, settings(join.Inner, join.KeyPair{Left: "department", Right: "department"}))
	schema, warnings, err := j.OutputSchema(testutil.EmployeeSchema(), testutil.CreateDepartmentTable(t).Schema())
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, []string{"name", "age", "department", "salary", "department (#1)", "floor", "budget"}, schema.Names())
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	_, err := join.New(join.DefaultSettings())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrConfiguration))
}

// randomTables builds tables with two small-domain integer keys, some of
// them missing, so that joins produce duplicates on both sides.
func randomTables(t *testing.T, seed int64, nLeft, nRight int) (*table.MemTable, *table.MemTable) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // test data
	schema := table.Schema{
		{Name: "a", Type: table.KindInt},
		{Name: "b", Type: table.KindInt},
		{Name: "payload", Type: table.KindString},
	}
	gen := func(prefix string, n int) *table.MemTable {
		rows := make([]table.Row, n)
		for i := range rows {
			cell := func(domain int) table.Value {
				if rng.Intn(20) == 0 {
					return table.Missing()
				}
				return table.Int(int64(rng.Intn(domain)))
			}
			rows[i] = testutil.KeyedRow(fmt.Sprintf("%s%d", prefix, i),
				cell(40), cell(5), table.String(fmt.Sprintf("%s-%d", prefix, i)))
		}
		return testutil.NewTable(t, schema, rows...)
	}
	return gen("L", nLeft), gen("R", nRight)
}

// everyNth reports low memory on every n-th call.
func everyNth(n int) memory.Monitor {
	var calls int
	return memory.MonitorFunc(func() bool {
		calls++
		return calls%n == 0
	})
}

func TestJoinMatchesReference(t *testing.T) {
	left, right := randomTables(t, 7, 300, 200)

	monitors := []struct {
		name    string
		monitor func() memory.Monitor
		bits    [2]int
		// grows is set when the join must end at the partition ceiling.
		grows bool
	}{
		{"never low", func() memory.Monitor { return memory.NeverLow }, [2]int{6, 32}, false},
		{"single partition", func() memory.Monitor { return memory.NeverLow }, [2]int{0, 0}, true},
		{"periodic pressure", func() memory.Monitor { return everyNth(37) }, [2]int{2, 6}, false},
		{"pressure after warmup", func() memory.Monitor { return memory.NewLowAfter(120) }, [2]int{1, 4}, false},
		{"always low", func() memory.Monitor { return memory.AlwaysLow }, [2]int{1, 3}, true},
	}
	modes := []join.JoinMode{join.Inner, join.LeftOuter, join.RightOuter, join.FullOuter}
	compositions := []join.CompositionMode{join.MatchAll, join.MatchAny}

	for _, m := range monitors {
		for _, mode := range modes {
			for _, comp := range compositions {
				name := fmt.Sprintf("%s/%s/%s", m.name, mode, comp)
				t.Run(name, func(t *testing.T) {
					s := settings(mode,
						join.KeyPair{Left: "a", Right: "a"},
						join.KeyPair{Left: "b", Right: "b"})
					s.Composition = comp
					s.InitialPartitionBits, s.MaxPartitionBits = m.bits[0], m.bits[1]

					sorter := extsort.NewSorter(extsort.WithBufferRows(64), extsort.WithMaxOpenFiles(3),
						extsort.WithSpillDirectory(t.TempDir()))
					j := newJoiner(t, s, join.WithMemoryMonitor(m.monitor()), join.WithSorter(sorter))
					res := runJoin(t, j, left, right)

					expected := testutil.ReferenceJoin(t, left, right, testutil.ReferenceOptions{
						LeftKeys:    []int{0, 1},
						RightKeys:   []int{0, 1},
						MatchAny:    comp == join.MatchAny,
						RetainLeft:  mode.RetainLeft(),
						RetainRight: mode.RetainRight(),
					})
					testutil.AssertRowsEqual(t, expected, testutil.Rows(t, res.Table))
					if m.grows {
						assert.Equal(t, m.bits[1], res.PartitionBits)
					}
				})
			}
		}
	}
}

func TestJoinAlwaysLowGrowsToDefaultCeiling(t *testing.T) {
	left, right := randomTables(t, 13, 300, 200)

	for _, comp := range []join.CompositionMode{join.MatchAll, join.MatchAny} {
		t.Run(comp.String(), func(t *testing.T) {
			s := settings(join.FullOuter,
				join.KeyPair{Left: "a", Right: "a"},
				join.KeyPair{Left: "b", Right: "b"})
			s.Composition = comp
			require.Equal(t, config.DefaultMaxPartitionBits, s.MaxPartitionBits)

			j := newJoiner(t, s, join.WithMemoryMonitor(memory.AlwaysLow))
			res := runJoin(t, j, left, right)

			assert.Equal(t, config.DefaultMaxPartitionBits, res.PartitionBits)
			assert.Greater(t, res.Passes, 1)
			expected := testutil.ReferenceJoin(t, left, right, testutil.ReferenceOptions{
				LeftKeys:    []int{0, 1},
				RightKeys:   []int{0, 1},
				MatchAny:    comp == join.MatchAny,
				RetainLeft:  true,
				RetainRight: true,
			})
			testutil.AssertRowsEqual(t, expected, testutil.Rows(t, res.Table))
		})
	}
}

func TestJoinPartitionCountDoesNotChangeResult(t *testing.T) {
	left, right := randomTables(t, 11, 150, 150)
	s := settings(join.FullOuter, join.KeyPair{Left: "a", Right: "a"})

	var previous []table.Row
	for _, bits := range []int{0, 1, 4, 8} {
		s.InitialPartitionBits = bits
		res := runJoin(t, newJoiner(t, s), left, right)
		rows := testutil.Rows(t, res.Table)
		if previous != nil {
			testutil.AssertRowsEqual(t, previous, rows)
		}
		previous = rows
	}
}

func TestJoinFileBackedBuckets(t *testing.T) {
	left, right := randomTables(t, 3, 120, 90)
	dir := t.TempDir()

	s := settings(join.FullOuter, join.KeyPair{Left: "a", Right: "a"}, join.KeyPair{Left: "b", Right: "b"})
	s.Composition = join.MatchAny
	j, err := join.New(s,
		join.WithMemoryMonitor(everyNth(11)),
		join.WithBucketContainers(extsort.ContainerFactory(dir, nil)),
		join.WithSorter(extsort.NewSorter(extsort.WithBufferRows(32), extsort.WithSpillDirectory(dir))))
	require.NoError(t, err)

	res := runJoin(t, j, left, right)
	expected := testutil.ReferenceJoin(t, left, right, testutil.ReferenceOptions{
		LeftKeys: []int{0, 1}, RightKeys: []int{0, 1},
		MatchAny: true, RetainLeft: true, RetainRight: true,
	})
	testutil.AssertRowsEqual(t, expected, testutil.Rows(t, res.Table))
	assert.Greater(t, res.Passes, 1)
}
