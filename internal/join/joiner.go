// Package join implements a partitioned equi-join of two tables that works
// within bounded memory.
//
// The left table is indexed in memory one group of hash partitions at a
// time while the right table is streamed against it. When the memory
// monitor reports pressure, partitions are evicted from the current pass or
// split further and deferred to later passes. Matches and unmatched rows
// are collected as provisional rows, externally sorted and reassembled so
// that the output follows left row order, then right row order.
package join

import (
	"context"
	stderrors "errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/paveg/partjoin/internal/config"
	"github.com/paveg/partjoin/internal/errors"
	"github.com/paveg/partjoin/internal/execution"
	"github.com/paveg/partjoin/internal/extsort"
	"github.com/paveg/partjoin/internal/memory"
	"github.com/paveg/partjoin/internal/monitoring"
	"github.com/paveg/partjoin/internal/table"
)

const cancelCheckInterval = 1024

// Progress is split 0.6 partitioning, 0.2 sorting, 0.2 reassembly.
const (
	partitionPhaseEnd = 0.6
	sortPhaseEnd      = 0.8
)

// TableSorter sorts a table by a row comparator.
type TableSorter interface {
	Sort(ec *execution.Context, t table.Table, cmp extsort.Comparator) (table.Table, error)
}

// Result is the outcome of a join.
type Result struct {
	Table table.Table
	// LeftCorrelation and RightCorrelation are only set when correlation
	// tracking is enabled.
	LeftCorrelation  CorrelationMap
	RightCorrelation CorrelationMap
	Warnings         []string
	Passes           int
	// PartitionBits is log2 of the partition count the join ended with.
	PartitionBits int
}

// Release frees the temporary storage of the result table, if any.
func (r *Result) Release() {
	if r != nil && r.Table != nil {
		table.Release(r.Table)
	}
}

// Joiner executes joins with fixed settings. Calls to Join are serialized.
type Joiner struct {
	mu       sync.Mutex
	settings Settings
	cfg      *config.Config
	monitor  memory.Monitor
	sorter   TableSorter
	buckets  table.ContainerFactory
	output   table.ContainerFactory
	logger   *slog.Logger
	metrics  *monitoring.MetricsCollector
	progress execution.Monitor
}

// Option configures a Joiner
type Option func(*Joiner)

// WithMemoryMonitor sets the monitor consulted before each left row.
func WithMemoryMonitor(m memory.Monitor) Option {
	return func(j *Joiner) {
		j.monitor = m
	}
}

// WithSorter replaces the external sorter.
func WithSorter(s TableSorter) Option {
	return func(j *Joiner) {
		j.sorter = s
	}
}

// WithBucketContainers sets where provisional rows are collected.
func WithBucketContainers(f table.ContainerFactory) Option {
	return func(j *Joiner) {
		j.buckets = f
	}
}

// WithOutputContainers sets where the joined table is written.
func WithOutputContainers(f table.ContainerFactory) Option {
	return func(j *Joiner) {
		j.output = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Joiner) {
		j.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *monitoring.MetricsCollector) Option {
	return func(j *Joiner) {
		j.metrics = m
	}
}

// WithProgressMonitor receives progress and status messages.
func WithProgressMonitor(m execution.Monitor) Option {
	return func(j *Joiner) {
		j.progress = m
	}
}

// WithConfig sets the engine configuration used to build the collaborators
// not given explicitly. Without it the global configuration applies.
func WithConfig(cfg config.Config) Option {
	return func(j *Joiner) {
		j.cfg = &cfg
	}
}

// New creates a Joiner. Settings that do not depend on the input schemas
// are validated here.
func New(settings Settings, opts ...Option) (*Joiner, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	j := &Joiner{settings: settings}
	for _, opt := range opts {
		opt(j)
	}

	cfg := config.GetGlobalConfig()
	if j.cfg != nil {
		cfg = *j.cfg
	}
	cfg = cfg.WithDefaults()

	if j.logger == nil {
		j.logger = slog.Default()
	}
	if j.monitor == nil {
		j.monitor = memory.NewHeapMonitor(cfg.GCPressureThreshold,
			memory.WithMemoryThreshold(cfg.MemoryThreshold),
			memory.WithPollInterval(cfg.MonitorPollInterval))
	}
	if j.sorter == nil {
		j.sorter = extsort.NewSorter(
			extsort.WithSpillDirectory(cfg.SpillDirectory),
			extsort.WithBufferRows(cfg.SortBufferRows),
			extsort.WithMaxOpenFiles(settings.MaxOpenFiles),
			extsort.WithLogger(j.logger))
	}
	if j.buckets == nil {
		j.buckets = extsort.ContainerFactory(cfg.SpillDirectory, nil)
	}
	if j.output == nil {
		if cfg.SpillOutput {
			j.output = extsort.ContainerFactory(cfg.SpillDirectory, nil)
		} else {
			j.output = table.NewMemContainer
		}
	}
	if j.metrics == nil {
		if cfg.MetricsCollection {
			j.metrics = monitoring.NewMetricsCollector(true)
		} else {
			j.metrics = monitoring.GetGlobalCollector()
		}
	}
	return j, nil
}

// Settings returns the join settings.
func (j *Joiner) Settings() Settings { return j.settings }

// Metrics returns the metrics collector in use, which may be nil.
func (j *Joiner) Metrics() *monitoring.MetricsCollector { return j.metrics }

// OutputSchema returns the schema a join of tables with the given schemas
// produces, together with configuration warnings.
func (j *Joiner) OutputSchema(left, right table.Schema) (table.Schema, []string, error) {
	p, err := resolvePlan(j.settings, left, right)
	if err != nil {
		return nil, nil, err
	}
	return p.output, p.warnings, nil
}

// Join joins left and right. The caller releases the result. Intermediate
// storage is released on every exit path.
func (j *Joiner) Join(ctx context.Context, left, right table.Table) (*Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ec := execution.New(ctx, j.progress)
	p, err := resolvePlan(j.settings, left.Schema(), right.Schema())
	if err != nil {
		return nil, err
	}
	res := &Result{Warnings: slices.Clone(p.warnings)}

	if j.settings.DuplicateHandling == Filter && len(p.duplicates) > 0 {
		ws, err := compareDuplicates(ec, left, right, p.duplicates)
		if err != nil {
			return nil, err
		}
		res.Warnings = append(res.Warnings, ws...)
	}
	for _, w := range res.Warnings {
		j.logger.Warn(w)
	}

	tracker := memory.NewTracker()
	defer tracker.ReleaseAll()

	run, err := newJoinRun(j, p, left, right)
	if err != nil {
		return nil, err
	}
	tracker.Track(run.acc)

	ec.SetMessage("partitioning")
	err = j.metrics.RecordRows("partition", func() (int64, error) {
		return run.execute(ec.Sub(0, partitionPhaseEnd))
	})
	if err != nil {
		return nil, err
	}
	res.Passes = run.passes
	res.PartitionBits = run.part.numBits

	buckets, err := run.acc.close()
	if err != nil {
		return nil, err
	}

	ec.SetMessage("sorting")
	sorted, err := j.sortBuckets(ec.Sub(partitionPhaseEnd, sortPhaseEnd), buckets, tracker)
	if err != nil {
		return nil, err
	}

	ec.SetMessage("reassembling")
	out, err := j.output(p.output)
	if err != nil {
		return nil, errors.NewIOError("Join", err)
	}
	tracker.Track(out)

	rs := newReassembler(out, left, p, j.settings.TrackCorrelation)
	mergeCtx := ec.Sub(sortPhaseEnd, 1)
	err = j.metrics.RecordRows("reassemble", func() (int64, error) {
		defer func() {
			if cerr := rs.close(); cerr != nil {
				j.logger.Warn("closing left cursor", "error", cerr)
			}
		}()
		err := j.reassemble(mergeCtx, rs, sorted)
		return rs.rows, err
	})
	if err != nil {
		return nil, err
	}
	if rs.cursor.reopens > 0 {
		j.logger.Debug("left table re-opened during reassembly", "reopens", rs.cursor.reopens)
	}

	t, err := out.Close()
	if err != nil {
		return nil, errors.NewIOError("Join", err)
	}
	tracker.Untrack(out)

	res.Table = t
	res.LeftCorrelation = rs.leftMap
	res.RightCorrelation = rs.rightMap
	ec.SetProgress(1)
	j.logger.Debug("join finished",
		"rows", rs.rows, "passes", run.passes, "partition_bits", run.part.numBits)
	return res, nil
}

// tableHandle lets the tracker release a table.
type tableHandle struct {
	t table.Table
}

func (h tableHandle) Release() { table.Release(h.t) }

func (j *Joiner) sortBuckets(ec *execution.Context, buckets [numBuckets]table.Table, tracker *memory.Tracker) ([numBuckets]table.Table, error) {
	var sorted [numBuckets]table.Table
	var total, done int64
	for _, b := range buckets {
		if b != nil {
			total += max(b.RowCount(), 0)
		}
	}
	frac := func(n int64) float64 {
		if total == 0 {
			return 1
		}
		return float64(n) / float64(total)
	}

	for i, b := range buckets {
		if b == nil {
			continue
		}
		n := max(b.RowCount(), 0)
		sub := ec.Sub(frac(done), frac(done+n))
		var s table.Table
		err := j.metrics.RecordRows("sort", func() (int64, error) {
			var err error
			s, err = j.sorter.Sort(sub, b, compareProvisional)
			return n, err
		})
		if err != nil {
			var je *errors.JoinError
			if !stderrors.As(err, &je) {
				err = errors.NewIOError("Sort", err)
			}
			return sorted, err
		}
		if s != b {
			tracker.Track(tableHandle{t: s})
		}
		sorted[i] = s
		done += n
	}
	return sorted, nil
}

func (j *Joiner) reassemble(ec *execution.Context, rs *reassembler, sorted [numBuckets]table.Table) error {
	var total, done int64
	for _, t := range sorted {
		if t != nil {
			total += max(t.RowCount(), 0)
		}
	}
	for _, t := range sorted {
		if t == nil {
			continue
		}
		n := max(t.RowCount(), 0)
		from, to := 1.0, 1.0
		if total > 0 {
			from, to = float64(done)/float64(total), float64(done+n)/float64(total)
		}
		if err := rs.add(ec.Sub(from, to), t); err != nil {
			return err
		}
		done += n
	}
	return nil
}
