package extsort

import (
	"log/slog"
	"slices"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/partjoin/internal/errors"
	"github.com/paveg/partjoin/internal/execution"
	"github.com/paveg/partjoin/internal/table"
)

const (
	defaultBufferRows   = 100000
	defaultMaxOpenFiles = 64
	minMaxOpenFiles     = 3
	cancelCheckInterval = 1024
)

// Comparator orders two rows.
type Comparator func(a, b table.Row) int

// Sorter is a stable external merge sort.
type Sorter struct {
	dir          string
	bufferRows   int
	maxOpenFiles int
	mem          memory.Allocator
	logger       *slog.Logger
}

// Option configures a Sorter
type Option func(*Sorter)

// WithSpillDirectory sets where run files are created.
func WithSpillDirectory(dir string) Option {
	return func(s *Sorter) {
		s.dir = dir
	}
}

// WithBufferRows sets how many rows are sorted in memory per run.
func WithBufferRows(rows int) Option {
	return func(s *Sorter) {
		if rows > 0 {
			s.bufferRows = rows
		}
	}
}

// WithMaxOpenFiles bounds the number of files open during a merge.
func WithMaxOpenFiles(n int) Option {
	return func(s *Sorter) {
		if n >= minMaxOpenFiles {
			s.maxOpenFiles = n
		}
	}
}

// WithAllocator sets the Arrow allocator used for spill batches.
func WithAllocator(mem memory.Allocator) Option {
	return func(s *Sorter) {
		s.mem = mem
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sorter) {
		s.logger = logger
	}
}

// NewSorter creates a sorter with the given options
func NewSorter(opts ...Option) *Sorter {
	s := &Sorter{
		bufferRows:   defaultBufferRows,
		maxOpenFiles: defaultMaxOpenFiles,
		mem:          memory.DefaultAllocator,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sort returns a new table with the rows of t ordered by cmp. Rows that
// compare equal keep their input order. Inputs that fit into one buffer are
// sorted in memory; otherwise sorted runs are spilled and merged. The
// caller releases the returned table with table.Release.
func (s *Sorter) Sort(ec *execution.Context, t table.Table, cmp Comparator) (table.Table, error) {
	schema := t.Schema()
	readCtx := ec.Sub(0, 0.5)
	mergeCtx := ec.Sub(0.5, 1)

	var runs []table.Table
	success := false
	defer func() {
		if !success {
			for _, r := range runs {
				table.Release(r)
			}
		}
	}()

	it, err := t.Iterator()
	if err != nil {
		return nil, errors.NewIOError("Sort", err)
	}
	defer it.Close()

	total := t.RowCount()
	buf := make([]table.Row, 0, min(s.bufferRows, max(int(total), 16)))
	var read int64
	for it.Next() {
		if read%cancelCheckInterval == 0 {
			if err := ec.CheckCanceled("Sort"); err != nil {
				return nil, err
			}
			if total > 0 {
				readCtx.SetProgress(float64(read) / float64(total))
			}
		}
		read++
		buf = append(buf, it.Row())
		if len(buf) >= s.bufferRows {
			run, err := s.writeRun(schema, buf, cmp)
			if err != nil {
				return nil, err
			}
			runs = append(runs, run)
			clear(buf)
			buf = buf[:0]
		}
	}
	if err := it.Err(); err != nil {
		return nil, errors.NewIOError("Sort", err)
	}

	if len(runs) == 0 {
		slices.SortStableFunc(buf, cmp)
		mt, err := table.NewMemTable(schema, buf)
		if err != nil {
			return nil, errors.NewInternalError("Sort", err)
		}
		success = true
		ec.SetProgress(1)
		return mt, nil
	}
	if len(buf) > 0 {
		run, err := s.writeRun(schema, buf, cmp)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	readCtx.SetProgress(1)

	s.logger.Debug("spilled sorted runs", "runs", len(runs), "rows", read)

	fanIn := s.maxOpenFiles - 1
	passes := 0
	for len(runs) > fanIn {
		passes++
		next := make([]table.Table, 0, (len(runs)+fanIn-1)/fanIn)
		for i := 0; i < len(runs); i += fanIn {
			if err := ec.CheckCanceled("Sort"); err != nil {
				runs = append(next, runs[i:]...)
				return nil, err
			}
			group := runs[i:min(i+fanIn, len(runs))]
			merged, err := s.mergeToFile(ec, schema, group, cmp)
			if err != nil {
				runs = append(next, runs[i:]...)
				return nil, err
			}
			for _, r := range group {
				table.Release(r)
			}
			next = append(next, merged)
		}
		runs = next
		mergeCtx.SetProgress(1 - 1/float64(passes+1))
	}

	success = true
	ec.SetProgress(1)
	if len(runs) == 1 {
		return runs[0], nil
	}
	return newMergedTable(schema, runs, cmp, read), nil
}

func (s *Sorter) writeRun(schema table.Schema, rows []table.Row, cmp Comparator) (table.Table, error) {
	slices.SortStableFunc(rows, cmp)
	c, err := NewFileContainer(s.dir, schema, s.mem)
	if err != nil {
		return nil, errors.NewIOError("Sort", err)
	}
	for _, r := range rows {
		if err := c.Add(r); err != nil {
			c.Release()
			return nil, errors.NewIOError("Sort", err)
		}
	}
	run, err := c.Close()
	if err != nil {
		return nil, errors.NewIOError("Sort", err)
	}
	return run, nil
}

func (s *Sorter) mergeToFile(ec *execution.Context, schema table.Schema, runs []table.Table, cmp Comparator) (table.Table, error) {
	var rows int64
	for _, r := range runs {
		rows += r.RowCount()
	}
	merged := newMergedTable(schema, runs, cmp, rows)

	it, err := merged.Iterator()
	if err != nil {
		return nil, errors.NewIOError("Sort", err)
	}
	defer it.Close()

	c, err := NewFileContainer(s.dir, schema, s.mem)
	if err != nil {
		return nil, errors.NewIOError("Sort", err)
	}
	var n int64
	for it.Next() {
		if n%cancelCheckInterval == 0 {
			if err := ec.CheckCanceled("Sort"); err != nil {
				c.Release()
				return nil, err
			}
		}
		n++
		if err := c.Add(it.Row()); err != nil {
			c.Release()
			return nil, errors.NewIOError("Sort", err)
		}
	}
	if err := it.Err(); err != nil {
		c.Release()
		return nil, errors.NewIOError("Sort", err)
	}
	out, err := c.Close()
	if err != nil {
		return nil, errors.NewIOError("Sort", err)
	}
	return out, nil
}
