// Package partjoin joins two tables on equal key columns without holding
// them in memory at once.
//
// The right table is partitioned by key hash and indexed one batch of
// partitions at a time while the left table is streamed past the index.
// When memory runs low partitions are evicted to a later pass, so any input
// size completes with enough passes. Unmatched rows of outer joins and the
// final row order are restored by external sorting.
//
// This package is the public API of the module.
package partjoin

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/paveg/partjoin/internal/config"
	"github.com/paveg/partjoin/internal/errors"
	pjio "github.com/paveg/partjoin/internal/io"
	"github.com/paveg/partjoin/internal/join"
	"github.com/paveg/partjoin/internal/memory"
	"github.com/paveg/partjoin/internal/table"
)

// Table types.
type (
	Table  = table.Table
	Schema = table.Schema
	Column = table.Column
	Row    = table.Row
	Value  = table.Value
	Kind   = table.Kind
)

// Join types.
type (
	Settings          = join.Settings
	KeyPair           = join.KeyPair
	JoinMode          = join.JoinMode
	CompositionMode   = join.CompositionMode
	DuplicateHandling = join.DuplicateHandling
	RowKeyPolicy      = join.RowKeyPolicy
	Joiner            = join.Joiner
	Option            = join.Option
	Result            = join.Result
	CorrelationMap    = join.CorrelationMap
	Config            = config.Config
	MemoryMonitor     = memory.Monitor
	CSVOptions        = pjio.CSVOptions
	ParquetOptions    = pjio.ParquetOptions
	JoinError         = errors.JoinError
)

// Column kinds.
const (
	KindMissing = table.KindMissing
	KindInt     = table.KindInt
	KindFloat   = table.KindFloat
	KindString  = table.KindString
	KindBool    = table.KindBool
)

// Join modes, key composition, duplicate handling and row key policies.
const (
	Inner      = join.Inner
	LeftOuter  = join.LeftOuter
	RightOuter = join.RightOuter
	FullOuter  = join.FullOuter

	MatchAll = join.MatchAll
	MatchAny = join.MatchAny

	Filter       = join.Filter
	AppendSuffix = join.AppendSuffix
	DontExecute  = join.DontExecute

	Concatenate = join.Concatenate
	ReuseSingle = join.ReuseSingle
	Sequence    = join.Sequence

	// RowKeyColumn in a key pair joins on the row keys.
	RowKeyColumn = join.RowKeyColumn
)

// Error sentinels for errors.Is.
var (
	ErrConfiguration = errors.ErrConfiguration
	ErrIntegrity     = errors.ErrIntegrity
	ErrCanceled      = errors.ErrCanceled
	ErrIO            = errors.ErrIO
)

// Cell constructors.
var (
	Missing = table.Missing
	Int     = table.Int
	Float   = table.Float
	String  = table.String
	Bool    = table.Bool
)

// Joiner options.
var (
	WithMemoryMonitor    = join.WithMemoryMonitor
	WithSorter           = join.WithSorter
	WithBucketContainers = join.WithBucketContainers
	WithOutputContainers = join.WithOutputContainers
	WithLogger           = join.WithLogger
	WithMetrics          = join.WithMetrics
	WithProgressMonitor  = join.WithProgressMonitor
	WithConfig           = join.WithConfig
)

// DefaultSettings returns an inner match-all join without key pairs.
func DefaultSettings() Settings { return join.DefaultSettings() }

// Keys pairs left and right key column names position by position.
func Keys(left, right []string) ([]KeyPair, error) { return join.Pairs(left, right) }

// NewConfig returns the default engine configuration.
func NewConfig() Config { return config.NewConfig() }

// NewJoiner creates a reusable joiner.
func NewJoiner(settings Settings, opts ...Option) (*Joiner, error) {
	return join.New(settings, opts...)
}

// NewTable builds an in-memory table.
func NewTable(schema Schema, rows []Row) (Table, error) {
	t, err := table.NewMemTable(schema, rows)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Join joins left and right once. The caller releases the result.
//
// Example:
//
//	s := partjoin.DefaultSettings()
//	s.Mode = partjoin.LeftOuter
//	s.Keys = []partjoin.KeyPair{{Left: "dept", Right: "id"}}
//	res, err := partjoin.Join(ctx, employees, departments, s)
//	if err != nil {
//		return err
//	}
//	defer res.Release()
func Join(ctx context.Context, left, right Table, settings Settings, opts ...Option) (*Result, error) {
	j, err := join.New(settings, opts...)
	if err != nil {
		return nil, err
	}
	return j.Join(ctx, left, right)
}

// LoadSettings reads join settings and engine configuration from a YAML
// or JSON file.
func LoadSettings(path string) (Settings, Config, error) {
	doc, err := config.LoadDocument(path)
	if err != nil {
		return Settings{}, Config{}, err
	}
	s, err := join.SettingsFromConfig(doc.Join, doc.Engine)
	if err != nil {
		return Settings{}, Config{}, err
	}
	return s, doc.Engine, nil
}

// DefaultCSVOptions returns comma separated options with a header row.
func DefaultCSVOptions() CSVOptions { return pjio.DefaultCSVOptions() }

// DefaultParquetOptions returns snappy compressed options.
func DefaultParquetOptions() ParquetOptions { return pjio.DefaultParquetOptions() }

// ReadCSV opens a CSV file as a table. Column types are inferred in a
// first scan; rows are read from disk on every pass.
func ReadCSV(path string, opts CSVOptions) (Table, error) {
	t, err := pjio.OpenCSV(path, opts)
	if err != nil {
		return nil, errors.NewIOError("ReadCSV", err)
	}
	return t, nil
}

// OpenParquet opens a Parquet file as a table.
func OpenParquet(path string, opts ParquetOptions) (Table, error) {
	t, err := pjio.OpenParquet(path, opts, nil)
	if err != nil {
		return nil, errors.NewIOError("OpenParquet", err)
	}
	return t, nil
}

// WriteCSV writes t to a new CSV file at path.
func WriteCSV(path string, t Table, opts CSVOptions) error {
	return writeFile("WriteCSV", path, t, func(w io.Writer) pjio.DataWriter {
		return pjio.NewCSVWriter(w, opts)
	})
}

// WriteParquet writes t to a new Parquet file at path.
func WriteParquet(path string, t Table, opts ParquetOptions) error {
	return writeFile("WriteParquet", path, t, func(w io.Writer) pjio.DataWriter {
		return pjio.NewParquetWriter(w, opts, nil)
	})
}

// OpenFile opens a .csv or .parquet file by extension. keyColumn names the
// column holding row keys and may be empty.
func OpenFile(path, keyColumn string) (Table, error) {
	switch format(path) {
	case ".csv":
		opts := DefaultCSVOptions()
		opts.KeyColumn = keyColumn
		return ReadCSV(path, opts)
	case ".parquet":
		opts := DefaultParquetOptions()
		opts.KeyColumn = keyColumn
		return OpenParquet(path, opts)
	default:
		return nil, errors.NewConfigurationError("OpenFile", fmt.Sprintf("unsupported file format %q", filepath.Ext(path)))
	}
}

// WriteFile writes t to a .csv or .parquet file by extension. Row keys are
// written to keyColumn unless it is empty.
func WriteFile(path string, t Table, keyColumn string) error {
	switch format(path) {
	case ".csv":
		opts := DefaultCSVOptions()
		opts.KeyColumn = keyColumn
		return WriteCSV(path, t, opts)
	case ".parquet":
		opts := DefaultParquetOptions()
		opts.KeyColumn = keyColumn
		return WriteParquet(path, t, opts)
	default:
		return errors.NewConfigurationError("WriteFile", fmt.Sprintf("unsupported file format %q", filepath.Ext(path)))
	}
}

func format(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pq" {
		return ".parquet"
	}
	return ext
}

func writeFile(op, path string, t Table, newWriter func(io.Writer) pjio.DataWriter) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.NewIOError(op, err)
	}
	if err := newWriter(f).Write(t); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return errors.NewIOError(op, err)
	}
	// the Parquet writer closes its sink
	if err := f.Close(); err != nil && !stderrors.Is(err, os.ErrClosed) {
		return errors.NewIOError(op, err)
	}
	return nil
}
