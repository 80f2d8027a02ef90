// Package extsort sorts tables that may not fit in memory. Sorted runs are
// spilled as snappy-framed Arrow IPC streams and merged with a k-way heap.
package extsort

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/paveg/partjoin/internal/table"
)

const (
	defaultBatchRows = 4096
	spillFilePrefix  = "partjoin-"
	spillFileSuffix  = ".arrows"
)

// FileTable is a table stored in a spill file. Release removes the file.
type FileTable struct {
	*table.RecordTable
	path string
}

// Path returns the location of the spill file.
func (t *FileTable) Path() string {
	return t.path
}

func openFileTable(path string, schema table.Schema, rows int64, mem memory.Allocator) *FileTable {
	rt := table.NewEncodedTable(schema, rows, func() (array.RecordReader, io.Closer, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		rr, err := ipc.NewReader(snappy.NewReader(f), ipc.WithAllocator(mem))
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("opening spill file %s: %w", path, err)
		}
		return rr, f, nil
	})
	rt.OnRelease(func() { _ = os.Remove(path) })
	return &FileTable{RecordTable: rt, path: path}
}

// FileContainer writes rows into a new spill file.
type FileContainer struct {
	schema    table.Schema
	path      string
	file      *os.File
	sw        *snappy.Writer
	writer    *ipc.Writer
	enc       *table.RecordEncoder
	mem       memory.Allocator
	batchRows int
	rows      int64
	result    *FileTable
	closed    bool
}

// NewFileContainer creates a uniquely named spill file in dir. An empty dir
// uses the system temp directory.
func NewFileContainer(dir string, schema table.Schema, mem memory.Allocator) (*FileContainer, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	path := filepath.Join(dir, spillFilePrefix+uuid.NewString()+spillFileSuffix)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating spill file: %w", err)
	}

	enc := table.NewRecordEncoder(mem, schema, true)
	sw := snappy.NewBufferedWriter(f)
	return &FileContainer{
		schema:    schema,
		path:      path,
		file:      f,
		sw:        sw,
		writer:    ipc.NewWriter(sw, ipc.WithSchema(enc.Schema()), ipc.WithAllocator(mem)),
		enc:       enc,
		mem:       mem,
		batchRows: defaultBatchRows,
	}, nil
}

// ContainerFactory returns a table.ContainerFactory producing spill files.
func ContainerFactory(dir string, mem memory.Allocator) table.ContainerFactory {
	return func(schema table.Schema) (table.Container, error) {
		return NewFileContainer(dir, schema, mem)
	}
}

// Add implements table.Container.
func (c *FileContainer) Add(row table.Row) error {
	if c.closed {
		return fmt.Errorf("container is closed")
	}
	if err := c.enc.Append(row); err != nil {
		return err
	}
	c.rows++
	if c.enc.Len() >= c.batchRows {
		return c.flush()
	}
	return nil
}

func (c *FileContainer) flush() error {
	rec := c.enc.NewRecord()
	defer rec.Release()
	if err := c.writer.Write(rec); err != nil {
		return fmt.Errorf("writing spill file %s: %w", c.path, err)
	}
	return nil
}

// Close implements table.Container.
func (c *FileContainer) Close() (table.Table, error) {
	if c.closed {
		if c.result == nil {
			return nil, fmt.Errorf("container is closed")
		}
		return c.result, nil
	}
	c.closed = true
	defer c.enc.Release()

	if c.enc.Len() > 0 {
		if err := c.flush(); err != nil {
			c.discard()
			return nil, err
		}
	}
	if err := c.writer.Close(); err != nil {
		c.discard()
		return nil, fmt.Errorf("closing spill file %s: %w", c.path, err)
	}
	if err := c.sw.Close(); err != nil {
		c.discard()
		return nil, fmt.Errorf("closing spill file %s: %w", c.path, err)
	}
	if err := c.file.Close(); err != nil {
		_ = os.Remove(c.path)
		return nil, fmt.Errorf("closing spill file %s: %w", c.path, err)
	}

	c.result = openFileTable(c.path, c.schema, c.rows, c.mem)
	return c.result, nil
}

// Release implements table.Container.
func (c *FileContainer) Release() {
	if !c.closed {
		c.closed = true
		c.enc.Release()
		c.discard()
		return
	}
	if c.result != nil {
		c.result.Release()
	}
}

func (c *FileContainer) discard() {
	_ = c.file.Close()
	_ = os.Remove(c.path)
}
