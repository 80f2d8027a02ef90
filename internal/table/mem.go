package table

import (
	"fmt"
)

// MemTable is a Table holding all rows in memory.
type MemTable struct {
	schema Schema
	rows   []Row
}

// NewMemTable creates an in-memory table. Rows must have one cell per column.
func NewMemTable(schema Schema, rows []Row) (*MemTable, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	for i, r := range rows {
		if len(r.Cells) != len(schema) {
			return nil, fmt.Errorf("row %d has %d cells, schema has %d columns", i, len(r.Cells), len(schema))
		}
	}
	return &MemTable{schema: schema, rows: rows}, nil
}

// Schema implements Table.
func (t *MemTable) Schema() Schema { return t.schema }

// RowCount implements Table.
func (t *MemTable) RowCount() int64 { return int64(len(t.rows)) }

// Rows returns the backing rows.
func (t *MemTable) Rows() []Row { return t.rows }

// Iterator implements Table.
func (t *MemTable) Iterator() (RowIterator, error) {
	return &sliceIterator{rows: t.rows, pos: -1}, nil
}

type sliceIterator struct {
	rows []Row
	pos  int
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.rows) {
		it.pos = len(it.rows)
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Row() Row     { return it.rows[it.pos] }
func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }

type memContainer struct {
	schema Schema
	rows   []Row
	closed bool
}

// NewMemContainer returns a container that keeps rows in memory.
func NewMemContainer(schema Schema) (Container, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &memContainer{schema: schema}, nil
}

func (c *memContainer) Add(row Row) error {
	if c.closed {
		return fmt.Errorf("container is closed")
	}
	if len(row.Cells) != len(c.schema) {
		return fmt.Errorf("row %q has %d cells, schema has %d columns", row.Key, len(row.Cells), len(c.schema))
	}
	c.rows = append(c.rows, row)
	return nil
}

func (c *memContainer) Close() (Table, error) {
	c.closed = true
	return &MemTable{schema: c.schema, rows: c.rows}, nil
}

func (c *memContainer) Release() {
	c.rows = nil
}
