package table

import (
	"fmt"
)

// Column describes one typed column of a table.
type Column struct {
	Name string `json:"name" yaml:"name"`
	Type Kind   `json:"type" yaml:"type"`
}

// Schema is the ordered list of columns of a table.
type Schema []Column

// Index returns the position of the named column or -1.
func (s Schema) Index(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Has reports whether the schema contains the named column.
func (s Schema) Has(name string) bool {
	return s.Index(name) >= 0
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Validate checks that column names are unique and non-empty.
func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, c := range s {
		if c.Name == "" {
			return fmt.Errorf("schema contains a column without name")
		}
		if _, ok := seen[c.Name]; ok {
			return fmt.Errorf("duplicate column name: %s", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Row is one table row: an opaque key plus one cell per schema column.
type Row struct {
	Key   string
	Cells []Value
}

// Table is a restartable, sequential row source.
type Table interface {
	Schema() Schema
	// RowCount returns the number of rows, or a negative value when unknown.
	// It may be an estimate and is only used for progress reporting.
	RowCount() int64
	// Iterator opens a new pass over the rows from the beginning.
	Iterator() (RowIterator, error)
}

// RowIterator walks the rows of one pass. Callers must Close it.
type RowIterator interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// Releaser is implemented by tables backed by temporary storage.
type Releaser interface {
	Release()
}

// Release frees the storage of t when it has any.
func Release(t Table) {
	if r, ok := t.(Releaser); ok {
		r.Release()
	}
}

// Container materializes rows into a new table.
type Container interface {
	Add(row Row) error
	// Close finishes the container and returns the table it built.
	Close() (Table, error)
	// Release discards the container and any table it produced.
	Release()
}

// ContainerFactory creates containers for a schema.
type ContainerFactory func(schema Schema) (Container, error)

// ReadAll drains a table into memory. Intended for tests and small tables.
func ReadAll(t Table) ([]Row, error) {
	it, err := t.Iterator()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var rows []Row
	for it.Next() {
		rows = append(rows, it.Row())
	}
	return rows, it.Err()
}
