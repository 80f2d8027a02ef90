package join

import (
	"fmt"

	"github.com/paveg/partjoin/internal/errors"
	"github.com/paveg/partjoin/internal/table"
)

// leftCursor gives access to left rows by index while reading the left
// table sequentially. Moving backwards re-opens the table.
type leftCursor struct {
	t       table.Table
	it      table.RowIterator
	pos     int64
	row     table.Row
	reopens int
}

func newLeftCursor(t table.Table) *leftCursor {
	return &leftCursor{t: t, pos: -1}
}

func (c *leftCursor) seek(idx int64) (table.Row, error) {
	if idx < 0 {
		return table.Row{}, errors.NewInternalError("Reassemble", fmt.Errorf("negative left row index %d", idx))
	}
	if c.it == nil || idx < c.pos {
		if err := c.reopen(); err != nil {
			return table.Row{}, err
		}
	}
	for c.pos < idx {
		if !c.it.Next() {
			if err := c.it.Err(); err != nil {
				return table.Row{}, errors.NewIOError("Reassemble", err)
			}
			return table.Row{}, errors.NewIntegrityError("Reassemble",
				fmt.Sprintf("left row %d requested but the left table ended after %d rows", idx, c.pos+1))
		}
		c.pos++
		c.row = c.it.Row()
	}
	return c.row, nil
}

func (c *leftCursor) reopen() error {
	if c.it != nil {
		_ = c.it.Close()
		c.reopens++
	}
	it, err := c.t.Iterator()
	if err != nil {
		c.it = nil
		return errors.NewIOError("Reassemble", err)
	}
	c.it = it
	c.pos = -1
	c.row = table.Row{}
	return nil
}

func (c *leftCursor) close() error {
	if c.it == nil {
		return nil
	}
	err := c.it.Close()
	c.it = nil
	return err
}
