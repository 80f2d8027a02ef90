package join

import (
	"github.com/paveg/partjoin/internal/table"
)

// rowKeyIndex marks a key position that reads the row key.
const rowKeyIndex = -1

// keyDeriver derives the key tuples of a row on one side of the join.
//
// Under match-all a row yields one tuple holding all key values. Under
// match-any with several pairs it yields one tuple per pair, the value at
// that pair's position and wildcards elsewhere, so that a tuple of the
// other side can only be equal when that same pair agrees.
type keyDeriver struct {
	cols     []int
	multiple bool
	b        keyBuilder
}

func newKeyDeriver(cols []int, multiple bool) *keyDeriver {
	return &keyDeriver{cols: cols, multiple: multiple}
}

func (d *keyDeriver) value(row table.Row, pos int) table.Value {
	col := d.cols[pos]
	if col == rowKeyIndex {
		return table.String(row.Key)
	}
	return row.Cells[col]
}

// tuples appends the key tuples of row to dst.
func (d *keyDeriver) tuples(dst []keyTuple, row table.Row) []keyTuple {
	if !d.multiple {
		d.b.reset()
		for pos := range d.cols {
			d.b.value(d.value(row, pos))
		}
		return append(dst, d.b.tuple())
	}
	for i := range d.cols {
		d.b.reset()
		for pos := range d.cols {
			if pos == i {
				d.b.value(d.value(row, pos))
			} else {
				d.b.wildcard()
			}
		}
		dst = append(dst, d.b.tuple())
	}
	return dst
}
