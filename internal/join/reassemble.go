package join

import (
	"sort"

	"github.com/paveg/partjoin/internal/errors"
	"github.com/paveg/partjoin/internal/execution"
	"github.com/paveg/partjoin/internal/table"
)

// CorrelationMap maps an input row key to the set of output row keys it
// contributed to. Neither input nor concatenated output keys need to be
// unique, so the same pair may be recorded more than once.
type CorrelationMap map[string]map[string]struct{}

func (m CorrelationMap) add(from, to string) {
	set, ok := m[from]
	if !ok {
		set = make(map[string]struct{}, 1)
		m[from] = set
	}
	set[to] = struct{}{}
}

// Keys returns the output keys recorded for from in sorted order.
func (m CorrelationMap) Keys(from string) []string {
	set := m[from]
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// reassembler turns sorted provisional rows into output rows. Consecutive
// rows with the same (left, right) pair are collapsed.
type reassembler struct {
	out      table.Container
	cursor   *leftCursor
	leftCols []int
	width    int
	rowKey   rowKeyFunc

	leftMap  CorrelationMap
	rightMap CorrelationMap

	prevLeft, prevRight int64
	hasPrev             bool
	rows                int64
}

func newReassembler(out table.Container, left table.Table, p *plan, track bool) *reassembler {
	r := &reassembler{
		out:      out,
		cursor:   newLeftCursor(left),
		leftCols: p.leftCols,
		width:    len(p.output),
		rowKey:   newRowKeyFunc(p.rowKeys, p.separator),
	}
	if track {
		r.leftMap = make(CorrelationMap)
		r.rightMap = make(CorrelationMap)
	}
	return r
}

// add appends the rows of one sorted bucket.
func (r *reassembler) add(ec *execution.Context, t table.Table) error {
	it, err := t.Iterator()
	if err != nil {
		return errors.NewIOError("Reassemble", err)
	}
	defer it.Close()

	total := t.RowCount()
	var n int64
	for it.Next() {
		if n%cancelCheckInterval == 0 {
			if err := ec.CheckCanceled("Reassemble"); err != nil {
				return err
			}
			if total > 0 {
				ec.SetProgress(float64(n) / float64(total))
			}
		}
		n++
		if err := r.emit(it.Row()); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return errors.NewIOError("Reassemble", err)
	}
	ec.SetProgress(1)
	return nil
}

func (r *reassembler) emit(prov table.Row) error {
	left, right := provIndexes(prov)
	if r.hasPrev && left == r.prevLeft && right == r.prevRight {
		return nil
	}
	r.prevLeft, r.prevRight, r.hasPrev = left, right, true

	cells := make([]table.Value, 0, r.width)
	var leftKey, rightKey string
	hasLeft, hasRight := left >= 0, right >= 0

	if hasLeft {
		row, err := r.cursor.seek(left)
		if err != nil {
			return err
		}
		leftKey = row.Key
		for _, c := range r.leftCols {
			cells = append(cells, row.Cells[c])
		}
	} else {
		for range r.leftCols {
			cells = append(cells, table.Missing())
		}
	}

	if hasRight {
		rightKey, _ = prov.Cells[provRightKey].AsString()
	}
	// Unmatched left rows carry missing right cells already.
	cells = append(cells, prov.Cells[provCells:]...)

	key := r.rowKey(leftKey, rightKey, hasLeft, hasRight)
	if err := r.out.Add(table.Row{Key: key, Cells: cells}); err != nil {
		return errors.NewIOError("Reassemble", err)
	}
	r.rows++

	if r.leftMap != nil {
		if hasLeft {
			r.leftMap.add(leftKey, key)
		}
		if hasRight {
			r.rightMap.add(rightKey, key)
		}
	}
	return nil
}

func (r *reassembler) close() error {
	if err := r.cursor.close(); err != nil {
		return errors.NewIOError("Reassemble", err)
	}
	return nil
}
