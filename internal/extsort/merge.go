package extsort

import (
	"container/heap"
	"errors"

	"github.com/paveg/partjoin/internal/table"
)

// mergedTable lazily merges sorted runs on every pass.
type mergedTable struct {
	schema table.Schema
	runs   []table.Table
	cmp    Comparator
	rows   int64
}

func newMergedTable(schema table.Schema, runs []table.Table, cmp Comparator, rows int64) *mergedTable {
	return &mergedTable{schema: schema, runs: runs, cmp: cmp, rows: rows}
}

func (t *mergedTable) Schema() table.Schema { return t.schema }
func (t *mergedTable) RowCount() int64      { return t.rows }

// Release frees every run.
func (t *mergedTable) Release() {
	for _, r := range t.runs {
		table.Release(r)
	}
	t.runs = nil
}

func (t *mergedTable) Iterator() (table.RowIterator, error) {
	m := &mergeIterator{h: &mergeHeap{cmp: t.cmp}}
	for i, r := range t.runs {
		it, err := r.Iterator()
		if err != nil {
			m.Close()
			return nil, err
		}
		m.iters = append(m.iters, it)
		if it.Next() {
			m.h.items = append(m.h.items, &mergeItem{row: it.Row(), run: i, it: it})
		} else if err := it.Err(); err != nil {
			m.Close()
			return nil, err
		}
	}
	heap.Init(m.h)
	return m, nil
}

type mergeItem struct {
	row table.Row
	run int
	it  table.RowIterator
}

type mergeHeap struct {
	items []*mergeItem
	cmp   Comparator
}

func (h *mergeHeap) Len() int { return len(h.items) }

func (h *mergeHeap) Less(i, j int) bool {
	if c := h.cmp(h.items[i].row, h.items[j].row); c != 0 {
		return c < 0
	}
	// equal rows keep run order so the merge stays stable
	return h.items[i].run < h.items[j].run
}

func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergeHeap) Push(x any) { h.items = append(h.items, x.(*mergeItem)) }

func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}

type mergeIterator struct {
	h       *mergeHeap
	iters   []table.RowIterator
	row     table.Row
	started bool
	err     error
}

func (m *mergeIterator) Next() bool {
	if m.err != nil {
		return false
	}
	if m.started && m.h.Len() > 0 {
		top := m.h.items[0]
		if top.it.Next() {
			top.row = top.it.Row()
			heap.Fix(m.h, 0)
		} else {
			if err := top.it.Err(); err != nil {
				m.err = err
				return false
			}
			heap.Pop(m.h)
		}
	}
	m.started = true
	if m.h.Len() == 0 {
		return false
	}
	m.row = m.h.items[0].row
	return true
}

func (m *mergeIterator) Row() table.Row { return m.row }
func (m *mergeIterator) Err() error     { return m.err }

func (m *mergeIterator) Close() error {
	var errs []error
	for _, it := range m.iters {
		if err := it.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.iters = nil
	m.h.items = nil
	return errors.Join(errs...)
}
