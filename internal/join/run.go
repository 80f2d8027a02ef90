package join

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/paveg/partjoin/internal/errors"
	"github.com/paveg/partjoin/internal/execution"
	"github.com/paveg/partjoin/internal/memory"
	"github.com/paveg/partjoin/internal/table"
)

// joinRun holds the state of one execution across its passes.
type joinRun struct {
	j           *Joiner
	left, right table.Table
	part        *partitioner
	leftKeys    *keyDeriver
	rightKeys   *keyDeriver
	prov        provisional
	acc         *accumulator

	multiple    bool
	retainLeft  bool
	retainRight bool

	// leftCount is known after the first pass.
	leftCount int64
	// remainingLeft holds the left rows never matched in any pass, and
	// matchedRight the right rows matched in any pass. Both are only used
	// when a row produces several tuples that may land in different passes.
	remainingLeft *roaring64.Bitmap
	matchedRight  *roaring64.Bitmap

	passes   int
	rowsRead int64
	tuples   []keyTuple
}

func newJoinRun(j *Joiner, p *plan, left, right table.Table) (*joinRun, error) {
	s := j.settings
	acc, err := newAccumulator(j.buckets, provisionalSchema(p.rightColumns(right.Schema())), s.Mode)
	if err != nil {
		return nil, err
	}
	multiple := s.multipleMatch()
	r := &joinRun{
		j:           j,
		left:        left,
		right:       right,
		part:        newPartitioner(s.InitialPartitionBits, s.MaxPartitionBits),
		leftKeys:    newKeyDeriver(p.leftKeys, multiple),
		rightKeys:   newKeyDeriver(p.rightKeys, multiple),
		prov:        provisional{rightCols: p.rightCols},
		acc:         acc,
		multiple:    multiple,
		retainLeft:  s.Mode.RetainLeft(),
		retainRight: s.Mode.RetainRight(),
		leftCount:   -1,
	}
	if multiple && r.retainLeft {
		r.remainingLeft = roaring64.New()
	}
	if multiple && r.retainRight {
		r.matchedRight = roaring64.New()
	}
	return r, nil
}

// execute runs passes until no partition is pending and returns the number
// of left and right rows read.
func (r *joinRun) execute(ec *execution.Context) (int64, error) {
	for !r.part.done() {
		if err := ec.CheckCanceled("Join"); err != nil {
			return r.rowsRead, err
		}
		processed, err := r.pass(ec)
		if err != nil {
			return r.rowsRead, err
		}
		r.part.complete(processed)
		r.passes++
		r.j.metrics.Count("passes", 1)
		r.j.logger.Debug("join pass finished",
			"pass", r.passes,
			"partitions", processed.GetCardinality(),
			"pending", r.part.pending.GetCardinality(),
			"partition_bits", r.part.numBits)
	}

	if r.remainingLeft != nil {
		it := r.remainingLeft.Iterator()
		for it.HasNext() {
			if err := r.acc.add(LeftUnmatched, r.prov.leftOnly(int64(it.Next()))); err != nil { //nolint:gosec // row index
				return r.rowsRead, err
			}
		}
	}
	ec.SetProgress(1)
	return r.rowsRead, nil
}

// progress reports the completed partitions plus the fraction frac of the
// partitions in the current pass.
func (r *joinRun) progress(ec *execution.Context, curr *roaring.Bitmap, frac float64) {
	total := float64(r.part.total())
	done := total - float64(r.part.pending.GetCardinality())
	ec.SetProgress((done + frac*float64(curr.GetCardinality())) / total)
}

// pass indexes the left rows of the pending partitions that fit into
// memory, probes the right table against them and returns the partitions
// it completed.
func (r *joinRun) pass(ec *execution.Context) (*roaring.Bitmap, error) {
	curr := r.part.pending.Clone()
	idx := newPartitionIndex(r.retainLeft && !r.multiple)
	logger := r.j.logger

	it, err := r.left.Iterator()
	if err != nil {
		return nil, errors.NewIOError("Partition", err)
	}

	estimate := r.leftCount
	if estimate < 0 {
		estimate = r.left.RowCount()
	}

	var row int64
	gcTried, warned := false, false
	for {
		if row%cancelCheckInterval == 0 {
			if err := ec.CheckCanceled("Partition"); err != nil {
				_ = it.Close()
				return nil, err
			}
			if estimate > 0 {
				r.progress(ec, curr, 0.5*float64(row)/float64(estimate))
			}
		}

		if r.j.monitor.IsLow() {
			if !gcTried && !warned {
				memory.ForceGC()
				gcTried = true
				continue
			}
			gcTried = false

			nonEmpty := idx.nonEmpty()
			switch {
			case len(nonEmpty) > 1:
				evicted := nonEmpty[:len(nonEmpty)/2]
				idx.evict(evicted)
				for _, pid := range evicted {
					curr.Remove(pid)
				}
				r.j.metrics.Count("evictions", int64(len(evicted)))
				logger.Debug("evicted partitions on low memory",
					"evicted", len(evicted),
					"remaining", curr.GetCardinality(),
					"partition_bits", r.part.numBits)
				continue
			case len(nonEmpty) == 1 && r.part.canGrow():
				pid := nonEmpty[0]
				r.part.grow()
				curr = roaring.BitmapOf(pid)
				idx.retain(pid, r.part.mask)
				r.j.metrics.Count("splits", 1)
				logger.Debug("split partition on low memory",
					"partition", pid,
					"partition_bits", r.part.numBits,
					"tuples", idx.tuples)
				continue
			default:
				if !warned {
					warned = true
					logger.Warn("memory is low but no partition can be evicted or split, continuing with the current partition",
						"partition_bits", r.part.numBits,
						"max_partition_bits", r.part.maxBits)
				}
			}
		}

		if !it.Next() {
			break
		}
		lrow := it.Row()
		r.tuples = r.leftKeys.tuples(r.tuples[:0], lrow)
		for _, t := range r.tuples {
			if pid := r.part.partitionOf(t); curr.Contains(pid) {
				idx.insert(pid, t, row)
			}
		}
		row++
	}
	err = it.Err()
	if cerr := it.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, errors.NewIOError("Partition", err)
	}
	r.rowsRead += row

	if r.leftCount < 0 {
		r.leftCount = row
		if r.remainingLeft != nil && row > 0 {
			r.remainingLeft.AddRange(0, uint64(row))
		}
	}

	if err := r.probe(ec, curr, idx); err != nil {
		return nil, err
	}
	return curr, nil
}

// probe streams the right table against the index of the current pass.
//
// A right row is decided in exactly one pass: the first pass in which one
// of its tuples is current and none is still pending elsewhere. It is
// emitted as unmatched there if it never matched.
func (r *joinRun) probe(ec *execution.Context, curr *roaring.Bitmap, idx *partitionIndex) error {
	it, err := r.right.Iterator()
	if err != nil {
		return errors.NewIOError("Probe", err)
	}
	defer it.Close()

	estimate := r.right.RowCount()
	var ri int64
	for it.Next() {
		if ri%cancelCheckInterval == 0 {
			if err := ec.CheckCanceled("Probe"); err != nil {
				return err
			}
			if estimate > 0 {
				r.progress(ec, curr, 0.5+0.5*float64(ri)/float64(estimate))
			}
		}
		rrow := it.Row()
		r.tuples = r.rightKeys.tuples(r.tuples[:0], rrow)

		matched, current, elsewhere := false, false, false
		for _, t := range r.tuples {
			pid := r.part.partitionOf(t)
			if !curr.Contains(pid) {
				if r.part.pending.Contains(pid) {
					elsewhere = true
				}
				continue
			}
			current = true
			for _, li := range idx.lookup(pid, t) {
				if err := r.acc.add(Matches, r.prov.match(li, ri, rrow)); err != nil {
					return err
				}
				matched = true
				idx.matched(pid, li)
				if r.remainingLeft != nil {
					r.remainingLeft.Remove(uint64(li)) //nolint:gosec // row index
				}
			}
		}
		if matched && r.matchedRight != nil {
			r.matchedRight.Add(uint64(ri)) //nolint:gosec // row index
		}

		if r.retainRight && current && !elsewhere {
			unmatched := !matched
			if r.matchedRight != nil {
				unmatched = !r.matchedRight.Contains(uint64(ri)) //nolint:gosec // row index
			}
			if unmatched {
				if err := r.acc.add(RightUnmatched, r.prov.rightOnly(ri, rrow)); err != nil {
					return err
				}
			}
		}
		ri++
	}
	if err := it.Err(); err != nil {
		return errors.NewIOError("Probe", err)
	}
	r.rowsRead += ri

	if idx.track {
		for pid := range idx.resident {
			rows := idx.unmatched(pid).Iterator()
			for rows.HasNext() {
				if err := r.acc.add(LeftUnmatched, r.prov.leftOnly(int64(rows.Next()))); err != nil { //nolint:gosec // row index
					return err
				}
			}
		}
	}
	return nil
}
