package join

import (
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// partitioner tracks the partition count and the partitions still to be
// joined. Partition ids are the low numBits bits of a tuple's hash.
type partitioner struct {
	numBits int
	maxBits int
	mask    uint32
	pending *roaring.Bitmap
}

func newPartitioner(initialBits, maxBits int) *partitioner {
	p := &partitioner{
		numBits: initialBits,
		maxBits: maxBits,
		mask:    maskOf(initialBits),
		pending: roaring.New(),
	}
	p.pending.AddRange(0, uint64(1)<<initialBits)
	return p
}

func maskOf(bits int) uint32 {
	return uint32((uint64(1) << bits) - 1) //nolint:gosec // bits <= 32
}

func (p *partitioner) partitionOf(t keyTuple) uint32 {
	return t.partition(p.mask)
}

func (p *partitioner) total() uint64 {
	return uint64(1) << p.numBits
}

func (p *partitioner) canGrow() bool {
	return p.numBits < p.maxBits
}

// grow doubles the partition count. Every pending id i is split into i and
// i with the new high bit set, which together hold exactly the tuples that
// mapped to i before.
func (p *partitioner) grow() {
	p.numBits++
	bit := uint32(1) << (p.numBits - 1)
	p.mask |= bit

	// Pending ids are all below bit, so i|bit == i+bit.
	p.pending.Or(roaring.AddOffset64(p.pending, int64(bit)))
}

// complete removes the partitions of a finished pass from pending.
func (p *partitioner) complete(parts *roaring.Bitmap) {
	p.pending.AndNot(parts)
}

func (p *partitioner) done() bool {
	return p.pending.IsEmpty()
}

// bucket holds the left rows whose tuple encodes to the same bytes.
type bucket struct {
	tuple keyTuple
	rows  []int64
}

// partitionIndex is the in-memory hash index of one pass, keyed by
// partition id and then by tuple encoding. When resident tracking is on it
// also records, per partition, the left rows not yet matched in this pass.
type partitionIndex struct {
	parts    map[uint32]map[string]*bucket
	resident map[uint32]*roaring64.Bitmap
	track    bool
	tuples   int
}

func newPartitionIndex(trackResident bool) *partitionIndex {
	x := &partitionIndex{
		parts: make(map[uint32]map[string]*bucket),
		track: trackResident,
	}
	if trackResident {
		x.resident = make(map[uint32]*roaring64.Bitmap)
	}
	return x
}

func (x *partitionIndex) insert(pid uint32, t keyTuple, row int64) {
	part := x.parts[pid]
	if part == nil {
		part = make(map[string]*bucket)
		x.parts[pid] = part
	}
	b := part[t.enc]
	if b == nil {
		b = &bucket{tuple: t}
		part[t.enc] = b
	}
	b.rows = append(b.rows, row)
	x.tuples++

	if x.track {
		r := x.resident[pid]
		if r == nil {
			r = roaring64.New()
			x.resident[pid] = r
		}
		r.Add(uint64(row)) //nolint:gosec // row indexes are non-negative
	}
}

func (x *partitionIndex) lookup(pid uint32, t keyTuple) []int64 {
	if b := x.parts[pid][t.enc]; b != nil {
		return b.rows
	}
	return nil
}

// matched removes a left row from the partition's resident set.
func (x *partitionIndex) matched(pid uint32, row int64) {
	if r := x.resident[pid]; r != nil {
		r.Remove(uint64(row)) //nolint:gosec // row indexes are non-negative
	}
}

// unmatched returns the resident rows of pid that were never matched.
func (x *partitionIndex) unmatched(pid uint32) *roaring64.Bitmap {
	return x.resident[pid]
}

// nonEmpty lists the partitions holding at least one tuple, in ascending
// id order.
func (x *partitionIndex) nonEmpty() []uint32 {
	ids := make([]uint32, 0, len(x.parts))
	for pid, part := range x.parts {
		if len(part) > 0 {
			ids = append(ids, pid)
		}
	}
	slices.Sort(ids)
	return ids
}

func (x *partitionIndex) evict(pids []uint32) {
	for _, pid := range pids {
		for _, b := range x.parts[pid] {
			x.tuples -= len(b.rows)
		}
		delete(x.parts, pid)
		if x.track {
			delete(x.resident, pid)
		}
	}
}

// retain keeps only the tuples of pid that still map to pid under the
// grown mask and drops every other partition.
func (x *partitionIndex) retain(pid uint32, mask uint32) {
	old := x.parts[pid]
	x.parts = make(map[uint32]map[string]*bucket)
	x.tuples = 0
	if x.track {
		x.resident = make(map[uint32]*roaring64.Bitmap)
	}
	for _, b := range old {
		if b.tuple.partition(mask) != pid {
			continue
		}
		for _, row := range b.rows {
			x.insert(pid, b.tuple, row)
		}
	}
}
