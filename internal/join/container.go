package join

import (
	"fmt"

	"github.com/paveg/partjoin/internal/errors"
	"github.com/paveg/partjoin/internal/table"
)

// Bucket identifies one of the intermediate result tables.
type Bucket int

const (
	Matches Bucket = iota
	LeftUnmatched
	RightUnmatched
	numBuckets
)

func (b Bucket) String() string {
	switch b {
	case Matches:
		return "matches"
	case LeftUnmatched:
		return "left unmatched"
	case RightUnmatched:
		return "right unmatched"
	}
	return "unknown"
}

// accumulator routes provisional rows into the match, left-unmatched and
// right-unmatched buckets. Buckets the join mode never produces are nil.
type accumulator struct {
	buckets [numBuckets]table.Container
	counts  [numBuckets]int64
	closed  [numBuckets]table.Table
}

func newAccumulator(factory table.ContainerFactory, schema table.Schema, mode JoinMode) (*accumulator, error) {
	a := &accumulator{}
	wanted := [numBuckets]bool{true, mode.RetainLeft(), mode.RetainRight()}
	for b := range numBuckets {
		if !wanted[b] {
			continue
		}
		c, err := factory(schema)
		if err != nil {
			a.Release()
			return nil, errors.NewIOError("Join", err)
		}
		a.buckets[b] = c
	}
	return a, nil
}

func (a *accumulator) add(b Bucket, row table.Row) error {
	c := a.buckets[b]
	if c == nil {
		return errors.NewInternalError("Join", fmt.Errorf("no container for %s rows", b))
	}
	if err := c.Add(row); err != nil {
		return errors.NewIOError("Join", err)
	}
	a.counts[b]++
	return nil
}

// close finishes every bucket. The returned tables stay owned by the
// accumulator until Release.
func (a *accumulator) close() ([numBuckets]table.Table, error) {
	for b, c := range a.buckets {
		if c == nil || a.closed[b] != nil {
			continue
		}
		t, err := c.Close()
		if err != nil {
			return a.closed, errors.NewIOError("Join", err)
		}
		a.closed[b] = t
	}
	return a.closed, nil
}

// Release implements memory.Releasable.
func (a *accumulator) Release() {
	for b, c := range a.buckets {
		if c != nil {
			c.Release()
			a.buckets[b] = nil
		}
	}
}
