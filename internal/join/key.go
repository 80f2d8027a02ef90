package join

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/paveg/partjoin/internal/table"
)

// Tags of the canonical key encoding. Integral floats are written as
// integers so that 3 and 3.0 produce the same bytes.
const (
	tagWildcard byte = 'W'
	tagMissing  byte = 'M'
	tagInt      byte = 'I'
	tagFloat    byte = 'F'
	tagNaN      byte = 'N'
	tagString   byte = 'S'
	tagFalse    byte = '0'
	tagTrue     byte = '1'
)

// keyTuple is an ordered tuple of join key values. A position is either a
// concrete value or a wildcard that equals only another wildcard. Two
// tuples are equal iff their canonical encodings are equal.
type keyTuple struct {
	enc  string
	hash uint64
}

// keyBuilder encodes one tuple at a time and can be reused.
type keyBuilder struct {
	buf []byte
}

func (b *keyBuilder) reset() { b.buf = b.buf[:0] }

func (b *keyBuilder) wildcard() { b.buf = append(b.buf, tagWildcard) }

func (b *keyBuilder) value(v table.Value) {
	switch v.Kind() {
	case table.KindInt:
		i, _ := v.AsInt()
		b.integer(i)
	case table.KindFloat:
		f, _ := v.AsFloat()
		switch {
		case math.IsNaN(f):
			b.buf = append(b.buf, tagNaN)
		case f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64:
			b.integer(int64(f))
		default:
			b.buf = append(b.buf, tagFloat)
			b.buf = binary.BigEndian.AppendUint64(b.buf, math.Float64bits(f))
		}
	case table.KindString:
		s, _ := v.AsString()
		b.text(s)
	case table.KindBool:
		if t, _ := v.AsBool(); t {
			b.buf = append(b.buf, tagTrue)
		} else {
			b.buf = append(b.buf, tagFalse)
		}
	default:
		b.buf = append(b.buf, tagMissing)
	}
}

func (b *keyBuilder) integer(i int64) {
	b.buf = append(b.buf, tagInt)
	b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(i)) //nolint:gosec // bit pattern only
}

func (b *keyBuilder) text(s string) {
	b.buf = append(b.buf, tagString)
	b.buf = binary.AppendUvarint(b.buf, uint64(len(s)))
	b.buf = append(b.buf, s...)
}

func (b *keyBuilder) tuple() keyTuple {
	enc := string(b.buf)
	return keyTuple{enc: enc, hash: xxhash.Sum64String(enc)}
}

// partition returns the partition id of the tuple under mask.
func (t keyTuple) partition(mask uint32) uint32 {
	return uint32(t.hash) & mask //nolint:gosec // truncation intended
}
