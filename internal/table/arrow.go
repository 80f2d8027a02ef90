package table

import (
	stderrors "errors"
	"fmt"
	"io"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// KeyField is the name of the row-key field in record batches produced by
// RecordEncoder.
const KeyField = "__row_key"

// ArrowType returns the Arrow type used to store a column of kind k.
func ArrowType(k Kind) arrow.DataType {
	switch k {
	case KindInt:
		return arrow.PrimitiveTypes.Int64
	case KindFloat:
		return arrow.PrimitiveTypes.Float64
	case KindBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// KindOf maps an Arrow type to the kind its cells are read as.
func KindOf(dt arrow.DataType) Kind {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return KindInt
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return KindFloat
	case arrow.BOOL:
		return KindBool
	case arrow.NULL:
		return KindMissing
	default:
		return KindString
	}
}

// ArrowSchema builds the Arrow schema of s. When keyed is set the first
// field carries the row key.
func ArrowSchema(s Schema, keyed bool) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(s)+1)
	if keyed {
		fields = append(fields, arrow.Field{Name: KeyField, Type: arrow.BinaryTypes.String})
	}
	for _, c := range s {
		fields = append(fields, arrow.Field{Name: c.Name, Type: ArrowType(c.Type), Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

// RecordEncoder appends rows to an Arrow record builder.
type RecordEncoder struct {
	schema  Schema
	keyed   bool
	builder *array.RecordBuilder
	rows    int
}

// NewRecordEncoder creates an encoder for rows of schema s.
func NewRecordEncoder(mem memory.Allocator, s Schema, keyed bool) *RecordEncoder {
	return &RecordEncoder{
		schema:  s,
		keyed:   keyed,
		builder: array.NewRecordBuilder(mem, ArrowSchema(s, keyed)),
	}
}

// Schema returns the Arrow schema of the produced records.
func (e *RecordEncoder) Schema() *arrow.Schema {
	return e.builder.Schema()
}

// Append adds one row to the current batch.
func (e *RecordEncoder) Append(row Row) error {
	if len(row.Cells) != len(e.schema) {
		return fmt.Errorf("row %q has %d cells, schema has %d columns", row.Key, len(row.Cells), len(e.schema))
	}
	for i, v := range row.Cells {
		if !storable(e.schema[i].Type, v) {
			return fmt.Errorf("column %s: cannot store %s value in %s column", e.schema[i].Name, v.Kind(), e.schema[i].Type)
		}
	}
	offset := 0
	if e.keyed {
		e.builder.Field(0).(*array.StringBuilder).Append(row.Key)
		offset = 1
	}
	for i, v := range row.Cells {
		if err := appendValue(e.builder.Field(i+offset), v); err != nil {
			return fmt.Errorf("column %s: %w", e.schema[i].Name, err)
		}
	}
	e.rows++
	return nil
}

// Len returns the number of rows in the current batch.
func (e *RecordEncoder) Len() int {
	return e.rows
}

// NewRecord returns the current batch and resets the encoder.
func (e *RecordEncoder) NewRecord() arrow.Record {
	e.rows = 0
	return e.builder.NewRecord()
}

// Release frees the builder.
func (e *RecordEncoder) Release() {
	e.builder.Release()
}

func storable(k Kind, v Value) bool {
	if v.IsMissing() {
		return true
	}
	switch k {
	case KindInt:
		return v.Kind() == KindInt
	case KindFloat:
		return v.Kind().IsNumeric()
	case KindBool:
		return v.Kind() == KindBool
	default:
		return true
	}
}

func appendValue(b array.Builder, v Value) error {
	if v.IsMissing() {
		b.AppendNull()
		return nil
	}
	switch bb := b.(type) {
	case *array.Int64Builder:
		x, _ := v.AsInt()
		bb.Append(x)
	case *array.Float64Builder:
		x, _ := v.AsFloat()
		bb.Append(x)
	case *array.BooleanBuilder:
		x, _ := v.AsBool()
		bb.Append(x)
	case *array.StringBuilder:
		bb.Append(v.String())
	default:
		return fmt.Errorf("unsupported builder %s", b.Type())
	}
	return nil
}

// CellValue converts the i-th cell of an Arrow array.
func CellValue(arr arrow.Array, i int) Value {
	if arr.IsNull(i) {
		return Missing()
	}
	switch a := arr.(type) {
	case *array.Int64:
		return Int(a.Value(i))
	case *array.Int32:
		return Int(int64(a.Value(i)))
	case *array.Int16:
		return Int(int64(a.Value(i)))
	case *array.Int8:
		return Int(int64(a.Value(i)))
	case *array.Uint64:
		return Int(int64(a.Value(i)))
	case *array.Uint32:
		return Int(int64(a.Value(i)))
	case *array.Uint16:
		return Int(int64(a.Value(i)))
	case *array.Uint8:
		return Int(int64(a.Value(i)))
	case *array.Float64:
		return Float(a.Value(i))
	case *array.Float32:
		return Float(float64(a.Value(i)))
	case *array.Boolean:
		return Bool(a.Value(i))
	case *array.String:
		return String(a.Value(i))
	case *array.LargeString:
		return String(a.Value(i))
	default:
		return String(arr.ValueStr(i))
	}
}

// RecordOpener starts a new pass over a record batch source. The returned
// closer, if any, is closed after the reader is released.
type RecordOpener func() (array.RecordReader, io.Closer, error)

// RecordTable adapts a restartable source of Arrow record batches to Table.
type RecordTable struct {
	schema  Schema
	keyCol  int // -1 generates sequence keys
	cols    []int
	rows    int64
	open    RecordOpener
	release func()
}

// NewRecordTable derives a table from an Arrow schema. When keyColumn is
// set its values become the row keys, otherwise rows are keyed Row0, Row1...
func NewRecordTable(as *arrow.Schema, keyColumn string, rows int64, open RecordOpener) (*RecordTable, error) {
	t := &RecordTable{keyCol: -1, rows: rows, open: open}
	for i, f := range as.Fields() {
		if keyColumn != "" && f.Name == keyColumn {
			t.keyCol = i
			continue
		}
		t.schema = append(t.schema, Column{Name: f.Name, Type: KindOf(f.Type)})
		t.cols = append(t.cols, i)
	}
	if keyColumn != "" && t.keyCol < 0 {
		return nil, fmt.Errorf("key column %s not found", keyColumn)
	}
	if err := t.schema.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// NewEncodedTable reads back records written by a keyed RecordEncoder for s.
func NewEncodedTable(s Schema, rows int64, open RecordOpener) *RecordTable {
	cols := make([]int, len(s))
	for i := range cols {
		cols[i] = i + 1
	}
	return &RecordTable{schema: s, keyCol: 0, cols: cols, rows: rows, open: open}
}

// NewRecordTableFromRecords serves in-memory records. The table retains
// the records until Release.
func NewRecordTableFromRecords(as *arrow.Schema, records []arrow.Record, keyColumn string) (*RecordTable, error) {
	var rows int64
	for _, r := range records {
		r.Retain()
		rows += r.NumRows()
	}
	release := func() {
		for _, r := range records {
			r.Release()
		}
	}
	t, err := NewRecordTable(as, keyColumn, rows, func() (array.RecordReader, io.Closer, error) {
		rr, err := array.NewRecordReader(as, records)
		return rr, nil, err
	})
	if err != nil {
		release()
		return nil, err
	}
	t.release = release
	return t, nil
}

// Schema implements Table.
func (t *RecordTable) Schema() Schema { return t.schema }

// RowCount implements Table.
func (t *RecordTable) RowCount() int64 { return t.rows }

// Release implements Releaser.
func (t *RecordTable) Release() {
	if t.release != nil {
		t.release()
		t.release = nil
	}
}

// OnRelease registers fn to run when the table is released.
func (t *RecordTable) OnRelease(fn func()) {
	prev := t.release
	t.release = func() {
		if prev != nil {
			prev()
		}
		fn()
	}
}

// Iterator implements Table.
func (t *RecordTable) Iterator() (RowIterator, error) {
	rr, closer, err := t.open()
	if err != nil {
		return nil, err
	}
	return &recordIterator{reader: rr, closer: closer, keyCol: t.keyCol, cols: t.cols, pos: -1}, nil
}

type recordIterator struct {
	reader array.RecordReader
	closer io.Closer
	keyCol int
	cols   []int
	rec    arrow.Record
	pos    int
	seq    int64
	row    Row
	err    error
	done   bool
}

func (it *recordIterator) Next() bool {
	if it.done {
		return false
	}
	for it.rec == nil || it.pos+1 >= int(it.rec.NumRows()) {
		if !it.reader.Next() {
			// pqarrow readers report the end of the stream as io.EOF
			if err := it.reader.Err(); err != nil && !stderrors.Is(err, io.EOF) {
				it.err = err
			}
			it.done = true
			it.rec = nil
			return false
		}
		it.rec = it.reader.Record()
		it.pos = -1
	}
	it.pos++

	cells := make([]Value, len(it.cols))
	for i, c := range it.cols {
		cells[i] = CellValue(it.rec.Column(c), it.pos)
	}
	key := "Row" + strconv.FormatInt(it.seq, 10)
	if it.keyCol >= 0 {
		key = CellValue(it.rec.Column(it.keyCol), it.pos).String()
	}
	it.seq++
	it.row = Row{Key: key, Cells: cells}
	return true
}

func (it *recordIterator) Row() Row   { return it.row }
func (it *recordIterator) Err() error { return it.err }

func (it *recordIterator) Close() error {
	it.rec = nil
	if it.reader != nil {
		it.reader.Release()
		it.reader = nil
	}
	if it.closer != nil {
		err := it.closer.Close()
		it.closer = nil
		return err
	}
	return nil
}
