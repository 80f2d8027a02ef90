package io

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/paveg/partjoin/internal/table"
)

const (
	// Boolean string constants
	trueStr  = "true"
	falseStr = "false"
)

// Read reads all CSV records and returns them as an in-memory table.
// Empty cells become missing values.
func (r *CSVReader) Read() (table.Table, error) {
	return r.ReadTable()
}

// ReadTable is Read with the concrete result type.
func (r *CSVReader) ReadTable() (*table.MemTable, error) {
	csvReader := r.options.newReader(r.reader)

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) == 0 {
		return table.NewMemTable(nil, nil)
	}

	headers, dataRows := r.options.split(records)
	inference := newInference(len(headers))
	for _, record := range dataRows {
		inference.observe(record)
	}
	layout, err := newCSVLayout(headers, inference.kinds(), r.options.KeyColumn)
	if err != nil {
		return nil, err
	}

	rows := make([]table.Row, len(dataRows))
	for i, record := range dataRows {
		if rows[i], err = layout.convert(record, int64(i)); err != nil {
			return nil, err
		}
	}
	return table.NewMemTable(layout.schema, rows)
}

// CSVTable is a CSV file read lazily. Every iterator re-opens the file.
type CSVTable struct {
	path    string
	options CSVOptions
	layout  *csvLayout
	rows    int64
}

// OpenCSV scans the file at path once to infer the column types and count
// the rows. Rows are not kept in memory.
func OpenCSV(path string, options CSVOptions) (*CSVTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV: %w", err)
	}
	defer f.Close()

	csvReader := options.newReader(f)
	csvReader.ReuseRecord = true

	var headers []string
	var inference *typeInference
	var rows int64
	for {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV %s: %w", path, err)
		}
		if headers == nil {
			if options.Header {
				headers = append([]string(nil), record...)
				inference = newInference(len(headers))
				continue
			}
			headers = defaultHeaders(len(record))
			inference = newInference(len(headers))
		}
		inference.observe(record)
		rows++
	}
	if headers == nil {
		return &CSVTable{path: path, options: options, layout: &csvLayout{keyCol: -1}}, nil
	}

	layout, err := newCSVLayout(headers, inference.kinds(), options.KeyColumn)
	if err != nil {
		return nil, err
	}
	return &CSVTable{path: path, options: options, layout: layout, rows: rows}, nil
}

// Schema implements table.Table.
func (t *CSVTable) Schema() table.Schema { return t.layout.schema }

// RowCount implements table.Table.
func (t *CSVTable) RowCount() int64 { return t.rows }

// Iterator implements table.Table.
func (t *CSVTable) Iterator() (table.RowIterator, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("opening CSV: %w", err)
	}
	csvReader := t.options.newReader(f)
	csvReader.ReuseRecord = true
	return &csvIterator{file: f, reader: csvReader, layout: t.layout, skipHeader: t.options.Header}, nil
}

type csvIterator struct {
	file       *os.File
	reader     *csv.Reader
	layout     *csvLayout
	skipHeader bool
	seq        int64
	row        table.Row
	err        error
}

func (it *csvIterator) Next() bool {
	if it.err != nil || it.reader == nil {
		return false
	}
	for {
		record, err := it.reader.Read()
		if errors.Is(err, io.EOF) {
			return false
		}
		if err != nil {
			it.err = fmt.Errorf("reading CSV: %w", err)
			return false
		}
		if it.skipHeader {
			it.skipHeader = false
			continue
		}
		if it.row, it.err = it.layout.convert(record, it.seq); it.err != nil {
			return false
		}
		it.seq++
		return true
	}
}

func (it *csvIterator) Row() table.Row { return it.row }
func (it *csvIterator) Err() error     { return it.err }

func (it *csvIterator) Close() error {
	it.reader = nil
	if it.file == nil {
		return nil
	}
	err := it.file.Close()
	it.file = nil
	return err
}

func (o CSVOptions) newReader(r io.Reader) *csv.Reader {
	csvReader := csv.NewReader(r)
	if o.Delimiter != 0 {
		csvReader.Comma = o.Delimiter
	}
	csvReader.Comment = o.Comment
	csvReader.TrimLeadingSpace = o.SkipInitialSpace
	// short records are padded with missing values
	csvReader.FieldsPerRecord = -1
	return csvReader
}

func (o CSVOptions) split(records [][]string) ([]string, [][]string) {
	if o.Header {
		return records[0], records[1:]
	}
	return defaultHeaders(len(records[0])), records
}

func defaultHeaders(n int) []string {
	headers := make([]string, n)
	for i := range headers {
		headers[i] = fmt.Sprintf("column_%d", i)
	}
	return headers
}

// csvLayout maps CSV fields to schema columns.
type csvLayout struct {
	schema table.Schema
	fields []int // field index per schema column
	width  int
	keyCol int
}

func newCSVLayout(headers []string, kinds []table.Kind, keyColumn string) (*csvLayout, error) {
	l := &csvLayout{width: len(headers), keyCol: -1}
	for i, name := range headers {
		if keyColumn != "" && name == keyColumn && l.keyCol < 0 {
			l.keyCol = i
			continue
		}
		l.schema = append(l.schema, table.Column{Name: name, Type: kinds[i]})
		l.fields = append(l.fields, i)
	}
	if keyColumn != "" && l.keyCol < 0 {
		return nil, fmt.Errorf("key column %s not found in CSV header", keyColumn)
	}
	if err := l.schema.Validate(); err != nil {
		return nil, fmt.Errorf("CSV header: %w", err)
	}
	return l, nil
}

func (l *csvLayout) convert(record []string, seq int64) (table.Row, error) {
	if len(record) > l.width {
		return table.Row{}, fmt.Errorf("record %d has %d fields, header has %d", seq, len(record), l.width)
	}
	cells := make([]table.Value, len(l.schema))
	for i, field := range l.fields {
		if field >= len(record) {
			cells[i] = table.Missing()
			continue
		}
		v, err := parseCell(record[field], l.schema[i].Type)
		if err != nil {
			return table.Row{}, fmt.Errorf("record %d, column %s: %w", seq, l.schema[i].Name, err)
		}
		cells[i] = v
	}
	key := "Row" + strconv.FormatInt(seq, 10)
	if l.keyCol >= 0 && l.keyCol < len(record) {
		key = record[l.keyCol]
	}
	return table.Row{Key: key, Cells: cells}, nil
}

func parseCell(value string, kind table.Kind) (table.Value, error) {
	if value == "" {
		return table.Missing(), nil
	}
	switch kind {
	case table.KindBool:
		switch strings.ToLower(value) {
		case trueStr:
			return table.Bool(true), nil
		case falseStr:
			return table.Bool(false), nil
		}
		return table.Value{}, fmt.Errorf("invalid boolean %q", value)
	case table.KindInt:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return table.Value{}, err
		}
		return table.Int(v), nil
	case table.KindFloat:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return table.Value{}, err
		}
		return table.Float(v), nil
	default:
		return table.String(value), nil
	}
}

// typeInference tracks the most specific type every column still fits.
type typeInference struct {
	canBeInt, canBeFloat, canBeBool, hasValue []bool
}

func newInference(n int) *typeInference {
	ti := &typeInference{
		canBeInt:   make([]bool, n),
		canBeFloat: make([]bool, n),
		canBeBool:  make([]bool, n),
		hasValue:   make([]bool, n),
	}
	for i := range n {
		ti.canBeInt[i], ti.canBeFloat[i], ti.canBeBool[i] = true, true, true
	}
	return ti
}

func (ti *typeInference) observe(record []string) {
	for i, value := range record {
		if i >= len(ti.hasValue) || value == "" {
			continue // Skip empty values for type inference
		}
		ti.hasValue[i] = true

		if ti.canBeBool[i] {
			lower := strings.ToLower(value)
			if lower != trueStr && lower != falseStr {
				ti.canBeBool[i] = false
			}
		}
		if ti.canBeInt[i] {
			if _, err := strconv.ParseInt(value, 10, 64); err != nil {
				ti.canBeInt[i] = false
			}
		}
		if ti.canBeFloat[i] {
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				ti.canBeFloat[i] = false
			}
		}
	}
}

func (ti *typeInference) kinds() []table.Kind {
	kinds := make([]table.Kind, len(ti.hasValue))
	for i := range kinds {
		switch {
		case !ti.hasValue[i]:
			// If all values are empty, default to string
			kinds[i] = table.KindString
		case ti.canBeBool[i]:
			kinds[i] = table.KindBool
		case ti.canBeInt[i]:
			kinds[i] = table.KindInt
		case ti.canBeFloat[i]:
			kinds[i] = table.KindFloat
		default:
			kinds[i] = table.KindString
		}
	}
	return kinds
}

// Write writes the table in CSV format
func (w *CSVWriter) Write(t table.Table) error {
	csvWriter := csv.NewWriter(w.writer)
	if w.options.Delimiter != 0 {
		csvWriter.Comma = w.options.Delimiter
	}

	keyed := w.options.KeyColumn != ""
	schema := t.Schema()
	if keyed && schema.Has(w.options.KeyColumn) {
		return fmt.Errorf("key column %s clashes with a table column", w.options.KeyColumn)
	}

	// Write headers if required
	if w.options.Header {
		headers := schema.Names()
		if keyed {
			headers = append([]string{w.options.KeyColumn}, headers...)
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("writing headers: %w", err)
		}
	}

	it, err := t.Iterator()
	if err != nil {
		return err
	}
	defer it.Close()

	offset := 0
	if keyed {
		offset = 1
	}
	record := make([]string, len(schema)+offset)
	for i := 0; it.Next(); i++ {
		row := it.Row()
		if keyed {
			record[0] = row.Key
		}
		for j, v := range row.Cells {
			record[j+offset] = formatCell(v)
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	if err := it.Err(); err != nil {
		return err
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func formatCell(v table.Value) string {
	if v.IsMissing() {
		return ""
	}
	return v.String()
}
