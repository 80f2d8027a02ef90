package io

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/paveg/partjoin/internal/table"
)

// Read reads Parquet data and returns a table over it. The stream is
// buffered in memory; use OpenParquet for files.
func (r *ParquetReader) Read() (table.Table, error) {
	// Read all data into memory for Parquet reading
	data, err := io.ReadAll(r.reader)
	if err != nil {
		return nil, fmt.Errorf("reading data: %w", err)
	}
	return newParquetTable(func() (*file.Reader, error) {
		return file.NewParquetReader(bytes.NewReader(data))
	}, r.options, r.mem)
}

// OpenParquet returns a table over the Parquet file at path. Every iterator
// re-opens the file and streams its row groups in batches.
func OpenParquet(path string, options ParquetOptions, mem memory.Allocator) (*table.RecordTable, error) {
	return newParquetTable(func() (*file.Reader, error) {
		return file.OpenParquetFile(path, false)
	}, options, mem)
}

func newParquetTable(open func() (*file.Reader, error), options ParquetOptions, mem memory.Allocator) (*table.RecordTable, error) {
	mem = allocator(mem)
	props := pqarrow.ArrowReadProperties{BatchSize: int64(batchSize(options.BatchSize))}

	// Create a Parquet file reader
	pqReader, err := open()
	if err != nil {
		return nil, fmt.Errorf("creating parquet file reader: %w", err)
	}
	defer pqReader.Close()

	// Create an Arrow file reader
	arrowReader, err := pqarrow.NewFileReader(pqReader, props, mem)
	if err != nil {
		return nil, fmt.Errorf("creating arrow file reader: %w", err)
	}
	schema, err := arrowReader.Schema()
	if err != nil {
		return nil, fmt.Errorf("reading parquet schema: %w", err)
	}

	return table.NewRecordTable(schema, options.KeyColumn, pqReader.NumRows(), func() (array.RecordReader, io.Closer, error) {
		pqReader, err := open()
		if err != nil {
			return nil, nil, fmt.Errorf("creating parquet file reader: %w", err)
		}
		arrowReader, err := pqarrow.NewFileReader(pqReader, props, mem)
		if err != nil {
			pqReader.Close()
			return nil, nil, fmt.Errorf("creating arrow file reader: %w", err)
		}
		records, err := arrowReader.GetRecordReader(context.Background(), nil, nil)
		if err != nil {
			pqReader.Close()
			return nil, nil, fmt.Errorf("creating record reader: %w", err)
		}
		return records, pqReader, nil
	})
}

// Write writes the table in Parquet format, one row group per batch.
func (w *ParquetWriter) Write(t table.Table) error {
	compression, err := compressionCodec(w.options.Compression)
	if err != nil {
		return err
	}
	mem := allocator(w.mem)
	batch := batchSize(w.options.BatchSize)

	keyed := w.options.KeyColumn != ""
	if keyed && t.Schema().Has(w.options.KeyColumn) {
		return fmt.Errorf("key column %s clashes with a table column", w.options.KeyColumn)
	}
	encoder := table.NewRecordEncoder(mem, t.Schema(), keyed)
	defer encoder.Release()
	schema := encoder.Schema()
	if keyed {
		schema = renameField(schema, 0, w.options.KeyColumn)
	}

	// Create writer properties
	props := parquet.NewWriterProperties(
		parquet.WithCompression(compression),
		parquet.WithBatchSize(int64(batch)),
		parquet.WithAllocator(mem),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(mem))

	writer, err := pqarrow.NewFileWriter(schema, w.writer, props, arrowProps)
	if err != nil {
		return fmt.Errorf("creating file writer: %w", err)
	}

	flush := func() error {
		rec := encoder.NewRecord()
		defer rec.Release()
		out := array.NewRecord(schema, rec.Columns(), rec.NumRows())
		defer out.Release()
		if err := writer.Write(out); err != nil {
			return fmt.Errorf("writing record batch: %w", err)
		}
		return nil
	}

	if err := w.writeRows(t, encoder, batch, flush); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing file writer: %w", err)
	}
	return nil
}

func (w *ParquetWriter) writeRows(t table.Table, encoder *table.RecordEncoder, batch int, flush func() error) error {
	it, err := t.Iterator()
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		if err := encoder.Append(it.Row()); err != nil {
			return err
		}
		if encoder.Len() >= batch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	if encoder.Len() > 0 {
		return flush()
	}
	return nil
}

func renameField(s *arrow.Schema, i int, name string) *arrow.Schema {
	fields := append([]arrow.Field(nil), s.Fields()...)
	fields[i].Name = name
	return arrow.NewSchema(fields, nil)
}

func compressionCodec(name string) (compress.Compression, error) {
	switch name {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "lz4":
		return compress.Codecs.Lz4Raw, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "uncompressed":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("unsupported parquet compression %q", name)
	}
}
