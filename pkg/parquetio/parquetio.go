// Package parquetio reads and writes frame tables as Parquet files.
package parquetio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/HatiCode/ridecast/pkg/frame"
)

const defaultRowGroupSize = 1 << 16

// Options controls how tables are written.
type Options struct {
	// Compression is one of snappy (default), gzip, lz4, zstd, uncompressed.
	Compression  string
	RowGroupSize int64
}

func (o Options) codec() (compress.Compression, error) {
	switch strings.ToLower(o.Compression) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "lz4":
		return compress.Codecs.Lz4Raw, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "uncompressed", "none":
		return compress.Codecs.Uncompressed, nil
	}
	return compress.Codecs.Uncompressed, fmt.Errorf("unknown compression %q", o.Compression)
}

// Write encodes t as Parquet into w. Column arrays are written as they
// are: times as UTC microsecond timestamps, floats as float32 and ints as
// int64.
func Write(w io.Writer, t *frame.Table, opts Options) error {
	codec, err := opts.codec()
	if err != nil {
		return err
	}
	rowGroup := opts.RowGroupSize
	if rowGroup <= 0 {
		rowGroup = defaultRowGroupSize
	}

	mem := memory.NewGoAllocator()
	rec := toRecord(t)
	defer rec.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithMaxRowGroupLength(rowGroup),
		parquet.WithAllocator(mem),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(mem), pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(rec.Schema(), w, props, arrowProps)
	if err != nil {
		return fmt.Errorf("creating file writer: %w", err)
	}
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("writing record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing file writer: %w", err)
	}
	return nil
}

// WriteFile writes t to path, replacing any existing file.
func WriteFile(path string, t *frame.Table, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, t, opts); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Read decodes a Parquet stream. Pandas index columns are skipped.
func Read(ctx context.Context, r io.Reader) (*frame.Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading data: %w", err)
	}
	return readFrom(ctx, bytes.NewReader(data))
}

// ReadFile reads the Parquet file at path.
func ReadFile(ctx context.Context, path string) (*frame.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := readFrom(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

func readFrom(ctx context.Context, r parquet.ReaderAtSeeker) (*frame.Table, error) {
	pqReader, err := file.NewParquetReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating parquet file reader: %w", err)
	}
	defer pqReader.Close()

	mem := memory.NewGoAllocator()
	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("creating arrow file reader: %w", err)
	}
	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading table: %w", err)
	}
	defer table.Release()
	return fromTable(table, mem)
}

func toRecord(t *frame.Table) arrow.Record {
	fields := make([]arrow.Field, 0, t.Width())
	arrs := make([]arrow.Array, 0, t.Width())
	defer func() {
		for _, a := range arrs {
			a.Release()
		}
	}()
	for _, c := range t.Columns() {
		arr := c.Array()
		arrs = append(arrs, arr)
		fields = append(fields, arrow.Field{Name: c.Name(), Type: arr.DataType(), Nullable: true})
	}
	schema := arrow.NewSchema(fields, nil)
	return array.NewRecord(schema, arrs, int64(t.Len()))
}

func fromTable(table arrow.Table, mem memory.Allocator) (*frame.Table, error) {
	schema := table.Schema()
	cols := make([]*frame.Column, 0, table.NumCols())
	for i := range int(table.NumCols()) {
		field := schema.Field(i)
		if strings.HasPrefix(field.Name, "__index_level_") {
			continue
		}
		c, err := fromChunked(field.Name, table.Column(i).Data(), mem)
		if err != nil {
			return nil, fmt.Errorf("converting column %s: %w", field.Name, err)
		}
		cols = append(cols, c)
	}
	return frame.New(cols...)
}

// fromChunked joins the row-group chunks of one column into a single array.
func fromChunked(name string, chunked *arrow.Chunked, mem memory.Allocator) (*frame.Column, error) {
	chunks := chunked.Chunks()
	if len(chunks) == 1 {
		return frame.FromArray(name, chunks[0])
	}
	if len(chunks) == 0 {
		arr := array.MakeArrayOfNull(mem, chunked.DataType(), 0)
		defer arr.Release()
		return frame.FromArray(name, arr)
	}
	arr, err := array.Concatenate(chunks, mem)
	if err != nil {
		return nil, err
	}
	defer arr.Release()
	return frame.FromArray(name, arr)
}
