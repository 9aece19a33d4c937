package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/format"
	"go.uber.org/zap"
	"howett.net/ranger"

	"colreduce/columnar"
	"colreduce/logger"
)

// ErrColumnNotFound is returned for names missing from the file schema
var ErrColumnNotFound = errors.New("column not found")

// readBatch is the number of values read from a page at a time
const readBatch = 4096

// ParquetReader reads whole columns of a parquet file, local or remote, into
// columnar.Column values.
type ParquetReader struct {
	path   string
	file   *parquet.File
	closer io.Closer
	logger *zap.Logger
}

// OpenParquet opens a local file or an http(s) URL. Remote files are read
// with HTTP range requests.
func OpenParquet(path string) (*ParquetReader, error) {
	if IsHTTPURL(path) {
		return openHTTPParquet(path)
	}
	return openLocalParquet(path)
}

// IsHTTPURL reports whether path is an http or https URL
func IsHTTPURL(path string) bool {
	u, err := url.Parse(path)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func openLocalParquet(path string) (*ParquetReader, error) {
	log := logger.Named(logger.ComponentParquet)
	start := time.Now()

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to get file stats: %w", err)
	}

	pf, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}

	log.Debug("parquet file opened",
		zap.String("file", path),
		zap.Int64("size_bytes", stat.Size()),
		zap.Int("row_groups", len(pf.RowGroups())),
		zap.Int64("rows", pf.NumRows()),
		zap.Duration("elapsed", time.Since(start)))

	return &ParquetReader{path: path, file: pf, closer: file, logger: log}, nil
}

func openHTTPParquet(urlStr string) (*ParquetReader, error) {
	log := logger.Named(logger.ComponentParquet)

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	reader, err := ranger.NewReader(&ranger.HTTPRanger{URL: parsedURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP reader: %w", err)
	}
	length, err := reader.Length()
	if err != nil {
		return nil, fmt.Errorf("failed to get HTTP content length: %w", err)
	}

	pf, err := parquet.OpenFile(reader, length)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote parquet file: %w", err)
	}

	log.Debug("remote parquet file opened",
		zap.String("url", urlStr),
		zap.Int64("size_bytes", length),
		zap.Int64("rows", pf.NumRows()))

	return &ParquetReader{path: urlStr, file: pf, logger: log}, nil
}

// Close releases the underlying file
func (pr *ParquetReader) Close() error {
	if pr.closer != nil {
		return pr.closer.Close()
	}
	return nil
}

// Path returns the path or URL the reader was opened with
func (pr *ParquetReader) Path() string { return pr.path }

// NumRows returns the total row count over all row groups
func (pr *ParquetReader) NumRows() int64 { return pr.file.NumRows() }

// ColumnNames returns the top-level leaf column names
func (pr *ParquetReader) ColumnNames() []string {
	var names []string
	for _, field := range pr.file.Schema().Fields() {
		if field.Leaf() {
			names = append(names, field.Name())
		}
	}
	return names
}

// ColumnType returns the DataType a column is read as
func (pr *ParquetReader) ColumnType(name string) (columnar.DataType, error) {
	leaf, err := pr.lookup(name)
	if err != nil {
		return 0, err
	}
	return dataTypeOf(leaf.Node.Type())
}

func (pr *ParquetReader) lookup(name string) (parquet.LeafColumn, error) {
	leaf, ok := pr.file.Schema().Lookup(name)
	if !ok {
		return leaf, fmt.Errorf("%w: %s", ErrColumnNotFound, name)
	}
	if leaf.MaxRepetitionLevel > 0 {
		return leaf, fmt.Errorf("column %s is repeated, only flat columns can be read", name)
	}
	return leaf, nil
}

// dataTypeOf maps a parquet physical type and its logical annotation
func dataTypeOf(t parquet.Type) (columnar.DataType, error) {
	lt := t.LogicalType()
	var integer *format.IntType
	if lt != nil {
		integer = lt.Integer
	}

	switch t.Kind() {
	case parquet.Boolean:
		return columnar.DataTypeBool, nil
	case parquet.Int32:
		if integer == nil {
			return columnar.DataTypeInt32, nil
		}
		switch {
		case integer.BitWidth == 8 && integer.IsSigned:
			return columnar.DataTypeInt8, nil
		case integer.BitWidth == 8:
			return columnar.DataTypeUint8, nil
		case integer.BitWidth == 16 && integer.IsSigned:
			return columnar.DataTypeInt16, nil
		case integer.BitWidth == 16:
			return columnar.DataTypeUint16, nil
		case !integer.IsSigned:
			return columnar.DataTypeUint32, nil
		}
		return columnar.DataTypeInt32, nil
	case parquet.Int64:
		if integer != nil && !integer.IsSigned {
			return columnar.DataTypeUint64, nil
		}
		return columnar.DataTypeInt64, nil
	case parquet.Float:
		return columnar.DataTypeFloat32, nil
	case parquet.Double:
		return columnar.DataTypeFloat64, nil
	case parquet.ByteArray, parquet.FixedLenByteArray:
		if lt != nil && (lt.UTF8 != nil || lt.Enum != nil || lt.Json != nil) {
			return columnar.DataTypeString, nil
		}
		return columnar.DataTypeBinary, nil
	}
	return 0, fmt.Errorf("unsupported parquet type %s", t)
}

// ReadColumn reads every row of a flat column. Undefined values become nulls.
func (pr *ParquetReader) ReadColumn(name string) (*columnar.Column, error) {
	start := time.Now()

	leaf, err := pr.lookup(name)
	if err != nil {
		return nil, err
	}
	dt, err := dataTypeOf(leaf.Node.Type())
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", name, err)
	}

	b := newColumnBuilder(dt, int(pr.file.NumRows()))
	buf := make([]parquet.Value, readBatch)
	for i, rg := range pr.file.RowGroups() {
		if err := readChunk(rg.ColumnChunks()[leaf.ColumnIndex], buf, b); err != nil {
			return nil, fmt.Errorf("column %s, row group %d: %w", name, i, err)
		}
	}

	col, err := b.build()
	if err != nil {
		return nil, err
	}
	pr.logger.Debug("column read",
		zap.String("file", pr.path),
		zap.String("column", name),
		zap.Stringer("type", dt),
		zap.Int("rows", col.Len()),
		zap.Int("nulls", col.NullCount()),
		zap.Duration("elapsed", time.Since(start)))
	return col, nil
}

func readChunk(chunk parquet.ColumnChunk, buf []parquet.Value, b columnBuilder) error {
	pages := chunk.Pages()
	defer pages.Close()

	for {
		page, err := pages.ReadPage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		values := page.Values()
		for {
			n, err := values.ReadValues(buf)
			for _, v := range buf[:n] {
				b.append(v)
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				parquet.Release(page)
				return err
			}
		}
		parquet.Release(page)
	}
}

type columnBuilder interface {
	append(v parquet.Value)
	build() (*columnar.Column, error)
}

type typedBuilder[T columnar.Element] struct {
	values  []T
	valid   []bool
	convert func(parquet.Value) T
}

func (b *typedBuilder[T]) append(v parquet.Value) {
	if v.IsNull() {
		var zero T
		b.values = append(b.values, zero)
		b.valid = append(b.valid, false)
		return
	}
	b.values = append(b.values, b.convert(v))
	b.valid = append(b.valid, true)
}

func (b *typedBuilder[T]) build() (*columnar.Column, error) {
	return columnar.FromNullable(b.values, b.valid)
}

func newTyped[T columnar.Element](capacity int, convert func(parquet.Value) T) *typedBuilder[T] {
	return &typedBuilder[T]{
		values:  make([]T, 0, capacity),
		valid:   make([]bool, 0, capacity),
		convert: convert,
	}
}

type binaryBuilder struct {
	values [][]byte
	valid  []bool
}

func (b *binaryBuilder) append(v parquet.Value) {
	if v.IsNull() {
		b.values = append(b.values, nil)
		b.valid = append(b.valid, false)
		return
	}
	// page buffers are recycled on release
	b.values = append(b.values, bytes.Clone(v.ByteArray()))
	b.valid = append(b.valid, true)
}

func (b *binaryBuilder) build() (*columnar.Column, error) {
	return columnar.NewBinaryColumn(b.values, b.valid)
}

func newColumnBuilder(dt columnar.DataType, capacity int) columnBuilder {
	switch dt {
	case columnar.DataTypeInt8:
		return newTyped(capacity, func(v parquet.Value) int8 { return int8(v.Int32()) })
	case columnar.DataTypeInt16:
		return newTyped(capacity, func(v parquet.Value) int16 { return int16(v.Int32()) })
	case columnar.DataTypeInt32:
		return newTyped(capacity, func(v parquet.Value) int32 { return v.Int32() })
	case columnar.DataTypeInt64:
		return newTyped(capacity, func(v parquet.Value) int64 { return v.Int64() })
	case columnar.DataTypeUint8:
		return newTyped(capacity, func(v parquet.Value) uint8 { return uint8(v.Int32()) })
	case columnar.DataTypeUint16:
		return newTyped(capacity, func(v parquet.Value) uint16 { return uint16(v.Int32()) })
	case columnar.DataTypeUint32:
		return newTyped(capacity, func(v parquet.Value) uint32 { return uint32(v.Int32()) })
	case columnar.DataTypeUint64:
		return newTyped(capacity, func(v parquet.Value) uint64 { return uint64(v.Int64()) })
	case columnar.DataTypeFloat32:
		return newTyped(capacity, func(v parquet.Value) float32 { return v.Float() })
	case columnar.DataTypeFloat64:
		return newTyped(capacity, func(v parquet.Value) float64 { return v.Double() })
	case columnar.DataTypeBool:
		return newTyped(capacity, func(v parquet.Value) bool { return v.Boolean() })
	case columnar.DataTypeString:
		return newTyped(capacity, func(v parquet.Value) string { return string(v.ByteArray()) })
	}
	return &binaryBuilder{values: make([][]byte, 0, capacity), valid: make([]bool, 0, capacity)}
}
