package columnar

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"
)

// columnHeader prefixes every serialized dictionary column
type columnHeader struct {
	Magic       uint32
	Major       uint16
	Minor       uint16
	DataType    uint8
	Compression uint8
	Flags       uint16
	Rows        uint32
	Cardinality uint32
	RawSize     uint32 // payload size before compression
	PayloadSize uint32 // payload size as stored
	Checksum    uint64 // xxhash of the stored payload
}

var headerSize = binary.Size(columnHeader{})

// Codec serializes dictionary columns. The payload (keys, indices, null
// bitmap) is compressed with the codec's compression type; Unmarshal reads
// any compression type recorded in the header. A Codec is safe for
// concurrent use.
type Codec struct {
	compression CompressionType
	level       CompressionLevel

	mu          sync.Mutex
	compressors map[CompressionType]Compressor
}

// NewCodec creates a codec writing with the given compression
func NewCodec(compression CompressionType, level CompressionLevel) (*Codec, error) {
	c := &Codec{
		compression: compression,
		level:       level,
		compressors: make(map[CompressionType]Compressor),
	}
	if _, err := c.compressor(compression); err != nil {
		return nil, err
	}
	return c, nil
}

// Compression returns the compression used by Marshal
func (c *Codec) Compression() CompressionType { return c.compression }

func (c *Codec) compressor(ct CompressionType) (Compressor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if comp, ok := c.compressors[ct]; ok {
		return comp, nil
	}
	comp, err := NewCompressor(ct, c.level)
	if err != nil {
		return nil, err
	}
	c.compressors[ct] = comp
	return comp, nil
}

// Close releases compressor resources
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, comp := range c.compressors {
		comp.Close()
	}
	c.compressors = make(map[CompressionType]Compressor)
}

// Marshal serializes d
func (c *Codec) Marshal(d *DictionaryColumn) ([]byte, error) {
	body := new(bytes.Buffer)
	if err := writeKeys(body, d.keys); err != nil {
		return nil, fmt.Errorf("failed to write keys: %w", err)
	}
	if err := binary.Write(body, ByteOrder, d.indices); err != nil {
		return nil, fmt.Errorf("failed to write indices: %w", err)
	}
	if _, err := d.nulls.WriteTo(body); err != nil {
		return nil, fmt.Errorf("failed to serialize null bitmap: %w", err)
	}

	comp, err := c.compressor(c.compression)
	if err != nil {
		return nil, err
	}
	payload, err := comp.Compress(body.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to compress column: %w", err)
	}

	header := columnHeader{
		Magic:       MagicNumber,
		Major:       MajorVersion,
		Minor:       MinorVersion,
		DataType:    uint8(d.keys.dataType),
		Compression: uint8(c.compression),
		Rows:        uint32(len(d.indices)),
		Cardinality: uint32(d.keys.length),
		RawSize:     uint32(body.Len()),
		PayloadSize: uint32(len(payload)),
		Checksum:    xxhash.Sum64(payload),
	}

	out := bytes.NewBuffer(make([]byte, 0, headerSize+len(payload)))
	if err := binary.Write(out, ByteOrder, header); err != nil {
		return nil, err
	}
	out.Write(payload)
	return out.Bytes(), nil
}

// Unmarshal parses data produced by Marshal
func (c *Codec) Unmarshal(data []byte) (*DictionaryColumn, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptColumn, len(data))
	}

	var header columnHeader
	if err := binary.Read(bytes.NewReader(data[:headerSize]), ByteOrder, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptColumn, err)
	}
	if header.Magic != MagicNumber {
		return nil, fmt.Errorf("%w: bad magic number %#x", ErrCorruptColumn, header.Magic)
	}
	if header.Major != MajorVersion {
		return nil, fmt.Errorf("%w: %d.%d", ErrInvalidVersion, header.Major, header.Minor)
	}

	payload := data[headerSize:]
	if uint32(len(payload)) != header.PayloadSize {
		return nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrCorruptColumn, len(payload), header.PayloadSize)
	}
	if xxhash.Sum64(payload) != header.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptColumn)
	}

	comp, err := c.compressor(CompressionType(header.Compression))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptColumn, err)
	}
	raw, err := comp.Decompress(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decompress: %v", ErrCorruptColumn, err)
	}
	if uint32(len(raw)) != header.RawSize {
		return nil, fmt.Errorf("%w: decompressed %d bytes, header says %d", ErrCorruptColumn, len(raw), header.RawSize)
	}

	dt := DataType(header.DataType)
	r := bytes.NewReader(raw)
	keys, err := readKeys(r, dt, int(header.Cardinality))
	if err != nil {
		return nil, fmt.Errorf("%w: keys: %v", ErrCorruptColumn, err)
	}
	indices, err := readFixed[int32](r, int(header.Rows))
	if err != nil {
		return nil, fmt.Errorf("%w: indices: %v", ErrCorruptColumn, err)
	}
	nulls := roaring.New()
	if _, err := nulls.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("%w: null bitmap: %v", ErrCorruptColumn, err)
	}

	d, err := NewDictionaryColumn(keys, indices)
	if err != nil {
		return nil, err
	}
	if !d.nulls.Equals(nulls) {
		return nil, fmt.Errorf("%w: null bitmap disagrees with indices", ErrCorruptColumn)
	}
	return d, nil
}

func writeKeys(w *bytes.Buffer, keys *Column) error {
	if strs, ok := keys.data.([]string); ok {
		for _, s := range strs {
			if err := binary.Write(w, ByteOrder, uint32(len(s))); err != nil {
				return err
			}
			w.WriteString(s)
		}
		return nil
	}
	return binary.Write(w, ByteOrder, keys.data)
}

func readKeys(r *bytes.Reader, dt DataType, n int) (*Column, error) {
	var (
		data any
		err  error
	)
	switch dt {
	case DataTypeInt8:
		data, err = readFixed[int8](r, n)
	case DataTypeInt16:
		data, err = readFixed[int16](r, n)
	case DataTypeInt32:
		data, err = readFixed[int32](r, n)
	case DataTypeInt64:
		data, err = readFixed[int64](r, n)
	case DataTypeUint8:
		data, err = readFixed[uint8](r, n)
	case DataTypeUint16:
		data, err = readFixed[uint16](r, n)
	case DataTypeUint32:
		data, err = readFixed[uint32](r, n)
	case DataTypeUint64:
		data, err = readFixed[uint64](r, n)
	case DataTypeFloat32:
		data, err = readFixed[float32](r, n)
	case DataTypeFloat64:
		data, err = readFixed[float64](r, n)
	case DataTypeBool:
		data, err = readFixed[bool](r, n)
	case DataTypeString:
		data, err = readStrings(r, n)
	default:
		return nil, &TypeError{Op: "unmarshal", DataType: dt, Reason: "not a dictionary key type"}
	}
	if err != nil {
		return nil, err
	}
	return newColumn(dt, data, nil, n), nil
}

func readFixed[T Element](r *bytes.Reader, n int) ([]T, error) {
	// guard against absurd counts before allocating
	var zero T
	if size := binary.Size(zero); size > 0 && n > r.Len()/size {
		return nil, io.ErrUnexpectedEOF
	}
	out := make([]T, n)
	if err := binary.Read(r, ByteOrder, out); err != nil {
		return nil, err
	}
	return out, nil
}

func readStrings(r *bytes.Reader, n int) ([]string, error) {
	if n > r.Len()/4 {
		return nil, io.ErrUnexpectedEOF
	}
	out := make([]string, n)
	for i := range out {
		var length uint32
		if err := binary.Read(r, ByteOrder, &length); err != nil {
			return nil, err
		}
		if int(length) > r.Len() {
			return nil, io.ErrUnexpectedEOF
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		out[i] = string(buf)
	}
	return out, nil
}
