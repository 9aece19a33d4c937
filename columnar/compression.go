package columnar

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// CompressionType selects how a column payload is compressed. The value is
// stored in the column header, so existing values must not be renumbered.
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionGzip   CompressionType = 1
	CompressionSnappy CompressionType = 2
	CompressionZstd   CompressionType = 3
)

var compressionNames = map[CompressionType]string{
	CompressionNone:   "none",
	CompressionGzip:   "gzip",
	CompressionSnappy: "snappy",
	CompressionZstd:   "zstd",
}

func (ct CompressionType) String() string {
	if name, ok := compressionNames[ct]; ok {
		return name
	}
	return fmt.Sprintf("compression(%d)", uint8(ct))
}

// ParseCompressionType parses "none", "gzip", "snappy" or "zstd"
func ParseCompressionType(name string) (CompressionType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return CompressionNone, nil
	}
	for ct, n := range compressionNames {
		if n == name {
			return ct, nil
		}
	}
	return CompressionNone, fmt.Errorf("unsupported compression type: %q", name)
}

// CompressionLevel runs from 1 (fastest) to 9 (smallest); 0 picks the
// algorithm's default. Snappy has no levels.
type CompressionLevel int

const (
	CompressionLevelDefault CompressionLevel = 0
	CompressionLevelFastest CompressionLevel = 1
	CompressionLevelBest    CompressionLevel = 9
)

// Validate rejects levels outside [0, 9]
func (l CompressionLevel) Validate() error {
	if l < CompressionLevelDefault || l > CompressionLevelBest {
		return fmt.Errorf("compression level %d out of range [0, 9]", int(l))
	}
	return nil
}

func (l CompressionLevel) gzip() int {
	if l == CompressionLevelDefault {
		return gzip.DefaultCompression
	}
	return int(l)
}

// zstd levels 1-9 fold onto the encoder's four speeds
func (l CompressionLevel) zstd() zstd.EncoderLevel {
	if l == CompressionLevelDefault {
		return zstd.SpeedDefault
	}
	return zstd.EncoderLevelFromZstd(int(l))
}

// Compressor compresses whole payloads. Implementations are safe for
// concurrent use.
type Compressor interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
	Type() CompressionType
	Close() error
}

// NewCompressor returns the compressor for ct at level
func NewCompressor(ct CompressionType, level CompressionLevel) (Compressor, error) {
	if err := level.Validate(); err != nil {
		return nil, err
	}
	switch ct {
	case CompressionNone:
		return passthrough{}, nil
	case CompressionSnappy:
		return snappyCompressor{}, nil
	case CompressionZstd:
		return newZstdCompressor(level)
	case CompressionGzip:
		return newGzipCompressor(level), nil
	}
	return nil, fmt.Errorf("unsupported compression type: %d", uint8(ct))
}

type passthrough struct{}

func (passthrough) Compress(src []byte) ([]byte, error)   { return src, nil }
func (passthrough) Decompress(src []byte) ([]byte, error) { return src, nil }
func (passthrough) Type() CompressionType                 { return CompressionNone }
func (passthrough) Close() error                          { return nil }

type snappyCompressor struct{}

func (snappyCompressor) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCompressor) Decompress(src []byte) ([]byte, error) {
	return snappy.Decode(nil, src)
}

func (snappyCompressor) Type() CompressionType { return CompressionSnappy }
func (snappyCompressor) Close() error          { return nil }

// zstdCompressor shares one encoder and one decoder; EncodeAll and
// DecodeAll may be called concurrently.
type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCompressor(level CompressionLevel) (*zstdCompressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level.zstd()))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &zstdCompressor{encoder: encoder, decoder: decoder}, nil
}

func (z *zstdCompressor) Compress(src []byte) ([]byte, error) {
	return z.encoder.EncodeAll(src, nil), nil
}

func (z *zstdCompressor) Decompress(src []byte) ([]byte, error) {
	return z.decoder.DecodeAll(src, nil)
}

func (z *zstdCompressor) Type() CompressionType { return CompressionZstd }

func (z *zstdCompressor) Close() error {
	z.decoder.Close()
	return z.encoder.Close()
}

// gzipCompressor reuses writers and readers across calls
type gzipCompressor struct {
	writers sync.Pool
	readers sync.Pool
}

func newGzipCompressor(level CompressionLevel) *gzipCompressor {
	g := &gzipCompressor{}
	g.writers.New = func() any {
		// level was validated, NewWriterLevel cannot fail
		w, _ := gzip.NewWriterLevel(io.Discard, level.gzip())
		return w
	}
	return g
}

func (g *gzipCompressor) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := g.writers.Get().(*gzip.Writer)
	defer g.writers.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *gzipCompressor) Decompress(src []byte) ([]byte, error) {
	var (
		r   *gzip.Reader
		err error
	)
	if pooled, ok := g.readers.Get().(*gzip.Reader); ok {
		r = pooled
		err = r.Reset(bytes.NewReader(src))
	} else {
		r, err = gzip.NewReader(bytes.NewReader(src))
	}
	if err != nil {
		return nil, err
	}
	defer g.readers.Put(r)

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, r.Close()
}

func (g *gzipCompressor) Type() CompressionType { return CompressionGzip }
func (g *gzipCompressor) Close() error          { return nil }
