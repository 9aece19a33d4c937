package columnar

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	ints, err := FromNullable([]int64{5, 1, 5, 0, 9, 1}, []bool{true, true, true, false, true, true})
	require.NoError(t, err)
	strs, err := FromNullable([]string{"b", "", "a", "b"}, []bool{true, true, false, true})
	require.NoError(t, err)

	columns := map[string]*Column{
		"int64":   ints,
		"string":  strs,
		"bool":    FromSlice([]bool{true, true, false}),
		"float32": FromSlice([]float32{2.5, -1, 2.5}),
		"empty":   FromSlice([]uint8{}),
	}

	for _, ct := range []CompressionType{CompressionNone, CompressionSnappy, CompressionZstd, CompressionGzip} {
		codec, err := NewCodec(ct, CompressionLevelDefault)
		require.NoError(t, err)

		for name, col := range columns {
			t.Run(ct.String()+"/"+name, func(t *testing.T) {
				d, err := Encode(col)
				require.NoError(t, err)

				data, err := codec.Marshal(d)
				require.NoError(t, err)

				got, err := codec.Unmarshal(data)
				require.NoError(t, err)
				assert.Equal(t, d.Indices(), got.Indices())
				assert.True(t, d.Keys().Equal(got.Keys()))
				assert.True(t, d.Nulls().Equals(got.Nulls()))
			})
		}
		codec.Close()
	}
}

func TestCodecReadsAnyCompression(t *testing.T) {
	d, err := Encode(FromSlice([]int32{3, 1, 3}))
	require.NoError(t, err)

	writer, err := NewCodec(CompressionZstd, CompressionLevelBest)
	require.NoError(t, err)
	defer writer.Close()
	reader, err := NewCodec(CompressionSnappy, CompressionLevelDefault)
	require.NoError(t, err)
	defer reader.Close()

	data, err := writer.Marshal(d)
	require.NoError(t, err)
	got, err := reader.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, d.Indices(), got.Indices())
}

func TestCodecCorruption(t *testing.T) {
	codec, err := NewCodec(CompressionSnappy, CompressionLevelDefault)
	require.NoError(t, err)
	defer codec.Close()

	d, err := Encode(FromSlice([]string{"x", "y", "x"}))
	require.NoError(t, err)
	data, err := codec.Marshal(d)
	require.NoError(t, err)

	t.Run("Truncated", func(t *testing.T) {
		_, err := codec.Unmarshal(data[:headerSize-1])
		assert.ErrorIs(t, err, ErrCorruptColumn)

		_, err = codec.Unmarshal(data[:len(data)-1])
		assert.ErrorIs(t, err, ErrCorruptColumn)
	})

	t.Run("BadMagic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] ^= 0xff
		_, err := codec.Unmarshal(bad)
		assert.ErrorIs(t, err, ErrCorruptColumn)
	})

	t.Run("FlippedPayload", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[len(bad)-1] ^= 0x01
		_, err := codec.Unmarshal(bad)
		assert.ErrorIs(t, err, ErrCorruptColumn)
	})

	t.Run("FutureVersion", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		ByteOrder.PutUint16(bad[4:], MajorVersion+1)
		_, err := codec.Unmarshal(bad)
		assert.ErrorIs(t, err, ErrInvalidVersion)
	})
}

func TestParseCompressionType(t *testing.T) {
	ct, err := ParseCompressionType("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, ct)

	ct, err = ParseCompressionType("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, ct)

	_, err = ParseCompressionType("lz4")
	assert.Error(t, err)
}

func TestCompressors(t *testing.T) {
	payload := []byte(strings.Repeat("dictionary keys and indices ", 200))

	for _, ct := range []CompressionType{CompressionNone, CompressionGzip, CompressionSnappy, CompressionZstd} {
		for _, level := range []CompressionLevel{CompressionLevelDefault, CompressionLevelFastest, 6, CompressionLevelBest} {
			t.Run(fmt.Sprintf("%s/%d", ct, level), func(t *testing.T) {
				comp, err := NewCompressor(ct, level)
				require.NoError(t, err)
				defer comp.Close()
				assert.Equal(t, ct, comp.Type())

				packed, err := comp.Compress(payload)
				require.NoError(t, err)
				if ct != CompressionNone {
					assert.Less(t, len(packed), len(payload))
				}

				// twice, so pooled gzip readers and writers are reused
				for i := 0; i < 2; i++ {
					raw, err := comp.Decompress(packed)
					require.NoError(t, err)
					assert.Equal(t, payload, raw)
				}
			})
		}
	}

	t.Run("LevelOutOfRange", func(t *testing.T) {
		_, err := NewCompressor(CompressionZstd, 10)
		assert.Error(t, err)
		_, err = NewCompressor(CompressionGzip, -1)
		assert.Error(t, err)
	})

	t.Run("UnknownType", func(t *testing.T) {
		_, err := NewCompressor(CompressionType(42), CompressionLevelDefault)
		assert.Error(t, err)
		assert.Equal(t, "compression(42)", CompressionType(42).String())
	})
}
