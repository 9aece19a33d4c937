package core

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colreduce/columnar"
)

type trip struct {
	ID       int64    `parquet:"id"`
	Zone     int8     `parquet:"zone"`
	Vendor   uint16   `parquet:"vendor"`
	Distance float32  `parquet:"distance"`
	Fare     *float64 `parquet:"fare,optional"`
	City     string   `parquet:"city"`
	Tip      *int32   `parquet:"tip,optional"`
	Paid     bool     `parquet:"paid"`
	Raw      []byte   `parquet:"raw"`
}

func ptr[T any](v T) *T { return &v }

func writeTrips(t *testing.T) (string, []trip) {
	t.Helper()
	trips := []trip{
		{ID: 1, Zone: -3, Vendor: 7, Distance: 1.5, Fare: ptr(10.0), City: "Oslo", Tip: ptr(int32(2)), Paid: true, Raw: []byte{1}},
		{ID: 2, Zone: 4, Vendor: 7, Distance: 2.5, City: "Lima", Paid: false, Raw: []byte{2}},
		{ID: 3, Zone: 4, Vendor: 9, Distance: 0.5, Fare: ptr(7.5), City: "Oslo", Paid: true, Raw: []byte{3}},
	}

	path := filepath.Join(t.TempDir(), "trips.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[trip](f)
	_, err = w.Write(trips)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path, trips
}

func TestParquetReader_Local(t *testing.T) {
	path, trips := writeTrips(t)

	pr, err := OpenParquet(path)
	require.NoError(t, err)
	defer pr.Close()

	assert.Equal(t, int64(len(trips)), pr.NumRows())
	assert.ElementsMatch(t, []string{"id", "zone", "vendor", "distance", "fare", "city", "tip", "paid", "raw"}, pr.ColumnNames())

	types := map[string]columnar.DataType{
		"id":       columnar.DataTypeInt64,
		"zone":     columnar.DataTypeInt8,
		"vendor":   columnar.DataTypeUint16,
		"distance": columnar.DataTypeFloat32,
		"fare":     columnar.DataTypeFloat64,
		"city":     columnar.DataTypeString,
		"tip":      columnar.DataTypeInt32,
		"paid":     columnar.DataTypeBool,
		"raw":      columnar.DataTypeBinary,
	}
	for name, want := range types {
		got, err := pr.ColumnType(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	zone, err := pr.ReadColumn("zone")
	require.NoError(t, err)
	zones, err := columnar.Values[int8](zone)
	require.NoError(t, err)
	assert.Equal(t, []int8{-3, 4, 4}, zones)

	fare, err := pr.ReadColumn("fare")
	require.NoError(t, err)
	assert.Equal(t, 3, fare.Len())
	assert.Equal(t, 1, fare.NullCount())
	assert.True(t, fare.IsNull(1))
	v, ok := fare.Value(2)
	assert.True(t, ok)
	assert.Equal(t, 7.5, v)

	city, err := pr.ReadColumn("city")
	require.NoError(t, err)
	cities, err := columnar.Values[string](city)
	require.NoError(t, err)
	assert.Equal(t, []string{"Oslo", "Lima", "Oslo"}, cities)

	raw, err := pr.ReadColumn("raw")
	require.NoError(t, err)
	blobs, err := raw.BinaryValues()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{1}, {2}, {3}}, blobs)

	_, err = pr.ReadColumn("missing")
	assert.ErrorIs(t, err, ErrColumnNotFound)
}

func TestParquetReader_HTTP(t *testing.T) {
	path, _ := writeTrips(t)
	srv := httptest.NewServer(http.FileServer(http.Dir(filepath.Dir(path))))
	defer srv.Close()

	pr, err := OpenParquet(srv.URL + "/" + filepath.Base(path))
	require.NoError(t, err)
	defer pr.Close()

	tip, err := pr.ReadColumn("tip")
	require.NoError(t, err)
	assert.Equal(t, 2, tip.NullCount())
	v, ok := tip.Value(0)
	assert.True(t, ok)
	assert.Equal(t, int32(2), v)
}

func TestIsHTTPURL(t *testing.T) {
	assert.True(t, IsHTTPURL("https://example.com/a.parquet"))
	assert.False(t, IsHTTPURL("/tmp/a.parquet"))
	assert.False(t, IsHTTPURL("s3://bucket/a.parquet"))
}
