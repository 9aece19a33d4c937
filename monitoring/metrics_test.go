package monitoring

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"colreduce/columnar"
	"colreduce/reduction"
)

func TestMetrics_ObserveReduce(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveReduce(reduction.KindMax, columnar.DataTypeInt32, true, 100, time.Millisecond, nil)
	m.ObserveReduce(reduction.KindMax, columnar.DataTypeInt32, true, 50, time.Millisecond, nil)
	m.ObserveReduce(reduction.KindMax, columnar.DataTypeInt32, false, 10, time.Millisecond, errors.New("boom"))

	require.Equal(t, float64(2), testutil.ToFloat64(m.Reductions.WithLabelValues("MAX", "INT32", "dictionary", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Reductions.WithLabelValues("MAX", "INT32", "plain", "error")))
	require.Equal(t, float64(150), testutil.ToFloat64(m.ReductionRows.WithLabelValues("MAX", "dictionary")))
	require.Equal(t, 1, testutil.CollectAndCount(m.ReductionTime))
}

func TestMetrics_ReducerObserver(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	r := reduction.New(reduction.WithObserver(m))

	col := columnar.FromSlice([]float32{1, 2, 3})
	_, err := r.ReduceDefault(col, reduction.MustDescriptor(reduction.KindMean, columnar.DataTypeFloat32))
	require.NoError(t, err)

	require.Equal(t, float64(1), testutil.ToFloat64(m.Reductions.WithLabelValues("MEAN", "FLOAT32", "plain", "ok")))
	require.Equal(t, float64(3), testutil.ToFloat64(m.ReductionRows.WithLabelValues("MEAN", "plain")))
}

func TestMetrics_EncodeAndCatalog(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveEncode(columnar.DataTypeString, 1000, time.Millisecond, nil)
	m.ObserveEncode(columnar.DataTypeBinary, 10, time.Millisecond, errors.New("binary"))
	m.SetColumn("trips", "fare", 42)
	m.SetCatalogSize(1)

	require.Equal(t, float64(1000), testutil.ToFloat64(m.EncodedRows))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Encodes.WithLabelValues("BINARY", "error")))
	require.Equal(t, float64(42), testutil.ToFloat64(m.Cardinality.WithLabelValues("trips", "fare")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.CatalogColumns))

	m.DropColumn("trips", "fare")
	require.Equal(t, 0, testutil.CollectAndCount(m.Cardinality))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.SetCatalogSize(3)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "colreduce_catalog_columns 3")
}
