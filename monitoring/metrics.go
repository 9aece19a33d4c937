package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"colreduce/columnar"
	"colreduce/reduction"
)

// Metrics holds the prometheus metrics for encoding, reduction and the
// catalog. It implements reduction.Observer.
type Metrics struct {
	Reductions     *prometheus.CounterVec
	ReductionRows  *prometheus.CounterVec
	ReductionTime  *prometheus.HistogramVec
	Encodes        *prometheus.CounterVec
	EncodedRows    prometheus.Counter
	EncodeTime     prometheus.Histogram
	Cardinality    *prometheus.GaugeVec
	CatalogColumns prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the provided registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	reductions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "colreduce_reductions_total",
		Help: "Reductions by kind, element type, representation and status",
	}, []string{"kind", "type", "representation", "status"})

	reductionRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "colreduce_reduction_rows_total",
		Help: "Rows scanned by reductions",
	}, []string{"kind", "representation"})

	reductionTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "colreduce_reduction_duration_seconds",
		Help:    "Reduction latency",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
	}, []string{"kind", "representation"})

	encodes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "colreduce_encodes_total",
		Help: "Dictionary encodes by element type and status",
	}, []string{"type", "status"})

	encodedRows := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "colreduce_encoded_rows_total",
		Help: "Rows dictionary encoded",
	})

	encodeTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "colreduce_encode_duration_seconds",
		Help:    "Dictionary encode latency",
		Buckets: prometheus.ExponentialBuckets(1e-5, 4, 12),
	})

	cardinality := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "colreduce_dictionary_cardinality",
		Help: "Distinct keys per catalog column",
	}, []string{"table", "column"})

	catalogColumns := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "colreduce_catalog_columns",
		Help: "Columns registered in the catalog",
	})

	reg.MustRegister(reductions, reductionRows, reductionTime, encodes, encodedRows, encodeTime, cardinality, catalogColumns)

	return &Metrics{
		Reductions:     reductions,
		ReductionRows:  reductionRows,
		ReductionTime:  reductionTime,
		Encodes:        encodes,
		EncodedRows:    encodedRows,
		EncodeTime:     encodeTime,
		Cardinality:    cardinality,
		CatalogColumns: catalogColumns,
	}
}

func representation(dictionary bool) string {
	if dictionary {
		return "dictionary"
	}
	return "plain"
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveReduce records one reduction
func (m *Metrics) ObserveReduce(kind reduction.Kind, input columnar.DataType, dictionary bool, rows int, elapsed time.Duration, err error) {
	repr := representation(dictionary)
	m.Reductions.WithLabelValues(kind.String(), input.String(), repr, status(err)).Inc()
	if err != nil {
		return
	}
	m.ReductionRows.WithLabelValues(kind.String(), repr).Add(float64(rows))
	m.ReductionTime.WithLabelValues(kind.String(), repr).Observe(elapsed.Seconds())
}

// ObserveEncode records one dictionary encode
func (m *Metrics) ObserveEncode(input columnar.DataType, rows int, elapsed time.Duration, err error) {
	m.Encodes.WithLabelValues(input.String(), status(err)).Inc()
	if err != nil {
		return
	}
	m.EncodedRows.Add(float64(rows))
	m.EncodeTime.Observe(elapsed.Seconds())
}

// SetColumn records a registered column's cardinality
func (m *Metrics) SetColumn(table, column string, cardinality int) {
	m.Cardinality.WithLabelValues(table, column).Set(float64(cardinality))
}

// DropColumn forgets a column's cardinality
func (m *Metrics) DropColumn(table, column string) {
	m.Cardinality.DeleteLabelValues(table, column)
}

// SetCatalogSize records the number of registered columns
func (m *Metrics) SetCatalogSize(n int) {
	m.CatalogColumns.Set(float64(n))
}

// Handler serves the registry in the prometheus exposition format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
