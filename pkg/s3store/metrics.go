package s3store

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	chunksUploadedDesc = prometheus.NewDesc(
		"s3tus_chunks_uploaded_total",
		"Number of chunks successfully uploaded as S3 parts.",
		nil, nil)
	chunksDiscardedDesc = prometheus.NewDesc(
		"s3tus_chunks_discarded_total",
		"Number of chunks discarded under the small-tail policy.",
		nil, nil)
	chunksFailedDesc = prometheus.NewDesc(
		"s3tus_chunks_failed_total",
		"Number of chunks whose part upload failed.",
		nil, nil)
)

// ChunkMetrics counts the outcome of every chunk a Coordinator processes.
// The zero value is ready to use.
type ChunkMetrics struct {
	uploaded  uint64
	discarded uint64
	failed    uint64
}

func (m *ChunkMetrics) recordUploaded()  { atomic.AddUint64(&m.uploaded, 1) }
func (m *ChunkMetrics) recordDiscarded() { atomic.AddUint64(&m.discarded, 1) }
func (m *ChunkMetrics) recordFailed()    { atomic.AddUint64(&m.failed, 1) }

// Describe implements prometheus.Collector.
func (m *ChunkMetrics) Describe(descs chan<- *prometheus.Desc) {
	descs <- chunksUploadedDesc
	descs <- chunksDiscardedDesc
	descs <- chunksFailedDesc
}

// Collect implements prometheus.Collector.
func (m *ChunkMetrics) Collect(metrics chan<- prometheus.Metric) {
	metrics <- prometheus.MustNewConstMetric(chunksUploadedDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&m.uploaded)))
	metrics <- prometheus.MustNewConstMetric(chunksDiscardedDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&m.discarded)))
	metrics <- prometheus.MustNewConstMetric(chunksFailedDesc, prometheus.CounterValue, float64(atomic.LoadUint64(&m.failed)))
}
