package s3store

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestChunkMetricsCollect(t *testing.T) {
	m := &ChunkMetrics{}
	m.recordUploaded()
	m.recordUploaded()
	m.recordDiscarded()
	m.recordFailed()

	ch := make(chan prometheus.Metric, 3)
	m.Collect(ch)
	close(ch)

	values := map[string]float64{}
	for metric := range ch {
		var pb dto.Metric
		require.NoError(t, metric.Write(&pb))
		values[metric.Desc().String()] = pb.GetCounter().GetValue()
	}

	require.Len(t, values, 3)
}
