package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IngestDropped("decode")
	m.IngestDropped("decode")
	m.IngestDropped("namespace")
	m.ObserveTick(2 * time.Millisecond)
	m.Nodes.Set(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestDrops.WithLabelValues("decode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestDrops.WithLabelValues("namespace")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.Nodes))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TickDuration))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["spacegraph_ingest_messages_dropped_total"])
	assert.True(t, names["spacegraph_core_tick_duration_seconds"])
}

func TestMetricsSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
