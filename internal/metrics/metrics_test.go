package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveWrite("CREATED", 10*time.Millisecond)
	m.ObserveWrite("CREATED", 20*time.Millisecond)
	m.ObserveWrite("SKIPPED", time.Millisecond)
	m.ObserveError("STORAGE_FATAL", time.Millisecond)
	m.ObserveRetry("blob put")
	m.ObserveRetry("blob put")
	m.ObserveRollback(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.writes.WithLabelValues("CREATED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writes.WithLabelValues("SKIPPED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.writeErrors.WithLabelValues("STORAGE_FATAL")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.retries.WithLabelValues("blob put")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rollbacks))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.rollbackDeleted))

	n, err := testutil.GatherAndCount(reg, "docseed_bundle_write_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveWrite("CREATED", time.Second)
	m.ObserveError("VALIDATION", time.Second)
	m.ObserveRetry("op")
	m.ObserveRollback(1)
}

func TestMetrics_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveWrite("MODIFIED", time.Millisecond)

	path := filepath.Join(t.TempDir(), "docseed.prom")
	require.NoError(t, WriteTextfile(reg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `docseed_bundle_writes_total{outcome="MODIFIED"} 1`)
}
