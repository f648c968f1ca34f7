package monitor

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulwarklabs/bulwark/pkg/metrics"
)

func TestMonitor_StartEnd(t *testing.T) {
	m := New(nil, nil, nil)

	m.Start("fetch-user", map[string]string{"region": "eu"})
	time.Sleep(20 * time.Millisecond)
	duration := m.End("fetch-user")

	assert.GreaterOrEqual(t, duration, 20*time.Millisecond)

	stats := m.GetStats()
	assert.Equal(t, int64(1), stats.Count)
	assert.Equal(t, duration, stats.AverageTime)
}

func TestMonitor_RunningAverage(t *testing.T) {
	m := New(nil, nil, nil)

	for _, sleep := range []time.Duration{
		50 * time.Millisecond,
		100 * time.Millisecond,
		150 * time.Millisecond,
	} {
		m.Start("op", nil)
		time.Sleep(sleep)
		m.End("op")
	}

	stats := m.GetStats()
	assert.Equal(t, int64(3), stats.Count)
	assert.InDelta(t, float64(100*time.Millisecond), float64(stats.AverageTime), float64(40*time.Millisecond))
}

func TestMonitor_EndRecordsOperationDuration(t *testing.T) {
	met := metrics.NewMetrics(nil)
	m := New(nil, nil, met)

	m.Start("fetch-user", nil)
	m.End("fetch-user")
	m.Start("fetch-user", nil)
	m.End("fetch-user")
	m.Start("list-orders", nil)
	m.End("list-orders")

	count := testutil.CollectAndCount(met.OperationDuration, "bulwark_operation_duration_seconds")
	assert.Equal(t, 2, count, "one series per finished operation name")
}

func TestMonitor_EndWithoutStart(t *testing.T) {
	m := New(nil, nil, nil)

	assert.Equal(t, time.Duration(0), m.End("never-started"))
	assert.Equal(t, int64(0), m.GetStats().Count)
}

func TestMonitor_StartOverwritesUnfinished(t *testing.T) {
	m := New(nil, nil, nil)

	m.Start("op", nil)
	time.Sleep(30 * time.Millisecond)
	m.Start("op", nil)
	duration := m.End("op")

	// Only the second Start counts
	assert.Less(t, duration, 30*time.Millisecond)
	assert.Equal(t, int64(1), m.GetStats().Count)

	// The first record was discarded, not left in flight
	assert.Equal(t, time.Duration(0), m.End("op"))
}

func TestMonitor_FastListClassification(t *testing.T) {
	config := DefaultConfig()
	config.FastThreshold = 100 * time.Millisecond
	m := New(config, nil, nil)

	m.Start("quick", nil)
	m.End("quick")

	stats := m.GetStats()
	require.Len(t, stats.FastOperations, 1)
	assert.Equal(t, "quick", stats.FastOperations[0].Operation)
	assert.Empty(t, stats.SlowOperations)
}

func TestMonitor_SlowListClassification(t *testing.T) {
	config := DefaultConfig()
	config.SlowThreshold = 10 * time.Millisecond
	config.FastThreshold = 5 * time.Millisecond
	m := New(config, nil, nil)

	m.Start("sluggish", nil)
	time.Sleep(25 * time.Millisecond)
	m.End("sluggish")

	stats := m.GetStats()
	require.Len(t, stats.SlowOperations, 1)
	assert.Equal(t, "sluggish", stats.SlowOperations[0].Operation)
	assert.Empty(t, stats.FastOperations)
}

func TestMonitor_BoundedLists(t *testing.T) {
	config := DefaultConfig()
	config.FastThreshold = time.Second
	config.FastListSize = 5
	m := New(config, nil, nil)

	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("op-%d", i)
		m.Start(name, nil)
		m.End(name)
	}

	stats := m.GetStats()
	assert.Equal(t, int64(8), stats.Count)
	require.Len(t, stats.FastOperations, 5)

	// The list keeps the most recent records
	assert.Equal(t, "op-3", stats.FastOperations[0].Operation)
	assert.Equal(t, "op-7", stats.FastOperations[4].Operation)
}

func TestMonitor_ExportReport(t *testing.T) {
	m := New(nil, nil, nil)

	m.Start("finished", nil)
	m.End("finished")
	m.Start("pending", nil)

	data, err := m.ExportReport()
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, int64(1), report.Stats.Count)
	assert.Equal(t, []string{"pending"}, report.InFlight)
	assert.False(t, report.GeneratedAt.IsZero())
}

func TestMonitor_Reset(t *testing.T) {
	m := New(nil, nil, nil)

	m.Start("op", nil)
	m.End("op")
	m.Start("pending", nil)

	m.Reset()

	stats := m.GetStats()
	assert.Equal(t, int64(0), stats.Count)
	assert.Equal(t, time.Duration(0), stats.AverageTime)
	assert.Empty(t, stats.FastOperations)

	// In-flight records are discarded too
	assert.Equal(t, time.Duration(0), m.End("pending"))
}
