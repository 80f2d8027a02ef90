//nolint:testpackage // requires internal access to unexported types and functions
package monitoring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector(t *testing.T) {
	t.Run("disabled collector runs the function without recording", func(t *testing.T) {
		collector := NewMetricsCollector(false)

		callCount := 0
		err := collector.RecordOperation("partition", func() error {
			callCount++
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 1, callCount)
		assert.Empty(t, collector.GetMetrics())
	})

	t.Run("nil collector is disabled", func(t *testing.T) {
		var collector *MetricsCollector
		assert.False(t, collector.IsEnabled())

		err := collector.RecordRows("sort", func() (int64, error) { return 3, nil })
		require.NoError(t, err)
		collector.Count("passes", 1)
		assert.Zero(t, collector.Counter("passes"))
	})

	t.Run("record rows", func(t *testing.T) {
		collector := NewMetricsCollector(true)

		err := collector.RecordRows("reassemble", func() (int64, error) {
			time.Sleep(2 * time.Millisecond)
			return 42, nil
		})
		require.NoError(t, err)

		metrics := collector.GetMetrics()
		require.Len(t, metrics, 1)
		assert.Equal(t, "reassemble", metrics[0].Operation)
		assert.Equal(t, int64(42), metrics[0].RowsProcessed)
		assert.GreaterOrEqual(t, metrics[0].Duration, time.Millisecond)
		assert.False(t, metrics[0].Failed)
	})

	t.Run("failed operation is still recorded", func(t *testing.T) {
		collector := NewMetricsCollector(true)

		err := collector.RecordOperation("sort", func() error {
			return assert.AnError
		})

		assert.Equal(t, assert.AnError, err)
		metrics := collector.GetMetrics()
		require.Len(t, metrics, 1)
		assert.True(t, metrics[0].Failed)
	})

	t.Run("counters and summary", func(t *testing.T) {
		collector := NewMetricsCollector(true)
		collector.Count("passes", 1)
		collector.Count("passes", 2)
		collector.Count("evictions", 1)

		for _, op := range []string{"partition", "partition", "sort"} {
			require.NoError(t, collector.RecordRows(op, func() (int64, error) { return 10, nil }))
		}

		assert.Equal(t, int64(3), collector.Counter("passes"))

		summary := collector.GetSummary()
		assert.Equal(t, 3, summary.TotalOperations)
		assert.Equal(t, int64(30), summary.TotalRows)
		assert.Equal(t, 2, summary.OperationCounts["partition"])
		assert.Equal(t, []string{"evictions", "passes"}, summary.CounterNames())
	})

	t.Run("clear resets metrics and counters", func(t *testing.T) {
		collector := NewMetricsCollector(true)
		collector.Count("passes", 1)
		require.NoError(t, collector.RecordOperation("sort", func() error { return nil }))

		collector.Clear()
		assert.Empty(t, collector.GetMetrics())
		assert.Zero(t, collector.Counter("passes"))
		assert.Equal(t, MetricsSummary{}, collector.GetSummary())
	})
}

func TestMetricsCollectorConcurrency(t *testing.T) {
	collector := NewMetricsCollector(true)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.Count("rows", 1)
			assert.NoError(t, collector.RecordOperation("probe", func() error { return nil }))
		}()
	}
	wg.Wait()

	assert.Len(t, collector.GetMetrics(), 10)
	assert.Equal(t, int64(10), collector.Counter("rows"))
}
