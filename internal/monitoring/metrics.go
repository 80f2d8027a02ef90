// Package monitoring collects timing and row-count metrics for join phases.
package monitoring

import (
	"runtime"
	"sort"
	"sync"
	"time"
)

// OperationMetrics represents performance metrics for a single join phase.
type OperationMetrics struct {
	Duration      time.Duration `json:"duration"`
	RowsProcessed int64         `json:"rows_processed"`
	MemoryUsed    int64         `json:"memory_used"`
	Operation     string        `json:"operation"`
	Failed        bool          `json:"failed"`
}

// MetricsCollector collects phase metrics and named event counters.
type MetricsCollector struct {
	mu       sync.RWMutex
	metrics  []OperationMetrics
	counters map[string]int64
	enabled  bool
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector(enabled bool) *MetricsCollector {
	return &MetricsCollector{
		metrics:  make([]OperationMetrics, 0),
		counters: make(map[string]int64),
		enabled:  enabled,
	}
}

// IsEnabled returns whether metrics collection is enabled. A nil collector is disabled.
func (mc *MetricsCollector) IsEnabled() bool {
	if mc == nil {
		return false
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.enabled
}

// RecordOperation executes the given function and records performance metrics.
func (mc *MetricsCollector) RecordOperation(operation string, fn func() error) error {
	return mc.RecordRows(operation, func() (int64, error) {
		return 0, fn()
	})
}

// RecordRows executes fn and records its duration together with the number
// of rows it reports as processed.
func (mc *MetricsCollector) RecordRows(operation string, fn func() (int64, error)) error {
	if !mc.IsEnabled() {
		_, err := fn()
		return err
	}

	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)
	start := time.Now()

	rows, err := fn()

	duration := time.Since(start)
	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)

	// TotalAlloc is monotonic, so the difference never underflows.
	memoryUsed := int64(memAfter.TotalAlloc - memBefore.TotalAlloc) //nolint:gosec // bounded by process allocations

	mc.mu.Lock()
	mc.metrics = append(mc.metrics, OperationMetrics{
		Duration:      duration,
		RowsProcessed: rows,
		MemoryUsed:    memoryUsed,
		Operation:     operation,
		Failed:        err != nil,
	})
	mc.mu.Unlock()

	return err
}

// Count adds delta to the named event counter.
func (mc *MetricsCollector) Count(name string, delta int64) {
	if !mc.IsEnabled() {
		return
	}
	mc.mu.Lock()
	mc.counters[name] += delta
	mc.mu.Unlock()
}

// Counter returns the current value of the named counter.
func (mc *MetricsCollector) Counter(name string) int64 {
	if mc == nil {
		return 0
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.counters[name]
}

// GetMetrics returns a copy of all collected metrics.
func (mc *MetricsCollector) GetMetrics() []OperationMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	result := make([]OperationMetrics, len(mc.metrics))
	copy(result, mc.metrics)
	return result
}

// Clear removes all collected metrics and counters.
func (mc *MetricsCollector) Clear() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics = mc.metrics[:0]
	mc.counters = make(map[string]int64)
}

// SetEnabled enables or disables metrics collection.
func (mc *MetricsCollector) SetEnabled(enabled bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.enabled = enabled
}

// GetSummary returns a summary of collected metrics.
func (mc *MetricsCollector) GetSummary() MetricsSummary {
	if mc == nil {
		return MetricsSummary{}
	}
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if len(mc.metrics) == 0 && len(mc.counters) == 0 {
		return MetricsSummary{}
	}

	var totalDuration time.Duration
	var totalMemory int64
	var totalRows int64
	operationCounts := make(map[string]int)

	for _, metric := range mc.metrics {
		totalDuration += metric.Duration
		totalMemory += metric.MemoryUsed
		totalRows += metric.RowsProcessed
		operationCounts[metric.Operation]++
	}

	counters := make(map[string]int64, len(mc.counters))
	for name, v := range mc.counters {
		counters[name] = v
	}

	summary := MetricsSummary{
		TotalOperations: len(mc.metrics),
		TotalDuration:   totalDuration,
		TotalMemory:     totalMemory,
		TotalRows:       totalRows,
		OperationCounts: operationCounts,
		Counters:        counters,
	}
	if len(mc.metrics) > 0 {
		summary.AverageDuration = totalDuration / time.Duration(len(mc.metrics))
	}
	return summary
}

// CounterNames returns the names of all recorded counters in sorted order.
func (s MetricsSummary) CounterNames() []string {
	names := make([]string, 0, len(s.Counters))
	for name := range s.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MetricsSummary provides aggregate statistics for collected metrics.
type MetricsSummary struct {
	TotalOperations int              `json:"total_operations"`
	TotalDuration   time.Duration    `json:"total_duration"`
	TotalMemory     int64            `json:"total_memory"`
	TotalRows       int64            `json:"total_rows"`
	OperationCounts map[string]int   `json:"operation_counts"`
	Counters        map[string]int64 `json:"counters"`
	AverageDuration time.Duration    `json:"average_duration"`
}
