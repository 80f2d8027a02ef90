// Package memory detects heap pressure for the join engine and tracks the
// releasable resources created while a join runs.
package memory

import (
	"math"
	"runtime"
	"runtime/debug"
	"runtime/metrics"
	"sync/atomic"
)

const (
	defaultGCPressureThreshold = 0.8  // fraction of the memory limit considered "low"
	defaultMemoryThresholdMB   = 1024 // budget used when the runtime has no memory limit
	defaultPollInterval        = 1024 // IsLow calls between heap samples
	bytesToMBConversion        = 1024

	heapObjectsMetric = "/memory/classes/heap/objects:bytes"
	gcCyclesMetric    = "/gc/cycles/total:gc-cycles"
)

// Monitor reports whether the engine should shrink its in-memory working set.
type Monitor interface {
	IsLow() bool
}

// MonitorFunc adapts a function to the Monitor interface.
type MonitorFunc func() bool

// IsLow calls f.
func (f MonitorFunc) IsLow() bool { return f() }

// NeverLow is a Monitor that never reports pressure.
var NeverLow Monitor = MonitorFunc(func() bool { return false })

// AlwaysLow is a Monitor that reports pressure on every call.
var AlwaysLow Monitor = MonitorFunc(func() bool { return true })

// LowAfter reports pressure on every call after the first n calls.
type LowAfter struct {
	n     int64
	calls atomic.Int64
}

// NewLowAfter creates a monitor that turns low after n calls.
func NewLowAfter(n int64) *LowAfter {
	return &LowAfter{n: n}
}

// IsLow implements Monitor.
func (l *LowAfter) IsLow() bool {
	return l.calls.Add(1) > l.n
}

// Calls returns how often IsLow was consulted.
func (l *LowAfter) Calls() int64 {
	return l.calls.Load()
}

// HeapMonitor samples the Go heap through runtime/metrics. Once it reports
// low memory it keeps doing so until a garbage collection has completed and
// the live heap dropped back below the threshold.
type HeapMonitor struct {
	threshold    uint64
	pollInterval int
	calls        int
	low          bool
	lowAtCycle   uint64
	samples      []metrics.Sample
}

// HeapOption configures a HeapMonitor
type HeapOption func(*HeapMonitor)

// WithMemoryThreshold sets an absolute heap threshold in bytes.
func WithMemoryThreshold(bytes int64) HeapOption {
	return func(m *HeapMonitor) {
		if bytes > 0 {
			m.threshold = uint64(bytes)
		}
	}
}

// WithPollInterval sets how many IsLow calls share one heap sample.
func WithPollInterval(calls int) HeapOption {
	return func(m *HeapMonitor) {
		if calls > 0 {
			m.pollInterval = calls
		}
	}
}

// NewHeapMonitor creates a monitor whose threshold is gcPressure times the
// runtime memory limit, or times a 1GB budget when no limit is set.
func NewHeapMonitor(gcPressure float64, opts ...HeapOption) *HeapMonitor {
	if gcPressure <= 0 || gcPressure > 1 {
		gcPressure = defaultGCPressureThreshold
	}
	limit := debug.SetMemoryLimit(-1)
	budget := uint64(defaultMemoryThresholdMB * bytesToMBConversion * bytesToMBConversion)
	if limit > 0 && limit < math.MaxInt64 {
		budget = uint64(limit)
	}

	m := &HeapMonitor{
		threshold:    uint64(float64(budget) * gcPressure),
		pollInterval: defaultPollInterval,
		samples: []metrics.Sample{
			{Name: heapObjectsMetric},
			{Name: gcCyclesMetric},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Threshold returns the heap size in bytes above which memory is low.
func (m *HeapMonitor) Threshold() uint64 {
	return m.threshold
}

// IsLow implements Monitor. It is not safe for concurrent use.
func (m *HeapMonitor) IsLow() bool {
	m.calls++
	if !m.low && m.calls%m.pollInterval != 0 {
		return false
	}

	metrics.Read(m.samples)
	heap := sampleUint(m.samples[0])
	cycles := sampleUint(m.samples[1])

	if m.low {
		// sticky until the collector ran again
		if cycles <= m.lowAtCycle {
			return true
		}
		m.low = heap >= m.threshold
		m.lowAtCycle = cycles
		return m.low
	}

	if heap >= m.threshold {
		m.low = true
		m.lowAtCycle = cycles
	}
	return m.low
}

func sampleUint(s metrics.Sample) uint64 {
	if s.Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s.Value.Uint64()
}

// ForceGC runs the collector twice so finalizers release their memory
// before the caller measures the heap again.
func ForceGC() {
	runtime.GC()
	runtime.GC()
	runtime.Gosched()
}
