package monitoring

import "sync"

// Joiners built without a collector of their own report their phases to the
// process-wide collector, if one is installed.
var (
	globalCollector *MetricsCollector
	globalMutex     sync.RWMutex
)

// SetGlobalCollector installs collector for joiners created afterwards and
// returns the one it replaces. A nil collector turns reporting off.
func SetGlobalCollector(collector *MetricsCollector) *MetricsCollector {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	previous := globalCollector
	globalCollector = collector
	return previous
}

// GetGlobalCollector returns the installed collector or nil.
func GetGlobalCollector() *MetricsCollector {
	globalMutex.RLock()
	defer globalMutex.RUnlock()
	return globalCollector
}

// EnableGlobalMonitoring installs an enabled collector unless one is already
// installed, enables it and returns it.
func EnableGlobalMonitoring() *MetricsCollector {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	if globalCollector == nil {
		globalCollector = NewMetricsCollector(true)
	}
	globalCollector.SetEnabled(true)
	return globalCollector
}

// DisableGlobalMonitoring stops recording on the installed collector. What
// it has collected stays readable.
func DisableGlobalMonitoring() {
	if c := GetGlobalCollector(); c != nil {
		c.SetEnabled(false)
	}
}

// GlobalSummary summarizes the installed collector. It is zero when none is
// installed.
func GlobalSummary() MetricsSummary {
	return GetGlobalCollector().GetSummary()
}
