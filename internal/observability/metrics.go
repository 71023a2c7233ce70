package observability

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/timfallmk/hostpulse/internal/logging"
)

// MetricType represents the type of metric
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric represents a single metric data point
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Unit      string            `json:"unit,omitempty"`
}

func (m *Metric) clone() *Metric {
	c := *m
	c.Labels = copyLabels(m.Labels)
	return &c
}

// copyLabels returns an independent copy so callers may reuse their map.
func copyLabels(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// MetricsCollector keeps the latest value of every metric in memory and
// periodically writes them to the metrics log.
type MetricsCollector struct {
	logger        *logging.MetricsLogger
	metrics       map[string]*Metric
	mu            sync.RWMutex
	flushInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewMetricsCollector starts a collector that flushes every flushInterval.
// A non-positive interval disables periodic flushing; Close still flushes.
func NewMetricsCollector(logger *logging.Logger, flushInterval time.Duration) *MetricsCollector {
	ctx, cancel := context.WithCancel(context.Background())

	mc := &MetricsCollector{
		logger:        logging.NewMetricsLogger(logger),
		metrics:       make(map[string]*Metric),
		flushInterval: flushInterval,
		ctx:           ctx,
		cancel:        cancel,
	}

	mc.wg.Add(1)
	go mc.flushLoop()

	return mc
}

// IncCounter increments a counter metric
func (mc *MetricsCollector) IncCounter(name string, labels map[string]string) {
	mc.AddCounter(name, 1, labels)
}

// AddCounter adds a value to a counter metric
func (mc *MetricsCollector) AddCounter(name string, value float64, labels map[string]string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := metricKey(name, labels)
	if metric, exists := mc.metrics[key]; exists {
		metric.Value += value
		metric.Timestamp = time.Now()
		return
	}

	mc.metrics[key] = &Metric{
		Name:      name,
		Type:      MetricTypeCounter,
		Value:     value,
		Labels:    copyLabels(labels),
		Timestamp: time.Now(),
	}
}

// SetGauge sets a gauge metric value
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.SetGaugeWithUnit(name, value, labels, "")
}

// SetGaugeWithUnit sets a gauge metric value with a unit
func (mc *MetricsCollector) SetGaugeWithUnit(name string, value float64, labels map[string]string, unit string) {
	mc.set(&Metric{
		Name:   name,
		Type:   MetricTypeGauge,
		Value:  value,
		Labels: labels,
		Unit:   unit,
	})
}

// ObserveHistogram records the latest observation of a histogram metric.
func (mc *MetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	mc.set(&Metric{
		Name:   name,
		Type:   MetricTypeHistogram,
		Value:  value,
		Labels: labels,
	})
}

func (mc *MetricsCollector) set(m *Metric) {
	m.Labels = copyLabels(m.Labels)
	m.Timestamp = time.Now()

	mc.mu.Lock()
	mc.metrics[metricKey(m.Name, m.Labels)] = m
	mc.mu.Unlock()
}

// RecordDuration records a duration in seconds as a histogram metric
func (mc *MetricsCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	mc.ObserveHistogram(name, duration.Seconds(), labels)
}

// GetMetrics returns a copy of all current metrics keyed by name and labels.
func (mc *MetricsCollector) GetMetrics() map[string]*Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := make(map[string]*Metric, len(mc.metrics))
	for k, v := range mc.metrics {
		snapshot[k] = v.clone()
	}
	return snapshot
}

// GetMetric returns a copy of one metric, or nil.
func (mc *MetricsCollector) GetMetric(name string, labels map[string]string) *Metric {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if m, ok := mc.metrics[metricKey(name, labels)]; ok {
		return m.clone()
	}
	return nil
}

// Close stops the flush loop after a final flush.
func (mc *MetricsCollector) Close() {
	mc.cancel()
	mc.wg.Wait()
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(",")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

func (mc *MetricsCollector) flushLoop() {
	defer mc.wg.Done()

	var tick <-chan time.Time
	if mc.flushInterval > 0 {
		ticker := time.NewTicker(mc.flushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-mc.ctx.Done():
			mc.flushMetrics()
			return
		case <-tick:
			mc.flushMetrics()
		}
	}
}

func (mc *MetricsCollector) flushMetrics() {
	for _, metric := range mc.GetMetrics() {
		switch metric.Type {
		case MetricTypeCounter:
			mc.logger.LogCounter(metric.Name, int64(metric.Value), metric.Labels)
		case MetricTypeGauge:
			mc.logger.LogGauge(metric.Name, metric.Value, metric.Labels)
		case MetricTypeHistogram:
			mc.logger.LogHistogram(metric.Name, metric.Value, metric.Labels)
		}
	}
}

// ApplicationMetrics names the metrics hostpulse records.
type ApplicationMetrics struct {
	collector *MetricsCollector
}

// NewApplicationMetrics wraps collector.
func NewApplicationMetrics(collector *MetricsCollector) *ApplicationMetrics {
	return &ApplicationMetrics{
		collector: collector,
	}
}

// Collector returns the underlying collector.
func (am *ApplicationMetrics) Collector() *MetricsCollector {
	return am.collector
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// RecordCycle records one refresh cycle. Cancelled cycles are not published.
func (am *ApplicationMetrics) RecordCycle(duration time.Duration, warnings int, published bool) {
	labels := map[string]string{"published": boolLabel(published)}

	am.collector.IncCounter("refresh_cycles_total", labels)
	am.collector.RecordDuration("refresh_cycle_duration_seconds", duration, labels)
	am.collector.SetGauge("refresh_cycle_warnings", float64(warnings), nil)
}

// RecordSample records the host readings of the latest cycle.
func (am *ApplicationMetrics) RecordSample(cpuPercent, ramPercent, diskPercent, netDownKiB, netUpKiB float64) {
	am.collector.SetGaugeWithUnit("host_cpu_percent", cpuPercent, nil, "percent")
	am.collector.SetGaugeWithUnit("host_ram_percent", ramPercent, nil, "percent")
	am.collector.SetGaugeWithUnit("host_disk_percent", diskPercent, nil, "percent")
	am.collector.SetGaugeWithUnit("host_net_down_rate", netDownKiB, nil, "KiB/s")
	am.collector.SetGaugeWithUnit("host_net_up_rate", netUpKiB, nil, "KiB/s")
}

// RecordHealthScore records the latest health score.
func (am *ApplicationMetrics) RecordHealthScore(score int) {
	am.collector.SetGauge("health_score", float64(score), nil)
}

// RecordSecurityScan records one failed-login scan.
func (am *ApplicationMetrics) RecordSecurityScan(status, source string, failedLogins int, duration time.Duration) {
	labels := map[string]string{
		"status": status,
		"source": source,
	}

	am.collector.IncCounter("security_scans_total", labels)
	am.collector.RecordDuration("security_scan_duration_seconds", duration, labels)
	am.collector.SetGauge("failed_logins", float64(failedLogins), nil)
}

// RecordHistoryScan records one shell-history read.
func (am *ApplicationMetrics) RecordHistoryScan(status string, dangerous bool, duration time.Duration) {
	labels := map[string]string{"status": status}

	am.collector.IncCounter("history_scans_total", labels)
	am.collector.RecordDuration("history_scan_duration_seconds", duration, labels)

	flag := 0.0
	if dangerous {
		flag = 1.0
	}
	am.collector.SetGauge("dangerous_command_present", flag, nil)
}

// RecordProcessCount records the size of the latest census.
func (am *ApplicationMetrics) RecordProcessCount(count int, duration time.Duration) {
	am.collector.SetGauge("processes_count", float64(count), nil)
	am.collector.RecordDuration("census_duration_seconds", duration, nil)
}

// RecordTermination records a terminate request for a process.
func (am *ApplicationMetrics) RecordTermination(success bool) {
	am.collector.IncCounter("process_terminations_total", map[string]string{"success": boolLabel(success)})
}

// RecordConfigReload records configuration reload metrics
func (am *ApplicationMetrics) RecordConfigReload(success bool, duration time.Duration) {
	labels := map[string]string{"success": boolLabel(success)}

	am.collector.IncCounter("config_reloads_total", labels)
	am.collector.RecordDuration("config_reload_duration_seconds", duration, labels)
}

// RecordDaemonUptime records daemon uptime
func (am *ApplicationMetrics) RecordDaemonUptime(uptime time.Duration) {
	am.collector.SetGaugeWithUnit("daemon_uptime_seconds", uptime.Seconds(), nil, "seconds")
}

// RecordMemoryUsage records the daemon's own heap usage.
func (am *ApplicationMetrics) RecordMemoryUsage(heapAlloc, heapSys, heapInuse uint64) {
	am.collector.SetGaugeWithUnit("memory_heap_alloc_bytes", float64(heapAlloc), nil, "bytes")
	am.collector.SetGaugeWithUnit("memory_heap_sys_bytes", float64(heapSys), nil, "bytes")
	am.collector.SetGaugeWithUnit("memory_heap_inuse_bytes", float64(heapInuse), nil, "bytes")
}

// RecordGoroutines records the number of goroutines
func (am *ApplicationMetrics) RecordGoroutines(count int) {
	am.collector.SetGauge("goroutines_count", float64(count), nil)
}

// RecordHealthCheck records one self health check.
func (am *ApplicationMetrics) RecordHealthCheck(component string, healthy bool, duration time.Duration) {
	labels := map[string]string{
		"component": component,
		"healthy":   boolLabel(healthy),
	}

	am.collector.IncCounter("health_checks_total", labels)
	am.collector.RecordDuration("health_check_duration_seconds", duration, labels)

	healthValue := 1.0
	if !healthy {
		healthValue = 0.0
	}
	am.collector.SetGauge("component_health", healthValue, map[string]string{"component": component})
}
