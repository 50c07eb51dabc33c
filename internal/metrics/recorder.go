// Package metrics records the pipeline's counters, gauges, and histograms.
// The in-memory registry answers collector scrapes and tests synchronously;
// an optional SQLite sink persists datapoints asynchronously and never
// applies backpressure to the scheduler.
package metrics

import (
	"sort"
	"strings"
	"sync"
)

// Metric names emitted by the scheduler.
const (
	GaugeClipsInFlight      = "clips_in_flight"
	HistogramClipDurationMS = "clip_duration_ms"
	CounterClipFailures     = "clip_failures_total"
	CounterPlaceholders     = "clip_placeholders_total"
	CounterClipRetries      = "clip_retries_total"

	LabelReason = "reason"
)

// Sample is one exported datapoint.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

type series struct {
	labels map[string]string
	value  float64
}

type histogram struct {
	bounds  []float64
	buckets []uint64
	count   uint64
	sum     float64
}

// Bucket bounds for clip durations, in milliseconds.
var durationBounds = []float64{100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000}

// Recorder is the metrics facade the scheduler calls on every transition.
// All methods are safe on a nil receiver so callers never guard.
type Recorder struct {
	mu         sync.Mutex
	gauges     map[string]float64
	counters   map[string]map[string]*series
	histograms map[string]*histogram

	sink *Sink
}

// NewRecorder builds a recorder. sink may be nil for in-memory-only use.
func NewRecorder(sink *Sink) *Recorder {
	return &Recorder{
		gauges:     make(map[string]float64),
		counters:   make(map[string]map[string]*series),
		histograms: make(map[string]*histogram),
		sink:       sink,
	}
}

// SetGauge replaces a gauge value.
func (r *Recorder) SetGauge(name string, value float64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
	r.sink.record(name, value, nil)
}

// AddGauge shifts a gauge by delta.
func (r *Recorder) AddGauge(name string, delta float64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.gauges[name] += delta
	value := r.gauges[name]
	r.mu.Unlock()
	r.sink.record(name, value, nil)
}

// GaugeValue reads a gauge.
func (r *Recorder) GaugeValue(name string) float64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gauges[name]
}

// IncCounter increments a labeled counter by one.
func (r *Recorder) IncCounter(name string, labels map[string]string) {
	if r == nil {
		return
	}
	key := labelKey(labels)
	r.mu.Lock()
	byLabel, ok := r.counters[name]
	if !ok {
		byLabel = make(map[string]*series)
		r.counters[name] = byLabel
	}
	entry, ok := byLabel[key]
	if !ok {
		entry = &series{labels: cloneLabels(labels)}
		byLabel[key] = entry
	}
	entry.value++
	value := entry.value
	r.mu.Unlock()
	r.sink.record(name, value, labels)
}

// CounterValue reads a labeled counter.
func (r *Recorder) CounterValue(name string, labels map[string]string) float64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byLabel, ok := r.counters[name]
	if !ok {
		return 0
	}
	entry, ok := byLabel[labelKey(labels)]
	if !ok {
		return 0
	}
	return entry.value
}

// Observe records a histogram observation.
func (r *Recorder) Observe(name string, value float64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	h, ok := r.histograms[name]
	if !ok {
		h = &histogram{
			bounds:  durationBounds,
			buckets: make([]uint64, len(durationBounds)+1),
		}
		r.histograms[name] = h
	}
	idx := sort.SearchFloat64s(h.bounds, value)
	h.buckets[idx]++
	h.count++
	h.sum += value
	r.mu.Unlock()
	r.sink.record(name, value, nil)
}

// HistogramCount reads the observation count of a histogram.
func (r *Recorder) HistogramCount(name string) uint64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h.count
	}
	return 0
}

// Export snapshots every registered metric for an external collector.
func (r *Recorder) Export() []Sample {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	samples := make([]Sample, 0, len(r.gauges)+len(r.counters))
	for name, value := range r.gauges {
		samples = append(samples, Sample{Name: name, Value: value})
	}
	for name, byLabel := range r.counters {
		for _, entry := range byLabel {
			samples = append(samples, Sample{
				Name:   name,
				Labels: cloneLabels(entry.labels),
				Value:  entry.value,
			})
		}
	}
	for name, h := range r.histograms {
		samples = append(samples,
			Sample{Name: name + "_count", Value: float64(h.count)},
			Sample{Name: name + "_sum", Value: h.sum},
		)
	}
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Name != samples[j].Name {
			return samples[i].Name < samples[j].Name
		}
		return labelKey(samples[i].Labels) < labelKey(samples[j].Labels)
	})
	return samples
}

// Close flushes and stops the sink, if any.
func (r *Recorder) Close() error {
	if r == nil || r.sink == nil {
		return nil
	}
	return r.sink.Close()
}

func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

func cloneLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	cp := make(map[string]string, len(labels))
	for k, v := range labels {
		cp[k] = v
	}
	return cp
}
