package observability

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metrics is the process-local registry for the sync pipeline. Values are
// exposed in Prometheus text format at /metrics; nothing here blocks or
// allocates on the hot path beyond a mutex.
type Metrics struct {
	runsStarted   *CounterVec
	runsFinished  *CounterVec
	pagesFetched  *Counter
	itemsSeen     *Counter
	itemsOutcome  *CounterVec
	itemDuration  *HistogramVec
	batchDuration *HistogramVec
	refMisses     *CounterVec
	docsStored    *Counter
	docsFailed    *Counter
	batchesActive *Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		runsStarted:   NewCounterVec("grantmirror_runs_started_total", "Sync runs started", []string{"trigger"}),
		runsFinished:  NewCounterVec("grantmirror_runs_finished_total", "Sync runs finished", []string{"status"}),
		pagesFetched:  NewCounter("grantmirror_pages_fetched_total", "Search pages fetched from the remote source"),
		itemsSeen:     NewCounter("grantmirror_items_seen_total", "Summary items inspected by the launcher"),
		itemsOutcome:  NewCounterVec("grantmirror_items_total", "Items by processing outcome", []string{"outcome"}),
		itemDuration:  NewHistogramVec("grantmirror_item_duration_seconds", "Per-item processing duration", []string{"outcome"}, []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}),
		batchDuration: NewHistogramVec("grantmirror_batch_duration_seconds", "Per-batch processing duration", []string{"status"}, []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}),
		refMisses:     NewCounterVec("grantmirror_reference_misses_total", "Reference codes that could not be resolved", []string{"category"}),
		docsStored:    NewCounter("grantmirror_documents_stored_total", "Attachments stored successfully"),
		docsFailed:    NewCounter("grantmirror_documents_failed_total", "Attachment store attempts that failed"),
		batchesActive: NewGauge("grantmirror_batches_active", "Batch jobs currently processing"),
	}
}

func (m *Metrics) RecordRunStarted(trigger string) {
	if m == nil {
		return
	}
	m.runsStarted.Inc(trigger)
}

func (m *Metrics) RecordRunFinished(status string) {
	if m == nil {
		return
	}
	m.runsFinished.Inc(status)
}

func (m *Metrics) RecordPageFetched(items int) {
	if m == nil {
		return
	}
	m.pagesFetched.Inc()
	m.itemsSeen.Add(float64(items))
}

func (m *Metrics) RecordItem(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.itemsOutcome.Inc(outcome)
	m.itemDuration.Observe(d.Seconds(), outcome)
}

func (m *Metrics) RecordBatch(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds(), status)
}

func (m *Metrics) BatchStarted() {
	if m == nil {
		return
	}
	m.batchesActive.Inc()
}

func (m *Metrics) BatchFinished() {
	if m == nil {
		return
	}
	m.batchesActive.Dec()
}

func (m *Metrics) RecordRefMiss(category string) {
	if m == nil {
		return
	}
	m.refMisses.Inc(category)
}

func (m *Metrics) RecordDocumentStored() {
	if m == nil {
		return
	}
	m.docsStored.Inc()
}

func (m *Metrics) RecordDocumentFailed() {
	if m == nil {
		return
	}
	m.docsFailed.Inc()
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.runsStarted, m.runsFinished, m.pagesFetched, m.itemsSeen,
		m.itemsOutcome, m.itemDuration, m.batchDuration, m.refMisses,
		m.docsStored, m.docsFailed, m.batchesActive,
	}
	for _, mw := range writers {
		if err := mw.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_ = m.WritePrometheus(w)
	})
}

type CounterVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (c *CounterVec) Inc(values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl]++
	c.mu.Unlock()
}

func (c *CounterVec) Add(v float64, values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl] += v
	c.mu.Unlock()
}

func (c *CounterVec) Value(values ...string) float64 {
	if c == nil {
		return 0
	}
	lbl := labelString(c.labelNames, values)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[lbl]
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s counter\n", c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range sortedKeys(c.values) {
		if _, err := fmt.Fprintf(w, "%s%s %f\n", c.name, k, c.values[k]); err != nil {
			return err
		}
	}
	return nil
}

type Counter struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Inc() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.val++
	c.mu.Unlock()
}

func (c *Counter) Add(v float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.val += v
	c.mu.Unlock()
}

func (c *Counter) Value() float64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val
}

func (c *Counter) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s counter\n", c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %f\n", c.name, c.val)
	return err
}

type Gauge struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Set(v float64) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val = v
	g.mu.Unlock()
}

func (g *Gauge) Inc() {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val++
	g.mu.Unlock()
}

func (g *Gauge) Dec() {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.val--
	g.mu.Unlock()
}

func (g *Gauge) Value() float64 {
	if g == nil {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.val
}

func (g *Gauge) WritePrometheus(w io.Writer) error {
	if g == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", g.name, g.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s gauge\n", g.name); err != nil {
		return err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %f\n", g.name, g.val)
	return err
}

type histogramCell struct {
	buckets []float64
	counts  []float64
	sum     float64
	count   float64
}

type HistogramVec struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64
	mu         sync.Mutex
	cells      map[string]*histogramCell
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	return &HistogramVec{
		name:       name,
		help:       help,
		labelNames: labels,
		buckets:    buckets,
		cells:      map[string]*histogramCell{},
	}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	lbl := labelString(h.labelNames, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	cell, ok := h.cells[lbl]
	if !ok {
		cell = &histogramCell{buckets: h.buckets, counts: make([]float64, len(h.buckets))}
		h.cells[lbl] = cell
	}
	for i, b := range cell.buckets {
		if v <= b {
			cell.counts[i]++
		}
	}
	cell.sum += v
	cell.count++
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", h.name, h.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s histogram\n", h.name); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.cells))
	for k := range h.cells {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cell := h.cells[k]
		base := strings.TrimSuffix(k, "}")
		sep := ","
		if base == "" {
			base = "{"
			sep = ""
		}
		for i, b := range cell.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s%sle=\"%g\"} %f\n", h.name, base, sep, b, cell.counts[i]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_bucket%s%sle=\"+Inf\"} %f\n", h.name, base, sep, cell.count); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_sum%s %f\n", h.name, k, cell.sum); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_count%s %f\n", h.name, k, cell.count); err != nil {
			return err
		}
	}
	return nil
}

func labelString(names, values []string) string {
	if len(names) == 0 {
		return ""
	}
	parts := make([]string, 0, len(names))
	for i, n := range names {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		parts = append(parts, fmt.Sprintf("%s=%q", n, v))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
