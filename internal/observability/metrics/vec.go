package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// renderer is implemented by every instrument that can write itself in
// Prometheus text exposition format.
type renderer interface {
	render(b *strings.Builder)
}

// counterVec is a monotonically increasing counter partitioned by a fixed
// set of label names.
type counterVec struct {
	name   string
	help   string
	labels []string

	mu     sync.Mutex
	counts map[string]uint64
	series map[string][]string
}

func newCounterVec(name, help string, labels ...string) *counterVec {
	return &counterVec{
		name:   name,
		help:   help,
		labels: labels,
		counts: make(map[string]uint64),
		series: make(map[string][]string),
	}
}

func (c *counterVec) inc(labelValues ...string) {
	key := seriesKey(labelValues)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.series[key]; !ok {
		c.series[key] = append([]string(nil), labelValues...)
	}
	c.counts[key]++
}

func (c *counterVec) render(b *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	writeFamilyHeader(b, c.name, c.help, "counter")
	for _, key := range sortedSeries(c.counts) {
		b.WriteString(c.name)
		writeLabels(b, c.labels, c.series[key], "", "")
		fmt.Fprintf(b, " %d\n", c.counts[key])
	}
}

// histogramVec tracks a value distribution over fixed upper bounds,
// partitioned by a fixed set of label names.
type histogramVec struct {
	name   string
	help   string
	bounds []float64
	labels []string

	mu     sync.Mutex
	data   map[string]*histogramData
	series map[string][]string
}

type histogramData struct {
	buckets []uint64
	sum     float64
	count   uint64
}

func newHistogramVec(name, help string, bounds []float64, labels ...string) *histogramVec {
	return &histogramVec{
		name:   name,
		help:   help,
		bounds: bounds,
		labels: labels,
		data:   make(map[string]*histogramData),
		series: make(map[string][]string),
	}
}

func (h *histogramVec) observe(value float64, labelValues ...string) {
	key := seriesKey(labelValues)
	h.mu.Lock()
	defer h.mu.Unlock()

	data := h.data[key]
	if data == nil {
		data = &histogramData{buckets: make([]uint64, len(h.bounds))}
		h.data[key] = data
		h.series[key] = append([]string(nil), labelValues...)
	}
	data.count++
	data.sum += value
	// Buckets are cumulative: every bound at or above the value counts it.
	// Values beyond the last bound only land in the implicit +Inf bucket.
	for i, bound := range h.bounds {
		if value <= bound {
			data.buckets[i]++
		}
	}
}

func (h *histogramVec) render(b *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()

	writeFamilyHeader(b, h.name, h.help, "histogram")
	for _, key := range sortedSeries(h.data) {
		values := h.series[key]
		data := h.data[key]
		for i, bound := range h.bounds {
			b.WriteString(h.name)
			b.WriteString("_bucket")
			writeLabels(b, h.labels, values, "le", formatFloat(bound))
			fmt.Fprintf(b, " %d\n", data.buckets[i])
		}
		b.WriteString(h.name)
		b.WriteString("_bucket")
		writeLabels(b, h.labels, values, "le", "+Inf")
		fmt.Fprintf(b, " %d\n", data.count)

		b.WriteString(h.name)
		b.WriteString("_sum")
		writeLabels(b, h.labels, values, "", "")
		fmt.Fprintf(b, " %s\n", formatFloat(data.sum))

		b.WriteString(h.name)
		b.WriteString("_count")
		writeLabels(b, h.labels, values, "", "")
		fmt.Fprintf(b, " %d\n", data.count)
	}
}

// seriesKey joins label values into a stable map key. The separator never
// occurs in handler names, HTTP methods or outcome labels.
func seriesKey(values []string) string {
	return strings.Join(values, "\x1f")
}

// sortedSeries returns the series keys in lexical order, which matches
// ordering by label values since keys are the joined values.
func sortedSeries[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func writeFamilyHeader(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteString(" ")
	b.WriteString(help)
	b.WriteString("\n# TYPE ")
	b.WriteString(name)
	b.WriteString(" ")
	b.WriteString(kind)
	b.WriteString("\n")
}

// writeLabels emits {name="value",...} with an optional trailing label such
// as le. Nothing is written when there are no labels at all.
func writeLabels(b *strings.Builder, names, values []string, extraName, extraValue string) {
	if len(names) == 0 && extraName == "" {
		return
	}
	b.WriteString("{")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(name)
		b.WriteString("=\"")
		b.WriteString(escapeLabel(values[i]))
		b.WriteString("\"")
	}
	if extraName != "" {
		if len(names) > 0 {
			b.WriteString(",")
		}
		b.WriteString(extraName)
		b.WriteString("=\"")
		b.WriteString(extraValue)
		b.WriteString("\"")
	}
	b.WriteString("}")
}

func escapeLabel(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
