// Package metrics exposes counters and gauges in Prometheus text
// exposition format without pulling in client_golang. Pipeline and
// heartbeat activity is counted by consuming bus events.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Counter is a monotonically increasing value.
type Counter struct {
	mu sync.Mutex
	v  int64
}

func (c *Counter) Inc() {
	c.mu.Lock()
	c.v++
	c.mu.Unlock()
}

func (c *Counter) Add(n int64) {
	c.mu.Lock()
	c.v += n
	c.mu.Unlock()
}

func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

// Gauge is a value that moves both ways.
type Gauge struct {
	mu sync.Mutex
	v  float64
}

func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.v = v
	g.mu.Unlock()
}

func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.v
}

type metric struct {
	help    string
	kind    string // counter | gauge
	counter *Counter
	gauge   *Gauge
}

// Collector registers metrics and renders them on demand. Registration
// is idempotent per name.
type Collector struct {
	mu      sync.RWMutex
	metrics map[string]*metric
	started time.Time
}

func NewCollector() *Collector {
	return &Collector{
		metrics: make(map[string]*metric),
		started: time.Now(),
	}
}

func (c *Collector) Counter(name, help string) *Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.metrics[name]; ok {
		return m.counter
	}
	ctr := &Counter{}
	c.metrics[name] = &metric{help: help, kind: "counter", counter: ctr}
	return ctr
}

func (c *Collector) Gauge(name, help string) *Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.metrics[name]; ok {
		return m.gauge
	}
	g := &Gauge{}
	c.metrics[name] = &metric{help: help, kind: "gauge", gauge: g}
	return g
}

// Render produces the Prometheus text format, names sorted for stable
// output.
func (c *Collector) Render() string {
	c.mu.RLock()
	names := make([]string, 0, len(c.metrics))
	for name := range c.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP aide_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE aide_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "aide_uptime_seconds %d\n", int64(time.Since(c.started).Seconds()))

	for _, name := range names {
		m := c.metrics[name]
		fmt.Fprintf(&sb, "# HELP %s %s\n", name, m.help)
		fmt.Fprintf(&sb, "# TYPE %s %s\n", name, m.kind)
		switch m.kind {
		case "counter":
			fmt.Fprintf(&sb, "%s %d\n", name, m.counter.Value())
		case "gauge":
			fmt.Fprintf(&sb, "%s %g\n", name, m.gauge.Value())
		}
	}
	c.mu.RUnlock()

	return sb.String()
}

// Handler serves the rendered metrics.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}
