// Package telemetry provides process-local counters and a Prometheus text
// exposition endpoint using only standard library constructs, without
// importing a metrics SDK.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/labstack/echo/v4"
)

// Counter is a monotonically increasing metric.
type Counter struct {
	v int64
}

// Inc adds one.
func (c *Counter) Inc() { atomic.AddInt64(&c.v, 1) }

// Add adds n. Negative deltas are ignored; counters only go up.
func (c *Counter) Add(n int64) {
	if n > 0 {
		atomic.AddInt64(&c.v, n)
	}
}

// Value returns the current count.
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.v) }

// Registry holds named counters and renders them in Prometheus text format.
type Registry struct {
	mu       sync.Mutex
	counters map[string]*Counter
	help     map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*Counter),
		help:     make(map[string]string),
	}
}

// Counter returns the counter registered under name, creating it on first
// use. Names must be valid Prometheus metric names; the help string is kept
// from the first registration.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{}
	r.counters[name] = c
	r.help[name] = help
	return c
}

// Render writes all counters in Prometheus text exposition format, sorted by
// name for stable output.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.counters))
	for name := range r.counters {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		if help := r.help[name]; help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", name, help)
		}
		fmt.Fprintf(&b, "# TYPE %s counter\n", name)
		fmt.Fprintf(&b, "%s %d\n", name, r.counters[name].Value())
	}
	return b.String()
}

// Handler serves the registry at GET /metrics.
func (r *Registry) Handler(c echo.Context) error {
	return c.String(http.StatusOK, r.Render())
}

// Metrics is the consultation pipeline's counter set, shared by the matcher,
// the delivery pipelines, and the change feed.
type Metrics struct {
	Registry *Registry

	MatchesWon  *Counter
	MatchesLost *Counter

	MessagesDelivered *Counter
	MessagesDeduped   *Counter

	FeedEventsDropped   *Counter
	PollReconciliations *Counter
}

func NewMetrics() *Metrics {
	r := NewRegistry()
	return &Metrics{
		Registry: r,

		MatchesWon:  r.Counter("consult_matches_won_total", "Match attempts that claimed the queue entry."),
		MatchesLost: r.Counter("consult_matches_lost_total", "Match attempts that lost the claim or were compensated."),

		MessagesDelivered: r.Counter("consult_messages_delivered_total", "Records emitted to chat subscribers."),
		MessagesDeduped:   r.Counter("consult_messages_deduped_total", "Duplicate records suppressed by the delivery merge."),

		FeedEventsDropped:   r.Counter("consult_feed_events_dropped_total", "Feed events dropped on full subscriber buffers."),
		PollReconciliations: r.Counter("consult_poll_reconciliations_total", "Reconciliation polls that returned at least one record."),
	}
}
