package telemetry

import (
	"strings"
	"sync"
	"testing"
)

func TestCounterConcurrentInc(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	if got := c.Value(); got != 8000 {
		t.Errorf("expected 8000, got %d", got)
	}
}

func TestCounterIgnoresNegativeAdd(t *testing.T) {
	var c Counter
	c.Add(5)
	c.Add(-3)
	if got := c.Value(); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
}

func TestRegistryReturnsSameCounter(t *testing.T) {
	r := NewRegistry()
	a := r.Counter("x_total", "first")
	b := r.Counter("x_total", "second")
	if a != b {
		t.Error("expected the same counter for the same name")
	}
	a.Inc()
	if b.Value() != 1 {
		t.Error("counters registered under one name must share state")
	}
}

func TestRenderFormat(t *testing.T) {
	r := NewRegistry()
	r.Counter("b_total", "second metric").Add(2)
	r.Counter("a_total", "first metric").Inc()

	out := r.Render()
	wantLines := []string{
		"# HELP a_total first metric",
		"# TYPE a_total counter",
		"a_total 1",
		"# HELP b_total second metric",
		"# TYPE b_total counter",
		"b_total 2",
	}
	if got := strings.TrimSpace(out); got != strings.Join(wantLines, "\n") {
		t.Errorf("unexpected render output:\n%s", out)
	}
}

func TestNewMetricsRegistersAll(t *testing.T) {
	m := NewMetrics()
	m.MatchesWon.Inc()
	m.FeedEventsDropped.Add(3)

	out := m.Registry.Render()
	if !strings.Contains(out, "consult_matches_won_total 1") {
		t.Errorf("missing matches counter:\n%s", out)
	}
	if !strings.Contains(out, "consult_feed_events_dropped_total 3") {
		t.Errorf("missing drop counter:\n%s", out)
	}
}
