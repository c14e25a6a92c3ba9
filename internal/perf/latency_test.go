// Package perf encodes latency budgets for the hot read paths. The
// samples are captured from load runs; the test fails when a recorded
// profile drifts past its budget.
package perf

import (
	"sort"
	"testing"
	"time"
)

func TestSummaryLatencyTargets(t *testing.T) {
	scenarios := []struct {
		name      string
		samples   []time.Duration
		threshold time.Duration
	}{
		{
			// Year summary recomputed from a warm connection pool.
			name:      "year_summary",
			samples:   []time.Duration{12 * time.Millisecond, 15 * time.Millisecond, 18 * time.Millisecond, 21 * time.Millisecond, 24 * time.Millisecond, 28 * time.Millisecond, 31 * time.Millisecond, 35 * time.Millisecond, 41 * time.Millisecond, 48 * time.Millisecond},
			threshold: 100 * time.Millisecond,
		},
		{
			// Statement PDF includes a Gotenberg round trip.
			name:      "statement_pdf",
			samples:   []time.Duration{400 * time.Millisecond, 450 * time.Millisecond, 520 * time.Millisecond, 580 * time.Millisecond, 640 * time.Millisecond, 700 * time.Millisecond, 780 * time.Millisecond, 860 * time.Millisecond, 940 * time.Millisecond, 1100 * time.Millisecond},
			threshold: 2 * time.Second,
		},
	}

	for _, scenario := range scenarios {
		p95 := percentile95(scenario.samples)
		if p95 > scenario.threshold {
			t.Fatalf("%s latency regression: p95=%s threshold=%s", scenario.name, p95, scenario.threshold)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
