package perf_test

import (
	"testing"
	"time"

	"github.com/classpilot/aihub-go/internal/perf"
)

func TestClassifyWithDefaultThresholds(t *testing.T) {
	tr := perf.NewTracker(0, nil, nil)

	cases := []struct {
		latency time.Duration
		want    string
	}{
		{800 * time.Millisecond, perf.ClassFast},
		{1500 * time.Millisecond, perf.ClassFast},
		{1501 * time.Millisecond, perf.ClassAcceptable},
		{4 * time.Second, perf.ClassAcceptable},
		{4001 * time.Millisecond, perf.ClassSlow},
	}
	for _, c := range cases {
		if got := tr.Classify("assistant", c.latency); got != c.want {
			t.Errorf("Classify(%s) = %s, want %s", c.latency, got, c.want)
		}
	}
}

func TestClassifyWithFeatureThresholds(t *testing.T) {
	tr := perf.NewTracker(0, map[string]perf.Thresholds{
		"live_class_chat": {FastMs: 500, AcceptableMs: 1000},
	}, nil)

	if got := tr.Classify("live_class_chat", 800*time.Millisecond); got != perf.ClassAcceptable {
		t.Errorf("expected acceptable under feature thresholds, got %s", got)
	}
	// Features without an entry fall back to the defaults.
	if got := tr.Classify("assistant", 800*time.Millisecond); got != perf.ClassFast {
		t.Errorf("expected fast under default thresholds, got %s", got)
	}
}

func TestAvgLatencyUsesTwoPointAverage(t *testing.T) {
	tr := perf.NewTracker(0, nil, nil)
	tr.Record("assistant", "real", 100*time.Millisecond, true, 0)
	tr.Record("assistant", "real", 300*time.Millisecond, true, 0)

	stats := tr.Stats("assistant")
	if stats.AvgLatencyMs != 200 {
		t.Errorf("expected (100+300)/2 = 200, got %.1f", stats.AvgLatencyMs)
	}
}

func TestSuccessRate(t *testing.T) {
	tr := perf.NewTracker(0, nil, nil)
	for i := 0; i < 3; i++ {
		tr.Record("assistant", "real", time.Second, true, 0)
	}
	tr.Record("assistant", "real", time.Second, false, 0)

	stats := tr.Stats("assistant")
	if stats.SuccessRate != 75 {
		t.Errorf("expected 75%% success rate, got %.1f", stats.SuccessRate)
	}
	if stats.TotalRequests != 4 {
		t.Errorf("expected 4 total requests, got %d", stats.TotalRequests)
	}
}

func TestNearestRankPercentiles(t *testing.T) {
	tr := perf.NewTracker(200, nil, nil)
	for i := 1; i <= 100; i++ {
		tr.Record("assistant", "real", time.Duration(i)*time.Millisecond, true, 0)
	}

	stats := tr.Stats("assistant")
	if stats.P50LatencyMs != 50 {
		t.Errorf("expected p50 = 50, got %.1f", stats.P50LatencyMs)
	}
	if stats.P95LatencyMs != 95 {
		t.Errorf("expected p95 = 95, got %.1f", stats.P95LatencyMs)
	}
	if stats.P99LatencyMs != 99 {
		t.Errorf("expected p99 = 99, got %.1f", stats.P99LatencyMs)
	}
}

func TestWindowTrimsOldSamplesButKeepsTotals(t *testing.T) {
	tr := perf.NewTracker(5, nil, nil)
	for i := 1; i <= 10; i++ {
		tr.Record("assistant", "real", time.Duration(i)*time.Millisecond, true, 0)
	}

	stats := tr.Stats("assistant")
	if stats.WindowSize != 5 {
		t.Errorf("expected window of 5 samples, got %d", stats.WindowSize)
	}
	if stats.TotalRequests != 10 {
		t.Errorf("lifetime totals must survive trimming, got %d", stats.TotalRequests)
	}
	// Percentiles see only the surviving window (6..10ms).
	if stats.P50LatencyMs != 8 {
		t.Errorf("expected p50 = 8 over the trimmed window, got %.1f", stats.P50LatencyMs)
	}
}

func TestTokensPerSecond(t *testing.T) {
	tr := perf.NewTracker(0, nil, nil)
	tr.Record("assistant", "real", 2*time.Second, true, 100)
	tr.Record("assistant", "real", time.Second, true, 0) // non-streaming, excluded

	stats := tr.Stats("assistant")
	if stats.AvgTokensPerSec != 50 {
		t.Errorf("expected 50 tokens/s, got %.1f", stats.AvgTokensPerSec)
	}
}

func TestStatsForUnknownFeatureIsZero(t *testing.T) {
	tr := perf.NewTracker(0, nil, nil)

	stats := tr.Stats("never_seen")
	if stats.TotalRequests != 0 || stats.SuccessRate != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
	if stats.Feature != "never_seen" {
		t.Errorf("expected the feature name to round-trip, got %q", stats.Feature)
	}
}

func TestSnapshotIsSortedByFeature(t *testing.T) {
	tr := perf.NewTracker(0, nil, nil)
	tr.Record("summary_generator", "real", time.Second, true, 0)
	tr.Record("assistant", "mock", time.Second, true, 0)
	tr.Record("exam_helper", "real", time.Second, false, 0)

	snap := tr.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 features, got %d", len(snap))
	}
	want := []string{"assistant", "exam_helper", "summary_generator"}
	for i, name := range want {
		if snap[i].Feature != name {
			t.Errorf("position %d: expected %s, got %s", i, name, snap[i].Feature)
		}
	}
}
