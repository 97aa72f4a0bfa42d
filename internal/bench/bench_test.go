package bench_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/colortok/internal/bench"
)

// ---------------------------------------------------------------------------
// Aggregation
// ---------------------------------------------------------------------------

func TestStats_MinMaxMean(t *testing.T) {
	durations := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
	}
	s := bench.ComputeStats(durations)

	if s.Min != 100*time.Millisecond {
		t.Errorf("want min=100ms, got %v", s.Min)
	}

	if s.Max != 300*time.Millisecond {
		t.Errorf("want max=300ms, got %v", s.Max)
	}

	if s.Mean != 200*time.Millisecond {
		t.Errorf("want mean=200ms, got %v", s.Mean)
	}
}

func TestStats_SingleRun(t *testing.T) {
	s := bench.ComputeStats([]time.Duration{150 * time.Millisecond})
	if s.Min != s.Max || s.Min != s.Mean {
		t.Errorf("single run: min/max/mean should all be equal, got min=%v max=%v mean=%v", s.Min, s.Max, s.Mean)
	}
}

func TestStats_Empty(t *testing.T) {
	if s := bench.ComputeStats(nil); s != (bench.Stats{}) {
		t.Errorf("want zero stats, got %+v", s)
	}
}

func TestWarmStats_SkipsColdRun(t *testing.T) {
	runs := []bench.RunResult{
		{Index: 0, Cold: true, Duration: time.Second},
		{Index: 1, Duration: 2 * time.Millisecond},
		{Index: 2, Duration: 4 * time.Millisecond},
	}

	s := bench.WarmStats(runs)
	if s.Max != 4*time.Millisecond || s.Mean != 3*time.Millisecond {
		t.Errorf("cold run leaked into warm stats: %+v", s)
	}
}

func TestWarmStats_SingleColdRun(t *testing.T) {
	s := bench.WarmStats([]bench.RunResult{{Cold: true, Duration: 5 * time.Millisecond}})
	if s.Mean != 5*time.Millisecond {
		t.Errorf("want the cold run as fallback, got %+v", s)
	}
}

// ---------------------------------------------------------------------------
// Throughput
// ---------------------------------------------------------------------------

func TestThroughput(t *testing.T) {
	if got := bench.Throughput(500, 250*time.Millisecond); got < 1999.9 || got > 2000.1 {
		t.Errorf("want 2000 tokens/s, got %.2f", got)
	}
	if got := bench.Throughput(10, 0); got != 0 {
		t.Errorf("want 0 for zero duration, got %.2f", got)
	}
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_RecordsEveryRun(t *testing.T) {
	calls := 0
	runs, err := bench.Run(context.Background(), 3, "hello", func(text string) (int, error) {
		calls++
		if text != "hello" {
			t.Errorf("unexpected text %q", text)
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 3 || len(runs) != 3 {
		t.Fatalf("want 3 runs, got calls=%d results=%d", calls, len(runs))
	}
	if !runs[0].Cold || runs[1].Cold || runs[2].Cold {
		t.Errorf("only the first run should be cold: %+v", runs)
	}
	for _, r := range runs {
		if r.Tokens != 7 {
			t.Errorf("run %d: want 7 tokens, got %d", r.Index, r.Tokens)
		}
	}
}

func TestRun_RejectsZeroRuns(t *testing.T) {
	if _, err := bench.Run(context.Background(), 0, "x", nil); err == nil {
		t.Error("want error for zero runs")
	}
}

func TestRun_StopsOnRenderError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	runs, err := bench.Run(context.Background(), 5, "x", func(string) (int, error) {
		calls++
		if calls == 2 {
			return 0, boom
		}
		return 1, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped boom, got %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("want the completed run kept, got %d", len(runs))
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bench.Run(ctx, 3, "x", func(string) (int, error) { return 1, nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Threshold gate
// ---------------------------------------------------------------------------

func TestMeanThreshold(t *testing.T) {
	tests := []struct {
		name      string
		mean      time.Duration
		threshold time.Duration
		wantErr   bool
	}{
		{"exceeds", 15 * time.Millisecond, 10 * time.Millisecond, true},
		{"below", 8 * time.Millisecond, 10 * time.Millisecond, false},
		{"exact", 10 * time.Millisecond, 10 * time.Millisecond, false},
		{"disabled", time.Hour, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := bench.CheckMeanThreshold(tt.mean, tt.threshold)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckMeanThreshold(%v, %v) error = %v, wantErr %v", tt.mean, tt.threshold, err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func sampleRuns() ([]bench.RunResult, bench.Stats) {
	runs := []bench.RunResult{
		{Index: 0, Cold: true, Duration: 8 * time.Millisecond, Tokens: 6, TokensPerSec: 750},
		{Index: 1, Duration: 500 * time.Microsecond, Tokens: 6, TokensPerSec: 12000},
	}
	return runs, bench.ComputeStats([]time.Duration{8 * time.Millisecond, 500 * time.Microsecond})
}

func TestFormatTable_ContainsHeaders(t *testing.T) {
	runs, stats := sampleRuns()

	var buf strings.Builder
	bench.FormatTable(runs, stats, &buf)
	out := buf.String()

	for _, want := range []string{"run", "cold", "ms", "tokens/s", "(mean)", "0.500"} {
		if !strings.Contains(strings.ToLower(out), want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON_IsValidJSON(t *testing.T) {
	runs, stats := sampleRuns()

	var buf bytes.Buffer
	if err := bench.FormatJSON(runs, stats, &buf); err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}

	var out struct {
		Runs []struct {
			Cold       bool    `json:"cold"`
			DurationMS float64 `json:"duration_ms"`
			Tokens     int     `json:"tokens"`
		} `json:"runs"`
		Stats struct {
			MinMS float64 `json:"min_ms"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("FormatJSON produced invalid JSON: %v\n%s", err, buf.String())
	}
	if len(out.Runs) != 2 || !out.Runs[0].Cold || out.Runs[1].DurationMS != 0.5 {
		t.Errorf("unexpected runs: %+v", out.Runs)
	}
	if out.Stats.MinMS != 0.5 {
		t.Errorf("want min_ms 0.5, got %v", out.Stats.MinMS)
	}
}
