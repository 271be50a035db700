package benchmark_test

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"example.com/vernier-time/base/timemath"
	"example.com/vernier-time/benchmark"
	"example.com/vernier-time/core/config"
)

func TestRun(t *testing.T) {
	cfg := config.Default()
	cfg.Simulation.PhaseNs = 3.3
	cfg.Benchmark.PPMs = []float64{-1000, 0, 1000}
	cfg.Benchmark.TrackingMs = 4

	results, err := benchmark.Run(zaptest.NewLogger(t), cfg)
	if err != nil {
		t.Fatalf("benchmark.Run() failed: %v", err)
	}
	if len(results) != len(cfg.Benchmark.PPMs) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(cfg.Benchmark.PPMs))
	}
	for i, r := range results {
		if r.PPM != cfg.Benchmark.PPMs[i] {
			t.Errorf("results[%d].PPM = %v, want %v", i, r.PPM, cfg.Benchmark.PPMs[i])
		}
		if !r.Locked() {
			t.Errorf("no lock at %v ppm", r.PPM)
			continue
		}
		if r.Acquisition <= 0 || r.Acquisition > 10*timemath.Duration(1e-3) {
			t.Errorf("acquisition at %v ppm took %v", r.PPM, r.Acquisition)
		}
		if r.LockLosses != 0 {
			t.Errorf("%d lock losses at %v ppm", r.LockLosses, r.PPM)
		}
		if r.TrackedSamples != 500000 {
			t.Errorf("tracked %d samples at %v ppm, want 500000", r.TrackedSamples, r.PPM)
		}
		if r.TrackingErr.Max() > 1000 {
			t.Errorf("max tracking error at %v ppm = %d ps", r.PPM, r.TrackingErr.Max())
		}
	}

	var b bytes.Buffer
	err = benchmark.Print(&b, results)
	if err != nil {
		t.Fatalf("benchmark.Print() failed: %v", err)
	}
	out := b.String()
	for _, s := range []string{"-1000.0 ppm: locked after", "tracking error (ps):", "500,000 tracked"} {
		if !strings.Contains(out, s) {
			t.Errorf("output does not contain %q:\n%s", s, out)
		}
	}
}

func TestPrintNoLock(t *testing.T) {
	var b bytes.Buffer
	err := benchmark.Print(&b, []benchmark.Result{{PPM: 2e4}})
	if err != nil {
		t.Fatalf("benchmark.Print() failed: %v", err)
	}
	if !strings.Contains(b.String(), "+20000.0 ppm: no lock") {
		t.Errorf("unexpected output:\n%s", b.String())
	}
}
