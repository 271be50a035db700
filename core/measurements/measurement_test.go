package measurements_test

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"example.com/vernier-time/core/measurements"
)

func TestMedian(t *testing.T) {
	ms := []measurements.Measurement{
		{RatePPM: math.MaxFloat64},
		{RatePPM: -1},
		{RatePPM: 3},
	}
	x := measurements.Median(ms)
	if x.RatePPM != 3 {
		t.Errorf("Median(%v) == %v; want 3", ms, x.RatePPM)
	}

	t0 := time.Unix(100, 0)
	ms = []measurements.Measurement{
		{Timestamp: t0.Add(2 * time.Second), RatePPM: 4},
		{Timestamp: t0, RatePPM: 2},
	}
	x = measurements.Median(ms)
	if x.RatePPM != 3 || !x.Timestamp.Equal(t0.Add(time.Second)) {
		t.Errorf("Median(%v) == %+v; want 3 at %v", ms, x, t0.Add(time.Second))
	}
}

func TestMedianEmpty(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Median of empty slice did not panic")
		}
	}()
	measurements.Median(nil)
}

func TestFaultTolerantMidpoint(t *testing.T) {
	ms := []measurements.Measurement{
		{RatePPM: 1000},
		{RatePPM: -1.5},
		{RatePPM: -2.5},
		{RatePPM: -2},
	}
	x := measurements.FaultTolerantMidpoint(ms)
	if x.RatePPM != -1.75 {
		t.Errorf("FaultTolerantMidpoint(%v) == %v; want -1.75", ms, x.RatePPM)
	}
}

func TestEnsemble(t *testing.T) {
	t0 := time.Unix(1000, 0)
	e := measurements.NewEnsemble(time.Second)
	if _, _, ok := e.Midpoint(t0); ok {
		t.Errorf("Midpoint() of empty ensemble succeeded")
	}

	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	e.Add(measurements.Measurement{Timestamp: t0, Instance: a, RatePPM: 10}, true)
	e.Add(measurements.Measurement{Timestamp: t0, Instance: b, RatePPM: 11}, true)
	e.Add(measurements.Measurement{Timestamp: t0, Instance: c, RatePPM: 500}, true)
	e.Add(measurements.Measurement{Timestamp: t0, Instance: d, RatePPM: 12}, true)
	// Replaces the earlier value of a.
	e.Add(measurements.Measurement{Timestamp: t0.Add(time.Second), Instance: a, RatePPM: 9}, true)

	m, n, ok := e.Midpoint(t0.Add(time.Second))
	if !ok || n != 4 || m.RatePPM != 11.5 {
		t.Errorf("Midpoint() = %v, %d, %v; want 11.5, 4, true", m.RatePPM, n, ok)
	}

	e.Add(measurements.Measurement{Instance: c}, false)
	m, n, ok = e.Midpoint(t0.Add(2 * time.Second))
	if !ok || n != 1 || m.RatePPM != 9 {
		t.Errorf("Midpoint() after expiry = %v, %d, %v; want 9, 1, true", m.RatePPM, n, ok)
	}
}
