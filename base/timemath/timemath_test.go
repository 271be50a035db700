package timemath_test

import (
	"math"
	"testing"
	"time"

	"example.com/vernier-time/base/timemath"
)

func TestDuration(t *testing.T) {
	tests := []struct {
		seconds float64
		want    time.Duration
	}{
		{1.5, 1500 * time.Millisecond},
		{1e-3, time.Millisecond},
		{0, 0},
		{-1, -time.Second},
	}

	for _, tt := range tests {
		got := timemath.Duration(tt.seconds)
		if got != tt.want {
			t.Errorf("timemath.Duration(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestSgn(t *testing.T) {
	tests := []struct {
		x    int64
		want int
	}{
		{42, 1},
		{-42, -1},
		{0, 0},
		{math.MinInt64, -1},
	}

	for _, tt := range tests {
		got := timemath.Sgn(tt.x)
		if got != tt.want {
			t.Errorf("timemath.Sgn(%v) = %v, want %v", tt.x, got, tt.want)
		}
	}
}

func TestAbs(t *testing.T) {
	tests := []struct {
		x    int64
		want int64
	}{
		{7, 7},
		{-7, 7},
		{0, 0},
	}

	for _, tt := range tests {
		got := timemath.Abs(tt.x)
		if got != tt.want {
			t.Errorf("timemath.Abs(%v) = %v, want %v", tt.x, got, tt.want)
		}
	}

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("timemath.Abs(%v), did not panic", int64(math.MinInt64))
		}
	}()
	timemath.Abs(math.MinInt64)
}

func TestClamp(t *testing.T) {
	tests := []struct {
		x, lo, hi int64
		want      int64
	}{
		{0, -15, 15, 0},
		{16, -15, 15, 15},
		{-16, -15, 15, -15},
		{15, -15, 15, 15},
	}

	for _, tt := range tests {
		got := timemath.Clamp(tt.x, tt.lo, tt.hi)
		if got != tt.want {
			t.Errorf("timemath.Clamp(%v, %v, %v) = %v, want %v", tt.x, tt.lo, tt.hi, got, tt.want)
		}
	}

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("timemath.Clamp with inverted bounds did not panic")
		}
	}()
	timemath.Clamp(0, 1, -1)
}

func TestFixed(t *testing.T) {
	tests := []struct {
		x    float64
		bits uint
		want int64
	}{
		{25, 16, 1638400},
		{8, 17, 1048576},
		{0.5, 1, 1},
		{-0.75, 2, -3},
		{1e-5, 10, 0},
	}

	for _, tt := range tests {
		got := timemath.Fixed(tt.x, tt.bits)
		if got != tt.want {
			t.Errorf("timemath.Fixed(%v, %v) = %v, want %v", tt.x, tt.bits, got, tt.want)
		}
		if tt.want != 0 && timemath.Float(got, tt.bits) != tt.x {
			t.Errorf("timemath.Float(%v, %v) = %v, want %v", got, tt.bits, timemath.Float(got, tt.bits), tt.x)
		}
	}

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("timemath.Fixed overflow did not panic")
		}
	}()
	timemath.Fixed(1, 70)
}

func TestRescale(t *testing.T) {
	tests := []struct {
		x        int64
		from, to uint
		want     int64
	}{
		{1 << 20, 20, 16, 1 << 16},
		{3, 16, 18, 12},
		{-1, 4, 0, -1},
		{5, 8, 8, 5},
	}

	for _, tt := range tests {
		got := timemath.Rescale(tt.x, tt.from, tt.to)
		if got != tt.want {
			t.Errorf("timemath.Rescale(%v, %v, %v) = %v, want %v", tt.x, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCounterDiff(t *testing.T) {
	tests := []struct {
		a, b uint64
		want int64
	}{
		{10, 3, 7},
		{3, 10, -7},
		{2, timemath.CounterMask, 3},
		{timemath.CounterMask, 2, -3},
	}

	for _, tt := range tests {
		got := timemath.CounterDiff(tt.a, tt.b)
		if got != tt.want {
			t.Errorf("timemath.CounterDiff(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}

	if got := timemath.CounterAdd(timemath.CounterMask, 1); got != 0 {
		t.Errorf("timemath.CounterAdd wrap = %v, want 0", got)
	}
	if got := timemath.CounterAdd(0, -1); got != timemath.CounterMask {
		t.Errorf("timemath.CounterAdd underflow = %v, want %v", got, uint64(timemath.CounterMask))
	}
}
