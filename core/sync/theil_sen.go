package sync

import (
	"math"

	"go.uber.org/zap"

	"example.com/vernier-time/base/floats"
	"example.com/vernier-time/base/timemath"
)

// theilSen estimates the source counter rate, in subns per local sample,
// from (sample index, counter) pairs taken while the servo is locked.
type theilSen struct {
	log     *zap.Logger
	samples []sample
}

// If the buffer size is too large, the estimate lags behind real rate changes.
const maxSamples = 16
const maxAllowedErr = timemath.SubnsPerNsec

func newTheilSen(log *zap.Logger) *theilSen {
	return &theilSen{log: log, samples: make([]sample, 0, maxSamples)}
}

type sample struct {
	n       uint64
	counter uint64
}

type point struct {
	x int64
	y int64
}

func regressionPts(samples []sample) []point {
	start := samples[0]
	var regressionPts []point
	for _, s := range samples {
		regressionPts = append(regressionPts, point{
			x: int64(s.n - start.n),
			y: timemath.CounterDiff(s.counter, start.counter),
		})
	}
	return regressionPts
}

func slope(pts []point) float64 {
	if len(pts) == 1 {
		panic("unexpected number of points")
	}

	var medians []float64
	for i, a := range pts {
		for _, b := range pts[i+1:] {
			// Like in the original paper by Sen (1968), ignore pairs with the same x coordinate
			if a.x != b.x {
				medians = append(medians, float64(a.y-b.y)/float64(a.x-b.x))
			}
		}
	}

	if len(medians) == 0 {
		panic("unexpected input: all inputs have the same x coordinate")
	}

	return floats.Median(medians)
}

func intercept(slope float64, pts []point) float64 {
	var medians []float64
	for _, pt := range pts {
		medians = append(medians, float64(pt.y)-slope*float64(pt.x))
	}

	return floats.Median(medians)
}

func prediction(slope float64, intercept float64, x float64) float64 {
	return slope*x + intercept
}

func runIterations(pts []point) (float64, float64, int) {
	n := len(pts)

	for i := 0; i < n-1; i++ {
		slope := slope(pts[i:])
		intercept := intercept(slope, pts[i:])

		err := 0.0
		for j := i; j < n; j++ {
			err += math.Abs(prediction(slope, intercept, float64(pts[j].x)) - float64(pts[j].y))
		}
		err /= float64(n - i)

		if err < maxAllowedErr {
			return slope, intercept, i
		}
	}

	defaultSlope := slope(pts)
	return defaultSlope, intercept(defaultSlope, pts), 0
}

func (ts *theilSen) Reset() {
	ts.samples = ts.samples[:0]
}

func (ts *theilSen) AddSample(n, counter uint64) {
	if len(ts.samples) == maxSamples {
		ts.samples = append(ts.samples[:0], ts.samples[1:]...)
	}
	ts.samples = append(ts.samples, sample{n: n, counter: counter})
}

// Rate returns the estimated counter advance per local sample, in subns.
func (ts *theilSen) Rate() (float64, bool) {
	if len(ts.samples) < 2 {
		return 0, false
	}

	regressionPts := regressionPts(ts.samples)
	slope, intercept, bestStart := runIterations(regressionPts)

	ts.samples = append(ts.samples[:0], ts.samples[bestStart:]...)

	ts.log.Debug("Theil-Sen estimate",
		zap.Int("# of samples", len(ts.samples)),
		zap.Int("best start", bestStart),
		zap.Float64("slope", slope),
		zap.Float64("intercept", intercept),
	)

	return slope, true
}
