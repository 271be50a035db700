package measurements

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Measurement is one instance's reported counter rate error.
type Measurement struct {
	Timestamp time.Time
	Instance  uuid.UUID
	RatePPM   float64
}

func midpoint(x, y Measurement) Measurement {
	var m Measurement
	m.RatePPM = x.RatePPM + (y.RatePPM-x.RatePPM)/2
	if !x.Timestamp.After(y.Timestamp) {
		m.Timestamp = x.Timestamp.Add(y.Timestamp.Sub(x.Timestamp) / 2)
	} else {
		m.Timestamp = y.Timestamp.Add(x.Timestamp.Sub(y.Timestamp) / 2)
	}
	return m
}

func sortByRate(ms []Measurement) {
	slices.SortFunc(ms, func(a, b Measurement) int {
		return cmp.Compare(a.RatePPM, b.RatePPM)
	})
}

func Median(ms []Measurement) Measurement {
	n := len(ms)
	if n == 0 {
		panic("unexpected number of values")
	}
	sortByRate(ms)
	i := n / 2
	if n%2 != 0 {
		return Measurement{
			Timestamp: ms[i].Timestamp,
			RatePPM:   ms[i].RatePPM,
		}
	}
	return midpoint(ms[i-1], ms[i])
}

// FaultTolerantMidpoint discards the f lowest and f highest values, with
// f = (n-1)/3, and returns the midpoint of the remaining extremes.
func FaultTolerantMidpoint(ms []Measurement) Measurement {
	n := len(ms)
	if n == 0 {
		panic("unexpected number of values")
	}
	sortByRate(ms)
	f := (n - 1) / 3
	return midpoint(ms[f], ms[n-1-f])
}
