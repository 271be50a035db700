package timemath

import (
	"math"
	"time"
)

// Fixed-point time units. A subns is 2^-16 ns, the unit of the source and
// output counters.
const (
	SubnsBits    = 16
	SubnsPerNsec = 1 << SubnsBits
	CounterBits  = 48
	CounterMask  = 1<<CounterBits - 1
)

func Duration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func Sgn(x int64) int {
	switch {
	case x < 0:
		return -1
	case x > 0:
		return 1
	default:
		return 0
	}
}

func Abs(x int64) int64 {
	switch {
	case x == math.MinInt64:
		panic("unexpected fixed-point value")
	case x < 0:
		return -x
	default:
		return x
	}
}

func Clamp(x, lo, hi int64) int64 {
	if lo > hi {
		panic("invalid clamp bounds")
	}
	switch {
	case x < lo:
		return lo
	case x > hi:
		return hi
	default:
		return x
	}
}

// Fixed returns x scaled by 2^bits and rounded to the nearest integer.
func Fixed(x float64, bits uint) int64 {
	v := math.Round(math.Ldexp(x, int(bits)))
	if v >= math.MaxInt64 || v <= math.MinInt64 || math.IsNaN(v) {
		panic("fixed-point value out of range")
	}
	return int64(v)
}

// Float is the inverse of Fixed.
func Float(x int64, bits uint) float64 {
	return math.Ldexp(float64(x), -int(bits))
}

// Rescale converts a value with from fractional bits into one with to
// fractional bits, truncating toward negative infinity.
func Rescale(x int64, from, to uint) int64 {
	if from >= to {
		return x >> (from - to)
	}
	return x << (to - from)
}

// CounterDiff returns a-b interpreted as a signed distance on the 48-bit
// counter circle.
func CounterDiff(a, b uint64) int64 {
	return int64((a-b)<<(64-CounterBits)) >> (64 - CounterBits)
}

func CounterAdd(c uint64, d int64) uint64 {
	return (c + uint64(d)) & CounterMask
}

func SubnsFromNsec(nsec float64) int64 {
	return Fixed(nsec, SubnsBits)
}

func NsecFromSubns(subns int64) float64 {
	return Float(subns, SubnsBits)
}
