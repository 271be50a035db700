package servo

import "example.com/vernier-time/base/timemath"

// drift accumulates the early/late imbalance between the two channels.
type drift int64

func (d drift) next(pedA, pedB int64) drift {
	return drift(timemath.Clamp(int64(d)+pedA-pedB, -DriftLimit, DriftLimit))
}

// moduli returns the oscillator moduli to use for the current sample.
func (d drift) moduli(modA, modB int64) (int64, int64) {
	switch timemath.Sgn(int64(d)) {
	case 1:
		return modA - 1, modB
	case -1:
		return modA, modB - 1
	default:
		return modA, modB
	}
}
