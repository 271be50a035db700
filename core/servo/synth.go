package servo

import "example.com/vernier-time/base/timemath"

const (
	smoothingFracBits = 16
	// Residual beyond which the smoother snaps to its input, 1 us.
	smoothingSnap = 1000 << (timemath.SubnsBits + smoothingFracBits)
)

// pairedBase returns the latched counter value that belongs to the current
// half-period of the virtual A oscillator.
func pairedBase(latched uint64, pedA int64, half uint64) uint64 {
	switch pedA {
	case 0:
		return latched
	case -1:
		// oscillator toggled before the recovered edge arrived
		return (latched + half) & timemath.CounterMask
	case 1:
		return (latched - half) & timemath.CounterMask
	default:
		panic("unexpected detector output")
	}
}

func synthesize(p *Params, latched uint64, pedA int64, o oscillator, offset int64) uint64 {
	base := pairedBase(latched, pedA, p.HalfPeriodCounts)
	phase := timemath.Rescale(o.phase, p.PhaseBits, timemath.SubnsBits)
	return timemath.CounterAdd(base, phase+p.PipelineDelay+offset)
}

// smoother is a first-order tracker that follows the synthesized counter
// with zero lag by predicting each sample from the current period estimate.
type smoother struct {
	y     uint64
	valid bool
}

func (s smoother) next(total uint64, incr int64, shift uint) (smoother, uint64) {
	target := total << smoothingFracBits
	if !s.valid {
		return smoother{y: target, valid: true}, total
	}
	pred := s.y + uint64(incr)
	e := int64(target - pred)
	if e > smoothingSnap || e < -smoothingSnap {
		return smoother{y: target, valid: true}, total
	}
	y := pred + uint64(e>>shift)
	return smoother{y: y, valid: true}, y >> smoothingFracBits
}
