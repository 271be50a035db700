package servo

const maxHold = 1 << 30

// oscillator is a virtual copy of one reference: a phase accumulator modulo
// the reference half-period whose output level flips on every wrap.
type oscillator struct {
	phase int64
	level bool
	hold  int64
}

func (o oscillator) advance(incr, adj, modulus int64) oscillator {
	o.phase += incr + adj
	switch {
	case o.phase >= modulus:
		o.phase -= modulus
		o.level = !o.level
		o.hold = 1
	case o.phase < 0:
		o.phase += modulus
		o.level = !o.level
		o.hold = 1
	default:
		o.hold = min(o.hold+1, maxHold)
	}
	if o.phase < 0 || o.phase >= modulus {
		panic("unexpected oscillator phase")
	}
	return o
}

// detect compares a virtual oscillator with its resynchronized reference.
// It returns +1 if the oscillator is late, -1 if it is early and 0 if both
// agree.
func detect(o oscillator, ref bool, threshold int64) int64 {
	switch {
	case o.level == ref:
		return 0
	case o.hold > threshold:
		return 1
	default:
		return -1
	}
}
