package servo

import (
	"math/bits"
	"strconv"

	"example.com/vernier-time/base/timemath"
)

// Stage is an acquisition stage, 0 (finest) to CoarsestStage.
type Stage int

func (s Stage) String() string {
	return "stage" + strconv.Itoa(int(s))
}

type subState int

const (
	waiting subState = iota
	running
)

type controller struct {
	stage Stage
	sub   subState
	// realign is set when the next stage start must restore the oscillators
	// to the alignment pulse phase.
	realign bool
	dwell   int64

	anchorN     uint64
	anchorCount uint64
}

func initialController() controller {
	return controller{stage: CoarsestStage, sub: waiting, realign: true}
}

func (c controller) start(p *Params, n uint64, count uint64) controller {
	c.sub = running
	c.realign = false
	c.dwell = p.Stages[c.stage].DwellSamples
	c.anchorN, c.anchorCount = n, count
	return c
}

// endDwell applies the transition rule at the end of a dwell period.
func (c controller) endDwell(p *Params, locked bool) controller {
	if c.stage < 0 || c.stage > CoarsestStage {
		panic("unexpected acquisition stage")
	}
	switch {
	case locked && c.stage == 0:
		c.dwell = p.Stages[0].DwellSamples
	case locked:
		c.realign = p.Stages[c.stage].CoarseFrequencyMode
		c.sub = waiting
		c.stage--
	case c.stage == CoarsestStage:
		c.realign = true
		c.sub = waiting
	default:
		c.realign = true
		c.sub = waiting
		c.stage++
	}
	return c
}

// coarsePeriod estimates the local sample period from the source counter
// advance since the stage anchor. It returns false if no estimate is
// available yet.
func (c controller) coarsePeriod(p *Params, n uint64, count uint64) (int64, bool) {
	dn := n - c.anchorN
	dc := timemath.CounterDiff(count, c.anchorCount)
	if dn == 0 || dc <= 0 {
		return 0, false
	}
	// period = dc * 2^(Q-16) / dn, with a 128-bit intermediate
	hi, lo := bits.Mul64(uint64(dc), 1<<(p.PeriodBits-timemath.SubnsBits))
	if hi >= dn {
		return 0, false
	}
	q, _ := bits.Div64(hi, lo, dn)
	if q > maxPeriodMagnitude {
		return 0, false
	}
	off := timemath.Clamp(int64(q)-p.NominalPeriod, -p.MaxPeriodOffset, p.MaxPeriodOffset)
	return off, true
}
