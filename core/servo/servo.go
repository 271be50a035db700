// Package servo implements a counter synchronization servo that recovers a
// remote source counter in the local sampling domain from a Vernier pair of
// reference toggles.
//
// A Servo is driven by calling Step once per local sample. Step, Reset,
// Snapshot and ExportMetrics must be called from a single goroutine;
// SetOffset and Freeze may be called from any goroutine.
package servo

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"example.com/vernier-time/base/timemath"
)

type Flags uint32

const (
	FlagDisagreeA Flags = 1 << iota
	FlagDisagreeB
	FlagLateA
	FlagLateB
	FlagStrobe
	FlagWaiting
	FlagLockedAny
	FlagLockedFinal
	FlagCoarse
	FlagDriftPos
	FlagDriftNeg
	FlagFrozen

	flagStageShift = 12
)

func (f Flags) Stage() Stage {
	return Stage(f >> flagStageShift & 0x7)
}

type Output struct {
	// Counter is the externally visible counter.
	Counter uint64
	// Total is the synthesized counter before smoothing and output policy.
	Total     uint64
	Locked    bool
	LockedAny bool
	Flags     Flags
}

type Snapshot struct {
	Stage          Stage
	Waiting        bool
	PhaseA, PhaseB int64
	LevelA, LevelB bool
	PeriodOffset   int64
	Remainder      int64
	Drift          int64
	LockCount      int64
	Latched        uint64
	Counter        uint64
	Samples        uint64
}

type state struct {
	cond         conditioner
	ctl          controller
	oscA, oscB   oscillator
	periodOffset int64
	rem          int64
	drift        drift
	lock         lockDetector
	latched      uint64
	smooth       smoother
	visible      uint64
	n            uint64
}

func initialState() state {
	return state{ctl: initialController()}
}

func (st *state) lockedFinal() bool {
	return st.ctl.sub == running && st.ctl.stage == 0 && st.lock.locked
}

type Servo struct {
	log    *zap.Logger
	params *Params
	mtrcs  *servoMetrics
	offset atomic.Int64
	frozen atomic.Bool
	st     state
}

func New(log *zap.Logger, p *Params, reg prometheus.Registerer) *Servo {
	if p == nil {
		panic("invalid servo parameters")
	}
	s := &Servo{
		log:    log,
		params: p,
		mtrcs:  newServoMetrics(reg),
		st:     initialState(),
	}
	s.mtrcs.stage.Set(float64(s.st.ctl.stage))
	s.mtrcs.waiting.Set(1)
	return s
}

func (s *Servo) Params() *Params { return s.params }

// SetOffset sets the static output offset in subns. It takes effect on the
// next sample.
func (s *Servo) SetOffset(subns int64) { s.offset.Store(subns) }

func (s *Servo) Offset() int64 { return s.offset.Load() }

// Freeze holds the visible counter while on is set. The loop keeps running.
func (s *Servo) Freeze(on bool) { s.frozen.Store(on) }

// Reset returns the servo to the coarsest stage, waiting for an alignment
// pulse, with all accumulators cleared.
func (s *Servo) Reset() {
	wasLocked := s.st.lockedFinal()
	s.st = initialState()
	s.mtrcs.stage.Set(float64(s.st.ctl.stage))
	s.mtrcs.waiting.Set(1)
	s.mtrcs.locked.Set(0)
	if wasLocked {
		s.mtrcs.lockLosses.Inc()
	}
	s.log.Debug("servo reset")
}

func (s *Servo) Snapshot() Snapshot {
	st := &s.st
	return Snapshot{
		Stage:        st.ctl.stage,
		Waiting:      st.ctl.sub == waiting,
		PhaseA:       st.oscA.phase,
		PhaseB:       st.oscB.phase,
		LevelA:       st.oscA.level,
		LevelB:       st.oscB.level,
		PeriodOffset: st.periodOffset,
		Remainder:    st.rem,
		Drift:        int64(st.drift),
		LockCount:    st.lock.count,
		Latched:      st.latched,
		Counter:      st.visible,
		Samples:      st.n,
	}
}

// ExportMetrics updates the gauges that change on every sample.
func (s *Servo) ExportMetrics() {
	s.mtrcs.lockCount.Set(float64(s.st.lock.count))
	s.mtrcs.periodPPM.Set(1e6 * float64(s.st.periodOffset) / float64(s.params.NominalPeriod))
	s.mtrcs.drift.Set(float64(s.st.drift))
}

func (s *Servo) unlockedCounter(last uint64) uint64 {
	switch s.params.Config.Unlocked {
	case UnlockedHold:
		return last
	case UnlockedSentinel:
		return Disabled
	default:
		return 0
	}
}

// Step advances the servo by one local sample.
func (s *Servo) Step(in Input) Output {
	p := s.params
	if in.Reset {
		last := s.st.visible
		s.Reset()
		s.st.visible = s.unlockedCounter(last)
		return Output{
			Counter: s.st.visible,
			Flags:   FlagWaiting | Flags(s.st.ctl.stage)<<flagStageShift,
		}
	}

	old := s.st
	nxt := old

	stg := &p.Stages[old.ctl.stage]
	coarse := stg.CoarseFrequencyMode
	var c conditioned
	nxt.cond, c = old.cond.next(in, p.SyncStages, old.ctl.sub == waiting || coarse)

	curA, curB := old.oscA, old.oscB
	pedA := detect(curA, c.a, p.HoldThreshold)
	pedB := detect(curB, c.b, p.HoldThreshold)

	if c.edgeA {
		nxt.latched = c.count
	}

	shift := p.phaseIncrementShift()
	realign := c.strobe && (old.ctl.realign || old.ctl.sub == running && coarse)
	if realign {
		half := (p.NominalPeriod >> shift) / 2
		curA = oscillator{phase: half, level: c.a, hold: 1}
		curB = oscillator{phase: half, level: c.b, hold: 1}
		pedA, pedB = 0, 0
	}

	period := p.NominalPeriod + old.periodOffset
	acc := old.rem + period
	incr := acc >> shift
	nxt.rem = acc - incr<<shift

	modA, modB := old.drift.moduli(p.ModulusA, p.ModulusB)
	nxt.drift = old.drift.next(pedA, pedB)

	var adj int64
	switch old.ctl.sub {
	case waiting:
		if c.strobe {
			if old.ctl.realign {
				nxt.lock = lockDetector{}
			}
			nxt.ctl = old.ctl.start(p, old.n, c.count)
			if coarse {
				nxt.lock = freePass(p.LockSet)
			}
			s.mtrcs.strobes.Inc()
		}
	case running:
		if coarse {
			if c.strobe {
				off, ok := old.ctl.coarsePeriod(p, old.n, c.count)
				if ok {
					nxt.periodOffset = off
				}
				s.mtrcs.strobes.Inc()
			}
			nxt.lock = freePass(p.LockSet)
		} else {
			sum := pedA + pedB
			adj = stg.PhaseGain * sum
			nxt.periodOffset = timemath.Clamp(old.periodOffset+stg.PeriodGain*sum,
				-p.MaxPeriodOffset, p.MaxPeriodOffset)
			nxt.lock = old.lock.next(pedA == 0 && pedB == 0, stg.LockPenalty, p.LockSet)
		}
		nxt.ctl.dwell--
		if nxt.ctl.dwell <= 0 {
			nxt.ctl = nxt.ctl.endDwell(p, nxt.lock.locked)
		}
	default:
		panic("unexpected acquisition sub-state")
	}

	nxt.oscA = curA.advance(incr, adj, modA)
	nxt.oscB = curB.advance(incr, adj, modB)
	nxt.n = old.n + 1

	lockedAny := nxt.ctl.sub == running && nxt.lock.locked
	lockedFinal := nxt.lockedFinal()

	total := synthesize(p, nxt.latched, pedA, curA, s.offset.Load())
	visible := total
	if p.Config.Smoothing {
		if lockedFinal {
			rate := timemath.Rescale(period, p.PeriodBits, timemath.SubnsBits+smoothingFracBits)
			nxt.smooth, visible = old.smooth.next(total, rate, p.SmoothingShift)
		} else {
			nxt.smooth = smoother{}
		}
	}
	if !lockedFinal {
		switch p.Config.Unlocked {
		case UnlockedHold:
			visible = old.visible
		case UnlockedSentinel:
			visible = Disabled
		}
	}
	frozen := s.frozen.Load()
	if frozen {
		visible = old.visible
	}
	nxt.visible = visible

	s.st = nxt
	s.observe(&old, &nxt, lockedFinal)

	f := Flags(nxt.ctl.stage) << flagStageShift
	if pedA != 0 {
		f |= FlagDisagreeA
		if pedA > 0 {
			f |= FlagLateA
		}
	}
	if pedB != 0 {
		f |= FlagDisagreeB
		if pedB > 0 {
			f |= FlagLateB
		}
	}
	if c.strobe {
		f |= FlagStrobe
	}
	if nxt.ctl.sub == waiting {
		f |= FlagWaiting
	}
	if lockedAny {
		f |= FlagLockedAny
	}
	if lockedFinal {
		f |= FlagLockedFinal
	}
	if coarse {
		f |= FlagCoarse
	}
	switch timemath.Sgn(int64(nxt.drift)) {
	case 1:
		f |= FlagDriftPos
	case -1:
		f |= FlagDriftNeg
	}
	if frozen {
		f |= FlagFrozen
	}
	return Output{
		Counter:   visible,
		Total:     total,
		Locked:    lockedFinal,
		LockedAny: lockedAny,
		Flags:     f,
	}
}

func (s *Servo) observe(old, nxt *state, lockedFinal bool) {
	if old.ctl.stage != nxt.ctl.stage || old.ctl.sub != nxt.ctl.sub {
		s.mtrcs.transitions.Inc()
		s.mtrcs.stage.Set(float64(nxt.ctl.stage))
		s.mtrcs.waiting.Set(boolGauge(nxt.ctl.sub == waiting))
		if nxt.ctl.sub == running {
			s.log.Debug("acquisition stage started",
				zap.Stringer("stage", nxt.ctl.stage),
				zap.Int64("dwell", nxt.ctl.dwell),
				zap.Uint64("sample", nxt.n),
			)
		} else {
			s.log.Debug("waiting for alignment pulse",
				zap.Stringer("stage", nxt.ctl.stage),
				zap.Stringer("from", old.ctl.stage),
				zap.Bool("realign", nxt.ctl.realign),
				zap.Int64("lockCount", nxt.lock.count),
				zap.Uint64("sample", nxt.n),
			)
		}
	}
	wasLocked := old.lockedFinal()
	if lockedFinal != wasLocked {
		s.mtrcs.locked.Set(boolGauge(lockedFinal))
		if lockedFinal {
			s.log.Info("servo locked",
				zap.Uint64("sample", nxt.n),
				zap.Int64("periodOffset", nxt.periodOffset),
			)
		} else {
			s.mtrcs.lockLosses.Inc()
			s.log.Info("servo lost lock",
				zap.Uint64("sample", nxt.n),
				zap.Int64("lockCount", nxt.lock.count),
			)
		}
	}
}
