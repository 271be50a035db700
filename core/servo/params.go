package servo

// Loop gains follow R. Stephens and M. Thomas, "Controlled-root formulation
// for digital phase-locked loops", IEEE Transactions on Aerospace and
// Electronic Systems, 1995.

import (
	"errors"
	"fmt"
	"math"
	"time"

	"example.com/vernier-time/base/timemath"
)

type UnlockedPolicy int

const (
	// UnlockedFree exposes the synthesized counter even while unlocked.
	UnlockedFree UnlockedPolicy = iota
	// UnlockedHold holds the last value exposed while locked.
	UnlockedHold
	// UnlockedSentinel exposes Disabled while unlocked.
	UnlockedSentinel
)

const (
	NumStages         = 5
	CoarsestStage     = Stage(NumStages - 1)
	DefaultSyncStages = 2
	MaxSyncStages     = 4
	DriftLimit        = 15

	// Disabled is exposed instead of the counter by UnlockedSentinel. It lies
	// outside the 48-bit counter range.
	Disabled = math.MaxUint64

	dampingSquared     = 0.5
	lockWindow         = 200 * time.Microsecond
	minSafeGain        = 8
	minPhaseBits       = timemath.SubnsBits
	maxPhaseBits       = 40
	maxPeriodBits      = 62
	maxPeriodMagnitude = 1 << 61
	minStageSamples    = 1000
	maxRatio           = 1.1
	maxSmoothingShift  = 30
	// Counter differences are signed 48-bit subns, a span of about 2.147 s.
	// The coarse dwell is bounded below that with room for a 10% slow clock.
	maxCoarseDwellMillis = 1900
)

var (
	stageScale  = [NumStages]float64{16, 8, 4, 2, 1}
	lockPenalty = [NumStages]int64{4, 3, 2, 2, 1}
)

var (
	ErrConfig         = errors.New("invalid servo configuration")
	ErrFrequencyOrder = errors.New("reference frequencies out of order")
	ErrZeroGain       = errors.New("loop gain rounds to zero")
	ErrScale          = errors.New("fixed-point scale out of range")
)

type Config struct {
	// Local sample rate in Hz.
	SampleRate float64
	// Nominal frequencies of the two references in Hz, FreqA < FreqB < 1.1 FreqA.
	FreqA, FreqB float64
	// Steady-state loop time constant.
	TimeConstant time.Duration
	// Fractional bits of the phase and period accumulators; zero selects the
	// smallest safe value.
	PhaseFracBits, PeriodFracBits uint
	// Resynchronization depth; zero selects DefaultSyncStages.
	SyncStages int

	Unlocked                   UnlockedPolicy
	Smoothing                  bool
	DisableCoarseFrequencyMode bool
}

type StageParams struct {
	DwellMillis         int64
	DwellSamples        int64
	PhaseGain           int64
	PeriodGain          int64
	LockPenalty         int64
	CoarseFrequencyMode bool
}

type Params struct {
	Config Config

	PhaseBits, PeriodBits uint

	// Half-periods of the references in phase units.
	ModulusA, ModulusB int64
	// Local sample period in period units.
	NominalPeriod   int64
	MaxPeriodOffset int64

	HoldThreshold int64
	LockSet       int64

	// Source counter increment per A toggle, in subns.
	HalfPeriodCounts uint64
	// Resynchronization latency, in subns.
	PipelineDelay  int64
	SyncStages     int
	SmoothingShift uint

	Stages [NumStages]StageParams
}

func validate(cfg Config) error {
	finite := func(x float64) bool {
		return !math.IsNaN(x) && !math.IsInf(x, 0) && x > 0
	}
	if !finite(cfg.SampleRate) || !finite(cfg.FreqA) || !finite(cfg.FreqB) {
		return fmt.Errorf("%w: rates must be positive and finite", ErrConfig)
	}
	if cfg.FreqA >= cfg.FreqB || cfg.FreqB >= maxRatio*cfg.FreqA {
		return fmt.Errorf("%w: freq_a=%v, freq_b=%v", ErrFrequencyOrder, cfg.FreqA, cfg.FreqB)
	}
	if 0.5*cfg.SampleRate/cfg.FreqB < 2 {
		return fmt.Errorf("%w: sample rate %v too low for reference %v", ErrConfig, cfg.SampleRate, cfg.FreqB)
	}
	if cfg.TimeConstant <= 0 {
		return fmt.Errorf("%w: time constant must be positive", ErrConfig)
	}
	if cfg.TimeConstant.Seconds()*cfg.SampleRate/stageScale[0] < minStageSamples {
		return fmt.Errorf("%w: time constant %v too short", ErrConfig, cfg.TimeConstant)
	}
	if cfg.SyncStages != 0 && (cfg.SyncStages < 2 || cfg.SyncStages > MaxSyncStages) {
		return fmt.Errorf("%w: sync stages must be in [2, %d]", ErrConfig, MaxSyncStages)
	}
	if d := dwellMillis(cfg, NumStages-1); !cfg.DisableCoarseFrequencyMode && d > maxCoarseDwellMillis {
		return fmt.Errorf("%w: coarse dwell %d ms exceeds counter difference range", ErrConfig, d)
	}
	switch cfg.Unlocked {
	case UnlockedFree, UnlockedHold, UnlockedSentinel:
	default:
		return fmt.Errorf("%w: unknown unlocked output policy %d", ErrConfig, cfg.Unlocked)
	}
	return nil
}

// loopGains returns per-stage phase gains in ns per detector count and
// period gains in ns per sample per detector count.
func loopGains(cfg Config) (pg, ig [NumStages]float64) {
	d := 0.25 / dampingSquared
	// Detector counts per sample per ns of phase error, both channels.
	kd := 2 * (cfg.FreqA + cfg.FreqB) / 1e9
	for s := range NumStages {
		tau := cfg.TimeConstant.Seconds() * cfg.SampleRate * stageScale[s] / stageScale[0]
		k1 := 4 / (math.Pi * tau * (1 + d))
		// Period gain follows k1 squared, so it scales by 1/k^2 when the
		// stage time constant grows by k and the damping stays fixed.
		k2 := d * k1 * k1
		pg[s] = k1 / kd
		ig[s] = k2 / kd
	}
	return pg, ig
}

func minFixed(gs [NumStages]float64, bits uint) int64 {
	m := int64(math.MaxInt64)
	for _, g := range gs {
		m = min(m, timemath.Fixed(g, bits))
	}
	return m
}

func scales(cfg Config, pg, ig [NumStages]float64) (uint, uint, error) {
	p := cfg.PhaseFracBits
	if p == 0 {
		for p = minPhaseBits; p <= maxPhaseBits; p++ {
			if minFixed(pg, p) >= minSafeGain {
				break
			}
		}
		if p > maxPhaseBits {
			return 0, 0, fmt.Errorf("%w: no phase scale up to %d bits", ErrScale, maxPhaseBits)
		}
	} else if p < minPhaseBits || p > maxPhaseBits {
		return 0, 0, fmt.Errorf("%w: phase bits %d not in [%d, %d]",
			ErrScale, p, minPhaseBits, maxPhaseBits)
	}
	periodFits := func(q uint) bool {
		return math.Ldexp(1e9/cfg.SampleRate, int(q)) < maxPeriodMagnitude
	}
	q := cfg.PeriodFracBits
	if q == 0 {
		for q = p; q <= maxPeriodBits && periodFits(q); q++ {
			if minFixed(ig, q) >= minSafeGain {
				break
			}
		}
		if q > maxPeriodBits || !periodFits(q) {
			return 0, 0, fmt.Errorf("%w: no period scale for time constant %v",
				ErrScale, cfg.TimeConstant)
		}
	} else if q < p || q > maxPeriodBits || !periodFits(q) {
		return 0, 0, fmt.Errorf("%w: period bits %d", ErrScale, q)
	}
	if minFixed(pg, p) == 0 {
		return 0, 0, fmt.Errorf("%w: phase gain at %d bits", ErrZeroGain, p)
	}
	if minFixed(ig, q) == 0 {
		return 0, 0, fmt.Errorf("%w: period gain at %d bits", ErrZeroGain, q)
	}
	return p, q, nil
}

func dwellMillis(cfg Config, s int) int64 {
	if s == 0 {
		return 1
	}
	tau := cfg.TimeConstant.Seconds() * 1e3 * stageScale[s] / stageScale[0]
	d := int64(math.Ceil(2 * tau))
	if s == NumStages-1 {
		return max(2, d)
	}
	return max(1, d)
}

// NewParams validates cfg and derives the fixed-point loop parameters.
func NewParams(cfg Config) (*Params, error) {
	err := validate(cfg)
	if err != nil {
		return nil, err
	}
	pg, ig := loopGains(cfg)
	pbits, qbits, err := scales(cfg, pg, ig)
	if err != nil {
		return nil, err
	}

	p := &Params{
		Config:     cfg,
		PhaseBits:  pbits,
		PeriodBits: qbits,
		SyncStages: cfg.SyncStages,
	}
	if p.SyncStages == 0 {
		p.SyncStages = DefaultSyncStages
	}
	p.ModulusA = timemath.Fixed(0.5e9/cfg.FreqA, pbits)
	p.ModulusB = timemath.Fixed(0.5e9/cfg.FreqB, pbits)
	p.NominalPeriod = timemath.Fixed(1e9/cfg.SampleRate, qbits)
	p.MaxPeriodOffset = p.NominalPeriod / 10
	p.HoldThreshold = max(1, int64(math.Round(0.25*cfg.SampleRate/cfg.FreqA)))
	p.LockSet = max(1, int64(math.Round(lockWindow.Seconds()*cfg.SampleRate)))
	p.HalfPeriodCounts = uint64(timemath.SubnsFromNsec(0.5e9 / cfg.FreqA))
	p.PipelineDelay = int64(p.SyncStages) * timemath.SubnsFromNsec(1e9/cfg.SampleRate)

	n := 0.01 * cfg.TimeConstant.Seconds() * cfg.SampleRate
	p.SmoothingShift = uint(min(maxSmoothingShift, max(1, math.Round(math.Log2(n)))))

	for s := range NumStages {
		st := &p.Stages[s]
		st.DwellMillis = dwellMillis(cfg, s)
		st.DwellSamples = int64(math.Round(float64(st.DwellMillis) * cfg.SampleRate / 1e3))
		st.PhaseGain = timemath.Fixed(pg[s], pbits)
		st.PeriodGain = timemath.Fixed(ig[s], qbits)
		st.LockPenalty = lockPenalty[s]
	}
	p.Stages[CoarsestStage].CoarseFrequencyMode = !cfg.DisableCoarseFrequencyMode
	return p, nil
}

// phaseIncrementShift is the number of fractional bits the period carries
// beyond the phase.
func (p *Params) phaseIncrementShift() uint {
	return p.PeriodBits - p.PhaseBits
}
