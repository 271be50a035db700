// Package refgen models the upstream module that produces a Vernier pair of
// reference toggles, the alignment pulse and the source counter, sampled by
// a local oscillator with a configurable frequency error.
package refgen

import (
	"errors"
	"fmt"
	"math"

	"example.com/vernier-time/base/timemath"
	"example.com/vernier-time/core/servo"
)

// Source time is kept in 2^-32 ns.
const timeFracBits = 32

var errConfig = errors.New("invalid reference generator configuration")

type Config struct {
	// Nominal local sample rate in Hz.
	SampleRate float64
	// Frequency of reference A in Hz.
	FreqA float64
	// Reference B runs at FreqA*RatioQ/RatioP. A and B edges coincide every
	// RatioP half-periods of A.
	RatioP, RatioQ int64
	// Local oscillator frequency error in ppm.
	PPM float64
	// Source time at the first sample, in ns.
	PhaseNs float64
	// Source counter value at source time zero.
	StartCount uint64
}

type Generator struct {
	halfA int64 // subns
	p, q  int64
	tick  int64
	t     int64
	cycle int64
	base  uint64
	truth uint64
}

func New(cfg Config) (*Generator, error) {
	if cfg.SampleRate <= 0 || cfg.FreqA <= 0 {
		return nil, fmt.Errorf("%w: rates must be positive", errConfig)
	}
	if cfg.RatioP <= 0 || cfg.RatioQ <= cfg.RatioP {
		return nil, fmt.Errorf("%w: ratio %d:%d", errConfig, cfg.RatioP, cfg.RatioQ)
	}
	if cfg.PhaseNs < 0 || math.Abs(cfg.PPM) >= 1e5 {
		return nil, fmt.Errorf("%w: phase %v ns, ppm %v", errConfig, cfg.PhaseNs, cfg.PPM)
	}
	g := &Generator{
		halfA: timemath.SubnsFromNsec(0.5e9 / cfg.FreqA),
		p:     cfg.RatioP,
		q:     cfg.RatioQ,
		base:  cfg.StartCount & timemath.CounterMask,
	}
	g.tick = timemath.Fixed(1e9/cfg.SampleRate/(1+cfg.PPM*1e-6), timeFracBits)
	g.cycle = 2 * g.p * g.halfA << (timeFracBits - timemath.SubnsBits)
	g.t = timemath.Fixed(cfg.PhaseNs, timeFracBits)
	g.normalize()
	return g, nil
}

// FreqB returns the frequency of reference B for a given FreqA.
func FreqB(freqA float64, p, q int64) float64 {
	return freqA * float64(q) / float64(p)
}

// normalize keeps the source time within one full A/B/alignment pattern.
func (g *Generator) normalize() {
	cycleCounts := uint64(2 * g.p * g.halfA)
	for g.t >= g.cycle {
		g.t -= g.cycle
		g.base = (g.base + cycleCounts) & timemath.CounterMask
	}
	for g.t < 0 {
		g.t += g.cycle
		g.base = (g.base - cycleCounts) & timemath.CounterMask
	}
}

// Next returns the source signals at the current local sample and advances
// to the next one.
func (g *Generator) Next() servo.Input {
	subns := g.t >> (timeFracBits - timemath.SubnsBits)
	kA := subns / g.halfA
	kB := subns * g.q / (g.p * g.halfA)
	in := servo.Input{
		A:     kA&1 == 1,
		B:     kB&1 == 1,
		Align: (kA/g.p)&1 == 1,
		Count: (g.base + uint64(kA*g.halfA)) & timemath.CounterMask,
	}
	g.truth = (g.base + uint64(subns)) & timemath.CounterMask
	g.t += g.tick
	g.normalize()
	return in
}

// Truth returns the true source time, in counter units, of the sample most
// recently returned by Next.
func (g *Generator) Truth() uint64 {
	return g.truth
}

// StepPhase moves the source time by ns, as seen from the local domain.
func (g *Generator) StepPhase(ns float64) {
	g.t += timemath.Fixed(ns, timeFracBits)
	g.normalize()
}

// Fill replaces batch with consecutive samples.
func (g *Generator) Fill(batch []servo.Input) {
	for i := range batch {
		batch[i] = g.Next()
	}
}
