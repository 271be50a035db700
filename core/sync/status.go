package sync

import (
	"math"

	"example.com/vernier-time/base/seqlock"
	"example.com/vernier-time/core/servo"
)

// Status is the servo state published after each batch.
type Status struct {
	Samples   uint64
	Counter   uint64
	Total     uint64
	Flags     servo.Flags
	LockCount int64
	// Local sample period estimate relative to nominal.
	PeriodPPM float64
	// Source counter rate measured by regression, relative to nominal. Zero
	// while no estimate is available.
	RatePPM float64
}

func (s Status) Stage() servo.Stage { return s.Flags.Stage() }

func (s Status) Locked() bool { return s.Flags&servo.FlagLockedFinal != 0 }

// StatusCell hands Status values from the sync loop to any number of readers.
type StatusCell struct {
	cell seqlock.Cell
}

func (c *StatusCell) Store(s Status) {
	c.cell.Store([seqlock.Words]uint64{
		s.Samples,
		s.Counter,
		s.Total,
		uint64(s.Flags) | uint64(s.LockCount)<<32,
		math.Float64bits(s.PeriodPPM),
		math.Float64bits(s.RatePPM),
	})
}

func (c *StatusCell) Load() Status {
	w := c.cell.Load()
	return Status{
		Samples:   w[0],
		Counter:   w[1],
		Total:     w[2],
		Flags:     servo.Flags(uint32(w[3])),
		LockCount: int64(w[3] >> 32),
		PeriodPPM: math.Float64frombits(w[4]),
		RatePPM:   math.Float64frombits(w[5]),
	}
}

// Published reports whether any status has been stored yet.
func (c *StatusCell) Published() bool {
	return c.cell.Version() != 0
}
