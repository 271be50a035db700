package measurements

import (
	"time"

	"github.com/google/uuid"
)

// Ensemble keeps the latest locked measurement of every reporting instance.
type Ensemble struct {
	maxAge time.Duration
	latest map[uuid.UUID]Measurement
}

func NewEnsemble(maxAge time.Duration) *Ensemble {
	if maxAge <= 0 {
		panic("invalid measurement age limit")
	}
	return &Ensemble{maxAge: maxAge, latest: make(map[uuid.UUID]Measurement)}
}

// Add records m. An unlocked instance is removed until it reports a lock
// again.
func (e *Ensemble) Add(m Measurement, locked bool) {
	if !locked {
		delete(e.latest, m.Instance)
		return
	}
	e.latest[m.Instance] = m
}

// Midpoint drops measurements older than the age limit at now and returns the
// fault tolerant midpoint of the rest.
func (e *Ensemble) Midpoint(now time.Time) (Measurement, int, bool) {
	ms := make([]Measurement, 0, len(e.latest))
	for id, m := range e.latest {
		if now.Sub(m.Timestamp) > e.maxAge {
			delete(e.latest, id)
			continue
		}
		ms = append(ms, m)
	}
	if len(ms) == 0 {
		return Measurement{}, 0, false
	}
	return FaultTolerantMidpoint(ms), len(ms), true
}
