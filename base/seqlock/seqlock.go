// Package seqlock provides a single-writer sequence lock used to hand
// multi-word values from one goroutine to any number of readers without
// tearing.
package seqlock

import (
	"runtime"
	"sync/atomic"
)

const Words = 6

type Cell struct {
	seq   atomic.Uint64
	words [Words]atomic.Uint64
}

// Store publishes w. Store must only be called from a single goroutine.
func (c *Cell) Store(w [Words]uint64) {
	c.seq.Add(1)
	for i := range w {
		c.words[i].Store(w[i])
	}
	c.seq.Add(1)
}

// Load returns the most recently published value.
func (c *Cell) Load() [Words]uint64 {
	var w [Words]uint64
	for {
		s := c.seq.Load()
		if s&1 == 0 {
			for i := range w {
				w[i] = c.words[i].Load()
			}
			if c.seq.Load() == s {
				return w
			}
		}
		runtime.Gosched()
	}
}

// Version returns the number of completed stores.
func (c *Cell) Version() uint64 {
	return c.seq.Load() / 2
}
