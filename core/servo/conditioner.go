package servo

// Input is one raw sample of the source-domain signals as seen by the local
// sampling tick.
type Input struct {
	A, B bool
	// Align flips once per A/B coincidence event.
	Align bool
	// Count is the source counter in subns, as of the latest A toggle.
	Count uint64
	// Reset forces the servo back to its initial state.
	Reset bool
}

type conditioned struct {
	a, b   bool
	count  uint64
	edgeA  bool
	strobe bool
}

// conditioner delays all inputs through the same register chain so that the
// counter snapshot always belongs to the delayed A level.
type conditioner struct {
	regs      [MaxSyncStages]Input
	fill      int
	prevA     bool
	prevAlign bool
}

func (c conditioner) next(in Input, depth int, armed bool) (conditioner, conditioned) {
	if depth < 2 || depth > MaxSyncStages {
		panic("invalid synchronizer depth")
	}
	out := c.regs[depth-1]
	o := conditioned{a: out.A, b: out.B, count: out.Count}
	if c.fill > depth {
		o.edgeA = out.A != c.prevA
		o.strobe = armed && out.Align != c.prevAlign
	} else {
		c.fill++
	}
	c.prevA, c.prevAlign = out.A, out.Align
	copy(c.regs[1:depth], c.regs[:depth-1])
	in.Reset = false
	c.regs[0] = in
	return c, o
}
