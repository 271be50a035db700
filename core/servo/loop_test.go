package servo

import (
	"testing"
	"time"

	"example.com/vernier-time/base/timemath"
)

func testParams(t *testing.T) *Params {
	t.Helper()
	p, err := NewParams(Config{
		SampleRate:   125e6,
		FreqA:        20e6,
		FreqB:        20.5e6,
		TimeConstant: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewParams() failed: %v", err)
	}
	return p
}

func TestConditionerDelay(t *testing.T) {
	for depth := 2; depth <= MaxSyncStages; depth++ {
		var c conditioner
		var ins []Input
		for i := range 20 {
			in := Input{A: i%2 == 0, B: i%3 == 0, Align: i >= 10, Count: uint64(i)}
			ins = append(ins, in)
			var o conditioned
			c, o = c.next(in, depth, true)
			if i < depth {
				if o != (conditioned{}) {
					t.Errorf("depth %d, sample %d: output %+v before fill", depth, i, o)
				}
				continue
			}
			want := ins[i-depth]
			if o.a != want.A || o.b != want.B || o.count != want.Count {
				t.Errorf("depth %d, sample %d: output %+v, want %+v", depth, i, o, want)
			}
			wantEdge := i > depth
			if o.edgeA != wantEdge {
				t.Errorf("depth %d, sample %d: edgeA = %v, want %v", depth, i, o.edgeA, wantEdge)
			}
			wantStrobe := i == 10+depth
			if o.strobe != wantStrobe {
				t.Errorf("depth %d, sample %d: strobe = %v, want %v", depth, i, o.strobe, wantStrobe)
			}
		}
	}
}

func TestConditionerFirstSampleAfterReset(t *testing.T) {
	var c conditioner
	in := Input{A: true, Align: true}
	for i := range 6 {
		var o conditioned
		c, o = c.next(in, 2, true)
		if o.edgeA || o.strobe {
			t.Errorf("sample %d: spurious edge or strobe %+v", i, o)
		}
	}
}

func TestConditionerDisarmed(t *testing.T) {
	var c conditioner
	for i := range 10 {
		var o conditioned
		c, o = c.next(Input{Align: i%2 == 0}, 2, false)
		if o.strobe {
			t.Errorf("sample %d: strobe while disarmed", i)
		}
	}

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("conditioner.next with depth 1 did not panic")
		}
	}()
	c.next(Input{}, 1, true)
}

func TestOscillatorAdvance(t *testing.T) {
	tests := []struct {
		o         oscillator
		incr, adj int64
		want      oscillator
	}{
		{oscillator{phase: 10, hold: 3}, 5, 0, oscillator{phase: 15, hold: 4}},
		{oscillator{phase: 95, hold: 3}, 5, 0, oscillator{phase: 0, level: true, hold: 1}},
		{oscillator{phase: 95, level: true, hold: 3}, 8, 1, oscillator{phase: 4, hold: 1}},
		{oscillator{phase: 2, hold: 3}, 5, -10, oscillator{phase: 97, level: true, hold: 1}},
		{oscillator{phase: 2, hold: maxHold}, 1, 0, oscillator{phase: 3, hold: maxHold}},
	}

	for _, tt := range tests {
		got := tt.o.advance(tt.incr, tt.adj, 100)
		if got != tt.want {
			t.Errorf("%+v.advance(%d, %d, 100) = %+v, want %+v", tt.o, tt.incr, tt.adj, got, tt.want)
		}
	}

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("oscillator.advance past two half-periods did not panic")
		}
	}()
	oscillator{phase: 50}.advance(200, 0, 100)
}

func TestDetect(t *testing.T) {
	tests := []struct {
		o    oscillator
		ref  bool
		want int64
	}{
		{oscillator{level: true, hold: 1}, true, 0},
		{oscillator{level: false, hold: 9}, false, 0},
		{oscillator{level: true, hold: 3}, false, 1},
		{oscillator{level: true, hold: 2}, false, -1},
		{oscillator{level: false, hold: 1}, true, -1},
	}

	for _, tt := range tests {
		got := detect(tt.o, tt.ref, 2)
		if got != tt.want {
			t.Errorf("detect(%+v, %v, 2) = %d, want %d", tt.o, tt.ref, got, tt.want)
		}
	}
}

func TestDrift(t *testing.T) {
	var d drift
	for range 100 {
		d = d.next(1, -1)
	}
	if d != DriftLimit {
		t.Errorf("drift = %d, want %d", d, DriftLimit)
	}
	if a, b := d.moduli(100, 90); a != 99 || b != 90 {
		t.Errorf("drift(%d).moduli(100, 90) = (%d, %d), want (99, 90)", d, a, b)
	}
	for range 100 {
		d = d.next(-1, 0)
	}
	if d != -DriftLimit {
		t.Errorf("drift = %d, want %d", d, -DriftLimit)
	}
	if a, b := d.moduli(100, 90); a != 100 || b != 89 {
		t.Errorf("drift(%d).moduli(100, 90) = (%d, %d), want (100, 89)", d, a, b)
	}
	if d = drift(0).next(1, 1); d != 0 {
		t.Errorf("drift(0).next(1, 1) = %d, want 0", d)
	}
	if a, b := d.moduli(100, 90); a != 100 || b != 90 {
		t.Errorf("drift(0).moduli(100, 90) = (%d, %d), want (100, 90)", a, b)
	}
}

func TestLockDetector(t *testing.T) {
	const set = 10
	var l lockDetector
	for i := range set - 1 {
		l = l.next(true, 4, set)
		if l.locked {
			t.Fatalf("locked after %d agreeing samples", i+1)
		}
	}
	l = l.next(true, 4, set)
	if !l.locked || l.count != set {
		t.Fatalf("lock = %+v, want locked at %d", l, set)
	}
	l = l.next(true, 4, set)
	if l.count != set {
		t.Errorf("count = %d, want saturation at %d", l.count, set)
	}
	l = l.next(false, 4, set)
	l = l.next(false, 4, set)
	if !l.locked || l.count != 2 {
		t.Errorf("lock = %+v, want locked with count 2", l)
	}
	l = l.next(false, 4, set)
	if l.locked || l.count != 0 {
		t.Errorf("lock = %+v, want unlocked at zero", l)
	}
	l = l.next(true, 4, set)
	if l.locked {
		t.Errorf("lock = %+v, want unlocked until the set point", l)
	}
	if got := freePass(set); !got.locked || got.count != set {
		t.Errorf("freePass(%d) = %+v", set, got)
	}
}

func TestLockDetectorSparseMisses(t *testing.T) {
	tests := []struct {
		set, penalty int64
		every        int
	}{
		{25000, 1, 50},
		{25000, 4, 500},
		{10, 2, 7},
	}

	for _, tt := range tests {
		l := freePass(tt.set)
		low := tt.set
		for i := 1; i <= 100000; i++ {
			l = l.next(i%tt.every != 0, tt.penalty, tt.set)
			low = min(low, l.count)
			if !l.locked {
				t.Fatalf("set %d, miss every %d: lock cleared at sample %d", tt.set, tt.every, i)
			}
		}
		if low >= tt.set {
			t.Errorf("set %d, miss every %d: count never left the set point", tt.set, tt.every)
		}
	}
}

func TestEndDwell(t *testing.T) {
	p := testParams(t)
	tests := []struct {
		stage       Stage
		locked      bool
		wantStage   Stage
		wantSub     subState
		wantRealign bool
	}{
		{0, true, 0, running, false},
		{0, false, 1, waiting, true},
		{2, true, 1, waiting, false},
		{2, false, 3, waiting, true},
		{CoarsestStage, true, 3, waiting, true},
		{CoarsestStage, false, CoarsestStage, waiting, true},
	}

	for _, tt := range tests {
		c := controller{stage: tt.stage, sub: running}
		got := c.endDwell(p, tt.locked)
		if got.stage != tt.wantStage || got.sub != tt.wantSub || got.realign != tt.wantRealign {
			t.Errorf("endDwell(stage %v, locked %v) = %+v, want stage %v, sub %v, realign %v",
				tt.stage, tt.locked, got, tt.wantStage, tt.wantSub, tt.wantRealign)
		}
	}
	if got := (controller{stage: 0, sub: running}).endDwell(p, true); got.dwell != p.Stages[0].DwellSamples {
		t.Errorf("renewed dwell = %d, want %d", got.dwell, p.Stages[0].DwellSamples)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("endDwell in stage 7 did not panic")
		}
	}()
	controller{stage: 7}.endDwell(p, false)
}

func TestCoarsePeriod(t *testing.T) {
	p := testParams(t)
	c := controller{anchorN: 1000, anchorCount: timemath.CounterMask - 100}

	// 125000 samples covering 1 ms plus 1000 ppm of source time.
	count := timemath.CounterAdd(c.anchorCount, timemath.SubnsFromNsec(1.001e6))
	off, ok := c.coarsePeriod(p, 126000, count)
	if !ok {
		t.Fatalf("coarsePeriod() failed")
	}
	want := p.NominalPeriod / 1000
	if d := timemath.Abs(off - want); d > want/1000 {
		t.Errorf("coarsePeriod() = %d, want %d", off, want)
	}

	if _, ok := c.coarsePeriod(p, 1000, count); ok {
		t.Errorf("coarsePeriod() with no samples succeeded")
	}
	if _, ok := c.coarsePeriod(p, 126000, c.anchorCount); ok {
		t.Errorf("coarsePeriod() with no counter advance succeeded")
	}
	count = timemath.CounterAdd(c.anchorCount, timemath.SubnsFromNsec(2e6))
	if off, _ := c.coarsePeriod(p, 126000, count); off != p.MaxPeriodOffset {
		t.Errorf("coarsePeriod() = %d, want clamp at %d", off, p.MaxPeriodOffset)
	}
}

func TestPairedBase(t *testing.T) {
	const half = 1000
	tests := []struct {
		latched uint64
		ped     int64
		want    uint64
	}{
		{5000, 0, 5000},
		{5000, -1, 6000},
		{5000, 1, 4000},
		{timemath.CounterMask, -1, half - 1},
		{10, 1, timemath.CounterMask - half + 11},
	}

	for _, tt := range tests {
		got := pairedBase(tt.latched, tt.ped, half)
		if got != tt.want {
			t.Errorf("pairedBase(%d, %d, %d) = %d, want %d", tt.latched, tt.ped, half, got, tt.want)
		}
	}
}

func TestSynthesize(t *testing.T) {
	p := testParams(t)
	o := oscillator{phase: 3 << p.PhaseBits}
	got := synthesize(p, 1<<20, 0, o, -7)
	want := uint64(1<<20 + 3<<timemath.SubnsBits + p.PipelineDelay - 7)
	if got != want {
		t.Errorf("synthesize() = %d, want %d", got, want)
	}
}

func TestSmoother(t *testing.T) {
	const rate = 8 << (timemath.SubnsBits + smoothingFracBits)
	var s smoother
	s, y := s.next(1000, rate, 4)
	if y != 1000 || !s.valid {
		t.Fatalf("first smoother output = %d, want 1000", y)
	}

	total := uint64(1000)
	for i := range 100 {
		total += 8 << timemath.SubnsBits
		s, y = s.next(total, rate, 4)
		if y != total {
			t.Fatalf("sample %d: smoother output = %d, want %d", i, y, total)
		}
	}

	// Jumps beyond one microsecond are followed immediately.
	total += 5000 << timemath.SubnsBits
	s, y = s.next(total, rate, 4)
	if y != total {
		t.Errorf("smoother output after jump = %d, want %d", y, total)
	}

	// Small jumps are filtered.
	total += 8<<timemath.SubnsBits + 1600
	_, y = s.next(total, rate, 4)
	if want := total - 1600 + 100; y != want {
		t.Errorf("smoother output after small step = %d, want %d", y, want)
	}
}
