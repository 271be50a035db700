package servo

// lockDetector is a hysteretic pass/fail accumulator. The lock indication
// asserts when the counter reaches the set point and clears only when the
// counter falls back to zero. Locked samples still miss occasionally and pull
// the counter a few counts under the set point, so clearing there would make
// the indication flicker.
type lockDetector struct {
	count  int64
	locked bool
}

func (l lockDetector) next(agree bool, penalty, set int64) lockDetector {
	if agree {
		l.count = min(l.count+1, set)
	} else {
		l.count = max(l.count-penalty, 0)
	}
	switch l.count {
	case set:
		l.locked = true
	case 0:
		l.locked = false
	}
	return l
}

func freePass(set int64) lockDetector {
	return lockDetector{count: set, locked: true}
}
