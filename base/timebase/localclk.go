package timebase

import (
	"time"
)

// LocalClock is the host clock used to pace sample processing. Only
// differences between readings of Now are meaningful.
type LocalClock interface {
	Now() time.Time
	Sleep(duration time.Duration)
}
