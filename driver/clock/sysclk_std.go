//go:build !linux

package clock

import (
	"errors"
	"runtime"
	"time"

	"go.uber.org/zap"

	"example.com/vernier-time/base/timebase"
)

type MonotonicClock struct {
	Log *zap.Logger
}

var _ timebase.LocalClock = (*MonotonicClock)(nil)

var errUnsupportedOperation = errors.New("unsupported operation")

var epoch = time.Now()

func (c *MonotonicClock) Now() time.Time {
	return time.Unix(0, 0).UTC().Add(time.Since(epoch))
}

func (c *MonotonicClock) Sleep(duration time.Duration) {
	if duration < 0 {
		panic("invalid duration value")
	}
	time.Sleep(duration)
}

func PinThread(cpu int) error {
	runtime.LockOSThread()
	if cpu < 0 {
		return nil
	}
	return errUnsupportedOperation
}
