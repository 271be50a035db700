//go:build linux

package clock

import (
	"fmt"
	"math"
	"runtime"
	"time"

	"go.uber.org/zap"

	"golang.org/x/sys/unix"

	"github.com/tklauser/go-sysconf"

	"example.com/vernier-time/base/timebase"
)

// MonotonicClock reads CLOCK_MONOTONIC, which is never stepped.
type MonotonicClock struct {
	Log *zap.Logger
}

var _ timebase.LocalClock = (*MonotonicClock)(nil)

func now(log *zap.Logger) time.Time {
	var ts unix.Timespec
	err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	if err != nil {
		log.Fatal("unix.ClockGettime failed", zap.Error(err))
	}
	return time.Unix(ts.Unix()).UTC()
}

func sleep(log *zap.Logger, duration time.Duration) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK)
	if err != nil {
		log.Fatal("unix.TimerfdCreate failed", zap.Error(err))
	}
	ts, err := unix.TimeToTimespec(now(log).Add(duration))
	if err != nil {
		log.Fatal("unix.TimeToTimespec failed", zap.Error(err))
	}
	err = unix.TimerfdSettime(fd, unix.TFD_TIMER_ABSTIME, &unix.ItimerSpec{Value: ts}, nil /* oldValue */)
	if err != nil {
		log.Fatal("unix.TimerfdSettime failed", zap.Error(err))
	}
	if fd < math.MinInt32 || math.MaxInt32 < fd {
		log.Fatal("unix.TimerfdCreate returned unexpected value")
	}
	pollFds := []unix.PollFd{
		{Fd: int32(fd), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Poll(pollFds, -1 /* timeout */)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			log.Fatal("unix.Poll failed", zap.Error(err))
		}
		break
	}
	_ = unix.Close(fd)
}

func (c *MonotonicClock) Now() time.Time {
	return now(c.Log)
}

func (c *MonotonicClock) Sleep(duration time.Duration) {
	if duration < 0 {
		panic("invalid duration value")
	}
	if duration == 0 {
		return
	}
	sleep(c.Log, duration)
}

// PinThread locks the calling goroutine to its OS thread and restricts that
// thread to the given CPU. A negative cpu only locks the thread.
func PinThread(cpu int) error {
	runtime.LockOSThread()
	if cpu < 0 {
		return nil
	}
	n, err := sysconf.Sysconf(sysconf.SC_NPROCESSORS_ONLN)
	if err != nil {
		return err
	}
	if int64(cpu) >= n {
		return fmt.Errorf("cpu %d not in [0, %d)", cpu, n)
	}
	var set unix.CPUSet
	set.Set(cpu)
	return unix.SchedSetaffinity(0 /* calling thread */, &set)
}
