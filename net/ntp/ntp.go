// Package ntp implements the 64-bit NTP timestamp format used to stamp
// telemetry packets with the sender's wall-clock time.
package ntp

import (
	"time"
)

const (
	// Seconds from Unix epoch (1970) to NTP epoch (1900), including 17 leap days
	epoch int64 = -2208988800

	nanosecondsPerSecond int64 = 1e9
	secondsPerEra        int64 = 1 << 32

	Time64Len = 8
)

type Time64 struct {
	Seconds  uint32
	Fraction uint32
}

func Time64FromTime(t time.Time) Time64 {
	return Time64{
		Seconds: uint32(
			t.Unix() - epoch),
		Fraction: uint32(
			int64(t.Nanosecond()) << 32 / nanosecondsPerSecond),
	}
}

// TimeFromTime64 converts an NTP timestamp to a time.Time using a reference time t0
// to resolve the NTP timestamp era ambiguity.
func TimeFromTime64(t Time64, t0 time.Time) time.Time {
	tref := t0.Unix()

	sec := epoch + (tref-epoch)/secondsPerEra*secondsPerEra + int64(t.Seconds)

	// If the timestamp would be too far in the past relative to
	// the reference time, assume it's from the next era
	if sec < tref-secondsPerEra/2 {
		sec += secondsPerEra
	}

	// Round to nearest so that conversions from time.Time round-trip.
	nsec := (int64(t.Fraction)*nanosecondsPerSecond + 1<<31) >> 32

	return time.Unix(sec, nsec).UTC()
}

// Before reports whether t precedes u. Timestamps are compared as serial
// numbers, so the order holds across an era boundary as long as t and u are
// less than 68 years apart.
func (t Time64) Before(u Time64) bool {
	return int64(t.Uint64()-u.Uint64()) < 0
}

func (t Time64) After(u Time64) bool {
	return int64(t.Uint64()-u.Uint64()) > 0
}

func (t Time64) Uint64() uint64 {
	return uint64(t.Seconds)<<32 | uint64(t.Fraction)
}

func Time64FromUint64(v uint64) Time64 {
	return Time64{Seconds: uint32(v >> 32), Fraction: uint32(v)}
}
