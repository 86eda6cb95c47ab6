package codec

import (
	"math"
	"time"
)

// DateTime values are 100ns ticks since 1601-01-01 UTC.
const (
	ticksPerSecond     = 10_000_000
	epochOffsetSeconds = 11_644_473_600
)

var (
	minDateTime = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxDateTime = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)
)

// DateTimeTicks converts t to wire ticks. The zero time and anything before
// 1601 map to 0; anything after 9999-12-31 23:59:59 maps to MaxInt64.
func DateTimeTicks(t time.Time) int64 {
	if t.IsZero() || !t.After(minDateTime) {
		return 0
	}
	if t.After(maxDateTime) {
		return math.MaxInt64
	}
	return (t.Unix()+epochOffsetSeconds)*ticksPerSecond + int64(t.Nanosecond()/100)
}

// TimeFromTicks is the inverse of DateTimeTicks. Ticks of 0 or less decode as
// the zero time and MaxInt64 decodes as the latest representable instant.
func TimeFromTicks(ticks int64) time.Time {
	if ticks <= 0 {
		return time.Time{}
	}
	if ticks == math.MaxInt64 {
		return maxDateTime
	}
	secs := ticks/ticksPerSecond - epochOffsetSeconds
	nsec := (ticks % ticksPerSecond) * 100
	return time.Unix(secs, nsec).UTC()
}

func (w *Writer) DateTime(t time.Time) { w.Int64(DateTimeTicks(t)) }

func (r *Reader) DateTime() time.Time { return TimeFromTicks(r.Int64()) }
