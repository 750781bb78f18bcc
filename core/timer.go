package core

import (
	"sync/atomic"
	"time"
)

// Clock is the firmware time base in microseconds. Now wraps every ~71
// minutes; compare with TimerBefore.
type Clock interface {
	Now() uint32
	Uptime() uint64
}

// TimerBefore reports whether a precedes b, tolerating wrap
func TimerBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// TimerFromDuration converts d to clock ticks
func TimerFromDuration(d time.Duration) uint32 {
	return uint32(d / time.Microsecond)
}

// SystemClock counts from its creation using the monotonic clock
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Uptime() uint64 {
	return uint64(time.Since(c.start) / time.Microsecond)
}

func (c *SystemClock) Now() uint32 {
	return uint32(c.Uptime())
}

// ManualClock only moves when told to
type ManualClock struct {
	us uint64 // atomic
}

func (c *ManualClock) Uptime() uint64 {
	return atomic.LoadUint64(&c.us)
}

func (c *ManualClock) Now() uint32 {
	return uint32(c.Uptime())
}

// Advance moves the clock forward by d
func (c *ManualClock) Advance(d time.Duration) {
	atomic.AddUint64(&c.us, uint64(d/time.Microsecond))
}

// Set jumps to an absolute uptime in microseconds
func (c *ManualClock) Set(us uint64) {
	atomic.StoreUint64(&c.us, us)
}
