package core

import "go.uber.org/atomic"

// TimerFreq is the tick rate of the system clock. The RP2040 hardware timer
// counts microseconds.
const TimerFreq = 1000000

var (
	systemTicks atomic.Uint32
	timeSource  func() uint32
)

// SetTimeSource makes GetTime read a free-running hardware counter. Call it
// once at boot, before anything reads the time.
func SetTimeSource(fn func() uint32) {
	timeSource = fn
}

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	if timeSource != nil {
		return timeSource()
	}
	return systemTicks.Load()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	systemTicks.Store(ticks)
}

// AdvanceTime moves the system clock forward by delta ticks
func AdvanceTime(delta uint32) uint32 {
	return systemTicks.Add(delta)
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * TimerFreq / 1000000)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / TimerFreq)
}

// TimerIsBefore reports whether tick a comes before tick b, tolerating
// 32-bit wraparound.
func TimerIsBefore(a, b uint32) bool {
	return int32(a-b) < 0
}
