//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"cubefw/core"
)

// RP2040 timer peripheral, a free running 64-bit microsecond counter.
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x24
	timerTIMERAWL = timerBase + 0x28
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// InitClock points core time at the hardware counter so step timing reads
// live values from any goroutine.
func InitClock() {
	core.SetTimeSource(GetHardwareTime)
}

// GetHardwareTime returns the low 32 bits of the microsecond counter.
func GetHardwareTime() uint32 {
	return timerRAWL.Get()
}

// GetHardwareUptime reads the full counter, retrying across a carry into
// the high word.
func GetHardwareUptime() uint64 {
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		if high1 == high2 {
			return uint64(high1)<<32 | uint64(low)
		}
	}
}
