//go:build tinygo

package core

import "runtime/interrupt"

// Masking is global on the single core the firmware runs on, so a
// critical section also excludes the edge interrupt.
func disableInterrupts() interrupt.State { return interrupt.Disable() }

func restoreInterrupts(state interrupt.State) { interrupt.Restore(state) }
