//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// On regular Go there are no interrupts to mask; a mutex gives the same
// mutual exclusion for code that runs the "ISR" on another goroutine.
var criticalMu sync.Mutex

func disableInterrupts() State {
	criticalMu.Lock()
	return 0
}

func restoreInterrupts(state State) {
	criticalMu.Unlock()
}
