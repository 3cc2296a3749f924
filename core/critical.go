package core

// Critical runs fn with interrupts masked. fn must be short and must not
// block: on hardware nothing else runs until it returns.
func Critical(fn func()) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	fn()
}
