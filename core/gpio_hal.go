package core

// GPIOPin is a hardware GPIO number.
type GPIOPin uint32

// GPIODriver configures and drives pins by number. Configuration calls are
// made during setup; ReadPin may be called from interrupt context.
type GPIODriver interface {
	ConfigureOutput(pin GPIOPin) error
	ConfigureInputPullUp(pin GPIOPin) error
	ConfigureInputPullDown(pin GPIOPin) error

	SetPin(pin GPIOPin, value bool) error
	GetPin(pin GPIOPin) (bool, error)
	ReadPin(pin GPIOPin) bool
}

// FastGPIO is register-level pin access for hot paths (ISR chip select,
// endstop polling). Implementations must not allocate or block.
type FastGPIO interface {
	High(pin GPIOPin)
	Low(pin GPIOPin)
	Read(pin GPIOPin) bool
}

// EdgeSource delivers rising edges of the pulse output to a handler running
// in interrupt context.
type EdgeSource interface {
	SetEdgeHandler(handler func()) error
	ClearEdgeHandler() error
}
