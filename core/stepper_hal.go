package core

// StepperBackend emits step pulses on the step and direction pins. The
// RP2040 target implements it on a PIO state machine; tests count calls.
type StepperBackend interface {
	Init(stepPin, dirPin uint8, invertStep, invertDir bool) error

	// Step emits one pulse. The backend owns pulse width timing.
	Step()

	// SetDirection applies to the next Step; true moves toward negative
	// positions. The backend owns direction setup time.
	SetDirection(dir bool)

	// Stop discards pulses not yet emitted.
	Stop()

	GetName() string
}

// StepperDriverChip is the configuration interface of a smart stepper
// driver (TMC2209 over UART).
type StepperDriverChip interface {
	SetMicrosteps(n uint16) error
	Microsteps() (uint16, error)
	SetRunCurrent(mA uint16) error
}
