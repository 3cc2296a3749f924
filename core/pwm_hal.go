package core

// PulseChannel selects one of the two complementary pulse outputs.
type PulseChannel uint8

const (
	PulseNormal   PulseChannel = 0
	PulseInverted PulseChannel = 1
)

func (c PulseChannel) String() string {
	if c == PulseInverted {
		return "inverted"
	}
	return "normal"
}

// PulseDriver programs the hardware pulse generator.
type PulseDriver interface {
	// Program starts a waveform on ch. duty is in units of 1/2^resolution
	// of the period.
	Program(ch PulseChannel, frequency uint32, resolution uint8, duty uint32) error

	// Release stops the generator on ch and returns the pin to plain GPIO.
	Release(ch PulseChannel) error

	// SetLevel drives a released channel to a static level.
	SetLevel(ch PulseChannel, high bool) error
}
