package core

import "fmt"

// OutputPin is a digital output with configurable polarity, used for the
// stepper driver enable line.
type OutputPin struct {
	Pin       GPIOPin
	ActiveLow bool
	gpio      GPIODriver
}

// NewOutputPin configures pin as an output and drives it inactive.
func NewOutputPin(gpio GPIODriver, pin GPIOPin, activeLow bool) (*OutputPin, error) {
	if err := gpio.ConfigureOutput(pin); err != nil {
		return nil, fmt.Errorf("output pin %d: %w", pin, err)
	}
	o := &OutputPin{Pin: pin, ActiveLow: activeLow, gpio: gpio}
	if err := o.SetEnabled(false); err != nil {
		return nil, err
	}
	return o, nil
}

// SetEnabled drives the pin to its active (true) or inactive level.
func (o *OutputPin) SetEnabled(on bool) error {
	return o.gpio.SetPin(o.Pin, on != o.ActiveLow)
}
