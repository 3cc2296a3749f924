// Endstop handling for GPIO-based limit switches
package core

import "fmt"

// Endstop is a limit switch input. A trigger is only reported when two
// reads taken back to back agree, which rejects single-sample glitches.
type Endstop struct {
	Name        string
	Pin         GPIOPin
	TriggerHigh bool // pin level that means "triggered"
	gpio        GPIODriver
}

// NewEndstop configures pin as an input and returns the endstop.
func NewEndstop(gpio GPIODriver, name string, pin GPIOPin, triggerHigh, pullUp bool) (*Endstop, error) {
	var err error
	if pullUp {
		err = gpio.ConfigureInputPullUp(pin)
	} else {
		err = gpio.ConfigureInputPullDown(pin)
	}
	if err != nil {
		return nil, fmt.Errorf("endstop %s: %w", name, err)
	}
	return &Endstop{Name: name, Pin: pin, TriggerHigh: triggerHigh, gpio: gpio}, nil
}

// Level reports a single raw read of the switch.
func (e *Endstop) Level() bool {
	return e.gpio.ReadPin(e.Pin) == e.TriggerHigh
}

// Triggered oversamples the switch: both reads must show the trigger level.
func (e *Endstop) Triggered() bool {
	if !e.Level() {
		return false
	}
	return e.Level()
}
