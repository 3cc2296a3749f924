//go:build rp2040

package main

import (
	"machine"

	"cubefw/core"
)

// RPGPIODriver implements core.GPIODriver and core.FastGPIO on the RP2040.
// GPIO numbers map directly to machine pins.
type RPGPIODriver struct {
	configured map[core.GPIOPin]machine.PinMode
}

func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{configured: make(map[core.GPIOPin]machine.PinMode)}
}

func (d *RPGPIODriver) configure(pin core.GPIOPin, mode machine.PinMode) error {
	if pin > 29 {
		return core.Errorf(core.InvalidParams, "gpio", "no GPIO %d", pin)
	}
	if m, ok := d.configured[pin]; ok && m == mode {
		return nil
	}
	machine.Pin(pin).Configure(machine.PinConfig{Mode: mode})
	d.configured[pin] = mode
	return nil
}

// ConfigureOutput configures a pin as a digital output.
func (d *RPGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinOutput)
}

func (d *RPGPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinInputPullup)
}

func (d *RPGPIODriver) ConfigureInputPullDown(pin core.GPIOPin) error {
	return d.configure(pin, machine.PinInputPulldown)
}

// SetPin drives an output, configuring it first if needed.
func (d *RPGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	if _, ok := d.configured[pin]; !ok {
		if err := d.ConfigureOutput(pin); err != nil {
			return err
		}
	}
	machine.Pin(pin).Set(value)
	return nil
}

// GetPin reads a configured pin.
func (d *RPGPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	if _, ok := d.configured[pin]; !ok {
		return false, core.Errorf(core.InvalidParams, "gpio", "GPIO %d not configured", pin)
	}
	return machine.Pin(pin).Get(), nil
}

// ReadPin reads without bookkeeping.
func (d *RPGPIODriver) ReadPin(pin core.GPIOPin) bool { return machine.Pin(pin).Get() }

// High, Low and Read skip the bookkeeping and are safe from interrupt
// handlers.
func (d *RPGPIODriver) High(pin core.GPIOPin)      { machine.Pin(pin).High() }
func (d *RPGPIODriver) Low(pin core.GPIOPin)       { machine.Pin(pin).Low() }
func (d *RPGPIODriver) Read(pin core.GPIOPin) bool { return machine.Pin(pin).Get() }
