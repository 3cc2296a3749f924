//go:build rp2040

package main

import (
	"machine"

	"cubefw/core"
)

// pwmPeripheral abstracts over TinyGo's unexported *pwmGroup type.
type pwmPeripheral interface {
	Configure(config machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
	SetInverting(channel uint8, inverting bool)
}

// RP2040PulseDriver drives the two pulse outputs from PWM slices. The
// complementary output runs on the inverting channel so both edges stay
// locked to the same counter.
type RP2040PulseDriver struct {
	pins     [2]machine.Pin
	channels [2]uint8
	active   [2]bool
}

// NewRP2040PulseDriver returns a driver with both outputs low.
func NewRP2040PulseDriver(normal, inverted uint8) *RP2040PulseDriver {
	d := &RP2040PulseDriver{pins: [2]machine.Pin{machine.Pin(normal), machine.Pin(inverted)}}
	for _, p := range d.pins {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.Low()
	}
	return d
}

func (d *RP2040PulseDriver) slice(ch core.PulseChannel) pwmPeripheral {
	return pwmSlice(uint8(d.pins[ch]>>1) & 0x7)
}

// Program starts a waveform on ch. The slice period is 1e9/frequency ns
// and duty is scaled from 1/2^resolution to the slice's TOP.
func (d *RP2040PulseDriver) Program(ch core.PulseChannel, frequency uint32, resolution uint8, duty uint32) error {
	if ch > core.PulseInverted {
		return core.Errorf(core.InvalidParams, "pulse", "no channel %d", ch)
	}
	if frequency == 0 {
		return d.Release(ch)
	}
	pwm := d.slice(ch)
	if err := pwm.Configure(machine.PWMConfig{Period: 1e9 / uint64(frequency)}); err != nil {
		return core.Wrap(core.ConfigRejected, "pulse", err)
	}
	c, err := pwm.Channel(d.pins[ch])
	if err != nil {
		return core.Wrap(core.ConfigRejected, "pulse", err)
	}
	value := uint32(uint64(duty) * uint64(pwm.Top()+1) >> resolution)
	pwm.SetInverting(c, ch == core.PulseInverted)
	pwm.Set(c, value)
	d.channels[ch] = c
	d.active[ch] = true
	return nil
}

// Release stops the generator on ch and returns the pin to GPIO.
func (d *RP2040PulseDriver) Release(ch core.PulseChannel) error {
	if ch > core.PulseInverted {
		return core.Errorf(core.InvalidParams, "pulse", "no channel %d", ch)
	}
	if d.active[ch] {
		pwm := d.slice(ch)
		pwm.Set(d.channels[ch], 0)
		pwm.SetInverting(d.channels[ch], false)
		d.active[ch] = false
	}
	d.pins[ch].Configure(machine.PinConfig{Mode: machine.PinOutput})
	return nil
}

// SetLevel drives a released channel.
func (d *RP2040PulseDriver) SetLevel(ch core.PulseChannel, high bool) error {
	if ch > core.PulseInverted {
		return core.Errorf(core.InvalidParams, "pulse", "no channel %d", ch)
	}
	if d.active[ch] {
		return core.Errorf(core.GeneratorActive, "pulse", "%s output is generating", ch)
	}
	d.pins[ch].Set(high)
	return nil
}

// pwmSlice maps a slice number to TinyGo's PWM0-PWM7 globals.
func pwmSlice(n uint8) pwmPeripheral {
	switch n {
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	case 7:
		return machine.PWM7
	}
	return machine.PWM0
}
