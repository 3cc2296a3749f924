//go:build rp2040

package main

import (
	"machine"

	"cubefw/core"
	"cubefw/encoder"
)

// pinEdges reports rising edges of the pulse output. The input path of a
// GPIO stays live while the pin is muxed to PWM, so the interrupt sees the
// generated waveform.
type pinEdges struct {
	pin machine.Pin
}

func (e pinEdges) SetEdgeHandler(handler func()) error {
	err := e.pin.SetInterrupt(machine.PinRising, func(machine.Pin) { handler() })
	if err != nil {
		return core.Wrap(core.HardwareConnection, "edges", err)
	}
	return nil
}

func (e pinEdges) ClearEdgeHandler() error {
	return e.pin.SetInterrupt(0, nil)
}

// attachEncoder decodes the quadrature channels on both edges of A and B.
func attachEncoder(a, b uint8, invert bool) (*encoder.Quadrature, error) {
	pa, pb := machine.Pin(a), machine.Pin(b)
	pa.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	pb.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	q := encoder.NewQuadrature(pa.Get(), pb.Get(), invert)
	update := func(machine.Pin) { q.Update(pa.Get(), pb.Get()) }
	for _, p := range []machine.Pin{pa, pb} {
		if err := p.SetInterrupt(machine.PinToggle, update); err != nil {
			return nil, core.Wrap(core.HardwareConnection, "encoder", err)
		}
	}
	return q, nil
}
