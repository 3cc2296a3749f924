// Package adc reads the analog front end: a 12-bit SPI converter that
// returns one left-justified 16-bit word per transfer.
package adc

import (
	"go.uber.org/atomic"
	"tinygo.org/x/drivers"

	"cubefw/core"
)

// SPISampler implements core.Sampler over a shared SPI bus with a GPIO
// chip select. Sample is safe to call from the edge ISR: it does not
// allocate and it does not lock.
type SPISampler struct {
	bus drivers.SPI
	cs  core.FastGPIO
	pin core.GPIOPin

	tx, rx [2]byte
	errs   atomic.Uint32
}

// NewSPISampler deselects the converter and returns the sampler.
func NewSPISampler(bus drivers.SPI, cs core.FastGPIO, pin core.GPIOPin) *SPISampler {
	cs.High(pin)
	return &SPISampler{bus: bus, cs: cs, pin: pin, tx: [2]byte{0xff, 0xff}}
}

// Sample performs one conversion. A failed transfer reads as zero and is
// counted.
func (s *SPISampler) Sample() uint16 {
	s.cs.Low(s.pin)
	err := s.bus.Tx(s.tx[:], s.rx[:])
	s.cs.High(s.pin)
	if err != nil {
		s.errs.Inc()
		return 0
	}
	return uint16(s.rx[0])<<8 | uint16(s.rx[1])
}

// Errors returns the number of failed transfers.
func (s *SPISampler) Errors() uint32 {
	return s.errs.Load()
}
