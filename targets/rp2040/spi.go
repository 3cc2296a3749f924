//go:build rp2040

package main

import (
	"machine"

	"cubefw/config"
	"cubefw/core"
)

// spiBuses lists the RP2040 pin triples per controller (SCK, MOSI, MISO).
var spiBuses = []struct {
	spi             *machine.SPI
	sck, mosi, miso machine.Pin
}{
	{machine.SPI0, machine.GPIO2, machine.GPIO3, machine.GPIO0},
	{machine.SPI0, machine.GPIO6, machine.GPIO7, machine.GPIO4},
	{machine.SPI0, machine.GPIO18, machine.GPIO19, machine.GPIO16},
	{machine.SPI0, machine.GPIO22, machine.GPIO23, machine.GPIO20},
	{machine.SPI1, machine.GPIO10, machine.GPIO11, machine.GPIO8},
	{machine.SPI1, machine.GPIO14, machine.GPIO15, machine.GPIO12},
	{machine.SPI1, machine.GPIO26, machine.GPIO27, machine.GPIO24},
}

// configureADCBus sets up the controller that owns the configured
// converter pins in mode 0.
func configureADCBus(p config.PinConfig, th config.ThresholdConfig) (*machine.SPI, error) {
	for _, b := range spiBuses {
		if b.sck != machine.Pin(p.SPISCK) || b.mosi != machine.Pin(p.SPIMOSI) || b.miso != machine.Pin(p.SPIMISO) {
			continue
		}
		err := b.spi.Configure(machine.SPIConfig{
			Frequency: th.SPIFreqHz,
			SCK:       b.sck,
			SDO:       b.mosi,
			SDI:       b.miso,
			Mode:      0,
		})
		if err != nil {
			return nil, core.Wrap(core.HardwareConnection, "spi", err)
		}
		return b.spi, nil
	}
	return nil, core.Errorf(core.ConfigRejected, "spi", "no SPI controller on SCK %d MOSI %d MISO %d", p.SPISCK, p.SPIMOSI, p.SPIMISO)
}
