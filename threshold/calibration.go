package threshold

import (
	"math"

	"cubefw/mathx"
)

// Calibration converts between raw converter codes and input volts.
type Calibration struct {
	Divider    float64 // input divider ratio
	VRef       float64 // converter reference, volts
	Bits       uint8   // converter resolution
	Shift      uint8   // raw codes are left-justified by this many bits
	ZeroOffset uint16  // raw code at 0 V
}

// DefaultCalibration matches the 12-bit SPI front end behind a 1:30 divider.
func DefaultCalibration() Calibration {
	return Calibration{Divider: 30, VRef: 5.0, Bits: 12, Shift: 4}
}

func (c Calibration) lsb() float64 {
	return c.VRef / float64(uint32(1)<<c.Bits-1)
}

// Volts converts a raw sample to the input voltage.
func (c Calibration) Volts(raw uint16) float64 {
	var code uint16
	if raw > c.ZeroOffset {
		code = (raw - c.ZeroOffset) >> c.Shift
	}
	return c.Divider * float64(code) * c.lsb()
}

// Raw converts an input voltage to the raw code a sample would show.
func (c Calibration) Raw(volts float64) uint16 {
	if volts <= 0 {
		return c.ZeroOffset
	}
	code := mathx.Clamp(math.Round(volts/c.Divider/c.lsb()), 0, float64(uint32(1)<<c.Bits-1))
	raw := uint32(code)<<c.Shift + uint32(c.ZeroOffset)
	return uint16(mathx.Clamp(raw, 0, math.MaxUint16))
}
