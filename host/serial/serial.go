// Package serial opens the instrument's serial port on the host.
package serial

import (
	"io"
	"time"
)

// Port is an open connection to the instrument.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data not yet read or written.
	Flush() error
}

// Config selects the device and line settings.
type Config struct {
	Device string // "/dev/ttyACM0", "COM3"
	Baud   int    // ignored by USB CDC

	// ReadTimeout bounds each Read; zero blocks.
	ReadTimeout time.Duration
}

// DefaultConfig returns the instrument's port settings for device.
func DefaultConfig(device string) Config {
	return Config{Device: device, Baud: 115200, ReadTimeout: 100 * time.Millisecond}
}
