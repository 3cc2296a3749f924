package serial

import (
	"fmt"

	"github.com/tarm/serial"
)

// nativePort is a Port on an OS serial device.
type nativePort struct {
	*serial.Port
}

// Open opens the device named in cfg.
func Open(cfg Config) (Port, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("serial: no device given")
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	return nativePort{p}, nil
}
