//go:build rp2040

package main

import (
	"machine"
	"time"
)

// InitUSB configures the USB CDC port set up by the TinyGo runtime.
func InitUSB() {
	_ = machine.Serial.Configure(machine.UARTConfig{})
}

// USBAvailable returns the number of bytes waiting on the port.
func USBAvailable() int {
	return machine.Serial.Buffered()
}

// USBRead reads one byte.
func USBRead() (byte, error) {
	return machine.Serial.ReadByte()
}

// usbWriter writes lines to the host, giving up after a run of failed
// writes so a disconnected host cannot stall the firmware.
type usbWriter struct {
	failures int
}

const maxUSBWriteFailures = 10

func (w *usbWriter) Write(data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := machine.Serial.Write(data[written:])
		if err != nil || n == 0 {
			w.failures++
			if w.failures > maxUSBWriteFailures {
				w.failures = 0
				return written, errUSBDisconnected
			}
			time.Sleep(100 * time.Microsecond)
			continue
		}
		w.failures = 0
		written += n
	}
	return written, nil
}
