//go:build rp2040

package main

import (
	"context"
	"io"
	"machine"
	"time"

	"github.com/jangala-dev/tinygo-uartx/uartx"

	"cubefw/core"
)

const (
	driverBaud        = 115200
	driverReplyWindow = 5 * time.Millisecond
)

// driverBus is the single-wire UART to the stepper driver. A read that
// sees nothing within the reply window returns io.EOF, which is how a
// missing driver shows up.
type driverBus struct {
	uart *uartx.UART
}

func newDriverBus(tx, rx uint8) (*driverBus, error) {
	u := uartx.UART0
	if tx == 4 || tx == 8 || tx == 20 || tx == 24 {
		u = uartx.UART1
	}
	err := u.Configure(uartx.UARTConfig{
		BaudRate: driverBaud,
		TX:       machine.Pin(tx),
		RX:       machine.Pin(rx),
	})
	if err != nil {
		return nil, core.Wrap(core.HardwareConnection, "driver uart", err)
	}
	return &driverBus{uart: u}, nil
}

func (b *driverBus) Write(p []byte) (int, error) {
	return b.uart.Write(p)
}

func (b *driverBus) Read(p []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), driverReplyWindow)
	defer cancel()
	n, err := b.uart.RecvSomeContext(ctx, p)
	if n > 0 {
		return n, nil
	}
	if err == nil || ctx.Err() != nil {
		return 0, io.EOF
	}
	return 0, err
}
