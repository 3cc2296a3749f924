//go:build rp2040

package main

import (
	"context"
	"errors"
	"machine"
	"sync"
	"time"

	"cubefw/adc"
	"cubefw/command"
	"cubefw/config"
	"cubefw/core"
	"cubefw/instrument"
	"cubefw/mode"
	"cubefw/tmc2209"
)

const (
	driverSenseMilliOhm = 110
	errorRepeat         = time.Second
)

var errUSBDisconnected = errors.New("usb: host not reading")

// output serializes whole lines onto the USB port. Log lines arrive from
// the logger goroutine and responses from the main loop.
type output struct {
	mu  sync.Mutex
	usb usbWriter
}

func (o *output) write(p []byte) {
	if len(p) == 0 {
		return
	}
	o.mu.Lock()
	_, _ = o.usb.Write(p)
	o.mu.Unlock()
}

func (o *output) line(s string) { o.write([]byte(s + "\n")) }

func main() {
	// Clear any watchdog state left over from a previous reset.
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}
	InitUSB()
	InitClock()

	out := &output{}
	cfg := config.Default()
	log := core.NewDebugLogger(out.line, core.ParseLevel(cfg.LogLevel), true)

	// Reports are produced on the instrument's goroutine and printed by the
	// main loop so they never split a command response.
	reports := make(chan instrument.Status, 1)
	in, err := setup(cfg, instrument.WithLogger(log), instrument.WithReporter(func(st instrument.Status) {
		select {
		case reports <- st:
		default:
		}
	}))
	if err != nil {
		// Peripherals are half claimed; report until power cycled.
		for {
			out.line(command.FormatError(err))
			time.Sleep(errorRepeat)
		}
	}
	log.Infof("instrument ready after %d us", GetHardwareUptime())

	sess := command.NewSession(in, log)
	in.OnCrossing(func(_ mode.State, c mode.Crossing) {
		sess.Emit(command.CrossingLine(c))
	})

	ctx := context.Background()
	go func() {
		if err := in.Run(ctx); err != nil {
			log.Errorf("instrument stopped: %v", err)
		}
	}()

	for {
		for USBAvailable() > 0 {
			b, err := USBRead()
			if err != nil {
				break
			}
			sess.ProcessByte(b)
		}
		select {
		case st := <-reports:
			sess.Emit(st.ReportLine())
		default:
		}
		out.write(sess.GetOutput())
		time.Sleep(100 * time.Microsecond)
	}
}

// setup brings up every peripheral and builds the instrument. Failures
// carry the HardwareConnection code.
func setup(cfg *config.Config, opts ...instrument.Option) (*instrument.Instrument, error) {
	p := cfg.Pins
	gpio := NewRPGPIODriver()

	spi, err := configureADCBus(p, cfg.Threshold)
	if err != nil {
		return nil, err
	}
	if err := gpio.ConfigureOutput(core.GPIOPin(p.ADCCS)); err != nil {
		return nil, err
	}
	gpio.High(core.GPIOPin(p.ADCCS))
	sampler := adc.NewSPISampler(spi, gpio, core.GPIOPin(p.ADCCS))

	enc, err := attachEncoder(p.EncoderA, p.EncoderB, cfg.Axis.InvertEncoder)
	if err != nil {
		return nil, err
	}

	backend := NewPIOStepperBackend(0, 0)
	if err := backend.Init(p.Step, p.Dir, false, cfg.Axis.InvertDir); err != nil {
		return nil, err
	}
	mc := instrument.MotionConfig(cfg)
	stepper := core.NewRampStepper(backend, mc.Ramp(mc.Normal))

	bus, err := newDriverBus(p.DriverTX, p.DriverRX)
	if err != nil {
		return nil, err
	}
	driver := &tmc2209.Device{Bus: bus, Sense: driverSenseMilliOhm, Echo: true}
	if err := driver.Configure(); err != nil {
		return nil, core.Wrap(core.HardwareConnection, "stepper driver", err)
	}

	return instrument.New(cfg, instrument.Hardware{
		GPIO:    gpio,
		Pulse:   NewRP2040PulseDriver(p.Pulse, p.PulseInverted),
		Edges:   pinEdges{pin: machine.Pin(p.Pulse)},
		Sampler: sampler,
		Stepper: stepper,
		Encoder: enc,
		Driver:  driver,
	}, opts...)
}
