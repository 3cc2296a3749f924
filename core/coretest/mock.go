// Package coretest provides in-memory implementations of the core hardware
// interfaces for tests.
package coretest

import (
	"fmt"
	"sync"

	"cubefw/core"
)

// MockGPIODriver is a test implementation of core.GPIODriver and
// core.FastGPIO. Inputs can be wired to functions so a simulation can
// drive them.
type MockGPIODriver struct {
	mu      sync.Mutex
	pins    map[core.GPIOPin]bool
	modes   map[core.GPIOPin]string
	inputs  map[core.GPIOPin]func() bool
	FailPin map[core.GPIOPin]bool
}

func NewMockGPIODriver() *MockGPIODriver {
	return &MockGPIODriver{
		pins:    make(map[core.GPIOPin]bool),
		modes:   make(map[core.GPIOPin]string),
		inputs:  make(map[core.GPIOPin]func() bool),
		FailPin: make(map[core.GPIOPin]bool),
	}
}

func (m *MockGPIODriver) configure(pin core.GPIOPin, mode string, level bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPin[pin] {
		return fmt.Errorf("pin %d unavailable", pin)
	}
	m.modes[pin] = mode
	m.pins[pin] = level
	return nil
}

func (m *MockGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	return m.configure(pin, "out", false)
}

func (m *MockGPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error {
	return m.configure(pin, "in-pullup", true)
}

func (m *MockGPIODriver) ConfigureInputPullDown(pin core.GPIOPin) error {
	return m.configure(pin, "in-pulldown", false)
}

func (m *MockGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.modes[pin] != "out" {
		return fmt.Errorf("pin %d not configured as output", pin)
	}
	m.pins[pin] = value
	return nil
}

func (m *MockGPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	return m.ReadPin(pin), nil
}

func (m *MockGPIODriver) ReadPin(pin core.GPIOPin) bool {
	m.mu.Lock()
	fn, ok := m.inputs[pin]
	v := m.pins[pin]
	m.mu.Unlock()
	if ok {
		return fn()
	}
	return v
}

func (m *MockGPIODriver) High(pin core.GPIOPin) { m.Force(pin, true) }
func (m *MockGPIODriver) Low(pin core.GPIOPin)  { m.Force(pin, false) }
func (m *MockGPIODriver) Read(pin core.GPIOPin) bool {
	return m.ReadPin(pin)
}

// Force sets a pin level regardless of its mode.
func (m *MockGPIODriver) Force(pin core.GPIOPin, value bool) {
	m.mu.Lock()
	m.pins[pin] = value
	m.mu.Unlock()
}

// WireInput makes reads of pin return fn().
func (m *MockGPIODriver) WireInput(pin core.GPIOPin, fn func() bool) {
	m.mu.Lock()
	m.inputs[pin] = fn
	m.mu.Unlock()
}

// Mode returns how pin was last configured.
func (m *MockGPIODriver) Mode(pin core.GPIOPin) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modes[pin]
}

// Level returns the last level written or forced on pin.
func (m *MockGPIODriver) Level(pin core.GPIOPin) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pins[pin]
}

// PulseProgram records one Program call.
type PulseProgram struct {
	Frequency  uint32
	Resolution uint8
	Duty       uint32
}

// MockPulseDriver records what the pulse generator was asked to do.
type MockPulseDriver struct {
	mu       sync.Mutex
	programs map[core.PulseChannel]*PulseProgram
	levels   map[core.PulseChannel]bool
	Calls    int
	FailOn   map[core.PulseChannel]error
}

func NewMockPulseDriver() *MockPulseDriver {
	return &MockPulseDriver{
		programs: make(map[core.PulseChannel]*PulseProgram),
		levels:   make(map[core.PulseChannel]bool),
		FailOn:   make(map[core.PulseChannel]error),
	}
}

func (m *MockPulseDriver) Program(ch core.PulseChannel, frequency uint32, resolution uint8, duty uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if err := m.FailOn[ch]; err != nil {
		return err
	}
	m.programs[ch] = &PulseProgram{Frequency: frequency, Resolution: resolution, Duty: duty}
	return nil
}

func (m *MockPulseDriver) Release(ch core.PulseChannel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.programs, ch)
	return nil
}

func (m *MockPulseDriver) SetLevel(ch core.PulseChannel, high bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.programs[ch] != nil {
		return fmt.Errorf("channel %s is generating", ch)
	}
	m.levels[ch] = high
	return nil
}

// Running returns the waveform on ch, or nil.
func (m *MockPulseDriver) Running(ch core.PulseChannel) *PulseProgram {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.programs[ch]; p != nil {
		cp := *p
		return &cp
	}
	return nil
}

// Level returns the static level of ch.
func (m *MockPulseDriver) Level(ch core.PulseChannel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[ch]
}

// ProgramCalls returns how many times Program was invoked.
func (m *MockPulseDriver) ProgramCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// MockBackend counts step pulses.
type MockBackend struct {
	Steps   int
	Reverse bool
	Stops   int
	Inited  bool
}

func (b *MockBackend) Init(stepPin, dirPin uint8, invertStep, invertDir bool) error {
	b.Inited = true
	return nil
}
func (b *MockBackend) Step()                 { b.Steps++ }
func (b *MockBackend) SetDirection(dir bool) { b.Reverse = dir }
func (b *MockBackend) Stop()                 { b.Stops++ }
func (b *MockBackend) GetName() string       { return "mock" }

// MockEdgeSource holds the registered edge handler so a test can fire it.
type MockEdgeSource struct {
	mu      sync.Mutex
	handler func()
}

func (e *MockEdgeSource) SetEdgeHandler(h func()) error {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
	return nil
}

func (e *MockEdgeSource) ClearEdgeHandler() error {
	e.mu.Lock()
	e.handler = nil
	e.mu.Unlock()
	return nil
}

// Fire invokes the handler once, as a rising edge would.
func (e *MockEdgeSource) Fire() bool {
	e.mu.Lock()
	h := e.handler
	e.mu.Unlock()
	if h == nil {
		return false
	}
	h()
	return true
}

// MockDriverChip emulates a TMC2209 microstep register.
type MockDriverChip struct {
	microsteps uint16
	Current    uint16
	// Disconnected makes every read return 0 regardless of writes.
	Disconnected bool
}

func (d *MockDriverChip) SetMicrosteps(n uint16) error {
	d.microsteps = n
	return nil
}

func (d *MockDriverChip) Microsteps() (uint16, error) {
	if d.Disconnected {
		return 0, nil
	}
	return d.microsteps, nil
}

func (d *MockDriverChip) SetRunCurrent(mA uint16) error {
	d.Current = mA
	return nil
}
