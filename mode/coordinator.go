// Package mode couples the pulse output and the threshold detector into
// the instrument's operating modes.
package mode

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"cubefw/core"
	"cubefw/pulse"
	"cubefw/threshold"
)

// Kind is the active operating mode.
type Kind uint32

const (
	Idle Kind = iota
	Touch
	Auto
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Touch:
		return "touch"
	case Auto:
		return "auto"
	}
	return fmt.Sprintf("mode(%d)", uint32(k))
}

// Detector is the threshold classifier the coordinator programs.
type Detector interface {
	Configure(low, high, sensitivity uint16) error
	RequestReset()
	SampleNow() uint16
	Poll()
	Flags() (low, high bool)
}

// Generator is the pulse output.
type Generator interface {
	Active() bool
	Off() error
	SetLevels(normal, inverted bool) error
	Snapshot() pulse.OutputState
	Restore(st pulse.OutputState) error
}

// HomingStatus reports whether the axis is homing.
type HomingStatus interface {
	Homing() bool
}

// Config tunes mode transitions.
type Config struct {
	Settle       time.Duration // wait after changing the outputs
	IdleLevels   [2]bool       // channel levels while touch mode probes
	Sensitivity  uint16        // initial consecutive-sample count
	PollInterval time.Duration
}

// DefaultConfig returns the stock timing.
func DefaultConfig() Config {
	return Config{Settle: 10 * time.Millisecond, Sensitivity: 3, PollInterval: time.Millisecond}
}

// State is the mode and the thresholds it runs with.
type State struct {
	Kind        Kind
	Low, High   float64 // volts
	Sensitivity uint16
}

// Crossing is the pair of latched detector flags.
type Crossing struct {
	Low, High bool
}

// Any reports whether either flag is set.
func (c Crossing) Any() bool { return c.Low || c.High }

// Coordinator owns the mode state machine. Transitions are serialized; the
// current kind can be read from any context.
type Coordinator struct {
	cfg  Config
	det  Detector
	gen  Generator
	axis HomingStatus
	cal  threshold.Calibration
	clk  clock.Clock
	log  core.Logger

	kind atomic.Uint32

	mu         sync.Mutex
	state      State
	reported   Crossing
	onCrossing func(State, Crossing)
}

// New creates a coordinator in Idle.
func New(cfg Config, det Detector, gen Generator, axis HomingStatus, cal threshold.Calibration, clk clock.Clock, log core.Logger) *Coordinator {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = core.NopLogger
	}
	if cfg.Sensitivity == 0 {
		cfg.Sensitivity = 1
	}
	return &Coordinator{
		cfg: cfg, det: det, gen: gen, axis: axis, cal: cal, clk: clk, log: log,
		state: State{Kind: Idle, Sensitivity: cfg.Sensitivity},
	}
}

// OnCrossing registers fn to be called once per newly latched crossing.
func (c *Coordinator) OnCrossing(fn func(State, Crossing)) {
	c.mu.Lock()
	c.onCrossing = fn
	c.mu.Unlock()
}

// Mode returns the active mode.
func (c *Coordinator) Mode() Kind { return Kind(c.kind.Load()) }

// State returns the mode and thresholds.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func invalid(format string, args ...any) error {
	return core.Errorf(core.InvalidModeTransition, "mode", format, args...)
}

func checkBand(low, high float64, sens uint16) error {
	if !finite(low) || !finite(high) {
		return core.Errorf(core.ConfigRejected, "mode", "thresholds %v V..%v V not finite", low, high)
	}
	if low < 0 || high < low {
		return core.Errorf(core.ConfigRejected, "mode", "thresholds %.2f V..%.2f V out of order", low, high)
	}
	if sens == 0 || sens > threshold.MaxSensitivity {
		return core.Errorf(core.ConfigRejected, "mode", "sensitivity %d outside 1..%d", sens, threshold.MaxSensitivity)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (c *Coordinator) program(low, high float64, sens uint16) error {
	return c.det.Configure(c.cal.Raw(low), c.cal.Raw(high), sens)
}

// enterable checks the preconditions every mode entry shares. Must hold mu.
func (c *Coordinator) enterable(target Kind) error {
	if cur := c.Mode(); cur != Idle {
		return invalid("cannot enter %s while in %s", target, cur)
	}
	if c.axis != nil && c.axis.Homing() {
		return invalid("cannot enter %s while homing", target)
	}
	return nil
}

// SetThresholds changes the band used by the next mode entry. Only allowed
// in Idle.
func (c *Coordinator) SetThresholds(low, high float64, sens uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur := c.Mode(); cur != Idle {
		return invalid("thresholds are fixed while in %s", cur)
	}
	if err := checkBand(low, high, sens); err != nil {
		return err
	}
	if err := c.program(low, high, sens); err != nil {
		return err
	}
	c.state.Low, c.state.High, c.state.Sensitivity = low, high, sens
	return nil
}

// EnterTouchMode idles the outputs and arms the detector for contact
// detection. The signal must currently be above low.
func (c *Coordinator) EnterTouchMode(low, high float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enterable(Touch); err != nil {
		return err
	}
	sens := c.state.Sensitivity
	if err := checkBand(low, high, sens); err != nil {
		return err
	}

	prev := c.gen.Snapshot()
	if err := c.gen.Off(); err != nil {
		return err
	}
	if err := c.gen.SetLevels(c.cfg.IdleLevels[0], c.cfg.IdleLevels[1]); err != nil {
		return c.restore(prev, err)
	}
	c.settle()
	if err := c.program(low, high, sens); err != nil {
		return c.restore(prev, err)
	}
	if raw := c.det.SampleNow(); raw <= c.cal.Raw(low) {
		return c.restore(prev, invalid("signal %.2f V not above low threshold %.2f V", c.cal.Volts(raw), low))
	}

	c.det.RequestReset()
	c.reported = Crossing{}
	c.state = State{Kind: Touch, Low: low, High: high, Sensitivity: sens}
	c.kind.Store(uint32(Touch))
	c.log.Infof("touch mode: %.2f V..%.2f V", low, high)
	return nil
}

func (c *Coordinator) restore(prev pulse.OutputState, cause error) error {
	if err := c.gen.Restore(prev); err != nil {
		c.log.Errorf("restoring pulse output: %v", err)
	}
	return cause
}

// EnterAutoMode arms the detector against the running pulse output.
func (c *Coordinator) EnterAutoMode(low, high float64, sens uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enterable(Auto); err != nil {
		return err
	}
	if !c.gen.Active() {
		return invalid("auto mode needs the pulse output running")
	}
	if err := checkBand(low, high, sens); err != nil {
		return err
	}
	if err := c.program(low, high, sens); err != nil {
		return err
	}
	c.settle()
	c.det.RequestReset()

	c.reported = Crossing{}
	c.state = State{Kind: Auto, Low: low, High: high, Sensitivity: sens}
	c.kind.Store(uint32(Auto))
	c.log.Infof("auto mode: %.2f V..%.2f V, sensitivity %d", low, high, sens)
	return nil
}

// Exit returns to Idle from either mode. Exiting Idle is a no-op.
func (c *Coordinator) Exit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.Mode()
	if prev == Idle {
		return nil
	}
	c.kind.Store(uint32(Idle))
	c.state.Kind = Idle
	c.det.RequestReset()
	c.reported = Crossing{}
	c.log.Infof("left %s mode", prev)
	return nil
}

func (c *Coordinator) settle() {
	if c.cfg.Settle > 0 {
		c.clk.Sleep(c.cfg.Settle)
	}
}

// Crossing returns the latched flags.
func (c *Coordinator) Crossing() Crossing {
	low, high := c.det.Flags()
	return Crossing{Low: low, High: high}
}

// AcknowledgeCrossing clears the latched flags.
func (c *Coordinator) AcknowledgeCrossing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.det.RequestReset()
	c.reported = Crossing{}
}

// Poll runs one coordinator cycle and returns the latched flags. Newly
// latched flags are logged and handed to the crossing handler once.
func (c *Coordinator) Poll() Crossing {
	kind := c.Mode()
	if kind == Idle {
		return Crossing{}
	}
	if kind == Touch {
		c.det.Poll()
	}
	cr := c.Crossing()

	c.mu.Lock()
	fresh := Crossing{Low: cr.Low && !c.reported.Low, High: cr.High && !c.reported.High}
	if !fresh.Any() || c.Mode() != kind {
		c.mu.Unlock()
		return cr
	}
	c.reported = cr
	st, fn := c.state, c.onCrossing
	c.mu.Unlock()

	c.log.Infof("%s mode crossing: low=%v high=%v", kind, cr.Low, cr.High)
	if fn != nil {
		fn(st, cr)
	}
	return cr
}

// Run polls until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.cfg.PollInterval > 0 {
		tick := c.clk.Ticker(c.cfg.PollInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tick.C:
				c.Poll()
			}
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		c.Poll()
		runtime.Gosched()
	}
}
