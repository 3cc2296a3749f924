// Package motion runs the single linear axis: closed-loop point-to-point
// moves checked against the encoder, endstop interlocks, and homing.
package motion

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"cubefw/core"
	"cubefw/mathx"
)

// Stepper is the step generator the controller drives. core.RampStepper
// implements it.
type Stepper interface {
	SetProfile(p core.RampProfile)
	MoveRelative(steps int64)
	Process() bool
	Complete() bool
	DecelerateToStop()
	Halt()
	SetPosition(pos int64)
}

// Encoder is the position feedback.
type Encoder interface {
	Count() int64
	Reset()
}

// Endstop is a debounced limit switch.
type Endstop interface {
	Triggered() bool
}

// EnableLine switches the stepper driver outputs.
type EnableLine interface {
	SetEnabled(on bool) error
}

// Hardware groups the controller's collaborators. Max and Driver may be nil.
type Hardware struct {
	Stepper Stepper
	Encoder Encoder
	Min     Endstop
	Max     Endstop
	Enable  EnableLine
	Driver  core.StepperDriverChip
}

// MoveRequest is the relative move issued for one target correction.
type MoveRequest struct {
	Steps   int64
	Profile Profile
}

// Controller owns the axis. Step must only be called from the motion loop;
// every other method is safe from any context.
type Controller struct {
	cfg Config
	hw  Hardware
	clk clock.Clock
	log core.Logger

	target          atomic.Int64
	enableRequested atomic.Bool
	homing          atomic.Bool
	moving          atomic.Bool
	phase           atomic.Uint32
	moves           atomic.Uint32

	resultMu sync.Mutex
	result   *HomingResult

	// motion loop only
	outputsEnabled bool
	moveDir        int64
	lastMove       MoveRequest
	settleUntil    time.Time
	settling       bool
}

// NewController validates cfg and wires the hardware. Outputs start disabled.
func NewController(cfg Config, hw Hardware, clk clock.Clock, log core.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if hw.Stepper == nil || hw.Encoder == nil || hw.Min == nil || hw.Enable == nil {
		return nil, core.Errorf(core.InvalidParams, "motion", "stepper, encoder, min endstop and enable line are required")
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = core.NopLogger
	}
	c := &Controller{cfg: cfg, hw: hw, clk: clk, log: log}
	c.hw.Stepper.SetProfile(cfg.Ramp(cfg.Normal))
	c.target.Store(hw.Encoder.Count())
	return c, nil
}

// Setup checks the driver chip answers and programs it. A chip that does
// not read back what was written is reported as HardwareConnection.
func (c *Controller) Setup() error {
	if err := c.hw.Enable.SetEnabled(false); err != nil {
		return core.Wrap(core.HardwareConnection, "enable line", err)
	}
	chip := c.hw.Driver
	if chip == nil {
		return nil
	}
	for _, ms := range []uint16{0, c.cfg.Microsteps} {
		if err := chip.SetMicrosteps(ms); err != nil {
			return core.Wrap(core.HardwareConnection, "stepper driver", err)
		}
		got, err := chip.Microsteps()
		if err != nil {
			return core.Wrap(core.HardwareConnection, "stepper driver", err)
		}
		if got != ms {
			return core.Errorf(core.HardwareConnection, "stepper driver", "microsteps read back %d, wrote %d", got, ms)
		}
	}
	if c.cfg.RunCurrentMA > 0 {
		if err := chip.SetRunCurrent(c.cfg.RunCurrentMA); err != nil {
			return core.Wrap(core.HardwareConnection, "stepper driver", err)
		}
	}
	c.log.Infof("stepper driver ok, %d microsteps", c.cfg.Microsteps)
	return nil
}

// Config returns the axis configuration.
func (c *Controller) Config() Config { return c.cfg }

// SetTarget sets the desired position in encoder counts.
func (c *Controller) SetTarget(counts int64) { c.target.Store(counts) }

// Target returns the desired position in encoder counts.
func (c *Controller) Target() int64 { return c.target.Load() }

// Current returns the measured position in encoder counts.
func (c *Controller) Current() int64 { return c.hw.Encoder.Count() }

// Enable requests the driver outputs on.
func (c *Controller) Enable() { c.enableRequested.Store(true) }

// Disable requests the driver outputs off; the motion loop stops any move
// first.
func (c *Controller) Disable() { c.enableRequested.Store(false) }

// Enabled reports the requested enable state.
func (c *Controller) Enabled() bool { return c.enableRequested.Load() }

// MoveInProgress reports whether a relative move is being executed.
func (c *Controller) MoveInProgress() bool { return c.moving.Load() }

// Moves returns how many relative moves have been issued.
func (c *Controller) Moves() uint32 { return c.moves.Load() }

// Step runs one control cycle.
func (c *Controller) Step() {
	if !c.syncEnable() {
		return
	}
	if c.homing.Load() {
		c.stepHoming()
		return
	}
	c.stepMove()
}

// Run calls Step until ctx is done. With no poll interval it yields to the
// scheduler between cycles.
func (c *Controller) Run(ctx context.Context) error {
	if c.cfg.PollInterval > 0 {
		tick := c.clk.Ticker(c.cfg.PollInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tick.C:
				c.Step()
			}
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		c.Step()
		runtime.Gosched()
	}
}

// syncEnable applies enable changes and reports whether the outputs are on.
func (c *Controller) syncEnable() bool {
	want := c.enableRequested.Load()
	if want == c.outputsEnabled {
		return want
	}
	if !want {
		if !c.hw.Stepper.Complete() {
			c.hw.Stepper.Halt()
			c.log.Warnf("axis disabled during move at %.4f mm", c.cfg.CountsToMM(c.Current()))
		}
		c.moving.Store(false)
		if c.homing.Load() {
			c.failHoming(core.Errorf(core.AxisDisabled, "home", "axis disabled during homing"))
		}
	}
	if err := c.hw.Enable.SetEnabled(want); err != nil {
		c.log.Errorf("enable line: %v", err)
		return false
	}
	c.outputsEnabled = want
	if want {
		c.log.Infof("stepper enabled")
	} else {
		c.log.Infof("stepper disabled")
	}
	return want
}

func (c *Controller) stepMove() {
	st := c.hw.Stepper
	if st.Complete() {
		cur := c.Current()
		if c.moving.Load() {
			c.moving.Store(false)
			c.log.Infof("move finished at %.4f mm, target %.4f mm", c.cfg.CountsToMM(cur), c.cfg.CountsToMM(c.target.Load()))
		}
		c.issueCorrection(cur)
		return
	}

	if es := c.endstopAhead(); es != nil && es.Triggered() {
		st.Halt()
		cur := c.Current()
		c.target.Store(cur)
		c.moving.Store(false)
		c.log.Warnf("endstop hit while moving, target clamped to %.4f mm", c.cfg.CountsToMM(cur))
		return
	}
	st.Process()
}

func (c *Controller) issueCorrection(cur int64) {
	delta := c.target.Load() - cur
	if delta == 0 {
		return
	}
	steps := c.cfg.CountsToSteps(delta)
	if steps == 0 {
		return
	}
	prof := c.cfg.Normal
	if mathx.Abs(delta) < c.cfg.EncoderCountsPerMM {
		prof = c.cfg.Fine
	}
	c.hw.Stepper.SetProfile(c.cfg.Ramp(prof))
	c.hw.Stepper.MoveRelative(steps)
	c.moveDir = mathx.Sign(steps)
	c.lastMove = MoveRequest{Steps: steps, Profile: prof}
	c.moving.Store(true)
	c.moves.Inc()
	c.log.Debugf("move %d steps (%.4f mm) at %.3f mm/s", steps, c.cfg.CountsToMM(delta), prof.Speed)
}

func (c *Controller) endstopAhead() Endstop {
	if c.moveDir < 0 {
		return c.hw.Min
	}
	return c.hw.Max
}

// LastMove returns the most recent move issued by the motion loop. Only
// meaningful from the motion loop or after it has stopped.
func (c *Controller) LastMove() MoveRequest { return c.lastMove }
