// Package instrument wires the axis, the pulse output, the threshold
// detector and the mode coordinator into one controllable instrument.
package instrument

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"cubefw/config"
	"cubefw/core"
	"cubefw/encoder"
	"cubefw/mode"
	"cubefw/motion"
	"cubefw/pulse"
	"cubefw/threshold"
)

// Hardware is what a target supplies. Driver may be nil when the stepper
// driver has no configuration interface.
type Hardware struct {
	GPIO    core.GPIODriver
	Pulse   core.PulseDriver
	Edges   core.EdgeSource
	Sampler core.Sampler
	Stepper motion.Stepper
	Encoder encoder.Counter
	Driver  core.StepperDriverChip
}

// Unit is the unit of a target position.
type Unit uint8

const (
	Micrometre Unit = iota
	Millimetre
	Count
)

// Positioning selects how target positions are interpreted.
type Positioning uint8

const (
	Absolute Positioning = iota
	Relative
)

type options struct {
	log    core.Logger
	clk    clock.Clock
	report func(Status)
}

// Option customizes New.
type Option func(*options)

// WithLogger sets the logger shared by every component.
func WithLogger(l core.Logger) Option { return func(o *options) { o.log = l } }

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clk = c } }

// WithReporter receives a Status every report interval.
func WithReporter(fn func(Status)) Option { return func(o *options) { o.report = fn } }

// Instrument is the external interface of the firmware.
type Instrument struct {
	cfg *config.Config
	log core.Logger
	clk clock.Clock

	axis   *motion.Controller
	enable *core.OutputPin
	gen    *pulse.Synthesizer
	det    *threshold.Detector
	modes  *mode.Coordinator
	cal    threshold.Calibration
	edges  core.EdgeSource
	report func(Status)

	relative    atomic.Bool
	reportEvery atomic.Duration
	reportReset chan struct{}
}

// New builds the instrument and checks the hardware. A stepper driver that
// does not answer fails with HardwareConnection.
func New(cfg *config.Config, hw Hardware, opts ...Option) (*Instrument, error) {
	o := options{log: core.NopLogger, clk: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, core.Wrap(core.ConfigRejected, "instrument", err)
	}

	p, a := cfg.Pins, cfg.Axis
	minES, err := core.NewEndstop(hw.GPIO, "min", core.GPIOPin(p.MinEndstop), !a.EndstopTriggerLow, !a.EndstopPullDown)
	if err != nil {
		return nil, core.Wrap(core.HardwareConnection, "instrument", err)
	}
	maxES, err := core.NewEndstop(hw.GPIO, "max", core.GPIOPin(p.MaxEndstop), !a.EndstopTriggerLow, !a.EndstopPullDown)
	if err != nil {
		return nil, core.Wrap(core.HardwareConnection, "instrument", err)
	}
	enable, err := core.NewOutputPin(hw.GPIO, core.GPIOPin(p.Enable), true)
	if err != nil {
		return nil, core.Wrap(core.HardwareConnection, "instrument", err)
	}

	axis, err := motion.NewController(MotionConfig(cfg), motion.Hardware{
		Stepper: hw.Stepper,
		Encoder: encoder.New(hw.Encoder, 0),
		Min:     minES,
		Max:     maxES,
		Enable:  enable,
		Driver:  hw.Driver,
	}, o.clk, o.log)
	if err != nil {
		return nil, err
	}
	if err := axis.Setup(); err != nil {
		return nil, err
	}

	gen, err := pulse.New(PulseConfig(cfg), hw.Pulse, o.log)
	if err != nil {
		return nil, core.Wrap(core.HardwareConnection, "instrument", err)
	}

	cal := Calibration(cfg)
	det := threshold.New(hw.Sampler)
	modes := mode.New(ModeConfig(cfg), det, gen, axis, cal, o.clk, o.log)
	if err := modes.SetThresholds(cfg.Threshold.LowV, cfg.Threshold.HighV, cfg.Threshold.Sensitivity); err != nil {
		return nil, err
	}
	if err := hw.Edges.SetEdgeHandler(det.OnEdge); err != nil {
		return nil, core.Wrap(core.HardwareConnection, "instrument", err)
	}

	in := &Instrument{
		cfg: cfg, log: o.log, clk: o.clk,
		axis: axis, enable: enable, gen: gen, det: det, modes: modes, cal: cal,
		edges: hw.Edges, report: o.report,
		reportReset: make(chan struct{}, 1),
	}
	in.reportEvery.Store(ms(cfg.ReportIntervalMS))
	return in, nil
}

// OnCrossing registers a handler for newly latched threshold crossings.
func (in *Instrument) OnCrossing(fn func(mode.State, mode.Crossing)) {
	in.modes.OnCrossing(fn)
}

// SetPositioningMode selects absolute or relative targets.
func (in *Instrument) SetPositioningMode(p Positioning) {
	in.relative.Store(p == Relative)
	if p == Relative {
		in.log.Infof("relative positioning")
	} else {
		in.log.Infof("absolute positioning")
	}
}

// PositioningMode returns the current positioning mode.
func (in *Instrument) PositioningMode() Positioning {
	if in.relative.Load() {
		return Relative
	}
	return Absolute
}

// ToCounts converts a distance to encoder counts. Values beyond the stroke
// plus the homing margin, in either direction, are refused.
func (in *Instrument) ToCounts(value float64, unit Unit) (int64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, core.Errorf(core.InvalidParams, "set target", "%v is not a distance", value)
	}
	mc := in.axis.Config()
	var mm float64
	switch unit {
	case Micrometre:
		mm = value / 1000
	case Millimetre:
		mm = value
	case Count:
		mm = value / float64(mc.EncoderCountsPerMM)
	default:
		return 0, core.Errorf(core.InvalidParams, "set target", "unknown unit %d", unit)
	}
	if reach := mc.TravelMM + mc.MarginMM; math.Abs(mm) > reach {
		return 0, core.Errorf(core.InvalidParams, "set target", "%.4f mm beyond the %.4f mm reach", mm, reach)
	}
	if unit == Count {
		return int64(value), nil
	}
	return mc.MMToCounts(mm), nil
}

// SetTargetPosition sets where the axis should go. In relative mode the
// value is added to the current target. A target set while homing is
// replaced by the new zero when homing completes.
func (in *Instrument) SetTargetPosition(value float64, unit Unit) error {
	counts, err := in.ToCounts(value, unit)
	if err != nil {
		return err
	}
	if in.relative.Load() {
		mc := in.axis.Config()
		limit := mc.MMToCounts(mc.TravelMM + mc.MarginMM)
		counts += in.axis.Target()
		if counts > limit || counts < -limit {
			return core.Errorf(core.InvalidParams, "set target", "relative move ends at %d counts, beyond ±%d", counts, limit)
		}
	}
	in.axis.SetTarget(counts)
	if in.axis.Homing() {
		in.log.Debugf("target %d counts set while homing", counts)
	} else {
		in.log.Debugf("target %d counts", counts)
	}
	return nil
}

// RequestHoming starts homing. Not allowed while a mode is active.
func (in *Instrument) RequestHoming() error {
	if m := in.modes.Mode(); m != mode.Idle {
		return core.Errorf(core.InvalidModeTransition, "home", "cannot home in %s mode", m)
	}
	return in.axis.RequestHoming()
}

// HomingResult returns the outcome of the last homing run once.
func (in *Instrument) HomingResult() (motion.HomingResult, bool) {
	return in.axis.TakeHomingResult()
}

// EnableAxis switches the stepper driver on.
func (in *Instrument) EnableAxis() { in.axis.Enable() }

// DisableAxis stops any move and switches the stepper driver off.
func (in *Instrument) DisableAxis() { in.axis.Disable() }

func (in *Instrument) outputsFree(op string) error {
	if m := in.modes.Mode(); m != mode.Idle {
		return core.Errorf(core.InvalidModeTransition, op, "pulse output is owned by %s mode", m)
	}
	return nil
}

// SetPulse starts the complementary pulse output. Zero on or off turns it
// off.
func (in *Instrument) SetPulse(on, off time.Duration) (pulse.Waveform, error) {
	if err := in.outputsFree("set pulse"); err != nil {
		return pulse.Waveform{}, err
	}
	return in.gen.Set(on, off)
}

// SetOutputOff stops the pulse output.
func (in *Instrument) SetOutputOff() error {
	if err := in.outputsFree("output off"); err != nil {
		return err
	}
	return in.gen.Off()
}

// SetOutputLevels drives the two outputs statically.
func (in *Instrument) SetOutputLevels(normal, inverted bool) error {
	if err := in.outputsFree("set output levels"); err != nil {
		return err
	}
	return in.gen.SetLevels(normal, inverted)
}

// SetThresholds sets the band and sensitivity in volts.
func (in *Instrument) SetThresholds(low, high float64, sensitivity uint16) error {
	return in.modes.SetThresholds(low, high, sensitivity)
}

// EnterTouchMode arms contact detection.
func (in *Instrument) EnterTouchMode(low, high float64) error {
	return in.modes.EnterTouchMode(low, high)
}

// EnterAutoMode arms crossing detection against the running pulse output.
func (in *Instrument) EnterAutoMode(low, high float64, sensitivity uint16) error {
	return in.modes.EnterAutoMode(low, high, sensitivity)
}

// ExitAutoMode returns to Idle from either mode.
func (in *Instrument) ExitAutoMode() error {
	return in.modes.Exit()
}

// Crossing returns the latched threshold flags.
func (in *Instrument) Crossing() mode.Crossing { return in.modes.Crossing() }

// AcknowledgeCrossing clears the latched flags.
func (in *Instrument) AcknowledgeCrossing() { in.modes.AcknowledgeCrossing() }

// Run drives the motion loop, the mode loop and the periodic report until
// ctx is done.
func (in *Instrument) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return in.axis.Run(ctx) })
	g.Go(func() error { return in.modes.Run(ctx) })
	g.Go(func() error { return in.reportLoop(ctx) })
	return g.Wait()
}

// SetReportInterval changes the periodic report interval. Zero stops the
// reports.
func (in *Instrument) SetReportInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	in.reportEvery.Store(d)
	select {
	case in.reportReset <- struct{}{}:
	default:
	}
	in.log.Infof("report interval %v", d)
}

// ReportInterval returns the periodic report interval, zero when off.
func (in *Instrument) ReportInterval() time.Duration { return in.reportEvery.Load() }

// Report sends one status report to the reporter and the log.
func (in *Instrument) Report() Status {
	st := in.Status()
	in.log.Debugf("%s", st.ReportLine())
	if in.report != nil {
		in.report(st)
	}
	return st
}

func (in *Instrument) reportLoop(ctx context.Context) error {
	var (
		tick *clock.Ticker
		c    <-chan time.Time
	)
	arm := func() {
		if tick != nil {
			tick.Stop()
			tick, c = nil, nil
		}
		if d := in.reportEvery.Load(); d > 0 {
			tick = in.clk.Ticker(d)
			c = tick.C
		}
	}
	arm()
	defer func() {
		if tick != nil {
			tick.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-in.reportReset:
			arm()
		case <-c:
			in.Report()
		}
	}
}

// Close stops the outputs and detaches the edge interrupt.
func (in *Instrument) Close() error {
	var err error
	err = multierr.Append(err, in.edges.ClearEdgeHandler())
	err = multierr.Append(err, in.modes.Exit())
	err = multierr.Append(err, in.gen.Off())
	in.axis.Disable()
	err = multierr.Append(err, in.enable.SetEnabled(false))
	if err != nil {
		return fmt.Errorf("close instrument: %w", err)
	}
	return nil
}
