package instrument

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"cubefw/config"
	"cubefw/core"
	"cubefw/core/coretest"
	"cubefw/mode"
)

// simStepper moves one microstep per Process call and doubles as the
// encoder, scaled by the axis geometry.
type simStepper struct {
	pos      atomic.Int64
	target   int64
	offset   atomic.Int64
	perCount int64 // microsteps per encoder count
}

func (s *simStepper) SetProfile(core.RampProfile) {}
func (s *simStepper) MoveRelative(n int64)        { s.target += n }
func (s *simStepper) Process() bool {
	p := s.pos.Load()
	switch {
	case p < s.target:
		p = s.pos.Inc()
	case p > s.target:
		p = s.pos.Dec()
	}
	return p == s.target
}
func (s *simStepper) Complete() bool     { return s.pos.Load() == s.target }
func (s *simStepper) DecelerateToStop()  { s.target = s.pos.Load() }
func (s *simStepper) Halt()              { s.target = s.pos.Load() }
func (s *simStepper) SetPosition(int64)  {}
func (s *simStepper) Count() int64       { return s.pos.Load()/s.perCount + s.offset.Load() }
func (s *simStepper) SetCount(n int64)   { s.offset.Store(n - s.pos.Load()/s.perCount) }

type fixture struct {
	in      *Instrument
	gpio    *coretest.MockGPIODriver
	pulses  *coretest.MockPulseDriver
	edges   *coretest.MockEdgeSource
	chip    *coretest.MockDriverChip
	stepper *simStepper
	sample  *atomic.Uint32
	clk     *clock.Mock
	cfg     *config.Config
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Mode.SettleMS = 0
	cfg.Axis.ReleaseSettleMS = 0
	cfg.Axis.ZeroSettleMS = 0
	// One microstep per encoder count keeps the simulation exact.
	cfg.Axis.StepsPerMM = 250
	cfg.Axis.Microsteps = 16
	return cfg
}

func newFixture(t *testing.T, cfg *config.Config, opts ...Option) (*fixture, error) {
	t.Helper()
	f := &fixture{
		gpio:    coretest.NewMockGPIODriver(),
		pulses:  coretest.NewMockPulseDriver(),
		edges:   &coretest.MockEdgeSource{},
		chip:    &coretest.MockDriverChip{},
		stepper: &simStepper{perCount: 1},
		sample:  atomic.NewUint32(0),
		clk:     clock.NewMock(),
		cfg:     cfg,
	}
	f.sample.Store(uint32(Calibration(cfg).Raw(50)))
	f.gpio.WireInput(core.GPIOPin(cfg.Pins.MinEndstop), func() bool { return false })
	f.gpio.WireInput(core.GPIOPin(cfg.Pins.MaxEndstop), func() bool { return false })

	opts = append([]Option{WithLogger(zaptest.NewLogger(t).Sugar()), WithClock(f.clk)}, opts...)
	in, err := New(cfg, Hardware{
		GPIO:    f.gpio,
		Pulse:   f.pulses,
		Edges:   f.edges,
		Sampler: core.SamplerFunc(func() uint16 { return uint16(f.sample.Load()) }),
		Stepper: f.stepper,
		Encoder: f.stepper,
		Driver:  f.chip,
	}, opts...)
	f.in = in
	return f, err
}

func mustFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f, err := newFixture(t, testConfig(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func TestNewRequiresDriverConnection(t *testing.T) {
	cfg := testConfig()
	gpio := coretest.NewMockGPIODriver()
	_, err := New(cfg, Hardware{
		GPIO:    gpio,
		Pulse:   coretest.NewMockPulseDriver(),
		Edges:   &coretest.MockEdgeSource{},
		Sampler: core.SamplerFunc(func() uint16 { return 0 }),
		Stepper: &simStepper{perCount: 1},
		Encoder: &simStepper{perCount: 1},
		Driver:  &coretest.MockDriverChip{Disconnected: true},
	})
	if !errors.Is(err, core.HardwareConnection) {
		t.Errorf("New = %v, want HardwareConnection", err)
	}
}

func TestSetTargetPositionUnits(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		unit  Unit
		want  int64
	}{
		{"micrometres", 100, Micrometre, 400},
		{"millimetres", 0.5, Millimetre, 2000},
		{"counts", 123, Count, 123},
		{"negative", -25, Micrometre, -100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustFixture(t)
			if err := f.in.SetTargetPosition(tt.value, tt.unit); err != nil {
				t.Fatal(err)
			}
			if got := f.in.Status().TargetPosition; got != tt.want {
				t.Errorf("TargetPosition = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSetTargetPositionRejectsOutOfReach(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		unit  Unit
	}{
		{"NaN", math.NaN(), Micrometre},
		{"positive infinity", math.Inf(1), Millimetre},
		{"negative infinity", math.Inf(-1), Count},
		{"huge", 1e30, Micrometre},
		{"past reach in mm", 30.001, Millimetre},
		{"past reach in counts", -120001, Count},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustFixture(t)
			if err := f.in.SetTargetPosition(1, Millimetre); err != nil {
				t.Fatal(err)
			}
			err := f.in.SetTargetPosition(tt.value, tt.unit)
			if !errors.Is(err, core.InvalidParams) {
				t.Errorf("SetTargetPosition(%v) = %v, want InvalidParams", tt.value, err)
			}
			if got := f.in.Status().TargetPosition; got != 4000 {
				t.Errorf("TargetPosition = %d, want 4000 unchanged", got)
			}
		})
	}
}

func TestRelativeMoveStaysInReach(t *testing.T) {
	f := mustFixture(t)
	f.in.SetPositioningMode(Relative)
	if err := f.in.SetTargetPosition(20, Millimetre); err != nil {
		t.Fatal(err)
	}
	err := f.in.SetTargetPosition(20, Millimetre)
	if !errors.Is(err, core.InvalidParams) {
		t.Fatalf("second relative move = %v, want InvalidParams", err)
	}
	if got := f.in.Status().TargetPosition; got != 80000 {
		t.Errorf("TargetPosition = %d, want 80000", got)
	}
}

func TestRelativePositioning(t *testing.T) {
	f := mustFixture(t)
	if err := f.in.SetTargetPosition(100, Micrometre); err != nil {
		t.Fatal(err)
	}
	f.in.SetPositioningMode(Relative)
	if err := f.in.SetTargetPosition(50, Micrometre); err != nil {
		t.Fatal(err)
	}
	if err := f.in.SetTargetPosition(-25, Micrometre); err != nil {
		t.Fatal(err)
	}
	st := f.in.Status()
	if st.TargetPosition != 500 || !st.Relative {
		t.Errorf("TargetPosition = %d relative=%v, want 500 true", st.TargetPosition, st.Relative)
	}
	f.in.SetPositioningMode(Absolute)
	if f.in.PositioningMode() != Absolute {
		t.Error("positioning mode not restored")
	}
}

func TestHomingExcludedByModes(t *testing.T) {
	f := mustFixture(t)
	f.in.EnableAxis()
	if _, err := f.in.SetPulse(5*time.Microsecond, 5*time.Microsecond); err != nil {
		t.Fatal(err)
	}
	if err := f.in.EnterAutoMode(10, 100, 3); err != nil {
		t.Fatal(err)
	}
	if err := f.in.RequestHoming(); !errors.Is(err, core.InvalidModeTransition) {
		t.Errorf("RequestHoming in auto = %v, want InvalidModeTransition", err)
	}
	if err := f.in.ExitAutoMode(); err != nil {
		t.Fatal(err)
	}
	if err := f.in.RequestHoming(); err != nil {
		t.Errorf("RequestHoming in idle = %v", err)
	}
	if err := f.in.EnterTouchMode(10, 100); !errors.Is(err, core.InvalidModeTransition) {
		t.Errorf("EnterTouchMode while homing = %v, want InvalidModeTransition", err)
	}
}

func TestSetTargetWhileHoming(t *testing.T) {
	f := mustFixture(t)
	f.in.EnableAxis()
	if err := f.in.RequestHoming(); err != nil {
		t.Fatal(err)
	}
	if err := f.in.SetTargetPosition(1, Millimetre); err != nil {
		t.Fatalf("SetTargetPosition while homing: %v", err)
	}
	if got := f.in.Status().TargetPosition; got != 4000 {
		t.Errorf("TargetPosition = %d, want 4000", got)
	}
}

func TestOutputsOwnedByMode(t *testing.T) {
	f := mustFixture(t)
	if _, err := f.in.SetPulse(5*time.Microsecond, 5*time.Microsecond); err != nil {
		t.Fatal(err)
	}
	if err := f.in.EnterAutoMode(10, 100, 3); err != nil {
		t.Fatal(err)
	}
	checks := map[string]error{
		"SetOutputOff":    f.in.SetOutputOff(),
		"SetOutputLevels": f.in.SetOutputLevels(true, false),
	}
	_, checks["SetPulse"] = f.in.SetPulse(1*time.Microsecond, 1*time.Microsecond)
	for name, err := range checks {
		if !errors.Is(err, core.InvalidModeTransition) {
			t.Errorf("%s in auto mode = %v, want InvalidModeTransition", name, err)
		}
	}
	if !f.in.Status().GeneratorActive {
		t.Error("pulse output disturbed by rejected calls")
	}
}

func TestEdgeDrivesDetector(t *testing.T) {
	f := mustFixture(t)
	if _, err := f.in.SetPulse(5*time.Microsecond, 5*time.Microsecond); err != nil {
		t.Fatal(err)
	}
	if err := f.in.EnterAutoMode(10, 100, 1); err != nil {
		t.Fatal(err)
	}
	f.sample.Store(uint32(Calibration(f.cfg).Raw(120)))
	if !f.edges.Fire() {
		t.Fatal("edge handler not registered")
	}
	st := f.in.Status()
	if !st.Crossing.High || st.Edges != 1 {
		t.Errorf("Crossing=%+v Edges=%d, want high latched after one edge", st.Crossing, st.Edges)
	}
	if st.LastVoltage < 119 || st.LastVoltage > 121 {
		t.Errorf("LastVoltage = %.2f, want about 120", st.LastVoltage)
	}
	f.in.AcknowledgeCrossing()
	if f.in.Crossing().Any() {
		t.Error("crossing not cleared")
	}
}

func TestRunMovesAxisAndReports(t *testing.T) {
	defer goleak.VerifyNone(t)
	reports := make(chan Status, 1)
	cfg := testConfig()
	cfg.ReportIntervalMS = 1000
	f, err := newFixture(t, cfg, WithReporter(func(st Status) {
		select {
		case reports <- st:
		default:
		}
	}))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.in.Run(ctx) }()

	f.in.EnableAxis()
	if err := f.in.SetTargetPosition(100, Micrometre); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for f.in.Status().CurrentPosition != 400 || f.in.Status().MoveInProgress {
		if time.Now().After(deadline) {
			cancel()
			<-done
			t.Fatalf("axis did not reach target: %+v", f.in.Status())
		}
		time.Sleep(time.Millisecond)
	}

	f.clk.Add(time.Second)
	select {
	case st := <-reports:
		if !strings.Contains(st.ReportLine(), "current_steps:400 target_steps:400") {
			t.Errorf("report = %q", st.ReportLine())
		}
	case <-time.After(5 * time.Second):
		t.Error("no report after one interval")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestCloseReleasesOutputs(t *testing.T) {
	f := mustFixture(t)
	if _, err := f.in.SetPulse(5*time.Microsecond, 5*time.Microsecond); err != nil {
		t.Fatal(err)
	}
	if err := f.in.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if f.edges.Fire() {
		t.Error("edge handler still registered")
	}
	if f.pulses.Running(core.PulseNormal) != nil {
		t.Error("pulse output still running")
	}
	if !f.gpio.Level(core.GPIOPin(f.cfg.Pins.Enable)) {
		t.Error("active-low enable not released")
	}
	if f.in.Status().Mode != mode.Idle {
		t.Error("mode not idle after Close")
	}
}

func TestReportLine(t *testing.T) {
	st := Status{LastVoltage: 12.345, Relative: true, CurrentPosition: -5, TargetPosition: 10}
	want := "<REPORT> adc:12.35 rel_pos:1 current_steps:-5 target_steps:10"
	if got := st.ReportLine(); got != want {
		t.Errorf("ReportLine() = %q, want %q", got, want)
	}
}
