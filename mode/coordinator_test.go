package mode

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"cubefw/core"
	"cubefw/core/coretest"
	"cubefw/pulse"
	"cubefw/threshold"
)

type fakeAxis struct{ homing bool }

func (a *fakeAxis) Homing() bool { return a.homing }

type fixture struct {
	co     *Coordinator
	det    *threshold.Detector
	gen    *pulse.Synthesizer
	drv    *coretest.MockPulseDriver
	axis   *fakeAxis
	sample *atomic.Uint32
	cal    threshold.Calibration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		drv:    coretest.NewMockPulseDriver(),
		axis:   &fakeAxis{},
		sample: atomic.NewUint32(0),
		cal:    threshold.DefaultCalibration(),
	}
	f.sample.Store(uint32(f.cal.Raw(50)))
	f.det = threshold.New(core.SamplerFunc(func() uint16 { return uint16(f.sample.Load()) }))
	gen, err := pulse.New(pulse.DefaultConfig(), f.drv, nil)
	if err != nil {
		t.Fatal(err)
	}
	f.gen = gen
	cfg := DefaultConfig()
	cfg.Settle = 0
	cfg.PollInterval = 0
	f.co = New(cfg, f.det, f.gen, f.axis, f.cal, clock.NewMock(), zaptest.NewLogger(t).Sugar())
	return f
}

func (f *fixture) startPulse(t *testing.T) {
	t.Helper()
	if _, err := f.gen.Set(5*time.Microsecond, 5*time.Microsecond); err != nil {
		t.Fatal(err)
	}
}

func TestEnterTouchMode(t *testing.T) {
	f := newFixture(t)
	f.startPulse(t)
	if err := f.co.EnterTouchMode(10, 100); err != nil {
		t.Fatalf("EnterTouchMode: %v", err)
	}
	if f.co.Mode() != Touch {
		t.Errorf("Mode = %s, want touch", f.co.Mode())
	}
	if f.gen.Active() {
		t.Error("pulse output still running in touch mode")
	}
	st := f.co.State()
	if st.Low != 10 || st.High != 100 || st.Sensitivity != 3 {
		t.Errorf("State = %+v", st)
	}
}

func TestEnterTouchModeSignalTooLow(t *testing.T) {
	f := newFixture(t)
	f.startPulse(t)
	f.sample.Store(uint32(f.cal.Raw(5)))

	err := f.co.EnterTouchMode(10, 100)
	if !errors.Is(err, core.InvalidModeTransition) {
		t.Fatalf("err = %v, want InvalidModeTransition", err)
	}
	if f.co.Mode() != Idle {
		t.Errorf("Mode = %s, want idle", f.co.Mode())
	}
	if !f.gen.Active() {
		t.Error("pulse output not restored after rejected entry")
	}
}

func TestTouchWhileAutoRejected(t *testing.T) {
	f := newFixture(t)
	f.startPulse(t)
	if err := f.co.EnterAutoMode(10, 100, 3); err != nil {
		t.Fatalf("EnterAutoMode: %v", err)
	}
	err := f.co.EnterTouchMode(10, 100)
	if !errors.Is(err, core.InvalidModeTransition) {
		t.Errorf("err = %v, want InvalidModeTransition", err)
	}
	if f.co.Mode() != Auto {
		t.Errorf("Mode = %s, want auto unchanged", f.co.Mode())
	}
	if !f.gen.Active() {
		t.Error("rejected touch entry disturbed the pulse output")
	}
}

func TestEnterAutoModeRules(t *testing.T) {
	tests := []struct {
		name    string
		pulse   bool
		homing  bool
		low     float64
		high    float64
		sens    uint16
		want    core.Code
		wantErr bool
	}{
		{name: "ok", pulse: true, low: 10, high: 100, sens: 3},
		{name: "generator off", low: 10, high: 100, sens: 3, want: core.InvalidModeTransition, wantErr: true},
		{name: "homing", pulse: true, homing: true, low: 10, high: 100, sens: 3, want: core.InvalidModeTransition, wantErr: true},
		{name: "band inverted", pulse: true, low: 100, high: 10, sens: 3, want: core.ConfigRejected, wantErr: true},
		{name: "NaN band", pulse: true, low: math.NaN(), high: math.NaN(), sens: 3, want: core.ConfigRejected, wantErr: true},
		{name: "infinite high", pulse: true, low: 10, high: math.Inf(1), sens: 3, want: core.ConfigRejected, wantErr: true},
		{name: "zero sensitivity", pulse: true, low: 10, high: 100, sens: 0, want: core.ConfigRejected, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.pulse {
				f.startPulse(t)
			}
			f.axis.homing = tt.homing
			err := f.co.EnterAutoMode(tt.low, tt.high, tt.sens)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("EnterAutoMode: %v", err)
				}
				if f.co.Mode() != Auto {
					t.Errorf("Mode = %s, want auto", f.co.Mode())
				}
				return
			}
			if got := core.CodeOf(err); got != tt.want {
				t.Errorf("code = %q, want %q", got, tt.want)
			}
			if f.co.Mode() != Idle {
				t.Errorf("Mode = %s after rejection, want idle", f.co.Mode())
			}
		})
	}
}

// settleClock runs during in place of sleeping.
type settleClock struct {
	clock.Clock
	during func()
}

func (c settleClock) Sleep(time.Duration) { c.during() }

func TestAutoEntryDiscardsSettleSamples(t *testing.T) {
	f := newFixture(t)
	f.startPulse(t)
	f.co.cfg.Settle = 10 * time.Millisecond
	f.co.clk = settleClock{Clock: clock.NewMock(), during: func() {
		for i := 0; i < 5; i++ {
			f.det.Classify(f.cal.Raw(1))
		}
	}}
	if err := f.co.EnterAutoMode(10, 100, 3); err != nil {
		t.Fatalf("EnterAutoMode: %v", err)
	}
	if c := f.co.Crossing(); c.Any() {
		t.Errorf("Crossing = %+v, want none from settle-time samples", c)
	}
	if snap := f.det.Snapshot(); snap.LowCount != 0 {
		t.Errorf("LowCount = %d, want 0", snap.LowCount)
	}
}

func TestSetThresholdsRejectsNonFinite(t *testing.T) {
	f := newFixture(t)
	if err := f.co.SetThresholds(math.NaN(), math.NaN(), 3); !errors.Is(err, core.ConfigRejected) {
		t.Errorf("SetThresholds(NaN) = %v, want ConfigRejected", err)
	}
	if err := f.co.SetThresholds(1, math.Inf(1), 3); !errors.Is(err, core.ConfigRejected) {
		t.Errorf("SetThresholds(1, +Inf) = %v, want ConfigRejected", err)
	}
	if st := f.co.State(); math.IsNaN(st.Low) || math.IsInf(st.High, 0) {
		t.Errorf("State = %+v after rejection", st)
	}
}

func TestTouchWhileHomingRejected(t *testing.T) {
	f := newFixture(t)
	f.axis.homing = true
	if err := f.co.EnterTouchMode(10, 100); !errors.Is(err, core.InvalidModeTransition) {
		t.Errorf("err = %v, want InvalidModeTransition", err)
	}
}

func TestPollReportsCrossingOnce(t *testing.T) {
	f := newFixture(t)
	f.startPulse(t)
	if err := f.co.EnterAutoMode(10, 100, 2); err != nil {
		t.Fatal(err)
	}
	var calls int
	f.co.OnCrossing(func(st State, cr Crossing) {
		calls++
		if st.Kind != Auto || !cr.High {
			t.Errorf("handler got %+v %+v", st, cr)
		}
	})

	high := f.cal.Raw(120)
	f.det.Classify(high)
	if f.co.Poll().Any() {
		t.Fatal("crossing reported after one sample with sensitivity 2")
	}
	f.det.Classify(high)
	for i := 0; i < 3; i++ {
		if cr := f.co.Poll(); !cr.High {
			t.Fatalf("Poll %d = %+v, want high latched", i, cr)
		}
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}

	f.co.AcknowledgeCrossing()
	if f.co.Crossing().Any() {
		t.Error("flags still set after acknowledge")
	}
}

func TestTouchModePollsSampler(t *testing.T) {
	f := newFixture(t)
	if err := f.co.EnterTouchMode(10, 100); err != nil {
		t.Fatal(err)
	}
	f.sample.Store(uint32(f.cal.Raw(2)))
	for i := 0; i < 3; i++ {
		f.co.Poll()
	}
	if !f.co.Crossing().Low {
		t.Error("touch mode did not latch the low crossing")
	}
}

func TestExitResetsDetector(t *testing.T) {
	f := newFixture(t)
	f.startPulse(t)
	if err := f.co.EnterAutoMode(10, 100, 1); err != nil {
		t.Fatal(err)
	}
	f.det.Classify(f.cal.Raw(1))
	if err := f.co.Exit(); err != nil {
		t.Fatal(err)
	}
	if f.co.Mode() != Idle || f.co.Crossing().Any() {
		t.Errorf("after Exit: mode=%s crossing=%+v", f.co.Mode(), f.co.Crossing())
	}
	if err := f.co.Exit(); err != nil {
		t.Errorf("Exit from idle = %v, want nil", err)
	}
}

func TestSetThresholdsOnlyInIdle(t *testing.T) {
	f := newFixture(t)
	if err := f.co.SetThresholds(5, 80, 7); err != nil {
		t.Fatalf("SetThresholds: %v", err)
	}
	if err := f.co.EnterTouchMode(5, 80); err != nil {
		t.Fatal(err)
	}
	if got := f.co.State().Sensitivity; got != 7 {
		t.Errorf("touch sensitivity = %d, want 7", got)
	}
	if err := f.co.SetThresholds(1, 2, 3); !errors.Is(err, core.InvalidModeTransition) {
		t.Errorf("SetThresholds in touch = %v, want InvalidModeTransition", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.co.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
