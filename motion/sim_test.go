package motion

import (
	"testing"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"cubefw/core"
	"cubefw/core/coretest"
	"cubefw/mathx"
)

// simAxis is a carriage that moves one step per Process call. The encoder
// reads the physical step position plus an offset, 1:1 with the test
// geometry below.
type simAxis struct {
	pos       int64 // physical position, steps
	target    int64
	profile   core.RampProfile
	moves     []int64
	halts     int
	stopSteps int64 // overshoot when decelerating

	encOffset int64

	minAt, maxAt int64 // switch positions
	minStuck     bool
	noMin        bool
}

func (s *simAxis) SetProfile(p core.RampProfile) { s.profile = p }
func (s *simAxis) MoveRelative(n int64) {
	s.moves = append(s.moves, n)
	s.target += n
}
func (s *simAxis) Process() bool {
	if s.pos == s.target {
		return true
	}
	s.pos += mathx.Sign(s.target - s.pos)
	return s.pos == s.target
}
func (s *simAxis) Complete() bool { return s.pos == s.target }
func (s *simAxis) DecelerateToStop() {
	rem := s.target - s.pos
	stop := s.stopSteps
	if mathx.Abs(rem) < stop {
		stop = mathx.Abs(rem)
	}
	s.target = s.pos + mathx.Sign(rem)*stop
}
func (s *simAxis) Halt() {
	s.target = s.pos
	s.halts++
}
func (s *simAxis) SetPosition(int64) {}

func (s *simAxis) Count() int64 { return s.pos + s.encOffset }
func (s *simAxis) Reset()       { s.encOffset = -s.pos }

type switchFunc func() bool

func (f switchFunc) Triggered() bool { return f() }

type enableLine struct{ on bool }

func (e *enableLine) SetEnabled(on bool) error {
	e.on = on
	return nil
}

// testConfig uses 100 steps/mm with no microstepping and a 100 counts/mm
// encoder so a step is an encoder count.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StepsPerMM = 100
	cfg.Microsteps = 1
	cfg.EncoderCountsPerMM = 100
	cfg.ReleaseSettle = 0
	cfg.ZeroSettle = 0
	return cfg
}

type harness struct {
	c   *Controller
	ax  *simAxis
	en  *enableLine
	clk *clock.Mock
}

func newHarness(t *testing.T, cfg Config, ax *simAxis) *harness {
	t.Helper()
	if ax.stopSteps == 0 {
		ax.stopSteps = 3
	}
	if ax.maxAt == 0 {
		ax.maxAt = 1 << 40
	}
	ax.target = ax.pos
	h := &harness{ax: ax, en: &enableLine{}, clk: clock.NewMock()}
	hw := Hardware{
		Stepper: ax,
		Encoder: ax,
		Min: switchFunc(func() bool {
			if ax.noMin {
				return false
			}
			return ax.minStuck || ax.pos <= ax.minAt
		}),
		Max:    switchFunc(func() bool { return ax.pos >= ax.maxAt }),
		Enable: h.en,
		Driver: &coretest.MockDriverChip{},
	}
	c, err := NewController(cfg, hw, h.clk, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	h.c = c
	return h
}

// run steps the controller until done returns true.
func (h *harness) run(t *testing.T, limit int, done func() bool) {
	t.Helper()
	for i := 0; i < limit; i++ {
		if done() {
			return
		}
		h.c.Step()
	}
	t.Fatalf("condition not reached within %d cycles (pos=%d phase=%s)", limit, h.ax.pos, h.c.HomingPhase())
}

func (h *harness) home(t *testing.T) HomingResult {
	t.Helper()
	if err := h.c.RequestHoming(); err != nil {
		t.Fatalf("RequestHoming: %v", err)
	}
	h.run(t, 100000, func() bool { return !h.c.Homing() })
	r, ok := h.c.TakeHomingResult()
	if !ok {
		t.Fatal("no homing result")
	}
	return r
}

