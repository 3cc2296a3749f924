package motion

import (
	"fmt"
	"time"

	"cubefw/core"
)

// HomingPhase is the state of the homing sequence.
type HomingPhase uint32

const (
	HomingIdle HomingPhase = iota
	HomingApproaching
	HomingReleasing
	HomingSeeking
	HomingTriggered
	HomingZeroed
)

var phaseNames = [...]string{"idle", "approaching", "releasing", "seeking", "triggered", "zeroed"}

func (p HomingPhase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint32(p))
}

// homingTransitions lists every legal phase change. Failures return to
// Idle from the phases that can detect them.
var homingTransitions = [...][]HomingPhase{
	HomingIdle:        {HomingApproaching},
	HomingApproaching: {HomingReleasing, HomingSeeking, HomingIdle},
	HomingReleasing:   {HomingSeeking, HomingIdle},
	HomingSeeking:     {HomingTriggered, HomingIdle},
	HomingTriggered:   {HomingZeroed, HomingIdle},
	HomingZeroed:      {HomingIdle},
}

func validTransition(from, to HomingPhase) bool {
	if int(from) >= len(homingTransitions) {
		return false
	}
	for _, p := range homingTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// HomingResult is the outcome of one homing sequence.
type HomingResult struct {
	Success bool
	Zero    int64 // encoder count at the reference
	Err     error
}

// RequestHoming starts a homing sequence on the next control cycle. The
// axis must be enabled.
func (c *Controller) RequestHoming() error {
	if !c.Enabled() {
		return core.Errorf(core.AxisDisabled, "home", "enable the axis first")
	}
	c.resultMu.Lock()
	c.result = nil
	c.resultMu.Unlock()
	c.homing.Store(true)
	return nil
}

// Homing reports whether a homing sequence is pending or running.
func (c *Controller) Homing() bool { return c.homing.Load() }

// HomingPhase returns the current phase.
func (c *Controller) HomingPhase() HomingPhase { return HomingPhase(c.phase.Load()) }

// TakeHomingResult returns the result of the last finished sequence once.
func (c *Controller) TakeHomingResult() (HomingResult, bool) {
	c.resultMu.Lock()
	defer c.resultMu.Unlock()
	if c.result == nil {
		return HomingResult{}, false
	}
	r := *c.result
	c.result = nil
	return r, true
}

func (c *Controller) setPhase(to HomingPhase) {
	from := c.HomingPhase()
	if !validTransition(from, to) {
		// Unreachable unless the table and stepHoming disagree.
		panic(fmt.Sprintf("homing: illegal transition %s -> %s", from, to))
	}
	c.phase.Store(uint32(to))
	c.log.Debugf("homing %s -> %s", from, to)
}

func (c *Controller) settled() bool {
	if !c.settling {
		return false
	}
	return !c.clk.Now().Before(c.settleUntil)
}

func (c *Controller) startSettle(d time.Duration) {
	c.settling = true
	c.settleUntil = c.clk.Now().Add(d)
}

func (c *Controller) stepHoming() {
	st := c.hw.Stepper
	switch c.HomingPhase() {
	case HomingIdle:
		c.moving.Store(false)
		c.settling = false
		if !st.Complete() {
			st.DecelerateToStop()
		}
		c.setPhase(HomingApproaching)
		c.log.Infof("homing started")

	case HomingApproaching:
		if !st.Process() {
			return
		}
		st.SetProfile(c.cfg.Ramp(c.cfg.Homing))
		if c.hw.Min.Triggered() {
			st.MoveRelative(c.cfg.MMToSteps(c.cfg.BumpMM))
			c.setPhase(HomingReleasing)
			return
		}
		c.startSeek()

	case HomingReleasing:
		if !c.settling {
			if !st.Process() {
				return
			}
			c.startSettle(c.cfg.ReleaseSettle)
		}
		if !c.settled() {
			return
		}
		c.settling = false
		if c.hw.Min.Triggered() {
			c.failHoming(core.Errorf(core.EndstopStuck, "home", "min endstop still triggered after %.1f mm bump", c.cfg.BumpMM))
			return
		}
		c.startSeek()

	case HomingSeeking:
		if c.hw.Min.Triggered() {
			st.DecelerateToStop()
			c.setPhase(HomingTriggered)
			return
		}
		if st.Process() {
			c.failHoming(core.Errorf(core.EndstopNotFound, "home", "no trigger within %.1f mm", c.cfg.TravelMM+c.cfg.MarginMM))
		}

	case HomingTriggered:
		if !st.Process() {
			return
		}
		c.startSettle(c.cfg.ZeroSettle)
		c.setPhase(HomingZeroed)

	case HomingZeroed:
		if !c.settled() {
			return
		}
		c.settling = false
		c.hw.Encoder.Reset()
		zero := c.hw.Encoder.Count()
		st.SetPosition(0)
		c.target.Store(zero)
		st.SetProfile(c.cfg.Ramp(c.cfg.Normal))
		c.finishHoming(HomingResult{Success: true, Zero: zero})
		c.log.Infof("homing done")
	}
}

func (c *Controller) startSeek() {
	c.hw.Stepper.MoveRelative(-c.cfg.MMToSteps(c.cfg.TravelMM + c.cfg.MarginMM))
	c.setPhase(HomingSeeking)
}

func (c *Controller) failHoming(err error) {
	st := c.hw.Stepper
	if !st.Complete() {
		st.Halt()
	}
	c.settling = false
	st.SetProfile(c.cfg.Ramp(c.cfg.Normal))
	c.target.Store(c.Current())
	c.log.Errorf("homing failed: %v", err)
	c.finishHoming(HomingResult{Err: err})
}

func (c *Controller) finishHoming(r HomingResult) {
	if c.HomingPhase() != HomingIdle {
		c.setPhase(HomingIdle)
	}
	c.resultMu.Lock()
	c.result = &r
	c.resultMu.Unlock()
	c.homing.Store(false)
}
