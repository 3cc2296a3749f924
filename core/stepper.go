package core

// Trapezoidal step generation for a single axis.
//
// Velocity is updated once per step from v² = v0² ± 2a, which keeps the
// ramp symmetric and needs only one square root per step.

import (
	"math"

	"cubefw/mathx"
)

// RampProfile is a speed limit and acceleration, both in steps per second.
type RampProfile struct {
	Speed float64 // steps/s
	Accel float64 // steps/s²
}

// RampStepper issues step pulses on a StepperBackend following a
// trapezoidal velocity profile. Process must be called frequently; it emits
// at most one step per call.
type RampStepper struct {
	backend StepperBackend
	profile RampProfile

	position int64 // steps
	target   int64 // steps
	dir      int64 // +1 or -1 while moving

	velocity float64 // steps/s
	nextStep uint32  // tick of the next step
	running  bool
}

// NewRampStepper wraps a backend.
func NewRampStepper(backend StepperBackend, profile RampProfile) *RampStepper {
	return &RampStepper{backend: backend, profile: profile, dir: 1}
}

// SetProfile changes speed and acceleration. A move in progress keeps its
// current velocity and ramps toward the new limit.
func (s *RampStepper) SetProfile(p RampProfile) {
	s.profile = p
}

// Profile returns the active speed and acceleration.
func (s *RampStepper) Profile() RampProfile {
	return s.profile
}

// Position returns the commanded position in steps.
func (s *RampStepper) Position() int64 {
	return s.position
}

// SetPosition redefines the current position without moving.
func (s *RampStepper) SetPosition(pos int64) {
	delta := s.target - s.position
	s.position = pos
	s.target = pos + delta
}

// Remaining returns the signed number of steps left in the move.
func (s *RampStepper) Remaining() int64 {
	return s.target - s.position
}

// Complete reports whether the last move has finished.
func (s *RampStepper) Complete() bool {
	return s.target == s.position
}

// MoveRelative adds steps to the target.
func (s *RampStepper) MoveRelative(steps int64) {
	if steps == 0 {
		return
	}
	s.target += steps
	dir := int64(1)
	if s.target < s.position {
		dir = -1
	}
	if dir != s.dir || !s.running {
		s.velocity = 0
	}
	s.dir = dir
	s.backend.SetDirection(dir < 0)
	if !s.running {
		s.running = true
		s.nextStep = GetTime()
	}
}

// DecelerateToStop shortens the move to the distance needed to stop from
// the current velocity.
func (s *RampStepper) DecelerateToStop() {
	if s.Complete() {
		return
	}
	stop := s.stoppingDistance()
	if rem := mathx.Abs(s.Remaining()); stop > rem {
		stop = rem
	}
	s.target = s.position + s.dir*stop
	if stop == 0 {
		s.finish()
	}
}

// Halt stops immediately, discarding the rest of the move.
func (s *RampStepper) Halt() {
	s.target = s.position
	s.finish()
	s.backend.Stop()
}

// Process emits the next step when it is due. It returns true once the
// move is complete.
func (s *RampStepper) Process() bool {
	if s.Complete() {
		if s.running {
			s.finish()
		}
		return true
	}
	now := GetTime()
	if TimerIsBefore(now, s.nextStep) {
		return false
	}
	s.backend.Step()
	s.position += s.dir
	if s.Complete() {
		s.finish()
		return true
	}
	s.updateVelocity()
	s.nextStep = now + s.interval()
	return false
}

func (s *RampStepper) finish() {
	s.running = false
	s.velocity = 0
}

func (s *RampStepper) updateVelocity() {
	a := s.profile.Accel
	if a <= 0 {
		s.velocity = s.profile.Speed
		return
	}
	v2 := s.velocity * s.velocity
	if float64(mathx.Abs(s.Remaining())) <= v2/(2*a) {
		v2 -= 2 * a
	} else {
		v2 += 2 * a
	}
	minV2 := 2 * a
	if v2 < minV2 {
		v2 = minV2
	}
	v := math.Sqrt(v2)
	if v > s.profile.Speed {
		v = s.profile.Speed
	}
	s.velocity = v
}

func (s *RampStepper) interval() uint32 {
	v := s.velocity
	if v <= 0 {
		v = s.profile.Speed
	}
	if v <= 0 {
		return TimerFreq
	}
	ticks := float64(TimerFreq) / v
	if ticks < 1 {
		return 1
	}
	return uint32(ticks)
}

func (s *RampStepper) stoppingDistance() int64 {
	if s.profile.Accel <= 0 {
		return 0
	}
	return int64(math.Ceil(s.velocity * s.velocity / (2 * s.profile.Accel)))
}
