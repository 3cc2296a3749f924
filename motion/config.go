package motion

import (
	"math"
	"time"

	"cubefw/core"
)

// Profile is a speed and acceleration in millimetres.
type Profile struct {
	Speed float64 // mm/s
	Accel float64 // mm/s²
}

// Config describes the axis geometry and motion limits.
type Config struct {
	StepsPerMM         float64 // full steps per mm
	Microsteps         uint16
	EncoderCountsPerMM int64

	Normal Profile
	Homing Profile
	Fine   Profile // used when the remaining distance is under 1 mm

	TravelMM float64 // usable stroke
	MarginMM float64 // extra seek distance beyond the stroke
	BumpMM   float64 // back-off when homing starts on the switch

	ReleaseSettle time.Duration
	ZeroSettle    time.Duration
	PollInterval  time.Duration // 0 yields only

	RunCurrentMA uint16
}

// DefaultConfig is the stock 25 mm axis: 200 steps/mm leadscrew with 256
// microsteps and a 4000 counts/mm linear encoder.
func DefaultConfig() Config {
	return Config{
		StepsPerMM:         200,
		Microsteps:         256,
		EncoderCountsPerMM: 4000,
		Normal:             Profile{Speed: 1.5, Accel: 100000},
		Homing:             Profile{Speed: 1.5, Accel: 100000},
		Fine:               Profile{Speed: 0.25, Accel: 1000},
		TravelMM:           25,
		MarginMM:           5,
		BumpMM:             2,
		ReleaseSettle:      25 * time.Millisecond,
		ZeroSettle:         200 * time.Millisecond,
		RunCurrentMA:       800,
	}
}

// Validate rejects geometry the controller cannot work with.
func (c Config) Validate() error {
	switch {
	case c.StepsPerMM <= 0:
		return core.Errorf(core.ConfigRejected, "motion config", "steps per mm must be positive")
	case c.Microsteps == 0:
		return core.Errorf(core.ConfigRejected, "motion config", "microsteps must be positive")
	case c.EncoderCountsPerMM <= 0:
		return core.Errorf(core.ConfigRejected, "motion config", "encoder counts per mm must be positive")
	case c.Normal.Speed <= 0 || c.Homing.Speed <= 0 || c.Fine.Speed <= 0:
		return core.Errorf(core.ConfigRejected, "motion config", "speeds must be positive")
	case c.TravelMM <= 0 || c.MarginMM < 0 || c.BumpMM <= 0:
		return core.Errorf(core.ConfigRejected, "motion config", "travel and bump must be positive")
	}
	return nil
}

func (c Config) microstepsPerMM() float64 {
	return c.StepsPerMM * float64(c.Microsteps)
}

// Ramp converts a millimetre profile to step units.
func (c Config) Ramp(p Profile) core.RampProfile {
	m := c.microstepsPerMM()
	return core.RampProfile{Speed: p.Speed * m, Accel: p.Accel * m}
}

// CountsToSteps converts an encoder delta to microsteps, truncating toward
// zero.
func (c Config) CountsToSteps(counts int64) int64 {
	return int64(float64(counts) * c.microstepsPerMM() / float64(c.EncoderCountsPerMM))
}

// MMToSteps converts a distance to microsteps.
func (c Config) MMToSteps(mm float64) int64 {
	return int64(math.Round(mm * c.microstepsPerMM()))
}

// CountsToMM converts encoder counts to millimetres.
func (c Config) CountsToMM(counts int64) float64 {
	return float64(counts) / float64(c.EncoderCountsPerMM)
}

// MMToCounts converts millimetres to encoder counts.
func (c Config) MMToCounts(mm float64) int64 {
	return int64(math.Round(mm * float64(c.EncoderCountsPerMM)))
}
