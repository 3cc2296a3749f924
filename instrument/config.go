package instrument

import (
	"time"

	"cubefw/config"
	"cubefw/motion"
	"cubefw/mode"
	"cubefw/pulse"
	"cubefw/threshold"
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// MotionConfig derives the axis configuration.
func MotionConfig(cfg *config.Config) motion.Config {
	a := cfg.Axis
	return motion.Config{
		StepsPerMM:         a.StepsPerMM,
		Microsteps:         a.Microsteps,
		EncoderCountsPerMM: a.EncoderCountsPerMM,
		Normal:             motion.Profile{Speed: a.Speed, Accel: a.Accel},
		Homing:             motion.Profile{Speed: a.HomingSpeed, Accel: a.HomingAccel},
		Fine:               motion.Profile{Speed: a.FineSpeed, Accel: a.FineAccel},
		TravelMM:           a.TravelMM,
		MarginMM:           a.MarginMM,
		BumpMM:             a.BumpMM,
		ReleaseSettle:      ms(a.ReleaseSettleMS),
		ZeroSettle:         ms(a.ZeroSettleMS),
		RunCurrentMA:       a.RunCurrentMA,
	}
}

// PulseConfig derives the generator limits, keeping the stock resolution
// table.
func PulseConfig(cfg *config.Config) pulse.Config {
	pc := pulse.DefaultConfig()
	pc.MinWidth = time.Duration(cfg.Pulse.MinWidthNS) * time.Nanosecond
	pc.ErrorRatio = cfg.Pulse.ErrorRatio
	pc.MaxFrequency = cfg.Pulse.MaxFrequencyHz
	return pc
}

// Calibration derives the analog front end calibration.
func Calibration(cfg *config.Config) threshold.Calibration {
	t := cfg.Threshold
	return threshold.Calibration{Divider: t.Divider, VRef: t.VRef, Bits: t.Bits, Shift: t.Shift, ZeroOffset: t.ZeroOffset}
}

// ModeConfig derives the coordinator timing.
func ModeConfig(cfg *config.Config) mode.Config {
	return mode.Config{
		Settle:       ms(cfg.Mode.SettleMS),
		IdleLevels:   cfg.Mode.IdleLevels,
		Sensitivity:  cfg.Threshold.Sensitivity,
		PollInterval: ms(cfg.Mode.PollIntervalMS),
	}
}
