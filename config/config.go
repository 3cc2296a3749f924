// Package config loads the instrument configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the complete instrument configuration.
type Config struct {
	Axis      AxisConfig      `json:"axis"`
	Pins      PinConfig       `json:"pins"`
	Pulse     PulseConfig     `json:"pulse"`
	Threshold ThresholdConfig `json:"threshold"`
	Mode      ModeConfig      `json:"mode"`

	ReportIntervalMS int    `json:"report_interval_ms"` // 0 disables periodic reports
	LogLevel         string `json:"log_level"`
}

// AxisConfig is the linear axis geometry and motion limits.
type AxisConfig struct {
	StepsPerMM         float64 `json:"steps_per_mm"`
	Microsteps         uint16  `json:"microsteps"`
	EncoderCountsPerMM int64   `json:"encoder_counts_per_mm"`

	Speed       float64 `json:"speed"`        // mm/s
	Accel       float64 `json:"accel"`        // mm/s^2
	HomingSpeed float64 `json:"homing_speed"` // mm/s
	HomingAccel float64 `json:"homing_accel"` // mm/s^2
	FineSpeed   float64 `json:"fine_speed"`   // mm/s
	FineAccel   float64 `json:"fine_accel"`   // mm/s^2

	TravelMM float64 `json:"travel_mm"`
	MarginMM float64 `json:"margin_mm"`
	BumpMM   float64 `json:"bump_mm"`

	ReleaseSettleMS int `json:"release_settle_ms"`
	ZeroSettleMS    int `json:"zero_settle_ms"`

	RunCurrentMA uint16 `json:"run_current_ma"`

	InvertDir         bool `json:"invert_dir"`
	InvertEncoder     bool `json:"invert_encoder"`
	EndstopTriggerLow bool `json:"endstop_trigger_low"`
	EndstopPullDown   bool `json:"endstop_pull_down"`
}

// PinConfig maps signals to GPIO numbers.
type PinConfig struct {
	Pulse         uint8 `json:"pulse"`
	PulseInverted uint8 `json:"pulse_inverted"`
	MinEndstop    uint8 `json:"min_endstop"`
	MaxEndstop    uint8 `json:"max_endstop"`
	EncoderA      uint8 `json:"encoder_a"`
	EncoderB      uint8 `json:"encoder_b"`
	Enable        uint8 `json:"enable"`
	Dir           uint8 `json:"dir"`
	Step          uint8 `json:"step"`
	ADCCS         uint8 `json:"adc_cs"`
	SPISCK        uint8 `json:"spi_sck"`
	SPIMOSI       uint8 `json:"spi_mosi"`
	SPIMISO       uint8 `json:"spi_miso"`
	DriverTX      uint8 `json:"driver_tx"`
	DriverRX      uint8 `json:"driver_rx"`
}

// PulseConfig limits the pulse generator.
type PulseConfig struct {
	MinWidthNS     int     `json:"min_width_ns"`
	ErrorRatio     float64 `json:"error_ratio"`
	MaxFrequencyHz uint32  `json:"max_frequency_hz"`
}

// ThresholdConfig is the analog front end calibration and default band.
type ThresholdConfig struct {
	Divider     float64 `json:"divider"`
	VRef        float64 `json:"vref"`
	Bits        uint8   `json:"bits"`
	Shift       uint8   `json:"shift"`
	ZeroOffset  uint16  `json:"zero_offset"`
	LowV        float64 `json:"low_v"`
	HighV       float64 `json:"high_v"`
	Sensitivity uint16  `json:"sensitivity"`
	SPIFreqHz   uint32  `json:"spi_freq_hz"`
}

// ModeConfig tunes mode transitions.
type ModeConfig struct {
	SettleMS       int     `json:"settle_ms"`
	PollIntervalMS int     `json:"poll_interval_ms"`
	IdleLevels     [2]bool `json:"idle_levels"`
}

// Load parses a JSON configuration and fills in defaults.
func Load(jsonData []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads and parses a configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Load(data)
}

// applyDefaults fills in missing configuration values with the stock
// instrument's values.
func applyDefaults(cfg *Config) {
	def := Default()

	a, d := &cfg.Axis, def.Axis
	setF(&a.StepsPerMM, d.StepsPerMM)
	if a.Microsteps == 0 {
		a.Microsteps = d.Microsteps
	}
	if a.EncoderCountsPerMM == 0 {
		a.EncoderCountsPerMM = d.EncoderCountsPerMM
	}
	setF(&a.Speed, d.Speed)
	setF(&a.Accel, d.Accel)
	setF(&a.HomingSpeed, d.HomingSpeed)
	setF(&a.HomingAccel, d.HomingAccel)
	setF(&a.FineSpeed, d.FineSpeed)
	setF(&a.FineAccel, d.FineAccel)
	setF(&a.TravelMM, d.TravelMM)
	setF(&a.MarginMM, d.MarginMM)
	setF(&a.BumpMM, d.BumpMM)
	setI(&a.ReleaseSettleMS, d.ReleaseSettleMS)
	setI(&a.ZeroSettleMS, d.ZeroSettleMS)
	if a.RunCurrentMA == 0 {
		a.RunCurrentMA = d.RunCurrentMA
	}

	if cfg.Pins == (PinConfig{}) {
		cfg.Pins = def.Pins
	}

	p := &cfg.Pulse
	setI(&p.MinWidthNS, def.Pulse.MinWidthNS)
	setF(&p.ErrorRatio, def.Pulse.ErrorRatio)
	if p.MaxFrequencyHz == 0 {
		p.MaxFrequencyHz = def.Pulse.MaxFrequencyHz
	}

	th := &cfg.Threshold
	setF(&th.Divider, def.Threshold.Divider)
	setF(&th.VRef, def.Threshold.VRef)
	if th.Bits == 0 {
		th.Bits = def.Threshold.Bits
		th.Shift = def.Threshold.Shift
	}
	setF(&th.LowV, def.Threshold.LowV)
	setF(&th.HighV, def.Threshold.HighV)
	if th.Sensitivity == 0 {
		th.Sensitivity = def.Threshold.Sensitivity
	}
	if th.SPIFreqHz == 0 {
		th.SPIFreqHz = def.Threshold.SPIFreqHz
	}

	setI(&cfg.Mode.SettleMS, def.Mode.SettleMS)
	setI(&cfg.Mode.PollIntervalMS, def.Mode.PollIntervalMS)

	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
}

func setF(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setI(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

// Validate checks values the firmware cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Axis.StepsPerMM <= 0 || c.Axis.EncoderCountsPerMM <= 0:
		return fmt.Errorf("config: axis scale must be positive")
	case c.Axis.Speed <= 0 || c.Axis.HomingSpeed <= 0 || c.Axis.FineSpeed <= 0:
		return fmt.Errorf("config: axis speeds must be positive")
	case c.Pulse.ErrorRatio <= 0 || c.Pulse.ErrorRatio >= 1:
		return fmt.Errorf("config: pulse error ratio %.3f outside (0, 1)", c.Pulse.ErrorRatio)
	case c.Threshold.Bits == 0 || c.Threshold.Bits > 16 || int(c.Threshold.Bits)+int(c.Threshold.Shift) > 16:
		return fmt.Errorf("config: converter with %d bits shifted by %d does not fit 16 bits", c.Threshold.Bits, c.Threshold.Shift)
	case c.Threshold.LowV > c.Threshold.HighV:
		return fmt.Errorf("config: low threshold %.2f V above high %.2f V", c.Threshold.LowV, c.Threshold.HighV)
	case c.Pins.Pulse == c.Pins.PulseInverted:
		return fmt.Errorf("config: pulse outputs share pin %d", c.Pins.Pulse)
	case c.ReportIntervalMS < 0:
		return fmt.Errorf("config: negative report interval")
	}
	return nil
}

// Default returns the configuration of the stock instrument on an RP2040
// board.
func Default() *Config {
	return &Config{
		Axis: AxisConfig{
			StepsPerMM:         200,
			Microsteps:         256,
			EncoderCountsPerMM: 4000,
			Speed:              1.5,
			Accel:              100000,
			HomingSpeed:        1.5,
			HomingAccel:        100000,
			FineSpeed:          0.25,
			FineAccel:          1000,
			TravelMM:           25,
			MarginMM:           5,
			BumpMM:             2,
			ReleaseSettleMS:    25,
			ZeroSettleMS:       200,
			RunCurrentMA:       800,
		},
		Pins: PinConfig{
			Pulse:         2,
			PulseInverted: 3,
			MinEndstop:    6,
			MaxEndstop:    7,
			EncoderA:      8,
			EncoderB:      9,
			Enable:        10,
			Dir:           11,
			Step:          12,
			ADCCS:         17,
			SPISCK:        18,
			SPIMOSI:       19,
			SPIMISO:       16,
			DriverTX:      0,
			DriverRX:      1,
		},
		Pulse: PulseConfig{
			MinWidthNS:     62,
			ErrorRatio:     0.1,
			MaxFrequencyHz: 40000000,
		},
		Threshold: ThresholdConfig{
			Divider:     30,
			VRef:        5.0,
			Bits:        12,
			Shift:       4,
			LowV:        1.0,
			HighV:       100,
			Sensitivity: 3,
			SPIFreqHz:   1000000,
		},
		Mode: ModeConfig{
			SettleMS:       10,
			PollIntervalMS: 1,
		},
		LogLevel: "info",
	}
}
