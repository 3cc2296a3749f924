// Package pulse turns on/off durations into a hardware pulse generator
// program and drives the two complementary outputs.
package pulse

import (
	"fmt"
	"math"
	"time"

	"cubefw/core"
)

// Band is one row of the resolution table: the finest resolution the
// generator supports below Limit.
type Band struct {
	Resolution uint8
	Limit      uint32 // exclusive
}

// Config holds the generator's limits.
type Config struct {
	MinWidth     time.Duration
	ErrorRatio   float64
	MaxFrequency uint32
	Bands        []Band // ordered finest first
}

// DefaultConfig returns the limits of the 80 MHz LEDC-style generator the
// instrument was designed around.
func DefaultConfig() Config {
	return Config{
		MinWidth:     62 * time.Nanosecond,
		ErrorRatio:   0.1,
		MaxFrequency: 40000000,
		Bands: []Band{
			{Resolution: 10, Limit: 80001},
			{Resolution: 8, Limit: 300001},
			{Resolution: 6, Limit: 1200000},
			{Resolution: 4, Limit: 5000000},
		},
	}
}

// Waveform is an accepted pulse configuration.
type Waveform struct {
	On         time.Duration
	Off        time.Duration
	Frequency  uint32 // Hz
	Resolution uint8  // bits
	Duty       uint32 // in 1/2^Resolution of the period
}

func (w Waveform) String() string {
	return fmt.Sprintf("%dns/%dns %dHz %dbit duty=%d", w.On.Nanoseconds(), w.Off.Nanoseconds(),
		w.Frequency, w.Resolution, w.Duty)
}

// RejectReason says why Synthesize refused a request.
type RejectReason string

const (
	BelowMinWidth     RejectReason = "below minimum pulse width"
	FrequencyTooLow   RejectReason = "period of one second or more"
	FrequencyTooHigh  RejectReason = "frequency too high"
	ZeroDuty          RejectReason = "duty rounds to zero"
	QuantizationError RejectReason = "quantization error too large"
)

// RejectError is returned for requests the hardware cannot represent.
type RejectError struct {
	Reason  RejectReason
	On, Off time.Duration
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("pulse %dns/%dns rejected: %s", e.On.Nanoseconds(), e.Off.Nanoseconds(), e.Reason)
}

func (e *RejectError) Code() core.Code { return core.ConfigRejected }

func (e *RejectError) Is(target error) bool { return target == core.ConfigRejected }

// Synthesize derives frequency, resolution and duty for the given phase
// durations. It touches no hardware.
func Synthesize(cfg Config, on, off time.Duration) (Waveform, error) {
	reject := func(r RejectReason) (Waveform, error) {
		return Waveform{}, &RejectError{Reason: r, On: on, Off: off}
	}
	if on < cfg.MinWidth || off < cfg.MinWidth {
		return reject(BelowMinWidth)
	}

	periodNs := uint64(on.Nanoseconds() + off.Nanoseconds())
	freq := uint32(uint64(time.Second) / periodNs)
	if freq == 0 {
		return reject(FrequencyTooLow)
	}

	res, ok := resolutionFor(cfg, freq, on == off)
	if !ok || freq > cfg.MaxFrequency {
		return reject(FrequencyTooHigh)
	}

	steps := uint64(1) << res
	duty := uint32(uint64(on.Nanoseconds()) * steps / periodNs)
	if duty == 0 {
		return reject(ZeroDuty)
	}

	tick := float64(periodNs) / float64(steps)
	onErr := math.Abs(float64(on.Nanoseconds()) - float64(duty)*tick)
	offErr := math.Abs(float64(off.Nanoseconds()) - float64(steps-uint64(duty))*tick)
	if onErr > cfg.ErrorRatio*float64(on.Nanoseconds()) || offErr > cfg.ErrorRatio*float64(off.Nanoseconds()) {
		return reject(QuantizationError)
	}

	return Waveform{On: on, Off: off, Frequency: freq, Resolution: res, Duty: duty}, nil
}

// resolutionFor picks the finest resolution whose band admits freq. A
// symmetric waveform can always fall back to a 1-bit square wave.
func resolutionFor(cfg Config, freq uint32, symmetric bool) (uint8, bool) {
	for _, b := range cfg.Bands {
		if freq < b.Limit {
			return b.Resolution, true
		}
	}
	if symmetric {
		return 1, true
	}
	return 0, false
}
