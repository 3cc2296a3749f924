// Package threshold classifies analog samples taken on each rising edge of
// the pulse output and latches sustained threshold crossings.
package threshold

import (
	"go.uber.org/atomic"

	"cubefw/core"
)

// MaxSensitivity is the largest consecutive-sample count a counter can hold.
const MaxSensitivity = 1<<14 - 1

// Layout of the packed state word. Everything the ISR mutates lives in this
// one word so a reader always sees counters and flags from the same sample.
const (
	countBits    = 14
	countMask    = 1<<countBits - 1
	highShift    = countBits
	lowFlagBit   = 1 << 28
	highFlagBit  = 1 << 29
	resetPending = 1 << 30
)

// Snapshot is a consistent view of the detector.
type Snapshot struct {
	Sample      uint16
	Low, High   uint16
	Sensitivity uint16
	LowCount    uint16
	HighCount   uint16
	LowFlag     bool
	HighFlag    bool
}

// Detector counts unbroken runs of out-of-band samples. An in-band sample
// ends the run; latched flags survive until reset.
type Detector struct {
	sampler core.Sampler

	state  atomic.Uint32
	config atomic.Uint64 // low | high<<16 | sensitivity<<32
	last   atomic.Uint32
	edges  atomic.Uint32
}

// New returns a detector with an empty band that never latches until
// Configure is called.
func New(sampler core.Sampler) *Detector {
	d := &Detector{sampler: sampler}
	d.config.Store(packConfig(0, 0xffff, MaxSensitivity))
	return d
}

func packConfig(low, high, sens uint16) uint64 {
	return uint64(low) | uint64(high)<<16 | uint64(sens)<<32
}

func unpackConfig(v uint64) (low, high, sens uint16) {
	return uint16(v), uint16(v >> 16), uint16(v >> 32)
}

// Configure sets the band and sensitivity and clears all progress.
func (d *Detector) Configure(low, high, sensitivity uint16) error {
	if low > high {
		return core.Errorf(core.ConfigRejected, "threshold configure", "low %d above high %d", low, high)
	}
	if sensitivity == 0 || sensitivity > MaxSensitivity {
		return core.Errorf(core.ConfigRejected, "threshold configure", "sensitivity %d outside 1..%d", sensitivity, MaxSensitivity)
	}
	core.Critical(func() {
		d.config.Store(packConfig(low, high, sensitivity))
		d.state.Store(0)
	})
	return nil
}

// OnEdge is the rising-edge interrupt handler: one conversion, one
// classification. It never blocks.
func (d *Detector) OnEdge() {
	d.edges.Inc()
	d.Classify(d.sampler.Sample())
}

// Poll samples and classifies from task context, for when no edges are
// arriving.
func (d *Detector) Poll() {
	d.Classify(d.sampler.Sample())
}

// SampleNow takes a conversion outside the ISR without classifying it.
func (d *Detector) SampleNow() uint16 {
	s := d.sampler.Sample()
	d.last.Store(uint32(s))
	return s
}

// Classify folds one sample into the counters.
func (d *Detector) Classify(sample uint16) {
	d.last.Store(uint32(sample))
	low, high, sens := unpackConfig(d.config.Load())
	for {
		old := d.state.Load()
		if d.state.CompareAndSwap(old, step(old, sample, low, high, uint32(sens))) {
			return
		}
	}
}

func step(st uint32, sample, low, high uint16, sens uint32) uint32 {
	if st&resetPending != 0 {
		st = 0
	}
	lc := st & countMask
	hc := (st >> highShift) & countMask
	flags := st & (lowFlagBit | highFlagBit)

	switch {
	case sample < low:
		if lc < sens {
			lc++
		}
		if lc >= sens {
			flags |= lowFlagBit
		}
	case sample > high:
		if hc < sens {
			hc++
		}
		if hc >= sens {
			flags |= highFlagBit
		}
	default:
		lc, hc = 0, 0
	}
	return lc | hc<<highShift | flags
}

// RequestReset zeroes counters and flags in one store. The pending bit
// tells an ISR that raced with the store to start from zero as well.
func (d *Detector) RequestReset() {
	d.state.Store(resetPending)
}

// Flags returns the latched crossing flags.
func (d *Detector) Flags() (low, high bool) {
	st := d.state.Load()
	if st&resetPending != 0 {
		return false, false
	}
	return st&lowFlagBit != 0, st&highFlagBit != 0
}

// LastSample returns the most recent raw conversion.
func (d *Detector) LastSample() uint16 {
	return uint16(d.last.Load())
}

// Edges returns how many rising edges the ISR has handled.
func (d *Detector) Edges() uint32 {
	return d.edges.Load()
}

// Snapshot returns counters, flags and configuration.
func (d *Detector) Snapshot() Snapshot {
	low, high, sens := unpackConfig(d.config.Load())
	st := d.state.Load()
	if st&resetPending != 0 {
		st = 0
	}
	return Snapshot{
		Sample:      d.LastSample(),
		Low:         low,
		High:        high,
		Sensitivity: sens,
		LowCount:    uint16(st & countMask),
		HighCount:   uint16((st >> highShift) & countMask),
		LowFlag:     st&lowFlagBit != 0,
		HighFlag:    st&highFlagBit != 0,
	}
}
