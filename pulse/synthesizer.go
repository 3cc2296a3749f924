package pulse

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"cubefw/core"
)

var channels = [...]core.PulseChannel{core.PulseNormal, core.PulseInverted}

// OutputState captures everything needed to put the outputs back the way
// they were.
type OutputState struct {
	Active   bool
	Waveform Waveform
	Levels   [2]bool
}

// Synthesizer owns the two complementary pulse channels.
type Synthesizer struct {
	cfg Config
	drv core.PulseDriver
	log core.Logger

	active atomic.Bool

	mu      sync.Mutex
	current Waveform
	levels  [2]bool
}

// New creates a synthesizer with both outputs released and low.
func New(cfg Config, drv core.PulseDriver, log core.Logger) (*Synthesizer, error) {
	if log == nil {
		log = core.NopLogger
	}
	s := &Synthesizer{cfg: cfg, drv: drv, log: log}
	if err := s.idle(); err != nil {
		return nil, err
	}
	return s, nil
}

// Active reports whether a waveform is running. Safe from any context.
func (s *Synthesizer) Active() bool {
	return s.active.Load()
}

// Current returns the running waveform.
func (s *Synthesizer) Current() (Waveform, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.active.Load()
}

// Set validates and programs a waveform on both channels. A zero on or off
// time turns the output off.
func (s *Synthesizer) Set(on, off time.Duration) (Waveform, error) {
	if on == 0 || off == 0 {
		return Waveform{}, s.Off()
	}
	w, err := Synthesize(s.cfg, on, off)
	if err != nil {
		return Waveform{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.program(w); err != nil {
		return Waveform{}, err
	}
	s.log.Infof("pulse output %s", w)
	return w, nil
}

func (s *Synthesizer) program(w Waveform) error {
	for _, ch := range channels {
		if err := s.drv.Program(ch, w.Frequency, w.Resolution, w.Duty); err != nil {
			s.active.Store(false)
			s.current = Waveform{}
			return multierr.Append(core.Wrap(core.HardwareConnection, "pulse program "+ch.String(), err), s.releaseLocked())
		}
	}
	s.current = w
	s.active.Store(true)
	return nil
}

// Off stops the waveform and drives both channels low.
func (s *Synthesizer) Off() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasActive := s.active.Swap(false)
	s.current = Waveform{}
	err := s.releaseLocked()
	if wasActive {
		s.log.Infof("pulse output off")
	}
	return err
}

func (s *Synthesizer) idle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked()
}

func (s *Synthesizer) releaseLocked() error {
	var err error
	for i, ch := range channels {
		err = multierr.Append(err, s.drv.Release(ch))
		err = multierr.Append(err, s.drv.SetLevel(ch, false))
		s.levels[i] = false
	}
	return err
}

// SetLevels drives the channels to static levels. Not allowed while a
// waveform runs.
func (s *Synthesizer) SetLevels(normal, inverted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Load() {
		return core.Errorf(core.GeneratorActive, "set output levels", "turn the pulse output off first")
	}
	var err error
	for i, lv := range [2]bool{normal, inverted} {
		err = multierr.Append(err, s.drv.SetLevel(channels[i], lv))
		s.levels[i] = lv
	}
	return err
}

// Snapshot records the output state for a later Restore.
func (s *Synthesizer) Snapshot() OutputState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return OutputState{Active: s.active.Load(), Waveform: s.current, Levels: s.levels}
}

// Restore re-applies a snapshot.
func (s *Synthesizer) Restore(st OutputState) error {
	if st.Active {
		_, err := s.Set(st.Waveform.On, st.Waveform.Off)
		return err
	}
	if err := s.Off(); err != nil {
		return err
	}
	return s.SetLevels(st.Levels[0], st.Levels[1])
}
