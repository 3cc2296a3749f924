package instrument

import (
	"fmt"

	"cubefw/mode"
	"cubefw/motion"
	"cubefw/pulse"
)

// Status is a snapshot of the instrument.
type Status struct {
	CurrentPosition int64 // encoder counts
	TargetPosition  int64 // encoder counts
	CurrentMM       float64
	TargetMM        float64

	AxisEnabled    bool
	Homing         bool
	HomingPhase    motion.HomingPhase
	MoveInProgress bool
	Relative       bool

	GeneratorActive bool
	Waveform        pulse.Waveform
	Levels          [2]bool // static output levels while the generator is off

	Mode        mode.Kind
	Crossing    mode.Crossing
	LastSample  uint16
	LastVoltage float64
	Edges       uint32
}

// Status collects the current state from every component.
func (in *Instrument) Status() Status {
	mc := in.axis.Config()
	cur, tgt := in.axis.Current(), in.axis.Target()
	out := in.gen.Snapshot()
	raw := in.det.LastSample()
	return Status{
		CurrentPosition: cur,
		TargetPosition:  tgt,
		CurrentMM:       mc.CountsToMM(cur),
		TargetMM:        mc.CountsToMM(tgt),
		AxisEnabled:     in.axis.Enabled(),
		Homing:          in.axis.Homing(),
		HomingPhase:     in.axis.HomingPhase(),
		MoveInProgress:  in.axis.MoveInProgress(),
		Relative:        in.relative.Load(),
		GeneratorActive: out.Active,
		Waveform:        out.Waveform,
		Levels:          out.Levels,
		Mode:            in.modes.Mode(),
		Crossing:        in.modes.Crossing(),
		LastSample:      raw,
		LastVoltage:     in.cal.Volts(raw),
		Edges:           in.det.Edges(),
	}
}

// ReportLine formats the status the way the host tools parse it.
func (s Status) ReportLine() string {
	rel := 0
	if s.Relative {
		rel = 1
	}
	return fmt.Sprintf("<REPORT> adc:%.2f rel_pos:%d current_steps:%d target_steps:%d",
		s.LastVoltage, rel, s.CurrentPosition, s.TargetPosition)
}
