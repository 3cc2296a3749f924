package command

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"cubefw/core"
	"cubefw/instrument"
	"cubefw/mode"
	"cubefw/pulse"
)

// Machine is the part of the instrument the command layer drives.
// *instrument.Instrument implements it.
type Machine interface {
	SetTargetPosition(value float64, unit instrument.Unit) error
	SetPositioningMode(p instrument.Positioning)
	RequestHoming() error
	EnableAxis()
	DisableAxis()

	SetPulse(on, off time.Duration) (pulse.Waveform, error)
	SetOutputOff() error
	SetOutputLevels(normal, inverted bool) error

	SetThresholds(low, high float64, sensitivity uint16) error
	EnterTouchMode(low, high float64) error
	EnterAutoMode(low, high float64, sensitivity uint16) error
	ExitAutoMode() error
	AcknowledgeCrossing()

	SetReportInterval(d time.Duration)
	Status() instrument.Status
}

var _ Machine = (*instrument.Instrument)(nil)

// handler executes one command and returns extra response lines.
type handler func(m Machine, cmd *Command) ([]string, error)

// Interpreter executes parsed commands against a Machine.
type Interpreter struct {
	m        Machine
	log      core.Logger
	handlers map[string]handler
}

// NewInterpreter creates an interpreter with the instrument command table.
func NewInterpreter(m Machine, log core.Logger) *Interpreter {
	if log == nil {
		log = core.NopLogger
	}
	return &Interpreter{
		m:   m,
		log: log,
		handlers: map[string]handler{
			"G0":   doMove,
			"G1":   doMove,
			"G28":  doHome,
			"G90":  positioning(instrument.Absolute),
			"G91":  positioning(instrument.Relative),
			"M1":   doReport,
			"M17":  doEnable,
			"M18":  doDisable,
			"M84":  doDisable,
			"M20":  doLevel(0),
			"M21":  doLevel(1),
			"M100": doPulse,
			"M101": doPulseOff,
			"M102": doTouch,
			"M103": doAuto,
			"M104": doExit,
			"M105": doAcknowledge,
			"M106": doThresholds,
		},
	}
}

// Execute executes a parsed command. A nil command is a no-op.
func (interp *Interpreter) Execute(cmd *Command) ([]string, error) {
	if cmd == nil {
		return nil, nil
	}
	h, ok := interp.handlers[cmd.Name()]
	if !ok {
		return nil, core.Errorf(core.InvalidParams, cmd.Name(), "unknown command")
	}
	interp.log.Debugf("-> %s", cmd.Name())
	out, err := h(interp.m, cmd)
	if err != nil {
		interp.log.Warnf("%s failed: %v", cmd.Name(), err)
	}
	return out, err
}

func badParams(cmd *Command, format string, args ...any) error {
	return core.Errorf(core.InvalidParams, cmd.Name(), format, args...)
}

// doMove sets the Z target in micrometres (G0/G1).
func doMove(m Machine, cmd *Command) ([]string, error) {
	for letter := range cmd.Words {
		if letter != 'Z' && letter != 'F' {
			return nil, badParams(cmd, "only the Z axis is supported")
		}
	}
	raw, ok := cmd.Word('Z')
	if !ok {
		return nil, badParams(cmd, "missing Z")
	}
	z, ok := parseFinite(raw)
	if !ok {
		return nil, badParams(cmd, "bad Z %q", raw)
	}
	return nil, m.SetTargetPosition(z, instrument.Micrometre)
}

func doHome(m Machine, _ *Command) ([]string, error) {
	return nil, m.RequestHoming()
}

func positioning(p instrument.Positioning) handler {
	return func(m Machine, _ *Command) ([]string, error) {
		m.SetPositioningMode(p)
		return nil, nil
	}
}

// doReport prints a report, or with an argument sets the report interval in
// milliseconds (0 stops periodic reports).
func doReport(m Machine, cmd *Command) ([]string, error) {
	if raw, ok := firstValue(cmd, 'S', 0); ok {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, badParams(cmd, "bad interval %q", raw)
		}
		m.SetReportInterval(time.Duration(v) * time.Millisecond)
		return nil, nil
	}
	return []string{m.Status().ReportLine()}, nil
}

func doEnable(m Machine, _ *Command) ([]string, error) {
	m.EnableAxis()
	return nil, nil
}

func doDisable(m Machine, _ *Command) ([]string, error) {
	m.DisableAxis()
	return nil, nil
}

// doLevel drives one output statically (M20 normal, M21 inverted).
func doLevel(ch int) handler {
	return func(m Machine, cmd *Command) ([]string, error) {
		raw, ok := firstValue(cmd, 'S', 0)
		if !ok {
			return nil, badParams(cmd, "missing level")
		}
		v, err := strconv.ParseUint(raw, 10, 8)
		if err != nil {
			return nil, badParams(cmd, "bad level %q", raw)
		}
		levels := m.Status().Levels
		levels[ch] = v != 0
		return nil, m.SetOutputLevels(levels[0], levels[1])
	}
}

// doPulse accepts "M100 S<on>:<off>" (":", "/" or "|" separated) or
// "M100 <on> <off>", both in nanoseconds.
func doPulse(m Machine, cmd *Command) ([]string, error) {
	var onRaw, offRaw string
	if s, ok := cmd.Word('S'); ok {
		parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '/' || r == '|' })
		if len(parts) != 2 {
			return nil, badParams(cmd, "can't split %q into on and off times", s)
		}
		onRaw, offRaw = parts[0], parts[1]
	} else if len(cmd.Args) == 2 {
		onRaw, offRaw = cmd.Args[0], cmd.Args[1]
	} else {
		return nil, badParams(cmd, "expected on and off times")
	}
	on, err1 := strconv.ParseUint(onRaw, 10, 32)
	off, err2 := strconv.ParseUint(offRaw, 10, 32)
	if err1 != nil || err2 != nil {
		return nil, badParams(cmd, "bad times %q %q", onRaw, offRaw)
	}
	w, err := m.SetPulse(time.Duration(on), time.Duration(off))
	if err != nil {
		return nil, err
	}
	if on == 0 || off == 0 {
		return nil, nil
	}
	return []string{w.String()}, nil
}

func doPulseOff(m Machine, _ *Command) ([]string, error) {
	return nil, m.SetOutputOff()
}

func doTouch(m Machine, cmd *Command) ([]string, error) {
	low, high, err := band(cmd)
	if err != nil {
		return nil, err
	}
	return nil, m.EnterTouchMode(low, high)
}

func doAuto(m Machine, cmd *Command) ([]string, error) {
	low, high, err := band(cmd)
	if err != nil {
		return nil, err
	}
	sens, err := sensitivity(cmd)
	if err != nil {
		return nil, err
	}
	return nil, m.EnterAutoMode(low, high, sens)
}

func doExit(m Machine, _ *Command) ([]string, error) {
	return nil, m.ExitAutoMode()
}

// doAcknowledge prints the latched crossing flags and clears them.
func doAcknowledge(m Machine, _ *Command) ([]string, error) {
	c := m.Status().Crossing
	m.AcknowledgeCrossing()
	return []string{CrossingLine(c)}, nil
}

// CrossingLine formats latched crossing flags the way M105 prints them.
func CrossingLine(c mode.Crossing) string {
	return fmt.Sprintf("<CROSSING> low:%d high:%d", b2i(c.Low), b2i(c.High))
}

func doThresholds(m Machine, cmd *Command) ([]string, error) {
	low, high, err := band(cmd)
	if err != nil {
		return nil, err
	}
	sens, err := sensitivity(cmd)
	if err != nil {
		return nil, err
	}
	return nil, m.SetThresholds(low, high, sens)
}

// firstValue returns the letter word if present, else positional argument
// idx.
func firstValue(cmd *Command, letter byte, idx int) (string, bool) {
	if w, ok := cmd.Word(letter); ok {
		return w, true
	}
	if idx < len(cmd.Args) {
		return cmd.Args[idx], true
	}
	return "", false
}

// band reads the low and high thresholds in volts from L/H or the first two
// positional arguments.
func band(cmd *Command) (low, high float64, err error) {
	lr, okL := firstValue(cmd, 'L', 0)
	hr, okH := firstValue(cmd, 'H', 1)
	if !okL || !okH {
		return 0, 0, badParams(cmd, "expected low and high thresholds")
	}
	var ok bool
	if low, ok = parseFinite(lr); !ok {
		return 0, 0, badParams(cmd, "bad low threshold %q", lr)
	}
	if high, ok = parseFinite(hr); !ok {
		return 0, 0, badParams(cmd, "bad high threshold %q", hr)
	}
	return low, high, nil
}

// parseFinite parses a decimal number, refusing NaN and infinities which
// ParseFloat otherwise accepts.
func parseFinite(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// sensitivity reads S or the third positional argument.
func sensitivity(cmd *Command) (uint16, error) {
	raw, ok := firstValue(cmd, 'S', 2)
	if !ok {
		return 0, badParams(cmd, "missing sensitivity")
	}
	v, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, badParams(cmd, "bad sensitivity %q", raw)
	}
	return uint16(v), nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
