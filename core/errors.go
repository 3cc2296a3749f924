package core

import (
	"errors"
	"fmt"
)

// Code classifies a failure the instrument reports to its caller.
type Code string

const (
	ConfigRejected        Code = "config_rejected"
	EndstopStuck          Code = "endstop_stuck"
	EndstopNotFound       Code = "endstop_not_found"
	InvalidModeTransition Code = "invalid_mode_transition"
	HardwareConnection    Code = "hardware_connection"
	AxisDisabled          Code = "axis_disabled"
	GeneratorActive       Code = "generator_active"
	InvalidParams         Code = "invalid_params"
)

// Error makes a bare Code usable as a sentinel with errors.Is.
func (c Code) Error() string { return string(c) }

// Error carries a Code plus the operation that failed.
type Error struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *Error) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Detail is the error text without the code.
func (e *Error) Detail() string {
	s := e.Op
	for _, part := range []string{e.Msg, errText(e.Err)} {
		if part == "" {
			continue
		}
		if s != "" {
			s += ": "
		}
		s += part
	}
	return s
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Code() Code { return e.C }

// Is matches a bare Code so callers can write errors.Is(err, core.EndstopStuck).
func (e *Error) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Errorf builds an *Error with a formatted message.
func Errorf(c Code, op, format string, args ...any) *Error {
	return &Error{C: c, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and operation to an underlying error.
func Wrap(c Code, op string, err error) *Error {
	return &Error{C: c, Op: op, Err: err}
}

type coder interface{ Code() Code }

// CodeOf returns the first Code found in err's chain, or "" when there is none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	var bare Code
	if errors.As(err, &bare) {
		return bare
	}
	return ""
}
