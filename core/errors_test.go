package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsCode(t *testing.T) {
	err := fmt.Errorf("homing: %w", Errorf(EndstopStuck, "release", "min endstop still closed"))
	if !errors.Is(err, EndstopStuck) {
		t.Errorf("errors.Is(%v, EndstopStuck) = false", err)
	}
	if errors.Is(err, EndstopNotFound) {
		t.Errorf("errors.Is(%v, EndstopNotFound) = true", err)
	}
	if got := CodeOf(err); got != EndstopStuck {
		t.Errorf("CodeOf = %q, want %q", got, EndstopStuck)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, ""},
		{errors.New("plain"), ""},
		{ConfigRejected, ConfigRejected},
		{fmt.Errorf("wrapped: %w", InvalidModeTransition), InvalidModeTransition},
		{Wrap(HardwareConnection, "setup", errors.New("uart timeout")), HardwareConnection},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	e := &Error{C: AxisDisabled, Op: "home", Msg: "enable the axis first"}
	if got, want := e.Error(), "home: axis_disabled: enable the axis first"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorDetail(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{C: AxisDisabled, Op: "home", Msg: "enable the axis first"}, "home: enable the axis first"},
		{Wrap(HardwareConnection, "setup", errors.New("uart timeout")), "setup: uart timeout"},
		{&Error{C: InvalidParams, Msg: "missing Z"}, "missing Z"},
	}
	for _, tt := range tests {
		if got := tt.err.Detail(); got != tt.want {
			t.Errorf("Detail() = %q, want %q", got, tt.want)
		}
	}
}
