package command

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"cubefw/core"
)

func lines(b []byte) []string {
	s := strings.TrimSuffix(string(b), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestSessionResponses(t *testing.T) {
	m := &fakeMachine{}
	s := NewSession(m, zaptest.NewLogger(t).Sugar())

	if _, err := s.Write([]byte("G91\nG1 Z5\r\n; just a comment\n\nM999\nG1 X1\n")); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"ok",
		"ok",
		"ERROR: invalid_params: M999: unknown command",
		"ERROR: invalid_params: G1: only the Z axis is supported",
	}
	if diff := cmp.Diff(want, lines(s.GetOutput())); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if s.GetOutput() != nil {
		t.Error("GetOutput did not clear the buffer")
	}
}

func TestSessionParseError(t *testing.T) {
	s := NewSession(&fakeMachine{}, nil)
	s.ProcessLine("X10")
	got := lines(s.GetOutput())
	if len(got) != 1 || !strings.HasPrefix(got[0], "ERROR: invalid_params: ") {
		t.Errorf("output = %q", got)
	}
}

func TestSessionLineTooLong(t *testing.T) {
	m := &fakeMachine{}
	s := NewSession(m, nil)
	long := "G1 Z" + strings.Repeat("1", MaxLineLength)
	s.Write([]byte(long + "\nG28\n"))

	got := lines(s.GetOutput())
	if len(got) != 2 {
		t.Fatalf("output = %q", got)
	}
	if !strings.HasPrefix(got[0], "ERROR: invalid_params") || got[1] != "ok" {
		t.Errorf("output = %q", got)
	}
	if diff := cmp.Diff([]string{"home"}, m.calls); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
}

func TestSessionEmitInterleaves(t *testing.T) {
	s := NewSession(&fakeMachine{}, nil)
	s.Emit("<REPORT> adc:0.00 rel_pos:0 current_steps:0 target_steps:0")
	s.ProcessLine("M17")
	want := []string{"<REPORT> adc:0.00 rel_pos:0 current_steps:0 target_steps:0", "ok"}
	if diff := cmp.Diff(want, lines(s.GetOutput())); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}
}

func TestFormatError(t *testing.T) {
	err := core.Errorf(core.ConfigRejected, "set pulse", "frequency too high")
	want := "ERROR: config_rejected: set pulse: frequency too high"
	if got := FormatError(err); got != want {
		t.Errorf("FormatError = %q, want %q", got, want)
	}
	if got := FormatError(errors.New("boom")); got != "ERROR: error: boom" {
		t.Errorf("FormatError(plain) = %q", got)
	}
}
