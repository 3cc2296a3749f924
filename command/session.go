package command

import (
	"errors"
	"fmt"
	"sync"

	"cubefw/core"
)

// MaxLineLength is the longest command line accepted.
const MaxLineLength = 127

// Session turns a byte stream into command executions and buffers the
// responses for the transport. Emit may be called from other goroutines.
type Session struct {
	parser *Parser
	interp *Interpreter
	log    core.Logger

	inputBuffer []byte
	overflow    bool

	mu           sync.Mutex
	outputBuffer []byte
}

// NewSession creates a session executing against m.
func NewSession(m Machine, log core.Logger) *Session {
	if log == nil {
		log = core.NopLogger
	}
	return &Session{
		parser:       NewParser(),
		interp:       NewInterpreter(m, log),
		log:          log,
		inputBuffer:  make([]byte, 0, MaxLineLength+1),
		outputBuffer: make([]byte, 0, 256),
	}
}

// ProcessByte processes a single byte of input (for serial streaming)
func (s *Session) ProcessByte(b byte) {
	if b != '\n' && b != '\r' {
		if len(s.inputBuffer) >= MaxLineLength {
			s.overflow = true
			return
		}
		s.inputBuffer = append(s.inputBuffer, b)
		return
	}

	line := string(s.inputBuffer)
	s.inputBuffer = s.inputBuffer[:0]
	if s.overflow {
		s.overflow = false
		s.respond(nil, core.Errorf(core.InvalidParams, "read", "line longer than %d bytes", MaxLineLength))
		return
	}
	if len(line) > 0 {
		s.ProcessLine(line)
	}
}

// Write feeds p through ProcessByte so a Session can sit behind an
// io.Writer.
func (s *Session) Write(p []byte) (int, error) {
	for _, b := range p {
		s.ProcessByte(b)
	}
	return len(p), nil
}

// ProcessLine parses and executes one line and queues its response. Blank
// and comment-only lines produce no response.
func (s *Session) ProcessLine(line string) {
	cmd, err := s.parser.ParseLine(line)
	if err != nil {
		s.respond(nil, core.Wrap(core.InvalidParams, "parse", err))
		return
	}
	if cmd == nil {
		return
	}
	out, err := s.interp.Execute(cmd)
	s.respond(out, err)
}

func (s *Session) respond(lines []string, err error) {
	for _, l := range lines {
		s.Emit(l)
	}
	if err != nil {
		s.Emit(FormatError(err))
		return
	}
	s.Emit("ok")
}

// FormatError renders err as an ERROR response line.
func FormatError(err error) string {
	var ce *core.Error
	if errors.As(err, &ce) {
		return fmt.Sprintf("ERROR: %s: %s", ce.C, ce.Detail())
	}
	code := core.CodeOf(err)
	if code == "" {
		code = "error"
	}
	return fmt.Sprintf("ERROR: %s: %v", code, err)
}

// Emit queues one response line.
func (s *Session) Emit(line string) {
	s.mu.Lock()
	s.outputBuffer = append(s.outputBuffer, line...)
	s.outputBuffer = append(s.outputBuffer, '\n')
	s.mu.Unlock()
}

// GetOutput returns any pending output and clears the buffer
func (s *Session) GetOutput() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.outputBuffer) == 0 {
		return nil
	}

	output := make([]byte, len(s.outputBuffer))
	copy(output, s.outputBuffer)
	s.outputBuffer = s.outputBuffer[:0]
	return output
}
