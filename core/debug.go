package core

import (
	"fmt"
	"strings"
)

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// Logger is the logging surface the firmware packages use. A
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Debugf(template string, args ...any)
	Infof(template string, args ...any)
	Warnf(template string, args ...any)
	Errorf(template string, args ...any)
}

// Level orders log severities.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelTags = [...]string{"[DEBUG] ", "[INFO] ", "[WARN] ", "[ERROR] "}

// ParseLevel maps a configuration name to a Level. Unknown names select
// LevelInfo.
func ParseLevel(name string) Level {
	switch strings.ToLower(name) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// DebugLogger formats messages and hands them to a DebugWriter through a
// bounded channel, so callers in the control loops never block on USB.
type DebugLogger struct {
	min   Level
	write DebugWriter
	ch    chan string
}

// NewDebugLogger creates a logger writing to w. With async set, messages
// are queued and dropped when the queue is full.
func NewDebugLogger(w DebugWriter, min Level, async bool) *DebugLogger {
	l := &DebugLogger{min: min, write: w}
	if async {
		l.ch = make(chan string, 16)
		go l.drain()
	}
	return l
}

func (l *DebugLogger) drain() {
	for msg := range l.ch {
		l.write(msg)
	}
}

func (l *DebugLogger) emit(lv Level, template string, args []any) {
	if lv < l.min || l.write == nil {
		return
	}
	msg := levelTags[lv] + fmt.Sprintf(template, args...)
	if l.ch == nil {
		l.write(msg)
		return
	}
	select {
	case l.ch <- msg:
	default:
	}
}

func (l *DebugLogger) Debugf(template string, args ...any) { l.emit(LevelDebug, template, args) }
func (l *DebugLogger) Infof(template string, args ...any)  { l.emit(LevelInfo, template, args) }
func (l *DebugLogger) Warnf(template string, args ...any)  { l.emit(LevelWarn, template, args) }
func (l *DebugLogger) Errorf(template string, args ...any) { l.emit(LevelError, template, args) }

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// NopLogger discards everything.
var NopLogger Logger = nopLogger{}
