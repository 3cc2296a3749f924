// Package client talks to the instrument's line protocol from the host.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ErrClosed is returned once the client or its port has been closed.
var ErrClosed = errors.New("client closed")

// Response is everything the instrument printed for one command before its
// terminating "ok" or "ERROR" line.
type Response struct {
	Command string
	Lines   []string
}

// ResponseError is an ERROR line from the instrument.
type ResponseError struct {
	Command string
	Code    string
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Command, e.Code, e.Message)
}

// Option customizes New.
type Option func(*Client)

// WithLogger sets the logger for firmware log lines and traffic.
func WithLogger(l *zap.SugaredLogger) Option { return func(c *Client) { c.log = l } }

// WithTimeoutEOF treats io.EOF from the port as a read timeout rather than
// the end of the stream, which is how serial ports report an idle line.
func WithTimeoutEOF() Option { return func(c *Client) { c.timeoutEOF = true } }

// Client sends one command at a time and collects its response. Reports
// printed by the instrument on its own are delivered on Reports.
type Client struct {
	rw         io.ReadWriteCloser
	log        *zap.SugaredLogger
	timeoutEOF bool

	mu      sync.Mutex // one command in flight
	lines   chan string
	reports chan Report
	done    chan struct{}
	stop    chan struct{}
	closed  atomic.Bool
	readErr atomic.Error
}

// New starts reading from rw.
func New(rw io.ReadWriteCloser, opts ...Option) *Client {
	c := &Client{
		rw:      rw,
		log:     zap.NewNop().Sugar(),
		lines:   make(chan string, 16),
		reports: make(chan Report, 16),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

// Reports delivers unsolicited reports. Reports are dropped when nobody
// reads them.
func (c *Client) Reports() <-chan Report { return c.reports }

func (c *Client) readLoop() {
	defer close(c.done)
	buf := make([]byte, 256)
	var line []byte
	for {
		n, err := c.rw.Read(buf)
		for _, b := range buf[:n] {
			if b != '\n' {
				line = append(line, b)
				continue
			}
			c.dispatch(strings.TrimRight(string(line), "\r"))
			line = line[:0]
		}
		if err == nil {
			continue
		}
		if c.closed.Load() {
			return
		}
		if errors.Is(err, io.EOF) && c.timeoutEOF {
			continue
		}
		c.readErr.Store(err)
		return
	}
}

func (c *Client) dispatch(line string) {
	switch {
	case line == "":
	case isLogLine(line):
		c.log.Debugw("firmware", "line", line)
	case strings.HasPrefix(line, reportPrefix):
		r, err := ParseReport(line)
		if err != nil {
			c.log.Warnw("bad report", "line", line, "error", err)
			return
		}
		select {
		case c.reports <- r:
		default:
		}
	default:
		select {
		case c.lines <- line:
		case <-c.stop:
		}
	}
}

// isLogLine matches the firmware logger's level tags.
func isLogLine(line string) bool {
	for _, tag := range []string{"[DEBUG] ", "[INFO] ", "[WARN] ", "[ERROR] "} {
		if strings.HasPrefix(line, tag) {
			return true
		}
	}
	return false
}

// Send writes one command line and waits for its terminating line.
func (c *Client) Send(ctx context.Context, command string) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp := Response{Command: command}
	if c.closed.Load() {
		return resp, ErrClosed
	}
	c.log.Debugw("send", "command", command)
	if _, err := io.WriteString(c.rw, command+"\n"); err != nil {
		return resp, fmt.Errorf("write %q: %w", command, err)
	}
	for {
		select {
		case <-ctx.Done():
			return resp, ctx.Err()
		case <-c.done:
			if err := c.readErr.Load(); err != nil {
				return resp, fmt.Errorf("read: %w", err)
			}
			return resp, ErrClosed
		case line := <-c.lines:
			switch {
			case line == "ok":
				return resp, nil
			case strings.HasPrefix(line, "ERROR:"):
				return resp, parseError(command, line)
			default:
				resp.Lines = append(resp.Lines, line)
			}
		}
	}
}

func parseError(command, line string) error {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
	code, msg, ok := strings.Cut(rest, ": ")
	if !ok {
		return &ResponseError{Command: command, Code: "error", Message: rest}
	}
	return &ResponseError{Command: command, Code: code, Message: msg}
}

// Close closes the port and waits for the reader to stop.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.stop)
	err := c.rw.Close()
	<-c.done
	return err
}
