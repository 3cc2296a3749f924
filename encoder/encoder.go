// Package encoder reads the linear encoder that closes the position loop.
package encoder

// Counter is a hardware or interrupt-driven position counter.
type Counter interface {
	Count() int64
	SetCount(n int64)
}

// Encoder exposes the counter to the motion controller. Count may be called
// from any context.
type Encoder struct {
	c    Counter
	zero int64
}

// New wraps c. zero is the count Reset writes.
func New(c Counter, zero int64) *Encoder {
	return &Encoder{c: c, zero: zero}
}

// Count returns the current position in encoder counts.
func (e *Encoder) Count() int64 {
	return e.c.Count()
}

// Reset sets the position to the zero reference.
func (e *Encoder) Reset() {
	e.c.SetCount(e.zero)
}
