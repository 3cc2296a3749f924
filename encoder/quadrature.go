package encoder

import "go.uber.org/atomic"

// Full-quadrature transition table indexed by (prev<<2 | next), where a state
// is a | b<<1.
//
//	prev\next | 00 | 01 | 10 | 11
//	    00    |  0 | -1 | +1 |  x
//	    01    | +1 |  0 |  x | -1
//	    10    | -1 |  x |  0 | +1
//	    11    |  x | +1 | -1 |  0
//
// x marks a skipped state (both channels changed between reads).
var quadTable = [16]int8{
	0b0000: 0, 0b0001: -1, 0b0010: 1, 0b0011: 0,
	0b0100: 1, 0b0101: 0, 0b0110: 0, 0b0111: -1,
	0b1000: -1, 0b1001: 0, 0b1010: 0, 0b1011: 1,
	0b1100: 0, 0b1101: 1, 0b1110: -1, 0b1111: 0,
}

func invalidTransition(idx uint32) bool {
	return idx == 0b0011 || idx == 0b0110 || idx == 0b1001 || idx == 0b1100
}

// Quadrature decodes A/B channel edges into a signed count. Update is meant
// to run from the pin-change interrupt of either channel.
type Quadrature struct {
	state   atomic.Uint32
	count   atomic.Int64
	skipped atomic.Uint32
	invert  bool
}

// NewQuadrature starts decoding from the given channel levels.
func NewQuadrature(a, b, invert bool) *Quadrature {
	q := &Quadrature{invert: invert}
	q.state.Store(levels(a, b))
	return q
}

func levels(a, b bool) uint32 {
	var s uint32
	if a {
		s |= 1
	}
	if b {
		s |= 2
	}
	return s
}

// Update feeds the current channel levels.
func (q *Quadrature) Update(a, b bool) {
	next := levels(a, b)
	prev := q.state.Swap(next)
	if prev == next {
		return
	}
	idx := prev<<2 | next
	if invalidTransition(idx) {
		q.skipped.Inc()
		return
	}
	d := int64(quadTable[idx])
	if q.invert {
		d = -d
	}
	q.count.Add(d)
}

// Count returns the accumulated position.
func (q *Quadrature) Count() int64 { return q.count.Load() }

// SetCount overwrites the position.
func (q *Quadrature) SetCount(n int64) { q.count.Store(n) }

// Skipped returns how many transitions jumped two states and were dropped.
func (q *Quadrature) Skipped() uint32 { return q.skipped.Load() }
