// Package mathx holds small generic numeric helpers shared by the control
// loops.
package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. lo must not exceed hi.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Abs returns |v|. The most negative integer stays negative.
func Abs[T constraints.Signed | constraints.Float](v T) T {
	if v < 0 {
		return -v
	}
	return v
}

// Sign returns -1, 0 or 1.
func Sign[T constraints.Signed | constraints.Float](v T) T {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}
