package core

// Sampler performs one conversion of the analog input and returns the raw
// code. It is called from the edge ISR, so it must be short and must not
// allocate.
type Sampler interface {
	Sample() uint16
}

// SamplerFunc adapts a function to a Sampler.
type SamplerFunc func() uint16

func (f SamplerFunc) Sample() uint16 { return f() }
