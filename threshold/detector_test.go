package threshold

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cubefw/core"
)

func feed(d *Detector, samples ...uint16) {
	for _, s := range samples {
		d.Classify(s)
	}
}

func newDetector(t *testing.T, low, high, sens uint16) *Detector {
	t.Helper()
	d := New(core.SamplerFunc(func() uint16 { return 0 }))
	if err := d.Configure(low, high, sens); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return d
}

func TestLatchRequiresSensitivitySamples(t *testing.T) {
	tests := []struct {
		name     string
		samples  []uint16
		low      bool
		high     bool
		lowCount uint16
	}{
		{"two below", []uint16{10, 10}, false, false, 2},
		{"three below", []uint16{10, 10, 10}, true, false, 3},
		{"interrupted by in-band", []uint16{10, 10, 500, 10}, false, false, 1},
		{"two runs of two", []uint16{10, 10, 500, 10, 10}, false, false, 2},
		{"three above", []uint16{900, 900, 900}, false, true, 0},
		{"capped at sensitivity", []uint16{10, 10, 10, 10, 10}, true, false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDetector(t, 100, 800, 3)
			feed(d, tt.samples...)
			snap := d.Snapshot()
			if snap.LowFlag != tt.low || snap.HighFlag != tt.high {
				t.Errorf("flags = (%v, %v), want (%v, %v)", snap.LowFlag, snap.HighFlag, tt.low, tt.high)
			}
			if snap.LowCount != tt.lowCount {
				t.Errorf("LowCount = %d, want %d", snap.LowCount, tt.lowCount)
			}
		})
	}
}

func TestInBandResetsProgress(t *testing.T) {
	d := newDetector(t, 100, 800, 3)
	feed(d, 10, 10, 500, 10, 10)
	feed(d, 900, 900, 500, 900, 900)
	snap := d.Snapshot()
	if snap.LowFlag || snap.HighFlag {
		t.Errorf("flags = (%v, %v), want neither latched", snap.LowFlag, snap.HighFlag)
	}
	feed(d, 500)
	snap = d.Snapshot()
	if snap.LowCount != 0 || snap.HighCount != 0 {
		t.Errorf("counts = (%d, %d), want (0, 0)", snap.LowCount, snap.HighCount)
	}
}

func TestFlagStaysLatched(t *testing.T) {
	d := newDetector(t, 100, 800, 2)
	feed(d, 10, 10)
	feed(d, 500, 500, 500)
	if low, _ := d.Flags(); !low {
		t.Error("low flag cleared by in-band samples")
	}
}

func TestRequestReset(t *testing.T) {
	d := newDetector(t, 100, 800, 2)
	feed(d, 10, 10, 900)
	d.RequestReset()

	want := Snapshot{Sample: 900, Low: 100, High: 800, Sensitivity: 2}
	if diff := cmp.Diff(want, d.Snapshot()); diff != "" {
		t.Errorf("snapshot after reset (-want +got):\n%s", diff)
	}

	feed(d, 900)
	snap := d.Snapshot()
	if snap.HighCount != 1 || snap.HighFlag {
		t.Errorf("after reset one high sample: count=%d flag=%v, want 1 false", snap.HighCount, snap.HighFlag)
	}
}

func TestConfigureValidates(t *testing.T) {
	d := New(core.SamplerFunc(func() uint16 { return 0 }))
	tests := []struct {
		low, high, sens uint16
		ok              bool
	}{
		{100, 800, 3, true},
		{800, 100, 3, false},
		{100, 800, 0, false},
		{100, 800, MaxSensitivity + 1, false},
		{100, 100, MaxSensitivity, true},
	}
	for _, tt := range tests {
		err := d.Configure(tt.low, tt.high, tt.sens)
		if tt.ok && err != nil {
			t.Errorf("Configure(%d, %d, %d): %v", tt.low, tt.high, tt.sens, err)
		}
		if !tt.ok && !errors.Is(err, core.ConfigRejected) {
			t.Errorf("Configure(%d, %d, %d) = %v, want ConfigRejected", tt.low, tt.high, tt.sens, err)
		}
	}
}

func TestOnEdgeSamples(t *testing.T) {
	var next uint16 = 10
	d := New(core.SamplerFunc(func() uint16 { return next }))
	if err := d.Configure(100, 800, 1); err != nil {
		t.Fatal(err)
	}
	d.OnEdge()
	if low, _ := d.Flags(); !low {
		t.Error("low flag not latched with sensitivity 1")
	}
	if d.Edges() != 1 || d.LastSample() != 10 {
		t.Errorf("Edges=%d LastSample=%d, want 1 10", d.Edges(), d.LastSample())
	}
}

func TestResetRacesWithISR(t *testing.T) {
	d := newDetector(t, 100, 800, 4)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				d.Classify(10)
			}
		}
	}()
	for i := 0; i < 1000; i++ {
		d.RequestReset()
		snap := d.Snapshot()
		if snap.LowCount > 4 || snap.HighCount != 0 {
			t.Errorf("counts out of range: %+v", snap)
			break
		}
	}
	close(stop)
	wg.Wait()
}
