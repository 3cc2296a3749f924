package core

import "testing"

func TestTimerIsBefore(t *testing.T) {
	tests := []struct {
		a, b uint32
		want bool
	}{
		{1, 2, true},
		{2, 1, false},
		{5, 5, false},
		{0xfffffff0, 0x10, true}, // across wraparound
		{0x10, 0xfffffff0, false},
	}
	for _, tt := range tests {
		if got := TimerIsBefore(tt.a, tt.b); got != tt.want {
			t.Errorf("TimerIsBefore(%#x, %#x) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTimeSource(t *testing.T) {
	SetTime(100)
	if got := AdvanceTime(5); got != 105 || GetTime() != 105 {
		t.Fatalf("AdvanceTime = %d, GetTime = %d", got, GetTime())
	}

	hw := uint32(7000)
	SetTimeSource(func() uint32 { return hw })
	defer SetTimeSource(nil)
	if GetTime() != 7000 {
		t.Errorf("GetTime() = %d, want the hardware counter", GetTime())
	}
	hw += 10
	if GetTime() != 7010 {
		t.Errorf("GetTime() = %d after the counter moved", GetTime())
	}
}

func TestTimerConversions(t *testing.T) {
	if TimerFromUS(250) != 250 || TimerToUS(250) != 250 {
		t.Error("1 MHz timer should convert one to one")
	}
}
