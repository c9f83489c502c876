package activity

import (
	"errors"
	"testing"
)

func TestBoxBreathingCycle(t *testing.T) {
	p := BoxBreathing()
	if len(p.Phases) != 4 || p.CycleMS() != 16000 {
		t.Fatalf("unexpected pattern %+v", p)
	}
}

func TestTrend(t *testing.T) {
	for v, want := range map[int]string{10: "down", 39: "down", 40: "steady", 60: "steady", 61: "up"} {
		if got := Trend(v); got != want {
			t.Errorf("Trend(%d) = %s, want %s", v, got, want)
		}
	}
}

func TestCheckInValidate(t *testing.T) {
	if err := (CheckIn{Values: map[string]int{"mood": 70}}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (CheckIn{Values: map[string]int{"joy": 70}}).Validate(); !errors.Is(err, ErrInvalidCheckIn) {
		t.Fatalf("expected unknown scale error, got %v", err)
	}
	if err := (CheckIn{Values: map[string]int{"mood": 101}}).Validate(); !errors.Is(err, ErrInvalidCheckIn) {
		t.Fatalf("expected range error, got %v", err)
	}
}
