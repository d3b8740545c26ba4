package gpio

import (
	"errors"
	"testing"
)

func TestFakeThermocoupleRead(t *testing.T) {
	f := NewFakeThermocouple(
		Sample{Temp: 21.5},
		Sample{Err: ErrOpenCircuit},
		Sample{Temp: 22},
	)

	temp, err := f.ReadTemperature()
	if err != nil || temp != 21.5 {
		t.Errorf("sample 0: got (%v, %v), want (21.5, nil)", temp, err)
	}

	_, err = f.ReadTemperature()
	if !errors.Is(err, ErrOpenCircuit) {
		t.Errorf("sample 1: got %v, want open circuit", err)
	}

	temp, err = f.ReadTemperature()
	if err != nil || temp != 22 {
		t.Errorf("sample 2: got (%v, %v), want (22, nil)", temp, err)
	}

	// Fourth read should repeat last sample
	temp, err = f.ReadTemperature()
	if err != nil || temp != 22 {
		t.Errorf("sample 3 (repeat): got (%v, %v), want (22, nil)", temp, err)
	}

	if f.Reads != 4 {
		t.Errorf("Reads: got %d, want 4", f.Reads)
	}
}

func TestFakeThermocoupleNoSamples(t *testing.T) {
	f := NewFakeThermocouple()

	if _, err := f.ReadTemperature(); err == nil {
		t.Error("expected error with no samples")
	}
}

func TestFakeThermocoupleOnRead(t *testing.T) {
	f := NewFakeThermocouple(Sample{Temp: 1})
	var seen []int
	f.OnRead = func(n int) { seen = append(seen, n) }

	f.ReadTemperature()
	f.ReadTemperature()

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("OnRead calls: got %v, want [1 2]", seen)
	}
}

func TestFakeThermocoupleReset(t *testing.T) {
	f := NewFakeThermocouple(Sample{Temp: 1}, Sample{Temp: 2})
	f.ReadTemperature()
	f.Close()

	f.Reset()

	temp, _ := f.ReadTemperature()
	if temp != 1 {
		t.Errorf("after reset: got %v, want 1", temp)
	}
	if f.Closed {
		t.Error("should not be closed after Reset()")
	}
}

func TestFakeRelay(t *testing.T) {
	r := NewFakeRelay()

	if r.State() {
		t.Error("should be off initially")
	}

	r.Set(true)
	r.Set(true)
	r.Set(false)

	want := []bool{true, true, false}
	got := r.History()
	if len(got) != len(want) {
		t.Fatalf("writes: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if r.State() {
		t.Error("should be off after last write")
	}
}

func TestFakeRelayCloseForcesOff(t *testing.T) {
	r := NewFakeRelay()
	r.Set(true)

	if err := r.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if r.State() {
		t.Error("relay should be off after Close()")
	}
	if !r.Closed {
		t.Error("should be closed after Close()")
	}
}

func TestFakeRelaySetError(t *testing.T) {
	r := NewFakeRelay()
	r.SetError = errors.New("simulated error")

	if err := r.Set(true); err == nil {
		t.Error("expected error to be returned")
	}
	if !r.State() {
		t.Error("state should still be recorded")
	}
}
