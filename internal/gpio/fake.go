package gpio

import (
	"errors"
	"sync"
)

// FakeRelay records every write for test assertions.
type FakeRelay struct {
	mu sync.Mutex

	// Writes contains every value passed to Set, in order.
	Writes []bool

	// On is the current relay state.
	On bool

	// Closed tracks if Close was called
	Closed bool

	// SetError, if set, will be returned by Set (the state is still recorded).
	SetError error
}

// NewFakeRelay creates a FakeRelay in the off state.
func NewFakeRelay() *FakeRelay {
	return &FakeRelay{}
}

// Set records the requested state.
func (f *FakeRelay) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Writes = append(f.Writes, on)
	f.On = on
	return f.SetError
}

// Close forces the relay off and marks it closed.
func (f *FakeRelay) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.On = false
	f.Closed = true
	return nil
}

// State returns the current relay state.
func (f *FakeRelay) State() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.On
}

// History returns a copy of all writes.
func (f *FakeRelay) History() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.Writes...)
}

// Sample is a single scripted thermocouple result.
type Sample struct {
	Temp float64
	Err  error
}

// FakeThermocouple is a test double that returns scripted readings.
type FakeThermocouple struct {
	mu sync.Mutex

	// Samples contains scripted readings to return.
	// Each call to ReadTemperature() consumes the next sample.
	Samples []Sample

	// index tracks current position in Samples
	index int

	// Reads counts calls to ReadTemperature.
	Reads int

	// Closed tracks if Close was called
	Closed bool

	// OnRead, if set, is called before each read with the read count (1-based).
	OnRead func(n int)
}

// NewFakeThermocouple creates a FakeThermocouple with the given samples.
func NewFakeThermocouple(samples ...Sample) *FakeThermocouple {
	return &FakeThermocouple{Samples: samples}
}

// ReadTemperature returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeThermocouple) ReadTemperature() (float64, error) {
	f.mu.Lock()
	f.Reads++
	n := f.Reads
	hook := f.OnRead
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Samples) == 0 {
		return 0, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return sample.Temp, sample.Err
}

// Close marks the thermocouple as closed.
func (f *FakeThermocouple) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Reset rewinds to the first sample.
func (f *FakeThermocouple) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = 0
	f.Reads = 0
	f.Closed = false
}
