package gpio

import (
	"math"
	"sync"
	"time"
)

// Simulation defaults for a small electric kiln.
const (
	SimAmbientC    = 25.0   // ambient temperature °C
	SimHeatCPerSec = 1.0    // element heating rate at ambient
	SimLossPerSec  = 0.0001 // fraction of the excess over ambient lost per second
	SimElementC    = 1400.0 // element temperature; heating power falls to zero here
)

// SimKiln is a first-order thermal model of a kiln with a single relay.
// It hands out a Relay and a Thermocouple that share state, for running the
// controller without hardware.
type SimKiln struct {
	mu      sync.Mutex
	now     func() time.Time
	temp    float64
	heating bool
	last    time.Time

	// FaultEvery, if > 0, makes every Nth read fail with ErrOpenCircuit.
	FaultEvery int
	reads      int
}

// NewSimKiln creates a kiln at ambient temperature.
func NewSimKiln(now func() time.Time) *SimKiln {
	if now == nil {
		now = time.Now
	}
	return &SimKiln{now: now, temp: SimAmbientC, last: now()}
}

// advance integrates the model up to the current time. Caller holds mu.
func (k *SimKiln) advance() {
	t := k.now()
	dt := t.Sub(k.last).Seconds()
	k.last = t
	// Integrate in steps of at most one second to keep the model stable.
	for dt > 0 {
		h := math.Min(dt, 1)
		dt -= h
		if k.heating {
			k.temp += SimHeatCPerSec * h * (SimElementC - k.temp) / (SimElementC - SimAmbientC)
		}
		k.temp -= SimLossPerSec * h * (k.temp - SimAmbientC)
	}
	if k.temp < SimAmbientC {
		k.temp = SimAmbientC
	}
}

// Temperature returns the current chamber temperature.
func (k *SimKiln) Temperature() float64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.advance()
	return k.temp
}

// Relay returns the simulated heater relay.
func (k *SimKiln) Relay() Relay { return simRelay{k} }

// Thermocouple returns the simulated thermocouple.
func (k *SimKiln) Thermocouple() Thermocouple { return simThermocouple{k} }

type simRelay struct{ k *SimKiln }

func (r simRelay) Set(on bool) error {
	r.k.mu.Lock()
	defer r.k.mu.Unlock()
	r.k.advance()
	r.k.heating = on
	return nil
}

func (r simRelay) Close() error { return r.Set(false) }

type simThermocouple struct{ k *SimKiln }

func (s simThermocouple) ReadTemperature() (float64, error) {
	k := s.k
	k.mu.Lock()
	defer k.mu.Unlock()
	k.advance()
	k.reads++
	if k.FaultEvery > 0 && k.reads%k.FaultEvery == 0 {
		return 0, ErrOpenCircuit
	}
	// Quantise like the real amplifier.
	return DecodeMAX31855(EncodeMAX31855(k.temp))
}

func (s simThermocouple) Close() error { return nil }
