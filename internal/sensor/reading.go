// Package sensor wraps a raw, possibly failing temperature source and turns it
// into readings the control loop can trust: every result is either a valid
// temperature or an explicit fault, never a silently coerced number.
package sensor

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Source is the raw temperature capability supplied by a hardware driver.
type Source interface {
	ReadTemperature() (float64, error)
}

// SourceFunc adapts a function to a Source.
type SourceFunc func() (float64, error)

// ReadTemperature calls f.
func (f SourceFunc) ReadTemperature() (float64, error) { return f() }

// Classification errors for values the driver returned without an error.
var (
	ErrInvalid    = errors.New("sensor: value is not a finite number")
	ErrOutOfRange = errors.New("sensor: value outside plausible range")
)

// Fault describes one failed read attempt.
type Fault struct {
	Attempt int       // 1-based attempt number within the current Read
	At      time.Time // when the attempt failed
	Err     error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("sensor fault (attempt %d): %v", f.Attempt, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Reading is the outcome of Reader.Read: a valid temperature, or a fault.
type Reading struct {
	Temp float64

	// Fault is non-nil when no usable temperature was obtained; Temp is then meaningless.
	Fault *Fault

	// Suppressed is true when a fault was masked by the high-setpoint policy and
	// Temp is the last known good value.
	Suppressed bool

	// Attempts is the number of raw reads this Read performed.
	Attempts int
}

// Valid reports whether Temp may be used by the controller.
func (r Reading) Valid() bool { return r.Fault == nil }

// Retried reports whether the read needed more than one attempt.
func (r Reading) Retried() bool { return r.Attempts > 1 }

// FaultState tracks fault onset and the fallback value.
// Active is true iff the most recent attempt failed and was not suppressed.
type FaultState struct {
	Active        bool
	FirstSeen     time.Time // zero when clear
	LastAlert     time.Time // last fault notification, maintained by the caller
	LastKnownGood float64
	Attempts      int   // failed attempts since onset
	LastErr       error // most recent fault cause, kept after clearance
	Suppressed    bool  // the last Read returned LastKnownGood under the high-setpoint policy
}

// Unit is the temperature scale readings are reported in.
type Unit string

const (
	Celsius    Unit = "C"
	Fahrenheit Unit = "F"
)

// Valid reports whether u is a known unit.
func (u Unit) Valid() bool { return u == Celsius || u == Fahrenheit }

// FromCelsius converts a Celsius value to u.
func (u Unit) FromCelsius(c float64) float64 {
	if u == Fahrenheit {
		return c*9/5 + 32
	}
	return c
}

// InUnit wraps a Celsius source so it reports in unit.
func InUnit(src Source, unit Unit) Source {
	if unit != Fahrenheit {
		return src
	}
	return SourceFunc(func() (float64, error) {
		c, err := src.ReadTemperature()
		if err != nil {
			return 0, err
		}
		return unit.FromCelsius(c), nil
	})
}

func classify(v float64, err error, min, max float64) error {
	if err != nil {
		return err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrInvalid
	}
	if v < min || v > max {
		return fmt.Errorf("%w: %.2f not in [%.0f, %.0f]", ErrOutOfRange, v, min, max)
	}
	return nil
}
