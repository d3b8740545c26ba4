// Package control implements the proportional-integral-derivative law that turns a
// (setpoint, measurement) pair into a relay decision.
// This package has NO external dependencies (no GPIO, clock or sleeps); the tick
// period is a configured constant so every step is deterministic.
package control

import (
	"fmt"
	"math"
	"time"
)

// OnThreshold converts the continuous output into the binary relay state.
const OnThreshold = 0.5

// Gains holds the PID coefficients and the output clamp.
type Gains struct {
	Kp     float64
	Ki     float64
	Kd     float64
	OutMin float64
	OutMax float64
}

// Validate checks the gains are finite and the output bounds lie within [0,1].
func (g Gains) Validate() error {
	for name, v := range map[string]float64{"kp": g.Kp, "ki": g.Ki, "kd": g.Kd} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("pid %s must be a finite non-negative number, got %v", name, v)
		}
	}
	if g.OutMin < 0 || g.OutMax > 1 || g.OutMin >= g.OutMax {
		return fmt.Errorf("pid output bounds must satisfy 0 <= min < max <= 1, got [%v, %v]", g.OutMin, g.OutMax)
	}
	return nil
}

// State is the controller memory for one firing session.
type State struct {
	Integral      float64
	PreviousError float64
	PreviousTick  time.Time // zero until the first step
}

// Result is the outcome of one step.
type Result struct {
	Error      float64
	Derivative float64
	Output     float64 // clamped to [OutMin, OutMax]
	On         bool
}

// Controller applies the PID law with anti-windup.
type Controller struct {
	gains Gains
	dt    time.Duration
	state State
}

// New creates a Controller for the given gains and fixed tick period.
func New(gains Gains, dt time.Duration) (*Controller, error) {
	if err := gains.Validate(); err != nil {
		return nil, err
	}
	if dt <= 0 {
		return nil, fmt.Errorf("pid tick period must be positive, got %v", dt)
	}
	return &Controller{gains: gains, dt: dt}, nil
}

// Step computes the output for this tick and updates the controller state.
// now is recorded as the previous tick time; it does not influence dt.
func (c *Controller) Step(setpoint, measurement float64, now time.Time) Result {
	g := c.gains
	dt := c.dt.Seconds()
	first := c.state.PreviousTick.IsZero()

	e := setpoint - measurement
	if math.IsNaN(e) || math.IsInf(e, 0) {
		return Result{Error: e, Output: g.OutMin}
	}

	var derivative float64
	if !first {
		derivative = (e - c.state.PreviousError) / dt
	}

	// Anti-windup: keep the new integral only if it does not push an already
	// saturated output further past the bound in the same direction.
	integral := c.state.Integral + e*dt
	raw := g.Kp*e + g.Ki*integral + g.Kd*derivative
	if (raw > g.OutMax && e > 0) || (raw < g.OutMin && e < 0) {
		integral = c.state.Integral
		raw = g.Kp*e + g.Ki*integral + g.Kd*derivative
	}
	c.state.Integral = integral

	out := clamp(raw, g.OutMin, g.OutMax)

	c.state.PreviousError = e
	c.state.PreviousTick = now

	return Result{
		Error:      e,
		Derivative: derivative,
		Output:     out,
		On:         out > OnThreshold,
	}
}

// State returns a copy of the controller memory.
func (c *Controller) State() State {
	return c.state
}

// Reset clears the controller memory.
func (c *Controller) Reset() {
	c.state = State{}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
