package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy decides what Read does after a failed attempt.
type RetryPolicy struct {
	// SuppressAbove is the setpoint at or above which a fault is masked by the
	// last known good value instead of retried. Zero disables suppression.
	SuppressAbove float64

	// Delay between attempts; normally one tick period.
	Delay time.Duration

	// MaxAttempts bounds the attempts per Read. Zero retries until a valid reading.
	MaxAttempts int
}

// Suppresses reports whether a fault at this setpoint is masked.
func (p RetryPolicy) Suppresses(setpoint float64) bool {
	return p.SuppressAbove > 0 && setpoint >= p.SuppressAbove
}

// Config configures a Reader.
type Config struct {
	Policy RetryPolicy

	// Min and Max bound plausible readings; anything outside is a fault.
	Min float64
	Max float64

	// Default seeds LastKnownGood before the first valid reading.
	Default float64
}

// FaultHook is called after every failed, unsuppressed attempt and before the
// retry delay. The control loop uses it to force the relay off and raise alerts.
type FaultHook func(ctx context.Context, f *Fault, st FaultState)

// Reader classifies raw reads and applies the retry policy.
// Not safe for concurrent use; it is owned by the control loop.
type Reader struct {
	src     Source
	cfg     Config
	state   FaultState
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	onFault FaultHook
	logger  *slog.Logger
}

// Option customises a Reader.
type Option func(*Reader)

// WithClock sets the time source used to stamp faults.
func WithClock(now func() time.Time) Option {
	return func(r *Reader) { r.now = now }
}

// WithSleep replaces the retry delay, for tests and simulated time.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Reader) { r.sleep = sleep }
}

// WithFaultHook registers h to run after each failed attempt.
func WithFaultHook(h FaultHook) Option {
	return func(r *Reader) { r.onFault = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reader) { r.logger = l }
}

// NewReader creates a Reader over src.
func NewReader(src Source, cfg Config, opts ...Option) (*Reader, error) {
	if src == nil {
		return nil, errors.New("sensor: nil source")
	}
	if cfg.Policy.Delay <= 0 {
		return nil, fmt.Errorf("sensor: retry delay must be positive, got %v", cfg.Policy.Delay)
	}
	if cfg.Policy.MaxAttempts < 0 {
		return nil, fmt.Errorf("sensor: max attempts must not be negative, got %d", cfg.Policy.MaxAttempts)
	}
	if cfg.Min >= cfg.Max {
		return nil, fmt.Errorf("sensor: range min %v must be below max %v", cfg.Min, cfg.Max)
	}

	r := &Reader{
		src:    src,
		cfg:    cfg,
		state:  FaultState{LastKnownGood: cfg.Default},
		now:    time.Now,
		sleep:  Sleep,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	if cfg.Policy.MaxAttempts > 0 {
		// A bounded retry gives up on the sensor below the suppression
		// threshold. The relay stays off, but the firing no longer waits.
		r.logger.Warn("sensor_retry_bounded",
			"max_attempts", cfg.Policy.MaxAttempts,
			"detail", "bench use only; set fault.max_attempts to 0 for firings")
	}
	return r, nil
}

// Read returns a valid reading, retrying failed attempts per the policy.
// setpoint is re-evaluated after every failed attempt because it keeps moving
// while the read blocks. Below the suppression threshold with an unbounded
// policy, Read only returns a fault when ctx is cancelled.
func (r *Reader) Read(ctx context.Context, setpoint func() float64) Reading {
	policy := r.cfg.Policy
	for attempt := 1; ; attempt++ {
		v, err := r.src.ReadTemperature()
		if err = classify(v, err, r.cfg.Min, r.cfg.Max); err == nil {
			r.clear(v)
			return Reading{Temp: v, Attempts: attempt}
		}

		f := &Fault{Attempt: attempt, At: r.now(), Err: err}

		if sp := setpoint(); policy.Suppresses(sp) {
			r.logger.Warn("sensor_fault_suppressed",
				"error", err, "setpoint", sp, "threshold", policy.SuppressAbove,
				"last_known_good", r.state.LastKnownGood)
			r.state.Active = false
			r.state.FirstSeen = time.Time{}
			r.state.Attempts = 0
			r.state.LastErr = err
			r.state.Suppressed = true
			return Reading{Temp: r.state.LastKnownGood, Suppressed: true, Attempts: attempt}
		}

		if !r.state.Active {
			r.state.Active = true
			r.state.FirstSeen = f.At
			r.logger.Warn("sensor_fault_onset", "error", err)
		}
		r.state.Attempts++
		r.state.LastErr = err
		r.state.Suppressed = false

		if r.onFault != nil {
			r.onFault(ctx, f, r.state)
		}

		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts {
			r.logger.Error("sensor_retries_exhausted", "attempts", attempt, "error", err)
			return Reading{Fault: f, Attempts: attempt}
		}

		if serr := r.sleep(ctx, policy.Delay); serr != nil {
			f.Err = errors.Join(err, serr)
			return Reading{Fault: f, Attempts: attempt}
		}
	}
}

func (r *Reader) clear(v float64) {
	if r.state.Active {
		r.logger.Info("sensor_fault_cleared",
			"failed_attempts", r.state.Attempts, "since", r.state.FirstSeen, "temp", v)
	}
	r.state.Active = false
	r.state.FirstSeen = time.Time{}
	r.state.Attempts = 0
	r.state.Suppressed = false
	r.state.LastKnownGood = v
}

// State returns a copy of the fault state.
func (r *Reader) State() FaultState {
	return r.state
}

// MarkAlerted records when a fault notification was last sent.
func (r *Reader) MarkAlerted(t time.Time) {
	r.state.LastAlert = t
}

// Policy returns the retry policy.
func (r *Reader) Policy() RetryPolicy {
	return r.cfg.Policy
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
