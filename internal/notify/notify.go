// Package notify sends rate-limited alerts about a firing.
//
// Two independent cadences share one Transport: a periodic status message
// driven by elapsed session time, and a fault channel that alerts on onset,
// repeats while the fault persists and sends a single recovery message.
// Delivery is fire-and-forget: failures are logged and never retried.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sweeney/kiln-controller/internal/sensor"
)

// Transport delivers a text message to an external sink.
type Transport interface {
	Send(ctx context.Context, text string) error
}

// TransportError wraps a delivery failure.
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("notify via %s: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config holds the two cadences.
type Config struct {
	// Name prefixes every message, e.g. the kiln's name.
	Name string

	// StatusInterval is the minimum elapsed session time between status
	// messages. Zero disables the status channel.
	StatusInterval time.Duration

	// FaultInterval is the minimum time between "still faulted" repeats.
	FaultInterval time.Duration

	// Unit labels temperatures in messages.
	Unit sensor.Unit
}

// Status is the per-tick view of the firing used for status messages.
type Status struct {
	SessionID string
	Profile   string
	Elapsed   time.Duration
	Setpoint  float64
	Measured  float64
	Output    float64
	Heating   bool
}

// Sent reports which messages a call emitted.
type Sent struct {
	Status   bool
	Onset    bool
	Repeat   bool
	Recovery bool
}

// Fault reports whether any fault-channel message was sent.
func (s Sent) Fault() bool { return s.Onset || s.Repeat || s.Recovery }

// Notifier decides when to send. It is owned by the control loop.
type Notifier struct {
	transport Transport
	cfg       Config
	logger    *slog.Logger

	lastStatus  time.Duration
	faultActive bool
	lastFault   time.Time
}

// New creates a Notifier. A nil logger uses slog.Default().
func New(t Transport, cfg Config, logger *slog.Logger) (*Notifier, error) {
	if t == nil {
		return nil, fmt.Errorf("notify: nil transport")
	}
	if cfg.FaultInterval <= 0 {
		return nil, fmt.Errorf("notify: fault interval must be positive, got %v", cfg.FaultInterval)
	}
	if cfg.StatusInterval < 0 {
		return nil, fmt.Errorf("notify: status interval must not be negative, got %v", cfg.StatusInterval)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Unit == "" {
		cfg.Unit = sensor.Celsius
	}
	return &Notifier{transport: t, cfg: cfg, logger: logger}, nil
}

// MaybeNotify runs both cadences for one tick. A status and a fault message may
// both be sent on the same call.
func (n *Notifier) MaybeNotify(ctx context.Context, now time.Time, st Status, fault sensor.FaultState) Sent {
	sent := n.ObserveFault(ctx, now, fault)
	if n.cfg.StatusInterval > 0 && st.Elapsed-n.lastStatus >= n.cfg.StatusInterval {
		n.lastStatus = st.Elapsed
		n.send(ctx, "status", n.statusText(st))
		sent.Status = true
	}
	return sent
}

// ObserveFault runs the fault cadence only. The control loop also calls it from
// inside a blocking retry so alerts keep flowing while the tick is stalled.
func (n *Notifier) ObserveFault(ctx context.Context, now time.Time, fault sensor.FaultState) Sent {
	var sent Sent
	switch {
	case fault.Active && !n.faultActive:
		n.faultActive = true
		n.lastFault = now
		n.send(ctx, "fault_onset", n.prefix()+fmt.Sprintf(
			"sensor fault: %v. Heating is off until the thermocouple reads again.", fault.LastErr))
		sent.Onset = true

	case fault.Active && now.Sub(n.lastFault) >= n.cfg.FaultInterval:
		n.lastFault = now
		n.send(ctx, "fault_repeat", n.prefix()+fmt.Sprintf(
			"sensor still faulted after %s (%d failed reads): %v. Heating is off, still retrying.",
			now.Sub(fault.FirstSeen).Truncate(time.Second), fault.Attempts, fault.LastErr))
		sent.Repeat = true

	case !fault.Active && n.faultActive:
		n.faultActive = false
		n.lastFault = time.Time{}
		text := fmt.Sprintf("sensor recovered, reading %.1f°%s.", fault.LastKnownGood, n.cfg.Unit)
		if fault.Suppressed {
			text = fmt.Sprintf("sensor fault masked near peak: holding last good reading %.1f°%s.",
				fault.LastKnownGood, n.cfg.Unit)
		}
		n.send(ctx, "fault_recovery", n.prefix()+text)
		sent.Recovery = true
	}
	return sent
}

// Started announces a new firing.
func (n *Notifier) Started(ctx context.Context, st Status, peak float64, duration time.Duration) {
	n.lastStatus = 0
	n.faultActive = false
	n.lastFault = time.Time{}
	n.send(ctx, "started", n.prefix()+fmt.Sprintf(
		"firing %q started (session %s): peak %.0f°%s, schedule %s.",
		st.Profile, st.SessionID, peak, n.cfg.Unit, duration))
}

// Stopped announces the end of a firing. reason is empty for a normal stop.
func (n *Notifier) Stopped(ctx context.Context, st Status, reason string) {
	text := fmt.Sprintf("firing %q stopped after %s at %.1f°%s, heating off.",
		st.Profile, st.Elapsed.Truncate(time.Second), st.Measured, n.cfg.Unit)
	if reason != "" {
		text = fmt.Sprintf("firing %q aborted after %s: %s. Heating off.",
			st.Profile, st.Elapsed.Truncate(time.Second), reason)
	}
	n.send(ctx, "stopped", n.prefix()+text)
}

func (n *Notifier) statusText(st Status) string {
	heat := "off"
	if st.Heating {
		heat = "on"
	}
	return n.prefix() + fmt.Sprintf("%s: %.1f°%s, target %.1f°%s, heating %s (output %.0f%%), elapsed %s.",
		st.Profile, st.Measured, n.cfg.Unit, st.Setpoint, n.cfg.Unit, heat, st.Output*100,
		st.Elapsed.Truncate(time.Second))
}

func (n *Notifier) prefix() string {
	if n.cfg.Name == "" {
		return ""
	}
	return "[" + n.cfg.Name + "] "
}

func (n *Notifier) send(ctx context.Context, kind, text string) {
	if err := n.transport.Send(ctx, text); err != nil {
		n.logger.Warn("notification_failed", "kind", kind, "error", err)
		return
	}
	n.logger.Debug("notification_sent", "kind", kind)
}
