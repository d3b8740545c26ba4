// Package firing runs one kiln firing: the fixed-period control loop that ties
// the schedule, sensor reader, PID controller, relay, notifier and audit log
// together, and the Manager that starts and stops it on request.
//
// Within a tick the order is fixed: setpoint, sensor read (which may block
// retrying below the suppression threshold), controller step, relay write,
// notifications, audit append. The next tick never starts before the audit
// row is on disk.
package firing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/kiln-controller/internal/auditlog"
	"github.com/sweeney/kiln-controller/internal/control"
	"github.com/sweeney/kiln-controller/internal/gpio"
	"github.com/sweeney/kiln-controller/internal/mqtt"
	"github.com/sweeney/kiln-controller/internal/notify"
	"github.com/sweeney/kiln-controller/internal/schedule"
	"github.com/sweeney/kiln-controller/internal/sensor"
	"github.com/sweeney/kiln-controller/internal/status"
)

var (
	// ErrAlreadyRunning rejects a start while a firing is in progress.
	ErrAlreadyRunning = errors.New("firing already running")

	// ErrNotIdle rejects running a session twice.
	ErrNotIdle = errors.New("session already started")
)

// AuditLog is the durable per-session record.
type AuditLog interface {
	Append(r auditlog.Record) error
	Close() error
}

// OpenAuditFunc opens the audit log for a new session.
type OpenAuditFunc func(sessionID string, start time.Time) (AuditLog, error)

// AuditDir returns an OpenAuditFunc that creates CSV files in dir.
func AuditDir(dir string) OpenAuditFunc {
	return func(id string, start time.Time) (AuditLog, error) {
		return auditlog.Create(dir, id, start)
	}
}

// Telemetry receives every completed tick and session lifecycle events.
// mqtt.Publisher satisfies it.
type Telemetry interface {
	PublishTick(tick status.Tick) error
	PublishSystem(event mqtt.SystemEvent) error
}

// Config holds the control parameters shared by every session.
type Config struct {
	// Period is the fixed tick period, also used as the PID dt.
	Period time.Duration
	Gains  control.Gains
	Sensor sensor.Config
}

func (c Config) withDefaults() (Config, error) {
	if c.Period <= 0 {
		return c, fmt.Errorf("tick period must be positive, got %v", c.Period)
	}
	if c.Sensor.Policy.Delay == 0 {
		c.Sensor.Policy.Delay = c.Period
	}
	return c, nil
}

// Deps are the collaborators a session drives. Source, Relay, Notifier,
// OpenAudit and Tracker are required.
type Deps struct {
	Source    sensor.Source
	Relay     gpio.Relay
	Notifier  *notify.Notifier
	OpenAudit OpenAuditFunc
	Tracker   *status.Tracker
	Telemetry Telemetry
	Logger    *slog.Logger

	// Now and Sleep default to the wall clock; tests inject simulated time.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (d Deps) withDefaults() (Deps, error) {
	switch {
	case d.Source == nil:
		return d, errors.New("nil sensor source")
	case d.Relay == nil:
		return d, errors.New("nil relay")
	case d.Notifier == nil:
		return d, errors.New("nil notifier")
	case d.OpenAudit == nil:
		return d, errors.New("nil audit opener")
	case d.Tracker == nil:
		return d, errors.New("nil status tracker")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sleep == nil {
		d.Sleep = sensor.Sleep
	}
	return d, nil
}

// Session is one firing. Its lifecycle is Idle, Running, Stopped; a session is
// never restarted. All state except the stop request is owned by Run.
type Session struct {
	id      string
	profile string
	sched   *schedule.Schedule
	cfg     Config
	deps    Deps
	logger  *slog.Logger

	reader  *sensor.Reader
	pid     *control.Controller
	audit   AuditLog
	start   time.Time
	began   bool
	relayOn bool
	last    status.Tick

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu     sync.Mutex
	state  status.State
	cancel context.CancelFunc
	err    error
}

// NewSession prepares an Idle session for the given schedule.
func NewSession(profile string, sched *schedule.Schedule, cfg Config, deps Deps) (*Session, error) {
	if sched == nil {
		return nil, &schedule.ConfigurationError{Reason: "no schedule"}
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	deps, err = deps.withDefaults()
	if err != nil {
		return nil, err
	}
	pid, err := control.New(cfg.Gains, cfg.Period)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:      uuid.NewString(),
		profile: profile,
		sched:   sched,
		cfg:     cfg,
		deps:    deps,
		pid:     pid,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		state:   status.StateIdle,
	}
	s.logger = deps.Logger.With("session", s.id, "profile", profile)

	s.reader, err = sensor.NewReader(deps.Source, cfg.Sensor,
		sensor.WithClock(deps.Now),
		sensor.WithSleep(deps.Sleep),
		sensor.WithFaultHook(s.onFault),
		sensor.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the session identifier used in the audit file name and telemetry.
func (s *Session) ID() string { return s.id }

// Profile returns the profile name.
func (s *Session) Profile() string { return s.profile }

// State returns the lifecycle state.
func (s *Session) State() status.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session has fully stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop asks the session to stop at the next tick boundary. A sensor retry in
// progress is abandoned; the relay is already off in that case. It reports
// whether this call requested the stop; later calls are no-ops.
func (s *Session) Stop() bool {
	requested := false
	s.stopOnce.Do(func() {
		requested = true
		close(s.stopCh)
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
	return requested
}

func (s *Session) stopRequested() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// Run drives the session until Stop, ctx cancellation or a fatal error. The
// first tick runs immediately; later ticks wait for tick. Run returns nil on a
// requested stop and the fatal error otherwise. The relay is off when Run returns.
func (s *Session) Run(ctx context.Context, tick <-chan time.Time) error {
	s.mu.Lock()
	if s.state != status.StateIdle {
		s.mu.Unlock()
		return ErrNotIdle
	}
	s.state = status.StateRunning
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	var err error
	if !s.stopRequested() {
		if err = s.begin(); err == nil {
			err = s.loop(ctx, tick)
		}
	}
	s.finish(err)
	return err
}

func (s *Session) begin() error {
	s.start = s.deps.Now()
	s.began = true
	s.setRelay(false)
	s.last = status.Tick{SessionID: s.id, Profile: s.profile, Time: s.start, Measured: math.NaN()}
	s.deps.Tracker.Begin(s.id, s.profile, s.start)

	audit, err := s.deps.OpenAudit(s.id, s.start)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	s.audit = audit

	s.logger.Info("session_started",
		"points", len(s.sched.Points()), "peak", s.sched.Peak(), "duration", s.sched.Duration(),
		"period", s.cfg.Period, "suppress_above", s.cfg.Sensor.Policy.SuppressAbove)
	s.deps.Notifier.Started(context.Background(), s.notifyStatus(), s.sched.Peak(), s.sched.Duration())
	s.publishSystem("SESSION_START", "")
	return nil
}

func (s *Session) loop(ctx context.Context, tick <-chan time.Time) error {
	for {
		if s.stopRequested() || ctx.Err() != nil {
			return nil
		}
		if err := s.step(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			return nil
		case <-tick:
		}
	}
}

// step runs one tick.
func (s *Session) step(ctx context.Context) error {
	now := s.deps.Now()
	elapsed := now.Sub(s.start)
	setpoint := s.sched.SetpointAt(elapsed)

	reading := s.reader.Read(ctx, func() float64 {
		return s.sched.SetpointAt(s.deps.Now().Sub(s.start))
	})
	if reading.Retried() {
		// The read blocked for one or more periods; act on the current setpoint.
		now = s.deps.Now()
		elapsed = now.Sub(s.start)
		setpoint = s.sched.SetpointAt(elapsed)
	}

	tick := status.Tick{
		SessionID: s.id,
		Profile:   s.profile,
		Time:      now,
		Elapsed:   elapsed,
		Setpoint:  setpoint,
		Measured:  math.NaN(),
	}

	if reading.Valid() {
		res := s.pid.Step(setpoint, reading.Temp, now)
		s.setRelay(res.On)
		tick.Measured = reading.Temp
		tick.Output = res.Output
		tick.Heating = res.On
	} else {
		// Retries exhausted or abandoned: no controller step, heating stays off.
		if s.relayOn {
			s.setRelay(false)
		}
		s.logger.Warn("tick_without_reading", "error", reading.Fault)
	}

	fault := s.reader.State()
	tick.Fault = faultInfo(fault)

	st := notifyStatusFor(tick)
	sent := s.deps.Notifier.MaybeNotify(context.WithoutCancel(ctx), now, st, fault)
	if sent.Onset || sent.Repeat {
		s.reader.MarkAlerted(now)
	}

	if err := s.audit.Append(auditlog.Record{Time: now, Target: setpoint, Measured: tick.Measured}); err != nil {
		s.setRelay(false)
		return err
	}

	s.last = tick
	s.deps.Tracker.Update(tick)
	if s.deps.Telemetry != nil {
		if err := s.deps.Telemetry.PublishTick(tick); err != nil {
			s.logger.Debug("tick_publish_failed", "error", err)
		}
	}
	return nil
}

// onFault runs after every failed, unsuppressed read attempt, before the retry delay.
func (s *Session) onFault(ctx context.Context, f *sensor.Fault, st sensor.FaultState) {
	if s.relayOn {
		s.setRelay(false)
	}
	s.logger.Warn("sensor_fault", "attempt", f.Attempt, "error", f.Err, "failed_reads", st.Attempts)

	fi := faultInfo(st)
	s.deps.Tracker.SetFault(fi)
	s.last.Fault = fi
	s.last.Heating = false
	s.last.Output = 0

	sent := s.deps.Notifier.ObserveFault(context.WithoutCancel(ctx), f.At, st)
	if sent.Onset || sent.Repeat {
		s.reader.MarkAlerted(f.At)
	}
}

func (s *Session) finish(err error) {
	defer close(s.done)
	s.setRelay(false)
	if s.audit != nil {
		if cerr := s.audit.Close(); cerr != nil {
			s.logger.Error("audit_close_failed", "error", cerr)
		}
	}

	reason := ""
	if err != nil {
		reason = err.Error()
		s.logger.Error("session_aborted", "error", err, "elapsed", s.last.Elapsed)
	} else {
		s.logger.Info("session_stopped", "elapsed", s.last.Elapsed, "measured", s.last.Measured)
	}

	s.mu.Lock()
	s.state = status.StateStopped
	s.err = err
	s.mu.Unlock()

	if !s.began {
		return
	}
	s.deps.Tracker.Finish(reason)
	st := s.notifyStatus()
	st.Heating = false
	s.deps.Notifier.Stopped(context.Background(), st, reason)
	eventReason := "stop"
	if err != nil {
		eventReason = "error"
	}
	s.publishSystem("SESSION_STOP", eventReason)
}

// setRelay writes the relay. A failed write is logged; the hardware contract
// is that writes succeed.
func (s *Session) setRelay(on bool) {
	if err := s.deps.Relay.Set(on); err != nil {
		s.logger.Error("relay_write_failed", "on", on, "error", err)
	}
	s.relayOn = on
}

func (s *Session) publishSystem(event, reason string) {
	if s.deps.Telemetry == nil {
		return
	}
	snap := s.deps.Tracker.Snapshot()
	err := s.deps.Telemetry.PublishSystem(mqtt.SystemEvent{
		Timestamp:  s.deps.Now(),
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		s.logger.Warn("system_event_publish_failed", "event", event, "error", err)
	}
}

func (s *Session) notifyStatus() notify.Status {
	return notifyStatusFor(s.last)
}

func notifyStatusFor(t status.Tick) notify.Status {
	return notify.Status{
		SessionID: t.SessionID,
		Profile:   t.Profile,
		Elapsed:   t.Elapsed,
		Setpoint:  t.Setpoint,
		Measured:  t.Measured,
		Output:    t.Output,
		Heating:   t.Heating,
	}
}

func faultInfo(st sensor.FaultState) status.FaultInfo {
	fi := status.FaultInfo{
		Active:     st.Active,
		Since:      st.FirstSeen,
		Suppressed: st.Suppressed,
		Attempts:   st.Attempts,
	}
	if st.LastErr != nil && (st.Active || st.Suppressed) {
		fi.LastError = st.LastErr.Error()
	}
	return fi
}
