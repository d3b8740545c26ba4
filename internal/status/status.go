// Package status provides a thread-safe status tracker for the kiln controller.
// The control loop writes to it once per tick; HTTP handlers and MQTT system
// events only ever read snapshots.
package status

import (
	"math"
	"sync"
	"time"
)

// State is the firing session lifecycle state.
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
	StateStopped State = "STOPPED"
)

// FaultInfo is the sensor fault view published with each tick.
type FaultInfo struct {
	Active     bool
	Since      time.Time
	Suppressed bool
	Attempts   int
	LastError  string
}

// Tick is the outcome of one control-loop iteration.
type Tick struct {
	SessionID string
	Profile   string
	Time      time.Time
	Elapsed   time.Duration
	Setpoint  float64
	Measured  float64 // NaN when no reading was obtained
	Output    float64
	Heating   bool
	Fault     FaultInfo
}

// Config contains controller configuration for display.
type Config struct {
	TickMs           int64
	Unit             string
	SuppressAbove    float64
	StatusIntervalMs int64
	FaultIntervalMs  int64
	Broker           string
	HTTPPort         string
	AuditDir         string
}

// Snapshot is a point-in-time view of controller state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State        State
	SessionID    string
	Profile      string
	SessionStart time.Time
	Elapsed      time.Duration
	Setpoint     float64
	Measured     float64
	Output       float64
	Heating      bool
	Fault        FaultInfo
	Ticks        int64

	// LastError is why the most recent session stopped abnormally.
	LastError string

	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the controller started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable controller state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			State:     StateIdle,
			StartTime: startTime,
			Measured:  math.NaN(),
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetClock replaces the time source used to stamp snapshots.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Begin records the start of a firing session and clears per-session values.
func (t *Tracker) Begin(sessionID, profile string, start time.Time) {
	t.mu.Lock()
	t.snap.State = StateRunning
	t.snap.SessionID = sessionID
	t.snap.Profile = profile
	t.snap.SessionStart = start
	t.snap.Elapsed = 0
	t.snap.Setpoint = 0
	t.snap.Measured = math.NaN()
	t.snap.Output = 0
	t.snap.Heating = false
	t.snap.Fault = FaultInfo{}
	t.snap.Ticks = 0
	t.snap.LastError = ""
	t.mu.Unlock()
}

// Update records the outcome of one tick.
// Called from the control loop on every tick.
func (t *Tracker) Update(tick Tick) {
	t.mu.Lock()
	t.snap.Elapsed = tick.Elapsed
	t.snap.Setpoint = tick.Setpoint
	t.snap.Measured = tick.Measured
	t.snap.Output = tick.Output
	t.snap.Heating = tick.Heating
	t.snap.Fault = tick.Fault
	t.snap.Ticks++
	t.mu.Unlock()
}

// SetFault updates only the fault view. The control loop calls it while a
// tick is blocked retrying the sensor, with heating already off.
func (t *Tracker) SetFault(f FaultInfo) {
	t.mu.Lock()
	t.snap.Fault = f
	t.snap.Heating = false
	t.snap.Output = 0
	t.mu.Unlock()
}

// Finish records the end of a session. reason is empty for a normal stop.
func (t *Tracker) Finish(reason string) {
	t.mu.Lock()
	t.snap.State = StateStopped
	t.snap.Heating = false
	t.snap.Output = 0
	t.snap.LastError = reason
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the controller state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}
