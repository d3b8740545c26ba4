package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	State         string       `json:"state"`
	Session       *SessionJSON `json:"session,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	LastError     string       `json:"last_error,omitempty"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Config        ConfigJSON   `json:"config"`
}

// SessionJSON describes the current or most recent firing.
type SessionJSON struct {
	ID             string    `json:"id"`
	Profile        string    `json:"profile"`
	StartTime      string    `json:"start_time"`
	ElapsedSeconds int64     `json:"elapsed_seconds"`
	Setpoint       float64   `json:"setpoint"`
	Measured       *float64  `json:"measured"`
	Output         float64   `json:"output"`
	Heating        bool      `json:"heating"`
	Ticks          int64     `json:"ticks"`
	Fault          FaultJSON `json:"fault"`
}

// FaultJSON is the JSON representation of the sensor fault state.
type FaultJSON struct {
	Active     bool   `json:"active"`
	Since      string `json:"since,omitempty"`
	Suppressed bool   `json:"suppressed"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of controller config.
type ConfigJSON struct {
	TickMs           int64   `json:"tick_ms"`
	Unit             string  `json:"unit"`
	SuppressAbove    float64 `json:"suppress_above"`
	StatusIntervalMs int64   `json:"status_interval_ms"`
	FaultIntervalMs  int64   `json:"fault_interval_ms"`
	Broker           string  `json:"broker"`
	HTTPPort         string  `json:"http_port"`
	AuditDir         string  `json:"audit_dir"`
}

// Temp returns v for JSON output, or nil if v is not a number.
func Temp(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// BuildFault converts a FaultInfo to its JSON form.
func BuildFault(f FaultInfo) FaultJSON {
	out := FaultJSON{
		Active:     f.Active,
		Suppressed: f.Suppressed,
		Attempts:   f.Attempts,
		LastError:  f.LastError,
	}
	if !f.Since.IsZero() {
		out.Since = f.Since.UTC().Format(time.RFC3339)
	}
	return out
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.State)
	if state == "" {
		state = string(StateIdle)
	}

	inner := StatusInner{
		State:         state,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		LastError:     snap.LastError,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			TickMs:           snap.Config.TickMs,
			Unit:             snap.Config.Unit,
			SuppressAbove:    snap.Config.SuppressAbove,
			StatusIntervalMs: snap.Config.StatusIntervalMs,
			FaultIntervalMs:  snap.Config.FaultIntervalMs,
			Broker:           snap.Config.Broker,
			HTTPPort:         snap.Config.HTTPPort,
			AuditDir:         snap.Config.AuditDir,
		},
	}
	if snap.SessionID != "" {
		inner.Session = &SessionJSON{
			ID:             snap.SessionID,
			Profile:        snap.Profile,
			StartTime:      snap.SessionStart.UTC().Format(time.RFC3339),
			ElapsedSeconds: int64(snap.Elapsed.Truncate(time.Second).Seconds()),
			Setpoint:       snap.Setpoint,
			Measured:       Temp(snap.Measured),
			Output:         snap.Output,
			Heating:        snap.Heating,
			Ticks:          snap.Ticks,
			Fault:          BuildFault(snap.Fault),
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
