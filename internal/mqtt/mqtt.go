// Package mqtt provides MQTT telemetry and notification publishing with an
// abstraction for testing.
package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sweeney/kiln-controller/internal/status"
)

// Default topics.
const (
	TopicTicks  = "kiln/controller/ticks"
	TopicSystem = "kiln/controller/system"
	TopicNotify = "kiln/controller/notify"
)

// Topics names the three streams the controller publishes.
type Topics struct {
	Ticks  string
	System string
	Notify string
}

// DefaultTopics returns the built-in topic names.
func DefaultTopics() Topics {
	return Topics{Ticks: TopicTicks, System: TopicSystem, Notify: TopicNotify}
}

// Publisher publishes controller telemetry to MQTT.
type Publisher interface {
	// PublishTick sends one control-loop tick.
	// Returns error if publishing fails (should not stop the firing).
	PublishTick(tick status.Tick) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Send publishes a notification text. It satisfies notify.Transport.
	Send(ctx context.Context, text string) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g. startup, session start, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g. "STARTUP", "SESSION_START", "SESSION_STOP", "SHUTDOWN"
	Reason     string // e.g. "SIGTERM", "error"
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// TickPayload represents the MQTT message payload for a tick.
type TickPayload struct {
	Tick TickInner `json:"tick"`
}

// TickInner contains the tick details.
type TickInner struct {
	Timestamp      string           `json:"timestamp"`
	SessionID      string           `json:"session_id"`
	Profile        string           `json:"profile"`
	ElapsedSeconds float64          `json:"elapsed_seconds"`
	Setpoint       float64          `json:"setpoint"`
	Measured       *float64         `json:"measured"`
	Output         float64          `json:"output"`
	Heating        bool             `json:"heating"`
	Fault          status.FaultJSON `json:"fault"`
}

// FormatTickPayload creates the JSON payload for a tick. A NaN measurement is
// published as null.
func FormatTickPayload(tick status.Tick) ([]byte, error) {
	payload := TickPayload{
		Tick: TickInner{
			Timestamp:      tick.Time.UTC().Format(time.RFC3339),
			SessionID:      tick.SessionID,
			Profile:        tick.Profile,
			ElapsedSeconds: tick.Elapsed.Seconds(),
			Setpoint:       tick.Setpoint,
			Measured:       status.Temp(tick.Measured),
			Output:         tick.Output,
			Heating:        tick.Heating,
			Fault:          status.BuildFault(tick.Fault),
		},
	}
	return json.Marshal(payload)
}

// NotifyPayload is the notification message body, shared with the webhook format.
type NotifyPayload struct {
	Text string `json:"text"`
}

// FormatNotifyPayload creates the JSON payload for a notification.
func FormatNotifyPayload(text string) ([]byte, error) {
	return json.Marshal(NotifyPayload{Text: text})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
