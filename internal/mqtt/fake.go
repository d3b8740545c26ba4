package mqtt

import (
	"context"
	"sync"

	"github.com/sweeney/kiln-controller/internal/status"
)

// FakePublisher records published messages for test assertions.
// Safe for concurrent use, since notifications may arrive from an async worker.
type FakePublisher struct {
	mu sync.Mutex

	// Ticks contains all ticks that were published.
	Ticks []status.Tick

	// TickPayloads contains the JSON payloads that were published for ticks.
	TickPayloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// Notifications contains the text of every notification sent.
	Notifications []string

	// PublishError, if set, will be returned by PublishTick.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// SendError, if set, will be returned by Send.
	SendError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishTick records the tick.
func (f *FakePublisher) PublishTick(tick status.Tick) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatTickPayload(tick)
	if err != nil {
		return err
	}
	f.Ticks = append(f.Ticks, tick)
	f.TickPayloads = append(f.TickPayloads, payload)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Send records the notification text.
func (f *FakePublisher) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendError != nil {
		return f.SendError
	}
	f.Notifications = append(f.Notifications, text)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// TickCount returns the number of recorded ticks.
func (f *FakePublisher) TickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Ticks)
}

// Events returns the names of the recorded system events in order.
func (f *FakePublisher) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.SystemEvents))
	for i, e := range f.SystemEvents {
		out[i] = e.Event
	}
	return out
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ticks = nil
	f.TickPayloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Notifications = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.SendError = nil
	f.Connected = false
}
