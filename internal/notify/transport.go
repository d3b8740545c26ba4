package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Message is the wire format of webhook and MQTT notifications.
type Message struct {
	Text string `json:"text"`
}

// Webhook posts messages to a Slack-style incoming webhook.
type Webhook struct {
	URL    string
	Client *http.Client
}

// NewWebhook creates a Webhook with a bounded request timeout.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{URL: url, Client: &http.Client{Timeout: timeout}}
}

// Send posts {"text": text} as JSON.
func (w *Webhook) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(Message{Text: text})
	if err != nil {
		return &TransportError{Transport: "webhook", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Transport: "webhook", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return &TransportError{Transport: "webhook", Err: err}
	}
	defer resp.Body.Close()
	io.CopyN(io.Discard, resp.Body, 512)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Transport: "webhook", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}

// Multi fans a message out to every transport.
type Multi []Transport

// Send delivers to all transports and joins their errors.
func (m Multi) Send(ctx context.Context, text string) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async decouples delivery from the caller with a bounded queue and one worker,
// so a slow sink never stalls the control loop. A full queue drops the message.
type Async struct {
	next   Transport
	queue  chan string
	logger *slog.Logger
	done   chan struct{}

	mu     sync.Mutex
	closed bool

	// timeout bounds each delivery made by the worker.
	timeout time.Duration
}

// NewAsync starts the worker. Close must be called to stop it.
func NewAsync(next Transport, size int, timeout time.Duration, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 16
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	a := &Async{
		next:    next,
		queue:   make(chan string, size),
		logger:  logger,
		done:    make(chan struct{}),
		timeout: timeout,
	}
	go a.run()
	return a
}

// Send enqueues text without blocking.
func (a *Async) Send(_ context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return &TransportError{Transport: "async", Err: errors.New("closed")}
	}
	select {
	case a.queue <- text:
		return nil
	default:
		return &TransportError{Transport: "async", Err: errors.New("queue full, message dropped")}
	}
}

func (a *Async) run() {
	defer close(a.done)
	for text := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Send(ctx, text); err != nil {
			a.logger.Warn("notification_delivery_failed", "error", err)
		}
		cancel()
	}
}

// Close stops accepting messages and waits for queued ones to be delivered,
// or until ctx is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FakeTransport records messages for test assertions.
type FakeTransport struct {
	mu sync.Mutex

	// Messages contains every text passed to Send, including failed ones.
	Messages []string

	// Err, if set, will be returned by Send.
	Err error
}

// Send records text.
func (f *FakeTransport) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = append(f.Messages, text)
	return f.Err
}

// Sent returns a copy of the recorded messages.
func (f *FakeTransport) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Messages...)
}

// Reset clears recorded messages.
func (f *FakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = nil
	f.Err = nil
}
