package firing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/kiln-controller/internal/schedule"
	"github.com/sweeney/kiln-controller/internal/status"
)

// TickerFunc returns a tick channel for the given period and a function that
// releases it.
type TickerFunc func(period time.Duration) (<-chan time.Time, func())

// WallTicker is the default TickerFunc, backed by time.Ticker.
func WallTicker(period time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(period)
	return t.C, t.Stop
}

// Manager is the control surface over firings: at most one session runs at a
// time. It is safe for concurrent use by HTTP handlers and signal handling.
type Manager struct {
	cfg    Config
	deps   Deps
	ticker TickerFunc
	logger *slog.Logger

	mu      sync.Mutex
	current *Session
	wg      sync.WaitGroup
}

// NewManager creates a Manager. A nil ticker uses WallTicker.
func NewManager(cfg Config, deps Deps, ticker TickerFunc) (*Manager, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	deps, err = deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if ticker == nil {
		ticker = WallTicker
	}
	return &Manager{cfg: cfg, deps: deps, ticker: ticker, logger: deps.Logger}, nil
}

// Start begins a firing of sched in the background. It fails with
// ErrAlreadyRunning while another session has not fully stopped.
func (m *Manager) Start(profile string, sched *schedule.Schedule) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		select {
		case <-m.current.Done():
		default:
			return nil, ErrAlreadyRunning
		}
	}

	s, err := NewSession(profile, sched, m.cfg, m.deps)
	if err != nil {
		return nil, err
	}
	tick, release := m.ticker(m.cfg.Period)
	m.current = s

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer release()
		if err := s.Run(context.Background(), tick); err != nil {
			m.logger.Error("firing_failed", "session", s.ID(), "error", err)
		}
	}()
	return s, nil
}

// Stop requests the running session to stop. It reports whether a session was
// running; stopping when idle or already stopping is a no-op.
func (m *Manager) Stop() bool {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return false
	}
	select {
	case <-s.Done():
		return false
	default:
	}
	return s.Stop()
}

// Wait blocks until every started session has fully stopped.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown stops the running session and waits for it, or until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.Stop()
	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Current returns the most recent session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Status returns the tracker snapshot; it never touches session memory.
func (m *Manager) Status() status.Snapshot {
	return m.deps.Tracker.Snapshot()
}
