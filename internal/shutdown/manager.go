// Package shutdown coordinates graceful teardown: a manager running
// named hooks in priority groups, and a drainer tracking in-flight
// work against a deadline.
package shutdown

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// State is the manager's lifecycle state.
type State int

const (
	StateRunning State = iota
	StateShuttingDown
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Manager runs registered shutdown hooks in priority order. Hooks with
// the same priority run concurrently; a lower-priority group starts
// only after the previous group finished. Shutdown runs at most once.
type Manager struct {
	config        Config
	signalHandler *SignalHandler
	logger        *slog.Logger

	mu       sync.Mutex
	hooks    []Hook
	state    State
	errors   []error
	once     sync.Once
	done     chan struct{}
	deadline time.Time
}

// NewManager creates a shutdown manager. A nil logger falls back to
// slog.Default.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	cfg.Validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:        cfg,
		signalHandler: NewSignalHandler(),
		logger:        logger.With("component", "shutdown"),
		state:         StateRunning,
		done:          make(chan struct{}),
	}
}

// Register adds a hook with the manager's default timeout.
func (m *Manager) Register(name string, priority int, fn HookFunc) {
	m.RegisterHook(Hook{Name: name, Priority: priority, Fn: fn})
}

// RegisterHook adds a hook. Registration after shutdown started is
// ignored.
func (m *Manager) RegisterHook(hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		m.logger.Warn("hook registered during shutdown, ignored", "name", hook.Name)
		return
	}
	m.hooks = append(m.hooks, hook)
	m.logger.Debug("registered shutdown hook", "name", hook.Name, "priority", hook.Priority)
}

// ListenForSignals triggers Shutdown on SIGTERM, SIGINT or SIGQUIT.
// The returned channel closes when shutdown completes.
func (m *Manager) ListenForSignals() <-chan struct{} {
	sigChan := m.signalHandler.Listen()
	go func() {
		if sig, ok := <-sigChan; ok {
			m.logger.Info("received shutdown signal", "signal", sig.String())
			m.Shutdown()
		}
	}()
	return m.done
}

// Shutdown runs all hooks. Safe to call from multiple goroutines; only
// the first call executes, the rest return once it completes.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.setState(StateShuttingDown)
		m.mu.Lock()
		hooks := make([]Hook, len(m.hooks))
		copy(hooks, m.hooks)
		m.deadline = time.Now().Add(m.config.OverallTimeout)
		deadline := m.deadline
		m.mu.Unlock()

		m.logger.Info("starting graceful shutdown",
			"timeout", m.config.OverallTimeout,
			"hooks", len(hooks))

		m.executeAll(hooks, deadline)

		m.setState(StateShutdown)
		m.logger.Info("graceful shutdown complete", "errors", len(m.Errors()))
		m.signalHandler.Stop()
		close(m.done)
	})
	<-m.done
}

func (m *Manager) executeAll(hooks []Hook, deadline time.Time) {
	sort.SliceStable(hooks, func(i, j int) bool {
		return hooks[i].Priority > hooks[j].Priority
	})

	for start := 0; start < len(hooks); {
		end := start + 1
		for end < len(hooks) && hooks[end].Priority == hooks[start].Priority {
			end++
		}

		if time.Now().After(deadline) {
			m.addError(fmt.Errorf("shutdown timeout exceeded, %d hooks skipped", len(hooks)-start))
			m.logger.Warn("shutdown timeout exceeded, remaining hooks skipped",
				"skipped", len(hooks)-start)
			return
		}

		m.executeGroup(hooks[start:end], deadline)
		start = end
	}
}

func (m *Manager) executeGroup(group []Hook, deadline time.Time) {
	var wg sync.WaitGroup
	for _, hook := range group {
		wg.Add(1)
		go func(h Hook) {
			defer wg.Done()
			m.executeHook(h, deadline)
		}(hook)
	}
	wg.Wait()
}

func (m *Manager) executeHook(hook Hook, deadline time.Time) {
	timeout := hook.Timeout
	if timeout <= 0 {
		timeout = m.config.HookTimeout
	}
	if remaining := time.Until(deadline); remaining < timeout {
		timeout = remaining
	}

	m.logger.Info("executing shutdown hook", "name", hook.Name, "priority", hook.Priority)
	start := time.Now()
	err := runHook(timeout, hook.Name, hook.Fn)
	elapsed := time.Since(start)

	if elapsed > m.config.SlowHookThreshold {
		m.logger.Warn("slow shutdown hook", "name", hook.Name, "duration", elapsed)
	}
	if err != nil {
		m.logger.Error("shutdown hook failed", "name", hook.Name, "error", err, "duration", elapsed)
		m.addError(fmt.Errorf("hook %s: %w", hook.Name, err))
		return
	}
	m.logger.Info("shutdown hook completed", "name", hook.Name, "duration", elapsed)
}

func (m *Manager) addError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}

// Errors returns the errors collected during shutdown.
func (m *Manager) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]error, len(m.errors))
	copy(out, m.errors)
	return out
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// State returns the manager's lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsShuttingDown reports whether shutdown has started. Readiness
// probes flip to unready on it.
func (m *Manager) IsShuttingDown() bool {
	return m.State() != StateRunning
}

// Done closes when shutdown completes.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until shutdown completes.
func (m *Manager) Wait() {
	<-m.done
}
