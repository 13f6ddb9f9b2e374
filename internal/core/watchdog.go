package core

import (
	"context"
	"log/slog"
	"time"
)

// WatchdogSweepInterval is how often the liveness watchdog scans sessions
// (§4.7).
const WatchdogSweepInterval = 5 * time.Second

// WatchdogDeadline is the maximum silence (no ping, no connect) before a
// session is evicted (§4.7).
const WatchdogDeadline = 25 * time.Second

// Kicker terminates a session's underlying transport. The transport layer
// implements this so the watchdog (and admin kick) can force a close
// without internal/core depending on the websocket package.
type Kicker interface {
	Kick(sessionID string)
}

// Watchdog periodically evicts sessions that have gone silent past
// WatchdogDeadline. It is the only mechanism that tears down silent
// sessions (§4.7); the transport's own keepalive is not assumed.
type Watchdog struct {
	state    *State
	interval time.Duration
	deadline time.Duration
	logger   *slog.Logger
}

// NewWatchdog constructs a Watchdog bound to state. Wire state's Kicker
// via state.SetKicker before Run starts sweeping, if transport termination
// is desired; tests that only assert registry-side eviction may skip it.
func NewWatchdog(state *State, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{state: state, interval: WatchdogSweepInterval, deadline: WatchdogDeadline, logger: logger}
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep evicts every session whose liveness deadline has passed. Eviction
// reuses State.Disconnect, making it idempotent with a client-initiated
// close or a concurrent admin kick (§5).
func (w *Watchdog) sweep() {
	now := time.Now()
	w.state.mu.RLock()
	var stale []string
	for id, sess := range w.state.sessions {
		last := sess.LastPingAt
		if sess.ConnectedAt.After(last) {
			last = sess.ConnectedAt
		}
		if now.Sub(last) > w.deadline {
			stale = append(stale, id)
		}
	}
	w.state.mu.RUnlock()

	for _, id := range stale {
		w.logger.Info("watchdog evicting stale session", "session", id)
		w.state.Disconnect(id)
		if w.state.kicker != nil {
			w.state.kicker.Kick(id)
		}
	}
}
