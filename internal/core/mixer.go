package core

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"walkietalkie/internal/audio"
)

// TickInterval is the mixer cadence: one mix-minus pass per channel every
// 20ms (§4.5).
const TickInterval = 20 * time.Millisecond

// Mixer runs one periodic ticking goroutine per non-empty channel,
// composing a per-listener mix-minus frame on every tick and sending it
// over each listener's Session. Goroutines start on the first join to a
// channel and stop once it empties (I5); the channel entry itself is
// untouched by the Mixer.
type Mixer struct {
	state    *State
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewMixer constructs a Mixer bound to state. Call state.SetMixer(m) so
// registry mutations reconcile the running set of channel goroutines.
func NewMixer(state *State, interval time.Duration, logger *slog.Logger) *Mixer {
	if interval <= 0 {
		interval = TickInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mixer{
		state:    state,
		interval: interval,
		logger:   logger,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Sync starts or stops channel's ticking goroutine to match current
// occupancy. Idempotent; safe to call redundantly.
func (m *Mixer) Sync(channel string) {
	occupied := m.state.channelOccupied(channel)

	m.mu.Lock()
	defer m.mu.Unlock()
	_, running := m.cancels[channel]
	switch {
	case occupied && !running:
		ctx, cancel := context.WithCancel(context.Background())
		m.cancels[channel] = cancel
		go m.run(ctx, channel)
	case !occupied && running:
		m.cancels[channel]()
		delete(m.cancels, channel)
	}
}

// Stop cancels every running channel goroutine, for graceful shutdown.
func (m *Mixer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, cancel := range m.cancels {
		cancel()
		delete(m.cancels, name)
	}
}

func (m *Mixer) run(ctx context.Context, channel string) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(channel)
		}
	}
}

// outgoing pairs a listener with its already-encoded mixed frame, so the
// send loop can run after the registry lock is released.
type outgoing struct {
	sess  *Session
	frame []byte
}

// tick performs one mix-minus pass over channel, per §4.5:
//  1. eligible = members that are unmuted, talking, and past the jitter
//     floor (speaker candidates for this tick).
//  2. for each member L (listener), mix the frames popped from every
//     eligible member other than L. A speaker's queue is popped once per
//     listener it contributes to, not once per tick (Q3) — a speaker with
//     n other listeners is drained up to n times this tick. With the
//     jitter floor of 2, a speaker in a channel of up to 3 members has at
//     most 2 other listeners, so a queue at the floor covers every one of
//     them within the tick.
//
// Popping and mixing happen under the registry lock (they touch shared
// queues); sending does not (§5: the mixer must not stall, and a slow
// listener's trySend may block up to SendTimeout — far longer than a tick
// budget — so it must never run while m.state.mu is held).
func (m *Mixer) tick(channel string) {
	out := m.prepare(channel)
	for _, o := range out {
		m.state.trySend(o.sess, Outbound{Binary: o.frame})
	}
}

func (m *Mixer) prepare(channel string) []outgoing {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	ch, ok := m.state.channels[channel]
	if !ok || len(ch.Members) == 0 {
		return nil
	}

	eligible := make([]*Membership, 0, len(ch.Members))
	for _, mem := range ch.Members {
		if !mem.Muted && mem.Talking && mem.Queue.Ready() {
			eligible = append(eligible, mem)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Session.Name < eligible[j].Session.Name })

	listeners := make([]*Membership, 0, len(ch.Members))
	for _, mem := range ch.Members {
		listeners = append(listeners, mem)
	}
	sort.Slice(listeners, func(i, j int) bool { return listeners[i].Session.Name < listeners[j].Session.Name })

	out := make([]outgoing, 0, len(listeners))
	for _, listener := range listeners {
		frames := make([]audio.Frame, 0, len(eligible))
		for _, speaker := range eligible {
			if speaker == listener {
				continue
			}
			if f, ok := speaker.Queue.Pop(); ok {
				frames = append(frames, f)
			}
		}
		if len(frames) == 0 {
			continue
		}
		mixed := audio.Mix(frames)
		out = append(out, outgoing{sess: listener.Session, frame: audio.Encode(mixed)})
	}
	return out
}
