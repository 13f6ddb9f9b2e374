package core

import (
	"math"
	"testing"
	"time"

	"walkietalkie/internal/audio"
)

// setupTalking registers and joins a session, marks it talking, and returns it.
func setupTalking(t *testing.T, s *State, channel, name string) *Session {
	t.Helper()
	sess := register(t, s, name)
	if _, err := s.Join(sess.ID, channel); err != nil {
		t.Fatalf("Join(%s): %v", name, err)
	}
	if err := s.SetTalking(sess.ID, true); err != nil {
		t.Fatalf("SetTalking(%s): %v", name, err)
	}
	return sess
}

func fillQueue(s *State, channel, name string, frames ...audio.Frame) {
	for _, f := range frames {
		s.channels[channel].Members[name].Queue.Push(f)
	}
}

func loudFrame(level float32) audio.Frame {
	var f audio.Frame
	for i := range f {
		f[i] = level
	}
	return f
}

// S2: one speaker, one listener — listener receives a near-identity mix
// (gain 1.0 for a single contributor).
func TestMixerSingleSpeakerToListener(t *testing.T) {
	s := newTestState()
	owner := register(t, s, "owner")
	if err := s.CreateChannel(owner.ID, "lobby"); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	setupTalking(t, s, "lobby", "speaker")
	listener := setupTalking(t, s, "lobby", "listener")
	if err := s.SetTalking(listener.ID, false); err != nil {
		t.Fatalf("SetTalking off: %v", err)
	}

	fillQueue(s, "lobby", "speaker", loudFrame(0.5), loudFrame(0.5))
	drain(listener)

	m := NewMixer(s, time.Millisecond, nil)
	m.tick("lobby")

	select {
	case out := <-listener.Send:
		if out.Binary == nil {
			t.Fatal("expected binary frame sent to listener")
		}
		decoded, err := audio.Decode(out.Binary)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		want := float32(math.Tanh(0.5)) // gain 1.0, single contributor, soft-clipped
		if diff := decoded[0] - want; diff > 0.01 || diff < -0.01 {
			t.Errorf("sample[0]: got %v, want ~%v", decoded[0], want)
		}
	case <-time.After(time.Second):
		t.Fatal("listener received nothing")
	}
}

// S3: three talking members — each listener's mix-minus sums the other two
// with gain 0.7/2.
func TestMixerThreeMembersGainPolicy(t *testing.T) {
	s := newTestState()
	owner := register(t, s, "owner")
	if err := s.CreateChannel(owner.ID, "lobby"); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	a := setupTalking(t, s, "lobby", "alice")
	b := setupTalking(t, s, "lobby", "bob")
	c := setupTalking(t, s, "lobby", "carol")

	fillQueue(s, "lobby", "alice", loudFrame(0.1), loudFrame(0.1))
	fillQueue(s, "lobby", "bob", loudFrame(0.1), loudFrame(0.1))
	fillQueue(s, "lobby", "carol", loudFrame(0.1), loudFrame(0.1))
	drain(a)
	drain(b)
	drain(c)

	m := NewMixer(s, time.Millisecond, nil)
	m.tick("lobby")

	want := float32(math.Tanh(0.2 * 0.35)) // two contributors at 0.1, gain 0.7/2
	for _, sess := range []*Session{a, b, c} {
		select {
		case out := <-sess.Send:
			if out.Binary == nil {
				t.Fatalf("%s: expected binary frame", sess.Name)
			}
			decoded, err := audio.Decode(out.Binary)
			if err != nil {
				t.Fatalf("%s: Decode: %v", sess.Name, err)
			}
			if diff := decoded[0] - want; diff > 0.01 || diff < -0.01 {
				t.Errorf("%s sample[0]: got %v, want ~%v", sess.Name, decoded[0], want)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s received nothing", sess.Name)
		}
	}
}

// Mixer must not send anything when no member clears the eligibility gate
// (muted, not talking, or queue below the jitter floor).
func TestMixerNoEligibleSpeakersSendsNothing(t *testing.T) {
	s := newTestState()
	owner := register(t, s, "owner")
	if err := s.CreateChannel(owner.ID, "lobby"); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	listener := setupTalking(t, s, "lobby", "listener")
	if err := s.SetTalking(listener.ID, false); err != nil {
		t.Fatalf("SetTalking off: %v", err)
	}
	// speaker talking but queue below floor (only one frame pushed)
	speaker := setupTalking(t, s, "lobby", "speaker")
	fillQueue(s, "lobby", "speaker", loudFrame(0.2))
	drain(listener)
	drain(speaker)

	m := NewMixer(s, time.Millisecond, nil)
	m.tick("lobby")

	select {
	case <-listener.Send:
		t.Fatal("listener should not receive a frame below the jitter floor")
	case <-speaker.Send:
		t.Fatal("speaker should not receive anything either")
	case <-time.After(50 * time.Millisecond):
	}
}

// I5: the mixer's goroutine for a channel runs exactly while it is occupied.
func TestMixerSyncStartsAndStopsWithOccupancy(t *testing.T) {
	s := newTestState()
	m := NewMixer(s, time.Millisecond, nil)
	s.SetMixer(m)
	defer m.Stop()

	owner := register(t, s, "owner")
	if err := s.CreateChannel(owner.ID, "lobby"); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	m.mu.Lock()
	_, running := m.cancels["lobby"]
	m.mu.Unlock()
	if running {
		t.Fatal("mixer should not run for an empty channel")
	}

	if _, err := s.Join(owner.ID, "lobby"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	m.mu.Lock()
	_, running = m.cancels["lobby"]
	m.mu.Unlock()
	if !running {
		t.Fatal("mixer should be running once the channel has a member")
	}

	if err := s.Leave(owner.ID); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	m.mu.Lock()
	_, running = m.cancels["lobby"]
	m.mu.Unlock()
	if running {
		t.Fatal("mixer should stop once the channel empties")
	}
}
