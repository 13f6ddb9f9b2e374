package core

import (
	"sort"
	"time"

	"walkietalkie/internal/protocol"
)

// SessionSnapshot is one row of Snapshot's per-session listing.
type SessionSnapshot struct {
	Name      string `json:"name"`
	Channel   string `json:"channel"`
	Muted     bool   `json:"muted"`
	Talking   bool   `json:"talking"`
	QueueSize int    `json:"queue_size"`
}

// ChannelSnapshot is one row of Snapshot's per-channel listing.
type ChannelSnapshot struct {
	Name      string   `json:"name"`
	Owner     string   `json:"owner"`
	UserCount int      `json:"user_count"`
	Users     []string `json:"users"`
}

// Snapshot is the full read model the admin surface exposes (§4.8).
type Snapshot struct {
	Uptime   time.Duration     `json:"uptime"`
	Sessions []SessionSnapshot `json:"clients"`
	Channels []ChannelSnapshot `json:"channels"`
}

// Snapshot returns a point-in-time read model of the registry.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Uptime: time.Since(s.startedAt)}
	for _, sess := range s.sessions {
		if sess.Name == "" {
			continue
		}
		var queueSize int
		var muted, talking bool
		if ch, ok := s.channels[sess.Channel]; ok {
			if m, ok := ch.Members[sess.Name]; ok {
				queueSize = m.Queue.Len()
				muted = m.Muted
				talking = m.Talking
			}
		}
		snap.Sessions = append(snap.Sessions, SessionSnapshot{
			Name: sess.Name, Channel: sess.Channel, Muted: muted, Talking: talking, QueueSize: queueSize,
		})
	}
	sort.Slice(snap.Sessions, func(i, j int) bool { return snap.Sessions[i].Name < snap.Sessions[j].Name })

	for _, ch := range s.channels {
		snap.Channels = append(snap.Channels, ChannelSnapshot{
			Name: ch.Name, Owner: ch.Owner, UserCount: len(ch.Members), Users: usersLocked(ch, ""),
		})
	}
	sort.Slice(snap.Channels, func(i, j int) bool { return snap.Channels[i].Name < snap.Channels[j].Name })
	return snap
}

// AdminCreateChannel creates a channel owned by the sentinel "admin" name.
func (s *State) AdminCreateChannel(name string) error {
	s.mu.Lock()
	if _, exists := s.channels[name]; exists {
		s.mu.Unlock()
		return errKind(protocol.ErrAlreadyExists)
	}
	s.channels[name] = &Channel{Name: name, Owner: AdminOwner, Members: make(map[string]*Membership)}
	list := s.channelListLocked()
	s.mu.Unlock()

	s.broadcastAll(protocol.Message{Type: protocol.TypeChannelCreated, Channel: name, Owner: AdminOwner})
	s.broadcastAll(withChannels(protocol.Message{Type: protocol.TypeChannels}, list))
	return nil
}

// AdminDeleteChannel deletes a channel regardless of owner.
func (s *State) AdminDeleteChannel(name string) error {
	s.mu.Lock()
	ch, exists := s.channels[name]
	if !exists {
		s.mu.Unlock()
		return errKind(protocol.ErrNoSuchChannel)
	}
	members := s.deleteChannelLocked(ch)
	list := s.channelListLocked()
	s.mu.Unlock()

	for _, m := range members {
		s.trySend(m.Session, Outbound{JSON: &protocol.Message{Type: protocol.TypeChannelClosed, Channel: name}})
	}
	s.broadcastAll(protocol.Message{Type: protocol.TypeChannelDeleted, Channel: name})
	s.broadcastAll(withChannels(protocol.Message{Type: protocol.TypeChannels}, list))
	s.syncMixer(name)
	return nil
}

// byNameLocked returns the first registered session with the given name,
// in Session.ID order for determinism. Names are not required to be
// globally unique (Q1); admin-by-name lookups resolve ambiguity the same
// way the source does, by taking the first match.
func (s *State) byNameLocked(name string) *Session {
	var candidates []*Session
	for _, sess := range s.sessions {
		if sess.Name == name {
			candidates = append(candidates, sess)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates[0]
}

// AdminForceJoin attaches a registered session to a channel, bypassing the
// NameInUseInChannel check a self-service join would apply: a different
// session already in the channel under the same name is detached and
// replaced.
func (s *State) AdminForceJoin(name, channel string) error {
	s.mu.Lock()
	sess := s.byNameLocked(name)
	if sess == nil {
		s.mu.Unlock()
		return errKind(protocol.ErrNotRegistered)
	}
	ch, exists := s.channels[channel]
	if !exists {
		s.mu.Unlock()
		return errKind(protocol.ErrNoSuchChannel)
	}
	if sess.Channel != "" {
		s.detachLocked(sess)
	}
	if old, taken := ch.Members[sess.Name]; taken && old.Session != sess {
		old.Session.Channel = ""
	}
	s.joinLocked(sess, ch)
	reply := protocol.Message{Type: protocol.TypeJoined, Channel: ch.Name, Owner: ch.Owner, Users: usersLocked(ch, sess.Name), Source: AdminOwner}
	list := s.channelListLocked()
	s.mu.Unlock()

	s.trySend(sess, Outbound{JSON: &reply})
	s.broadcastToChannel(channel, protocol.Message{Type: protocol.TypeUserJoined, Name: sess.Name}, sess.ID)
	s.broadcastAll(withChannels(protocol.Message{Type: protocol.TypeChannels}, list))
	s.syncMixer(channel)
	return nil
}

// AdminForceLeave detaches a registered session from its current channel.
func (s *State) AdminForceLeave(name string) error {
	s.mu.Lock()
	sess := s.byNameLocked(name)
	if sess == nil {
		s.mu.Unlock()
		return errKind(protocol.ErrNotRegistered)
	}
	channel := s.detachLocked(sess)
	s.mu.Unlock()

	if channel != "" {
		s.broadcastToChannel(channel, protocol.Message{Type: protocol.TypeUserLeft, Name: sess.Name, Channel: channel}, sess.ID)
		s.syncMixer(channel)
	}
	return nil
}

// AdminForceMute sets a registered session's mute flag, notifying it with
// source:"admin" (§4.8).
func (s *State) AdminForceMute(name string, muted bool) error {
	s.mu.Lock()
	sess := s.byNameLocked(name)
	if sess == nil || sess.Channel == "" {
		s.mu.Unlock()
		return errKind(protocol.ErrNotRegistered)
	}
	ch := s.channels[sess.Channel]
	ch.Members[sess.Name].Muted = muted
	s.mu.Unlock()

	s.trySend(sess, Outbound{JSON: &protocol.Message{Type: protocol.TypeMuted, Muted: protocol.Bool(muted), Source: AdminOwner}})
	return nil
}

// AdminKick disconnects a registered session entirely (§4.8, S5): it
// receives a `kicked` notice, its channel is told it left, its transport
// is terminated, and the session is removed.
func (s *State) AdminKick(name string) error {
	s.mu.RLock()
	sess := s.byNameLocked(name)
	s.mu.RUnlock()
	if sess == nil {
		return errKind(protocol.ErrNotRegistered)
	}
	s.trySend(sess, Outbound{JSON: &protocol.Message{Type: protocol.TypeKicked, Message: "Disconnected by an administrator"}})
	s.Disconnect(sess.ID)
	if s.kicker != nil {
		s.kicker.Kick(sess.ID)
	}
	return nil
}
