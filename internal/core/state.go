package core

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"walkietalkie/internal/audio"
	"walkietalkie/internal/protocol"
)

// SendTimeout bounds how long a single enqueue onto a Session's outbound
// channel may block. A slow or stalled client must never stall the mixer
// or a signalling handler; past this deadline the message is dropped.
const SendTimeout = 50 * time.Millisecond

// sendQueueDepth is the buffer size of a Session's outbound channel.
const sendQueueDepth = 64

// Error is a typed signalling error carrying one of the §7 error kinds.
type Error struct {
	Kind protocol.ErrorKind
}

func (e *Error) Error() string { return string(e.Kind) }

func errKind(k protocol.ErrorKind) error { return &Error{Kind: k} }

// State is the single stewarding entity owning the channel registry and
// session table (§9: "a single stewarding entity owning both tables; all
// mutations go through it ... under a single exclusive lock"). All
// exported methods are safe for concurrent use.
type State struct {
	mu        sync.RWMutex
	sessions  map[string]*Session // keyed by Session.ID
	channels  map[string]*Channel // keyed by Channel.Name
	startedAt time.Time
	logger    *slog.Logger

	mixer  *Mixer
	kicker Kicker
}

// NewState constructs an empty registry. Call SetMixer before serving
// traffic so membership changes start and stop per-channel mixing.
func NewState(logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		sessions:  make(map[string]*Session),
		channels:  make(map[string]*Channel),
		startedAt: time.Now(),
		logger:    logger,
	}
}

// SetMixer wires the periodic mixer that §4.5/I5 requires to run exactly
// while a channel is non-empty.
func (s *State) SetMixer(m *Mixer) { s.mixer = m }

// SetKicker wires the transport-level hook used to terminate a session's
// connection on admin kick and watchdog eviction.
func (s *State) SetKicker(k Kicker) { s.kicker = k }

// Connect creates a new, as-yet-unregistered Session and returns it. The
// transport layer owns draining Session.Send in a dedicated goroutine.
func (s *State) Connect() *Session {
	sess := &Session{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		LastPingAt:  time.Now(),
		Send:        make(chan Outbound, sendQueueDepth),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Disconnect tears a session down: detaches it from its channel (if any),
// removes it from the session table, and closes its outbound channel so
// the transport's writer goroutine exits. Idempotent with watchdog
// eviction and admin kick (§5: "Session eviction by the watchdog is
// idempotent with client-initiated disconnect").
func (s *State) Disconnect(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	channel := s.detachLocked(sess)
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	s.logger.Debug("session disconnected", "session", sessionID, "name", sess.Name, "channel", channel)
	if channel != "" {
		s.broadcastToChannel(channel, protocol.Message{Type: protocol.TypeUserLeft, Name: sess.Name, Channel: channel}, sess.ID)
		s.syncMixer(channel)
	}
	closeQuietly(sess.Send)
}

// detachLocked removes sess from its channel's member table, if any, and
// returns the channel name it was detached from (or "" if it had none).
// Caller must hold s.mu.
func (s *State) detachLocked(sess *Session) string {
	channel := sess.Channel
	if channel == "" {
		return ""
	}
	if ch, ok := s.channels[channel]; ok {
		delete(ch.Members, sess.Name)
	}
	sess.Channel = ""
	return channel
}

// Register validates and assigns a session's stable name (§4.6 `register`).
func (s *State) Register(sessionID, name string) (protocol.Message, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return protocol.Message{}, errKind(protocol.ErrEmptyName)
	}
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return protocol.Message{}, errKind(protocol.ErrNotRegistered)
	}
	sess.Name = name
	list := s.channelListLocked()
	s.mu.Unlock()

	s.logger.Info("session registered", "session", sessionID, "name", name)
	return withChannels(protocol.Message{Type: protocol.TypeRegistered, Name: name}, list), nil
}

// withChannels is a small builder so a reply can carry the channel list
// without repeating struct-literal noise at every call site.
func withChannels(m protocol.Message, list []protocol.ChannelInfo) protocol.Message {
	m.Channels = list
	return m
}

func (s *State) channelListLocked() []protocol.ChannelInfo {
	list := make([]protocol.ChannelInfo, 0, len(s.channels))
	for _, ch := range s.channels {
		list = append(list, protocol.ChannelInfo{Name: ch.Name, Owner: ch.Owner})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// ListChannels returns the current channel list (§4.6 `list_channels`).
func (s *State) ListChannels() []protocol.ChannelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channelListLocked()
}

// CreateChannel creates a channel owned by the registering session's name.
func (s *State) CreateChannel(sessionID, name string) error {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Name == "" {
		s.mu.Unlock()
		return errKind(protocol.ErrNotRegistered)
	}
	if name == "" {
		s.mu.Unlock()
		return errKind(protocol.ErrEmptyName)
	}
	if _, exists := s.channels[name]; exists {
		s.mu.Unlock()
		return errKind(protocol.ErrAlreadyExists)
	}
	s.channels[name] = &Channel{Name: name, Owner: sess.Name, Members: make(map[string]*Membership)}
	list := s.channelListLocked()
	s.mu.Unlock()

	s.logger.Info("channel created", "channel", name, "owner", sess.Name, "total_channels", len(list))
	s.broadcastAll(protocol.Message{Type: protocol.TypeChannelCreated, Channel: name, Owner: sess.Name})
	s.broadcastAll(withChannels(protocol.Message{Type: protocol.TypeChannels}, list))
	return nil
}

// CloseChannel deletes a channel; only its owner may do so via the
// signalling path (admin bypasses this check via AdminDeleteChannel).
func (s *State) CloseChannel(sessionID, name string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Name == "" {
		s.mu.Unlock()
		return errKind(protocol.ErrNotRegistered)
	}
	ch, exists := s.channels[name]
	if !exists {
		s.mu.Unlock()
		return errKind(protocol.ErrNoSuchChannel)
	}
	if ch.Owner != sess.Name {
		s.mu.Unlock()
		return errKind(protocol.ErrNotOwner)
	}
	members := s.deleteChannelLocked(ch)
	list := s.channelListLocked()
	s.mu.Unlock()

	s.logger.Info("channel closed", "channel", name, "evicted_members", len(members), "remaining_channels", len(list))
	for _, m := range members {
		s.trySend(m.Session, Outbound{JSON: &protocol.Message{Type: protocol.TypeChannelClosed, Channel: name}})
	}
	s.broadcastAll(protocol.Message{Type: protocol.TypeChannelDeleted, Channel: name})
	s.broadcastAll(withChannels(protocol.Message{Type: protocol.TypeChannels}, list))
	s.syncMixer(name)
	return nil
}

// deleteChannelLocked detaches every member, removes the channel from the
// registry, and returns the detached memberships so the caller can notify
// them once outside the lock. Caller must hold s.mu.
func (s *State) deleteChannelLocked(ch *Channel) []*Membership {
	members := make([]*Membership, 0, len(ch.Members))
	for _, m := range ch.Members {
		m.Session.Channel = ""
		members = append(members, m)
	}
	delete(s.channels, ch.Name)
	return members
}

// Join attaches a registered, channel-less session to an existing channel.
func (s *State) Join(sessionID, channel string) (protocol.Message, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Name == "" {
		s.mu.Unlock()
		return protocol.Message{}, errKind(protocol.ErrNotRegistered)
	}
	ch, exists := s.channels[channel]
	if !exists {
		s.mu.Unlock()
		return protocol.Message{}, errKind(protocol.ErrNoSuchChannel)
	}
	if _, dup := ch.Members[sess.Name]; dup {
		s.mu.Unlock()
		return protocol.Message{}, errKind(protocol.ErrNameInUseInChannel)
	}
	s.joinLocked(sess, ch)
	reply := protocol.Message{Type: protocol.TypeJoined, Channel: ch.Name, Owner: ch.Owner, Users: usersLocked(ch, sess.Name)}
	list := s.channelListLocked()
	memberCount := len(ch.Members)
	s.mu.Unlock()

	s.logger.Info("user joined channel", "name", sess.Name, "channel", channel, "total_members", memberCount)
	// Ordering guarantee (§5): the joiner's own reply is constructed and
	// returned to the caller, which the transport sends, before the
	// broadcasts below reach other members.
	s.broadcastToChannel(channel, protocol.Message{Type: protocol.TypeUserJoined, Name: sess.Name}, sess.ID)
	s.broadcastAll(withChannels(protocol.Message{Type: protocol.TypeChannels}, list))
	s.syncMixer(channel)
	return reply, nil
}

func (s *State) joinLocked(sess *Session, ch *Channel) {
	ch.Members[sess.Name] = &Membership{Session: sess, Queue: audio.NewJitter()}
	sess.Channel = ch.Name
}

// usersLocked lists member names in a channel excluding the given name,
// for the `joined{users:[]}` reply (the joiner is not listed as "other").
// Caller must hold s.mu (read or write).
func usersLocked(ch *Channel, exclude string) []string {
	names := make([]string, 0, len(ch.Members))
	for name := range ch.Members {
		if name == exclude {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Switch performs leave-then-join to a new channel. Per Q2 (§9), switching
// to the session's current channel is a no-op on membership but still
// replies `joined` with the (unchanged) snapshot.
func (s *State) Switch(sessionID, channel string) (protocol.Message, error) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	current := ""
	if ok {
		current = sess.Channel
	}
	s.mu.RUnlock()
	if !ok || current == "" {
		return protocol.Message{}, errKind(protocol.ErrNotRegistered)
	}
	if current == channel {
		s.mu.RLock()
		ch, exists := s.channels[channel]
		if !exists {
			s.mu.RUnlock()
			return protocol.Message{}, errKind(protocol.ErrNoSuchChannel)
		}
		reply := protocol.Message{Type: protocol.TypeJoined, Channel: ch.Name, Owner: ch.Owner, Users: usersLocked(ch, sess.Name)}
		s.mu.RUnlock()
		return reply, nil
	}
	if err := s.Leave(sessionID); err != nil {
		return protocol.Message{}, err
	}
	return s.Join(sessionID, channel)
}

// Leave detaches a session from its current channel.
func (s *State) Leave(sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return errKind(protocol.ErrNotRegistered)
	}
	channel := s.detachLocked(sess)
	s.mu.Unlock()

	if channel != "" {
		s.logger.Info("user left channel", "name", sess.Name, "channel", channel)
		s.broadcastToChannel(channel, protocol.Message{Type: protocol.TypeUserLeft, Name: sess.Name, Channel: channel}, sess.ID)
		s.syncMixer(channel)
	}
	return nil
}

// SetTalking sets the push-to-talk flag and broadcasts it to the channel.
func (s *State) SetTalking(sessionID string, talking bool) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Channel == "" {
		s.mu.Unlock()
		return errKind(protocol.ErrNotRegistered)
	}
	ch := s.channels[sess.Channel]
	m := ch.Members[sess.Name]
	m.Talking = talking
	channel := ch.Name
	s.mu.Unlock()

	s.broadcastToChannel(channel, protocol.Message{Type: protocol.TypeTalking, Name: sess.Name, Talking: protocol.Bool(talking)}, sessionID)
	return nil
}

// SetMuted sets the mute flag; only the requesting session is notified.
func (s *State) SetMuted(sessionID string, muted bool) (protocol.Message, error) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Channel == "" {
		s.mu.Unlock()
		return protocol.Message{}, errKind(protocol.ErrNotRegistered)
	}
	ch := s.channels[sess.Channel]
	ch.Members[sess.Name].Muted = muted
	s.mu.Unlock()

	s.logger.Debug("mute updated", "name", sess.Name, "channel", sess.Channel, "muted", muted)
	return protocol.Message{Type: protocol.TypeMuted, Muted: protocol.Bool(muted)}, nil
}

// Ping refreshes a session's liveness deadline (§4.7).
func (s *State) Ping(sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		sess.LastPingAt = time.Now()
	}
	s.mu.Unlock()
	if !ok {
		return errKind(protocol.ErrNotRegistered)
	}
	return nil
}

// PushFrame enqueues an inbound binary frame onto the sender's jitter
// buffer. Gating per §4.6: the sender must be registered-in-channel,
// unmuted, and marked talking; any violation is a silent drop (decoded
// length is validated by the caller before this is reached).
func (s *State) PushFrame(sessionID string, f audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || sess.Channel == "" {
		return
	}
	ch, ok := s.channels[sess.Channel]
	if !ok {
		return
	}
	m, ok := ch.Members[sess.Name]
	if !ok || m.Muted || !m.Talking {
		return
	}
	m.Queue.Push(f)
}

// broadcastAll sends msg to every registered session.
func (s *State) broadcastAll(msg protocol.Message) {
	s.mu.RLock()
	targets := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.Name != "" {
			targets = append(targets, sess)
		}
	}
	s.mu.RUnlock()
	for _, sess := range targets {
		s.trySend(sess, Outbound{JSON: &msg})
	}
}

// broadcastToChannel sends msg to every member of channel except exclude.
func (s *State) broadcastToChannel(channel string, msg protocol.Message, exclude string) {
	s.mu.RLock()
	ch, ok := s.channels[channel]
	var targets []*Session
	if ok {
		targets = make([]*Session, 0, len(ch.Members))
		for _, m := range ch.Members {
			if m.Session.ID != exclude {
				targets = append(targets, m.Session)
			}
		}
	}
	s.mu.RUnlock()
	for _, sess := range targets {
		s.trySend(sess, Outbound{JSON: &msg})
	}
}

// trySend enqueues out onto sess's outbound channel, dropping it if the
// channel is full past SendTimeout or already closed. A full or dead
// transport must never stall a signalling handler, the mixer, or the
// watchdog (§5).
func (s *State) trySend(sess *Session, out Outbound) {
	if sess == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("send to closed session", "session", sess.ID, "recovered", r)
		}
	}()
	select {
	case sess.Send <- out:
	case <-time.After(SendTimeout):
		s.logger.Warn("dropped outbound message: send timeout", "session", sess.ID, "name", sess.Name)
	}
}

func closeQuietly(ch chan Outbound) {
	defer func() { _ = recover() }()
	close(ch)
}

// syncMixer tells the wired Mixer (if any) to reconcile its ticking
// goroutine for channel against current occupancy (I5).
func (s *State) syncMixer(channel string) {
	if s.mixer != nil {
		s.mixer.Sync(channel)
	}
}

// Uptime reports how long the registry has been running, for admin status.
func (s *State) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// channelOccupied reports whether channel exists and has at least one
// member. Used by the Mixer to decide whether its ticking goroutine for
// this channel should be running (I5).
func (s *State) channelOccupied(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[channel]
	return ok && len(ch.Members) > 0
}
