package core

import (
	"time"

	"walkietalkie/internal/audio"
	"walkietalkie/internal/protocol"
)

// AdminOwner is the sentinel owner name for channels created through the
// admin surface rather than the signalling protocol (§3, §9).
const AdminOwner = "admin"

// Outbound is one item on a Session's send queue: either a JSON control
// message or a raw binary PCM frame. Exactly one of the two is set. The
// transport layer drains these in order to preserve per-session ordering.
type Outbound struct {
	JSON   *protocol.Message
	Binary []byte
}

// Session is one live connection, per §3. Name is empty until the first
// successful register. ID is an internal connection handle (not part of
// the wire protocol) used as the session-table key before a name exists
// and while a channel's members are keyed by name.
type Session struct {
	ID          string
	Name        string
	Channel     string
	ConnectedAt time.Time
	LastPingAt  time.Time

	Send chan Outbound
}

// Membership is one entry in a Channel's member table, per §3.
type Membership struct {
	Session *Session
	Queue   *audio.Jitter
	Talking bool
	Muted   bool
}

// Channel is one named, persistent channel, per §3. It outlives emptiness;
// only close_channel/admin-delete removes it.
type Channel struct {
	Name    string
	Owner   string
	Members map[string]*Membership // keyed by member (session) name
}
