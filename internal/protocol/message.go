// Package protocol defines the JSON signalling envelope exchanged over the
// websocket control channel. Binary messages on the same connection carry
// raw PCM frames and are not represented here.
package protocol

// Type is the discriminator carried in every signalling message.
type Type string

const (
	// Client -> server.
	TypeRegister      Type = "register"
	TypeCreateChannel Type = "create_channel"
	TypeJoin          Type = "join"
	TypeSwitch        Type = "switch"
	TypeLeave         Type = "leave"
	TypeCloseChannel  Type = "close_channel"
	TypeListChannels  Type = "list_channels"
	TypeTalking       Type = "talking"
	TypeMute          Type = "mute"
	TypePing          Type = "ping"

	// Server -> client.
	TypeRegistered     Type = "registered"
	TypeJoined         Type = "joined"
	TypeLeft           Type = "left"
	TypeMuted          Type = "muted"
	TypePong           Type = "pong"
	TypeUserJoined     Type = "user_joined"
	TypeUserLeft       Type = "user_left"
	TypeChannelCreated Type = "channel_created"
	TypeChannelDeleted Type = "channel_deleted"
	TypeChannelClosed  Type = "channel_closed"
	TypeChannels       Type = "channels"
	TypeKicked         Type = "kicked"
	TypeError          Type = "error"
)

// ErrorKind enumerates the error strings §7 requires the server to surface.
type ErrorKind string

const (
	ErrNotRegistered      ErrorKind = "NotRegistered"
	ErrEmptyName          ErrorKind = "EmptyName"
	ErrAlreadyExists      ErrorKind = "AlreadyExists"
	ErrNoSuchChannel      ErrorKind = "NoSuchChannel"
	ErrNameInUseInChannel ErrorKind = "NameInUseInChannel"
	ErrNotOwner           ErrorKind = "NotOwner"
	ErrUnknownType        ErrorKind = "UnknownType"
)

// ChannelInfo is the shape returned in `channels{list}` and `joined{}`.
type ChannelInfo struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

// Message is the single envelope type for every JSON control frame, in
// either direction. Fields are omitted from the wire when not relevant to
// the concrete Type being sent.
type Message struct {
	Type Type `json:"type"`

	Name    string `json:"name,omitempty"`
	Channel string `json:"channel,omitempty"`
	Owner   string `json:"owner,omitempty"`

	Channels []ChannelInfo `json:"channels,omitempty"`
	Users    []string      `json:"users,omitempty"`

	Talking *bool `json:"talking,omitempty"`
	Muted   *bool `json:"muted,omitempty"`

	Source  string `json:"source,omitempty"`
	Message string `json:"message,omitempty"`
}

// Bool is a convenience constructor for the pointer-typed Talking/Muted
// fields, which must distinguish "false" from "absent".
func Bool(b bool) *bool { return &b }
