// Package ws implements the bidirectional websocket transport: JSON
// control messages and binary PCM frames multiplexed on one connection,
// dispatched into the core signalling state machine.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"walkietalkie/internal/audio"
	"walkietalkie/internal/core"
	"walkietalkie/internal/protocol"
)

// controlRateLimit bounds inbound control messages per session: 50/s with
// a burst of 20, generous enough for legitimate signalling traffic while
// capping a misbehaving or hostile client.
const (
	controlRateLimit = 50
	controlRateBurst = 20
)

// writeWait bounds a single outbound write; readWait is the read deadline
// refreshed on every inbound frame. It is longer than the watchdog's 25s
// ping deadline, so the watchdog normally evicts a silent session first;
// the read deadline still closes a connection that delivers nothing.
const (
	writeWait = 5 * time.Second
	readWait  = 30 * time.Second
)

// Handler upgrades HTTP requests to websocket connections and serves the
// signalling + audio-frame protocol over them.
type Handler struct {
	state    *core.State
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// NewHandler constructs a Handler bound to state. Call state.SetKicker(h)
// so admin kicks and watchdog evictions terminate the live connection.
func NewHandler(state *core.State, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		state: state,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  audio.FrameBytes * 2,
			WriteBufferSize: audio.FrameBytes * 2,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
		logger: logger,
		conns:  make(map[string]*websocket.Conn),
	}
}

// Register binds the /ws route on e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.serveWS)
}

// Kick implements core.Kicker: it forcibly closes the named session's
// transport, which unblocks its read loop and triggers cleanup.
func (h *Handler) Kick(sessionID string) {
	h.mu.Lock()
	conn := h.conns[sessionID]
	h.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (h *Handler) serveWS(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return err
	}
	h.serveConn(conn)
	return nil
}

func (h *Handler) serveConn(conn *websocket.Conn) {
	sess := h.state.Connect()

	h.mu.Lock()
	h.conns[sess.ID] = conn
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, sess.ID)
		h.mu.Unlock()
		h.state.Disconnect(sess.ID)
		_ = conn.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(conn, sess)
	}()

	limiter := rate.NewLimiter(controlRateLimit, controlRateBurst)
	h.readLoop(conn, sess, limiter)

	wg.Wait()
}

// writeLoop drains sess.Send in order, preserving per-session outbound
// ordering (§5), until the channel is closed by State.Disconnect.
func (h *Handler) writeLoop(conn *websocket.Conn, sess *core.Session) {
	for out := range sess.Send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		var err error
		switch {
		case out.JSON != nil:
			err = conn.WriteJSON(out.JSON)
		case out.Binary != nil:
			err = conn.WriteMessage(websocket.BinaryMessage, out.Binary)
		}
		if err != nil {
			h.logger.Debug("write failed, closing connection", "session", sess.ID, "error", err)
			_ = conn.Close()
			return
		}
	}
}

// readLoop demultiplexes inbound text (JSON control) and binary (PCM
// frame) messages until the connection closes.
func (h *Handler) readLoop(conn *websocket.Conn, sess *core.Session, limiter *rate.Limiter) {
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		switch msgType {
		case websocket.TextMessage:
			if !limiter.Allow() {
				continue
			}
			h.handleControl(sess, data)
		case websocket.BinaryMessage:
			frame, err := audio.Decode(data)
			if err != nil {
				continue // wrong length: silent drop per §3
			}
			h.state.PushFrame(sess.ID, frame)
		}
	}
}

func (h *Handler) handleControl(sess *core.Session, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in control handler", "session", sess.ID, "panic", r)
		}
	}()

	var in protocol.Message
	if err := json.Unmarshal(data, &in); err != nil {
		return // malformed JSON: silently drop per §4.6
	}

	switch in.Type {
	case protocol.TypeRegister:
		reply, err := h.state.Register(sess.ID, in.Name)
		h.replyOrError(sess, reply, err)

	case protocol.TypeCreateChannel:
		if err := h.state.CreateChannel(sess.ID, in.Channel); err != nil {
			h.sendError(sess, err)
		}

	case protocol.TypeJoin:
		reply, err := h.state.Join(sess.ID, in.Channel)
		h.replyOrError(sess, reply, err)

	case protocol.TypeSwitch:
		reply, err := h.state.Switch(sess.ID, in.Channel)
		h.replyOrError(sess, reply, err)

	case protocol.TypeLeave:
		if err := h.state.Leave(sess.ID); err != nil {
			h.sendError(sess, err)
			return
		}
		h.send(sess, protocol.Message{Type: protocol.TypeLeft})

	case protocol.TypeCloseChannel:
		if err := h.state.CloseChannel(sess.ID, in.Channel); err != nil {
			h.sendError(sess, err)
		}

	case protocol.TypeListChannels:
		h.send(sess, protocol.Message{Type: protocol.TypeChannels, Channels: h.state.ListChannels()})

	case protocol.TypeTalking:
		talking := in.Talking != nil && *in.Talking
		if err := h.state.SetTalking(sess.ID, talking); err != nil {
			h.sendError(sess, err)
		}

	case protocol.TypeMute:
		muted := in.Muted != nil && *in.Muted
		reply, err := h.state.SetMuted(sess.ID, muted)
		h.replyOrError(sess, reply, err)

	case protocol.TypePing:
		if err := h.state.Ping(sess.ID); err != nil {
			h.sendError(sess, err)
			return
		}
		h.send(sess, protocol.Message{Type: protocol.TypePong})

	default:
		h.send(sess, protocol.Message{Type: protocol.TypeError, Message: "Unknown type: " + string(in.Type)})
	}
}

func (h *Handler) replyOrError(sess *core.Session, reply protocol.Message, err error) {
	if err != nil {
		h.sendError(sess, err)
		return
	}
	h.send(sess, reply)
}

func (h *Handler) sendError(sess *core.Session, err error) {
	msg := protocol.Message{Type: protocol.TypeError, Message: humanError(err)}
	h.send(sess, msg)
}

func (h *Handler) send(sess *core.Session, msg protocol.Message) {
	select {
	case sess.Send <- core.Outbound{JSON: &msg}:
	case <-time.After(writeWait):
		h.logger.Warn("dropped reply: send timeout", "session", sess.ID)
	}
}

// humanError renders a *core.Error's kind as the human string §7 requires;
// any other error (there should be none from the core package) falls back
// to its Go error text.
func humanError(err error) string {
	ce, ok := err.(*core.Error)
	if !ok {
		return err.Error()
	}
	switch ce.Kind {
	case protocol.ErrNotRegistered:
		return "Not registered"
	case protocol.ErrEmptyName:
		return "Name must not be empty"
	case protocol.ErrAlreadyExists:
		return "Channel already exists"
	case protocol.ErrNoSuchChannel:
		return "No such channel"
	case protocol.ErrNameInUseInChannel:
		return "Name already in use in that channel"
	case protocol.ErrNotOwner:
		return "Not the channel owner"
	default:
		return string(ce.Kind)
	}
}
