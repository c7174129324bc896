package connmgr

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arkeep-io/actormesh/internal/identity"
	"github.com/arkeep-io/actormesh/internal/wire"
)

// State is a channel's position in the Connecting -> Open -> {Closing ->
// Closed | Closed} state machine from spec.md §4.4.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	// writeWait bounds a single frame write — matches the teacher's
	// server/internal/websocket/client.go writeWait.
	writeWait = 10 * time.Second

	// pongWait/pingPeriod mirror the teacher's liveness constants: the peer
	// must pong within pongWait of a ping, and pings go out often enough to
	// leave room for that round trip.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Channel wraps one WebSocket connection to a peer. gorilla/websocket
// connections are not safe for concurrent writes, so every outbound frame —
// envelope, pong, ping, or close — goes through the single writeMu-guarded
// WriteMessage call here, mirroring the teacher's "writePump is the only
// goroutine that writes to conn" discipline, just collapsed into a mutex
// instead of a dedicated pump goroutine since actormesh channels are
// written from multiple call sites (replies, pings, outbound calls) rather
// than a single hub fan-in.
type Channel struct {
	conn *websocket.Conn

	mu     sync.RWMutex
	node   *identity.NodeID
	state  State
	closed chan struct{}

	writeMu sync.Mutex

	closeOnce sync.Once
}

// NewChannel wraps conn as a Connecting channel. node is nil until the peer
// self-identifies (server mode); ClientManager always passes nil, and its
// channel's node stays nil because its Associate is a no-op.
func NewChannel(conn *websocket.Conn, node *identity.NodeID) *Channel {
	return &Channel{
		conn:   conn,
		node:   node,
		state:  StateConnecting,
		closed: make(chan struct{}),
	}
}

// State reports the channel's current lifecycle state.
func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetState transitions the channel to s.
func (c *Channel) SetState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// NodeID returns the node this channel is associated with, if known yet.
func (c *Channel) NodeID() *identity.NodeID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.node
}

// SetNodeID records which node this channel belongs to — called by
// Manager.Associate on first self-identification.
func (c *Channel) SetNodeID(node identity.NodeID) {
	c.mu.Lock()
	n := node
	c.node = &n
	c.mu.Unlock()
}

// Done is closed once the channel transitions to Closed.
func (c *Channel) Done() <-chan struct{} { return c.closed }

// WriteEnvelope JSON-encodes env and writes it as a single final text frame
// — spec.md §4.7's write(channel, envelope). ConnectionClose envelopes are
// sent as a close frame with code protocolError instead of a text frame.
func (c *Channel) WriteEnvelope(env wire.WireEnvelope) error {
	if env.Tag() == wire.TagConnectionClose {
		return c.closeWithCode(websocket.CloseProtocolError, nil)
	}
	payload, err := wire.Encode(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Pong writes an unmasked pong frame carrying payload — spec.md §4.6's ping
// handling ("Reply with pong echoing payload").
func (c *Channel) Pong(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.PongMessage, payload)
}

// Ping writes a ping frame with no payload. Used by the idle-liveness
// ticker, mirroring the teacher's writePump ping-on-ticker behavior.
func (c *Channel) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// EchoClose echoes a received close frame with the same code, then tears
// down the connection — spec.md §4.6, §6's close handling. A received frame
// without a code arrives as CloseNoStatusReceived, which is echoed with an
// empty payload; code 0 writes no close frame at all.
func (c *Channel) EchoClose(code int) error {
	return c.closeWithCode(code, nil)
}

// CloseProtocolError closes the channel with the protocolError close code,
// used when the dispatcher encounters a frame it cannot handle — spec.md
// §4.6's "any other: treat as protocol error; close channel".
func (c *Channel) CloseProtocolError() error {
	return c.closeWithCode(websocket.CloseProtocolError, nil)
}

func (c *Channel) closeWithCode(code int, reason []byte) error {
	c.SetState(StateClosing)
	c.writeMu.Lock()
	if code != 0 {
		msg := websocket.FormatCloseMessage(code, string(reason))
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
	}
	c.writeMu.Unlock()
	return c.Close()
}

// Close tears down the underlying connection and transitions the channel to
// Closed exactly once, closing Done().
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.SetState(StateClosed)
		err = c.conn.Close()
		close(c.closed)
	})
	return err
}

// Conn exposes the underlying connection for the read loop (dispatch
// package). Reads are single-threaded per channel by construction — only
// one dispatcher goroutine ever calls ReadMessage on a given Channel.
func (c *Channel) Conn() *websocket.Conn { return c.conn }
