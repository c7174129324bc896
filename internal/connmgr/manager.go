// Package connmgr implements the connection manager abstraction from
// spec.md §4.4: a client-mode and a server-mode implementation sharing one
// Manager interface, each mapping actor identities to a live Channel.
//
// Generalizes the teacher's two matching halves — server/internal/websocket
// (Hub + Client, the accept-and-fan-out side) and agent/internal/connection
// (Manager, the dial-and-reconnect side) — from a gRPC/pub-sub pairing into
// a single symmetric WebSocket Manager interface with a client and a server
// implementation.
package connmgr

import (
	"context"

	"github.com/arkeep-io/actormesh/internal/identity"
)

// OnChannelOpen is invoked once a channel reaches the Open state, in its own
// goroutine. The callback is expected to run the channel's read loop
// (internal/dispatch.Run) until the channel closes.
type OnChannelOpen func(ch *Channel)

// OnChannelClosed is invoked once a channel transitions to Closed, so the
// owner can fail every pending reply bound to it — spec.md §4.4's "All
// transitions to Closed must trigger pendingReplies.failAll".
type OnChannelClosed func(node *identity.NodeID, err error)

// Manager maps ActorID to a live Channel, in either client or server mode —
// spec.md §4.4.
type Manager interface {
	// LocalPort returns the TCP port this manager is bound to (server mode)
	// or dialing (client mode).
	LocalPort() int

	// SelectChannel returns the channel that should carry a call to actor,
	// blocking until one is available if necessary. Fails with
	// rpcerr.NoChannelToNode or rpcerr.MissingNodeID, or with ctx's error if
	// ctx ends while waiting.
	SelectChannel(ctx context.Context, actor identity.ActorID) (*Channel, error)

	// Associate records that channel belongs to node — called once a peer
	// self-identifies via its first Call. The most recently associated
	// channel for a given node wins; any channel it replaces is closed and
	// its pending replies are failed (spec.md §9 "one channel per node").
	Associate(node identity.NodeID, ch *Channel)

	// Cancel shuts down every channel the manager holds and stops accepting
	// new ones. Idempotent.
	Cancel()
}
