// Package dispatch implements the per-channel frame reader loop from
// spec.md §4.6: it decodes WireEnvelopes from text frames, answers ping
// frames with pong, echoes close frames, and routes Call envelopes to the
// registry and Reply envelopes to the pending-reply table — all without
// ever blocking on a single call's execution.
//
// Generalizes the teacher's server/internal/websocket/client.go readPump
// (SetReadDeadline/SetPongHandler/ReadMessage loop) from "discard everything
// but liveness frames" to full envelope decode-and-route, and
// birpc.Endpoint.Serve's two-goroutine ping/read shape
// (other_examples/xiqingping-birpc) for spawning call execution off the
// read loop.
package dispatch

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arkeep-io/actormesh/internal/connmgr"
	"github.com/arkeep-io/actormesh/internal/identity"
	"github.com/arkeep-io/actormesh/internal/pendingreply"
	"github.com/arkeep-io/actormesh/internal/registry"
	"github.com/arkeep-io/actormesh/internal/wire"
)

// maxMessageSize bounds a single incoming text frame. Envelopes are small
// (a call's args are pre-encoded and typically modest); this matches the
// teacher's defensive read limit in spirit, scaled up for call payloads
// instead of the teacher's control-frame-only traffic.
const maxMessageSize = 1 << 20

const pongWait = 60 * time.Second

// Dispatcher owns the registry and pending-reply table a channel's frames
// are routed into. One Dispatcher is shared by every channel the system
// manages — spec.md §5 ("dispatch of each inbound call is a fresh task that
// may run in parallel with the reader and with other dispatches").
type Dispatcher struct {
	registry *registry.Registry
	pending  *pendingreply.Table
	metrics  connmgr.Metrics
	logger   *zap.Logger

	// onIdentify is invoked when a channel's handshake call arrives,
	// reporting the peer's self-announced node. Only set in server mode —
	// a client manager has exactly one channel and already knows who it
	// dialed.
	onIdentify func(node identity.NodeID, ch *connmgr.Channel)
}

// New creates a Dispatcher bound to reg and pending. onIdentify may be nil
// (client mode).
func New(reg *registry.Registry, pending *pendingreply.Table, metrics connmgr.Metrics, onIdentify func(identity.NodeID, *connmgr.Channel), logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry:   reg,
		pending:    pending,
		metrics:    metrics,
		logger:     logger.Named("dispatch"),
		onIdentify: onIdentify,
	}
}

// Run is the per-channel read loop — spec.md §4.6. It blocks until the
// channel closes, for any reason. Intended to be passed as a
// connmgr.OnChannelOpen callback.
func (d *Dispatcher) Run(ch *connmgr.Channel) {
	conn := ch.Conn()
	conn.SetReadLimit(maxMessageSize)

	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		d.logger.Warn("failed to set initial read deadline", zap.Error(err))
		return
	}

	conn.SetPingHandler(func(payload string) error {
		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return err
		}
		// spec.md §4.6: reply with pong echoing the payload, unmasked.
		return ch.Pong([]byte(payload))
	})
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetCloseHandler(func(code int, _ string) error {
		// spec.md §4.6/§6: echo the received close code and terminate.
		return ch.EchoClose(code)
	})

	stopPings := make(chan struct{})
	defer close(stopPings)
	go func() {
		ticker := time.NewTicker((pongWait * 9) / 10)
		defer ticker.Stop()
		for {
			select {
			case <-stopPings:
				return
			case <-ticker.C:
				if err := ch.Ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				d.logger.Warn("channel read error", zap.Error(err))
			}
			_ = ch.Close()
			return
		}

		switch msgType {
		case websocket.TextMessage:
			d.handleText(ch, data)
		case websocket.BinaryMessage:
			// spec.md §4.6: binary and continuation frames are ignored.
		default:
			// gorilla/websocket surfaces only Text/Binary from ReadMessage
			// (control frames are consumed internally via the handlers set
			// above); any other opcode reaching here is a protocol error.
			d.logger.Warn("unexpected frame opcode, closing channel", zap.Int("opcode", msgType))
			_ = ch.CloseProtocolError()
			return
		}
	}
}

// handleText decodes one text frame as a WireEnvelope and routes it.
// Decode failures and unrecognized tags are logged and dropped — they never
// tear down the channel, per spec.md §7's propagation policy.
func (d *Dispatcher) handleText(ch *connmgr.Channel, data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		d.logger.Warn("failed to decode envelope, dropping frame", zap.Error(err))
		return
	}

	switch env.Tag() {
	case wire.TagCall:
		call := *env.Call
		go d.handleCall(ch, call)
	case wire.TagReply:
		reply := *env.Reply
		d.pending.ReceivedReply(reply.CallID, reply.Value)
	case wire.TagConnectionClose:
		_ = ch.Close()
	default:
		d.logger.Warn("unknown envelope tag, dropping frame")
	}
}

// handleCall resolves the call's recipient and executes the target — spec.md
// §4.6. It runs in its own goroutine per call so a slow or misbehaving
// target never stalls the reader loop or other concurrent calls.
func (d *Dispatcher) handleCall(ch *connmgr.Channel, call wire.RemoteCallEnvelope) {
	started := time.Now()
	ctx := context.Background()

	if call.InvocationTarget == wire.HandshakeTarget {
		d.handleHandshake(ctx, ch, call)
		return
	}

	actor, found := d.registry.ResolveAny(ctx, call.Recipient)
	if !found {
		d.logger.Warn("unknown call recipient, dropping",
			zap.String("actor_id", call.Recipient.String()),
			zap.String("call_id", call.CallID.String()),
		)
		return
	}

	handler := newResultHandler(ch, call.CallID, call.Recipient, d.metrics, started, d.logger)
	dec := wire.NewInvocationDecoder(call.GenericSubs, call.Args)

	if err := actor.Invoke(ctx, call.InvocationTarget, dec, handler); err != nil {
		d.logger.Info("target threw",
			zap.String("actor_id", call.Recipient.String()),
			zap.String("target", call.InvocationTarget),
			zap.Error(err),
		)
		if sendErr := handler.OnThrow(err); sendErr != nil {
			d.logger.Warn("failed to send throw reply", zap.Error(sendErr))
		}
	}
}

// handleHandshake decodes the caller's self-announced NodeID and associates
// it with ch, then replies void — see wire.HandshakeTarget.
func (d *Dispatcher) handleHandshake(ctx context.Context, ch *connmgr.Channel, call wire.RemoteCallEnvelope) {
	handler := newResultHandler(ch, call.CallID, call.Recipient, d.metrics, time.Now(), d.logger)

	dec := wire.NewInvocationDecoder(call.GenericSubs, call.Args)
	node, err := wire.DecodeNextArgument[identity.NodeID](dec)
	if err != nil {
		d.logger.Warn("malformed handshake call", zap.Error(err))
		_ = handler.OnThrow(err)
		return
	}

	if d.onIdentify != nil {
		d.onIdentify(node, ch)
	}
	_ = handler.OnReturnVoid()
}
