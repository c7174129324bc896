package dispatch

import (
	"time"

	"go.uber.org/zap"

	"github.com/arkeep-io/actormesh/internal/connmgr"
	"github.com/arkeep-io/actormesh/internal/identity"
	"github.com/arkeep-io/actormesh/internal/wire"
)

// resultHandler implements wire.ResultHandler, bound to one call's
// {callID, channel} — spec.md §4.7. It is handed to the target's Invoke
// method and is the only way that method can produce a reply.
type resultHandler struct {
	ch      *connmgr.Channel
	callID  identity.CallID
	sender  identity.ActorID
	metrics connmgr.Metrics
	started time.Time
	logger  *zap.Logger
}

func newResultHandler(ch *connmgr.Channel, callID identity.CallID, sender identity.ActorID, metrics connmgr.Metrics, started time.Time, logger *zap.Logger) *resultHandler {
	return &resultHandler{ch: ch, callID: callID, sender: sender, metrics: metrics, started: started, logger: logger}
}

func (h *resultHandler) observe() {
	if h.metrics != nil {
		h.metrics.ObserveCallLatency(time.Since(h.started))
	}
}

// OnReturn encodes value and sends a Reply carrying it.
func (h *resultHandler) OnReturn(value any) error {
	defer h.observe()
	data, err := wire.EncodeArgument(value)
	if err != nil {
		return err
	}
	sender := h.sender
	return h.ch.WriteEnvelope(wire.ReplyEnvelopeTag(wire.ReplyEnvelope{
		CallID: h.callID,
		Sender: &sender,
		Value:  data,
	}))
}

// OnReturnVoid sends a Reply with an empty value.
func (h *resultHandler) OnReturnVoid() error {
	defer h.observe()
	sender := h.sender
	return h.ch.WriteEnvelope(wire.ReplyEnvelopeTag(wire.ReplyEnvelope{
		CallID: h.callID,
		Sender: &sender,
		Value:  []byte{},
	}))
}

// OnThrow sends a Reply with an empty value — see the TODO on
// wire.ReplyEnvelope: the error itself is not (yet) carried over the wire.
func (h *resultHandler) OnThrow(err error) error {
	defer h.observe()
	h.logger.Info("replying empty value for thrown error", zap.Error(err))
	sender := h.sender
	return h.ch.WriteEnvelope(wire.ReplyEnvelopeTag(wire.ReplyEnvelope{
		CallID: h.callID,
		Sender: &sender,
		Value:  []byte{},
	}))
}
