// Package wire defines the envelope carried inside every WebSocket text
// frame and its JSON codec. The shape here is part of the ABI — see
// spec.md §6 for the exact wire format each variant must round-trip.
//
// JSON example of each variant:
//
//	{"call":    {"callID":"<uuid>","recipient":{"nodeID":"<uuid>?","id":"<str>"},
//	             "invocationTarget":"<str>","genericSubs":["<str>",…],
//	             "args":["<base64>",…]}}
//	{"reply":   {"callID":"<uuid>","sender":{"nodeID":"<uuid>","id":"<str>"},"value":"<base64>"}}
//	{"connectionClose": {}}
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/arkeep-io/actormesh/internal/identity"
	"github.com/arkeep-io/actormesh/internal/rpcerr"
)

// RemoteCallEnvelope carries one outbound method invocation. args are
// pre-encoded per argument by the caller; the wire layer never interprets
// their contents — see spec.md §3.
type RemoteCallEnvelope struct {
	CallID           identity.CallID  `json:"callID"`
	Recipient        identity.ActorID `json:"recipient"`
	InvocationTarget string           `json:"invocationTarget"`
	GenericSubs      []string         `json:"genericSubs,omitempty"`
	Args             [][]byte         `json:"args"`
}

// ReplyEnvelope carries the result of one call back to its caller. Value is
// the JSON-encoded return value, or empty for a void or error reply.
//
// TODO(spec.md §9): extend with an error tag ({ok:bytes}|{err:{kind,message}})
// so a thrown error is distinguishable on the wire from a legitimate void
// return. Not implemented — spec.md treats this as a recommendation for a
// future revision, not a requirement of the current wire shape.
type ReplyEnvelope struct {
	CallID identity.CallID   `json:"callID"`
	Sender *identity.ActorID `json:"sender,omitempty"`
	Value  []byte            `json:"value"`
}

// WireEnvelope is the tagged union transmitted as a single JSON object per
// text frame. Exactly one of Call, Reply, or ConnectionClose is set; the
// discriminating key is the enclosing JSON object's lone field name.
type WireEnvelope struct {
	Call            *RemoteCallEnvelope `json:"call,omitempty"`
	Reply           *ReplyEnvelope      `json:"reply,omitempty"`
	ConnectionClose *struct{}           `json:"connectionClose,omitempty"`
}

// CallEnvelope wraps e as a Call-tagged WireEnvelope.
func CallEnvelope(e RemoteCallEnvelope) WireEnvelope {
	return WireEnvelope{Call: &e}
}

// ReplyEnvelopeTag wraps e as a Reply-tagged WireEnvelope.
func ReplyEnvelopeTag(e ReplyEnvelope) WireEnvelope {
	return WireEnvelope{Reply: &e}
}

// ConnectionCloseEnvelope returns a ConnectionClose-tagged WireEnvelope.
func ConnectionCloseEnvelope() WireEnvelope {
	return WireEnvelope{ConnectionClose: &struct{}{}}
}

// HandshakeTarget is the reserved invocationTarget a newly-opened client
// channel calls immediately to self-identify: its sole argument is the
// caller's own NodeID. The dispatcher intercepts calls to this target before
// registry resolution — spec.md §4.4's "When a node self-identifies (first
// call received from it), associate records the mapping" names the event
// but not the mechanism; this is actormesh's concrete choice, recorded as
// an Open Question decision in DESIGN.md.
const HandshakeTarget = "$actormesh.identify"

// Tag names the three variants for logging.
type Tag string

const (
	TagCall            Tag = "call"
	TagReply           Tag = "reply"
	TagConnectionClose Tag = "connectionClose"
	TagUnknown         Tag = "unknown"
)

// Tag reports which variant e carries. Forward compatibility: an envelope
// decoded from a future, unrecognized tag reports TagUnknown rather than
// failing to decode — spec.md §4.1 says unknown tags are logged and dropped,
// never fatal.
func (e WireEnvelope) Tag() Tag {
	switch {
	case e.Call != nil:
		return TagCall
	case e.Reply != nil:
		return TagReply
	case e.ConnectionClose != nil:
		return TagConnectionClose
	default:
		return TagUnknown
	}
}

// Encode serializes e as the single JSON object that goes out as one text
// frame's payload.
func Encode(e WireEnvelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, &rpcerr.DecodingError{Inner: fmt.Errorf("encoding envelope: %w", err)}
	}
	return b, nil
}

// Decode parses one text frame's payload into a WireEnvelope. A frame
// carrying none of the known tags decodes successfully with Tag() ==
// TagUnknown rather than erroring, so the dispatcher can log-and-drop it per
// spec.md's forward-compatibility rule rather than treating it as a protocol
// error.
func Decode(data []byte) (WireEnvelope, error) {
	var e WireEnvelope
	if err := json.Unmarshal(data, &e); err != nil {
		return WireEnvelope{}, &rpcerr.DecodingError{Inner: fmt.Errorf("decoding envelope: %w", err)}
	}
	return e, nil
}
