// Package rpcerr is the error taxonomy shared by every actormesh layer —
// registry, connection manager, dispatcher, and the RPC surface all raise
// errors from this package so callers can type-switch or errors.Is against a
// single, stable set regardless of which layer produced the failure.
//
// Mirrors repositories.ErrNotFound / repositories.ErrConflict's
// sentinel-plus-errors.Is style for conditions with no payload, and adds
// struct error types (à la auth's claim-validation errors) for conditions
// that carry data a caller might want to inspect.
package rpcerr

import "fmt"

// Sentinel errors — conditions with no associated data. Check with errors.Is.
var (
	// ErrNoPeers means the manager has no live channels at all: a client
	// manager not yet connected, or a server manager with no clients.
	ErrNoPeers = fmt.Errorf("actormesh: no peers")

	// ErrFailedToUpgrade means the WebSocket handshake failed.
	ErrFailedToUpgrade = fmt.Errorf("actormesh: failed to upgrade to websocket")
)

// ResolveFailedToMatchActorType is raised when resolve finds a local actor
// under the requested id, but it does not implement the requested capability.
type ResolveFailedToMatchActorType struct {
	ID       string
	Found    string
	Expected string
}

func (e *ResolveFailedToMatchActorType) Error() string {
	return fmt.Sprintf("actormesh: actor %s is a %s, not the requested %s", e.ID, e.Found, e.Expected)
}

// ResolveFailed is raised when the on-demand handler answers with an actor of
// the wrong type.
type ResolveFailed struct {
	ID string
}

func (e *ResolveFailed) Error() string {
	return fmt.Sprintf("actormesh: on-demand resolve of %s returned a wrongly-typed actor", e.ID)
}

// MissingNodeID is raised when an outbound call targets an ActorID with no
// node tag — such an id can never be routed.
type MissingNodeID struct {
	ID string
}

func (e *MissingNodeID) Error() string {
	return fmt.Sprintf("actormesh: actor id %s has no node tag, cannot route", e.ID)
}

// NoChannelToNode is raised when no live channel exists for the node a call
// must be routed to, and none can be created (server mode requires the node
// to have connected first; a client manager that has exhausted reconnects
// also raises this).
type NoChannelToNode struct {
	NodeID string
}

func (e *NoChannelToNode) Error() string {
	return fmt.Sprintf("actormesh: no channel to node %s", e.NodeID)
}

// NotEnoughArgumentsInEnvelope is raised by the InvocationDecoder when a
// target tries to decode more positional arguments than the call carried.
type NotEnoughArgumentsInEnvelope struct {
	Expected int
}

func (e *NotEnoughArgumentsInEnvelope) Error() string {
	return fmt.Sprintf("actormesh: invocation envelope has fewer than %d argument(s)", e.Expected)
}

// FailedDecodingResponse is raised when RemoteCall cannot decode the reply
// bytes into the expected result type.
type FailedDecodingResponse struct {
	Data  []byte
	Inner error
}

func (e *FailedDecodingResponse) Error() string {
	return fmt.Sprintf("actormesh: failed decoding response (%d bytes): %v", len(e.Data), e.Inner)
}

func (e *FailedDecodingResponse) Unwrap() error { return e.Inner }

// DecodingError wraps any other argument/value decode failure.
type DecodingError struct {
	Inner error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("actormesh: decoding error: %v", e.Inner)
}

func (e *DecodingError) Unwrap() error { return e.Inner }

// MissingReplyContinuation names the condition of a reply arriving for a
// CallID with no pending slot — almost always a reply that arrived after its
// call already timed out. pendingreply.Table.ReceivedReply logs and drops
// such a reply without constructing this error.
type MissingReplyContinuation struct {
	CallID string
}

func (e *MissingReplyContinuation) Error() string {
	return fmt.Sprintf("actormesh: reply for unknown call id %s", e.CallID)
}
