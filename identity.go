package actormesh

import (
	"context"

	"github.com/arkeep-io/actormesh/internal/identity"
	"github.com/arkeep-io/actormesh/internal/registry"
	"github.com/arkeep-io/actormesh/internal/wire"
)

// NodeID names a process participating in the actor system.
type NodeID = identity.NodeID

// NewNodeID returns a fresh, randomly generated NodeID, suitable for
// Config.NodeID when a process doesn't need a stable identity across
// restarts.
func NewNodeID() NodeID { return identity.NewNodeID() }

// ParseNodeID parses a NodeID previously produced by NodeID.String.
func ParseNodeID(s string) (NodeID, error) { return identity.ParseNodeID(s) }

// ActorID names an addressable actor: the node it lives on plus an id
// unique within that node.
type ActorID = identity.ActorID

// CallID correlates one outbound call with its eventual reply.
type CallID = identity.CallID

// InvocationDecoder walks a call's pre-encoded argument list in order.
type InvocationDecoder = wire.InvocationDecoder

// DecodeNextArgument decodes the next positional argument of dec as T.
func DecodeNextArgument[T any](dec *InvocationDecoder) (T, error) {
	return wire.DecodeNextArgument[T](dec)
}

// ResultHandler is how a dispatched actor reports the outcome of a call.
type ResultHandler = wire.ResultHandler

// DistributedActor is the capability every actor registered with a System
// must implement, so the dispatcher can route a call to it without knowing
// its concrete type.
type DistributedActor = registry.Invocable

// WithIDHint returns a context carrying id as the hint the next MakeActor
// call made with it must use, instead of generating a fresh id.
func WithIDHint(ctx context.Context, id ActorID) context.Context {
	return registry.WithIDHint(ctx, id)
}
