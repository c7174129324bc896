// Package identity defines the process- and actor-level identifiers shared
// by every other layer of actormesh: NodeID names a participating process,
// ActorID names an addressable object within a node, and CallID correlates
// an outbound call with its eventual reply.
package identity

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// NodeID is an opaque, globally unique identifier for a process participating
// in the actor system. Two NodeIDs are equal iff they name the same process.
type NodeID struct {
	value uuid.UUID
}

// NewNodeID returns a fresh, randomly generated NodeID.
func NewNodeID() NodeID {
	return NodeID{value: uuid.New()}
}

// ParseNodeID parses a NodeID previously produced by String or MarshalJSON.
func ParseNodeID(s string) (NodeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("identity: invalid node id %q: %w", s, err)
	}
	return NodeID{value: u}, nil
}

func (n NodeID) String() string { return n.value.String() }

// IsZero reports whether n is the zero value (never assigned).
func (n NodeID) IsZero() bool { return n.value == uuid.Nil }

func (n NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.value.String())
}

func (n *NodeID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("identity: invalid node id %q: %w", s, err)
	}
	n.value = u
	return nil
}

// CallID uniquely identifies one outbound call within a node. A 128-bit
// random value is sufficient to avoid collisions for the lifetime of the
// node — see spec.md §3.
type CallID struct {
	value uuid.UUID
}

// NewCallID returns a fresh, randomly generated CallID.
func NewCallID() CallID {
	return CallID{value: uuid.New()}
}

func (c CallID) String() string { return c.value.String() }

func (c CallID) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.value.String())
}

func (c *CallID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("identity: invalid call id %q: %w", s, err)
	}
	c.value = u
	return nil
}

// ActorID is the pair (nodeID, id) that names an addressable actor. id is
// unique within its node; nodeID is nil only for an ActorID that has not yet
// been handed to actorReady — every actor stored in the registry carries a
// non-nil nodeID (spec.md §4.1). The one ActorID sent over the wire without a
// nodeID is the zero ActorID that the client-mode handshake call (see
// wire.HandshakeTarget) is addressed to.
//
// Once assigned to a created actor, an ActorID is never reused by that node.
type ActorID struct {
	NodeID *NodeID `json:"nodeID,omitempty"`
	ID     string  `json:"id"`
}

// NewActorID generates a fresh, randomly-unique local id string tagged with
// node. Use WithNodeID to force a specific id (the §4.1 `makeActor(id:,factory:)`
// path).
func NewActorID(node NodeID) ActorID {
	n := node
	return ActorID{NodeID: &n, ID: uuid.NewString()}
}

// WithNodeID returns a copy of id with NodeID set to node. Used when a
// caller must force a specific string id (e.g. a well-known singleton actor)
// while still tagging it with the local node, per spec.md §4.1.
func WithNodeID(id string, node NodeID) ActorID {
	n := node
	return ActorID{NodeID: &n, ID: id}
}

// HasNode reports whether a the actor id carries a node tag. A send to an
// ActorID lacking one must be rejected — spec.md §4.1.
func (a ActorID) HasNode() bool { return a.NodeID != nil }

// Equal reports whether a and b name the same actor: full-pair equality,
// per spec.md §3.
func (a ActorID) Equal(b ActorID) bool {
	if a.ID != b.ID {
		return false
	}
	if a.NodeID == nil || b.NodeID == nil {
		return a.NodeID == nil && b.NodeID == nil
	}
	return a.NodeID.value == b.NodeID.value
}

// Key returns a comparable value suitable for use as a map key — Go cannot
// use a struct containing a pointer field as a deterministic map key, so the
// registry keys on Key() rather than ActorID directly.
func (a ActorID) Key() string {
	if a.NodeID == nil {
		return "~/" + a.ID
	}
	return a.NodeID.String() + "/" + a.ID
}

func (a ActorID) String() string {
	if a.NodeID == nil {
		return a.ID
	}
	return a.NodeID.String() + "/" + a.ID
}
