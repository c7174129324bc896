package actormesh

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/arkeep-io/actormesh/internal/identity"
	"github.com/arkeep-io/actormesh/internal/pendingreply"
	"github.com/arkeep-io/actormesh/internal/registry"
	"github.com/arkeep-io/actormesh/internal/wire"
)

// RemoteCall invokes target on actor and decodes its reply as Res — spec.md
// §4.7's remoteCall. It selects a channel for actor, encodes args, writes a
// Call envelope, and suspends on the pending-reply table until a Reply
// arrives, the call times out, or ctx is cancelled.
func RemoteCall[Res any](ctx context.Context, s *System, actor ActorID, target string, genericSubs []string, args ...any) (Res, error) {
	var zero Res

	argBytes, err := encodeArgs(args)
	if err != nil {
		return zero, err
	}

	data, err := s.invoke(ctx, actor, target, genericSubs, argBytes)
	if err != nil {
		return zero, err
	}

	var res Res
	if err := decodeReply(data, &res); err != nil {
		return zero, &FailedDecodingResponse{Data: data, Inner: err}
	}
	return res, nil
}

// RemoteCallVoid is RemoteCall for a target with no meaningful return value;
// the reply bytes are discarded without being decoded. A target that threw
// replies with an empty value, so its error is not reported here.
func RemoteCallVoid(ctx context.Context, s *System, actor ActorID, target string, genericSubs []string, args ...any) error {
	argBytes, err := encodeArgs(args)
	if err != nil {
		return err
	}
	_, err = s.invoke(ctx, actor, target, genericSubs, argBytes)
	return err
}

func encodeArgs(args []any) ([][]byte, error) {
	encoded := make([][]byte, len(args))
	for i, a := range args {
		b, err := wire.EncodeArgument(a)
		if err != nil {
			return nil, err
		}
		encoded[i] = b
	}
	return encoded, nil
}

func decodeReply(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// invoke performs steps 1-2 of spec.md §4.7's remoteCall: select a channel,
// allocate a CallID, write the Call envelope, and await the reply.
func (s *System) invoke(ctx context.Context, actor ActorID, target string, genericSubs []string, argBytes [][]byte) ([]byte, error) {
	ch, err := s.manager.SelectChannel(ctx, actor)
	if err != nil {
		return nil, err
	}

	var node *identity.NodeID
	if actor.NodeID != nil {
		n := *actor.NodeID
		node = &n
	}

	if s.metrics != nil {
		s.metrics.SetPendingCalls(s.pending.Len() + 1)
	}

	data, err := s.pending.SendMessageForNode(ctx, node, s.cfg.CallTimeout, func(callID identity.CallID) error {
		return ch.WriteEnvelope(wire.CallEnvelope(wire.RemoteCallEnvelope{
			CallID:           callID,
			Recipient:        actor,
			InvocationTarget: target,
			GenericSubs:      genericSubs,
			Args:             argBytes,
		}))
	})

	if s.metrics != nil {
		s.metrics.SetPendingCalls(s.pending.Len())
		if errors.Is(err, pendingreply.ErrTimeout) {
			s.metrics.IncReplyTimeout()
		}
	}

	return data, err
}

// MakeActor assigns a fresh ActorID for actorType, builds the actor with
// factory, registers it, and returns it — spec.md §4.1's makeActor(factory:).
func MakeActor[T registry.Invocable](ctx context.Context, s *System, actorType string, factory func(id ActorID) T) T {
	id := s.registry.AssignID(ctx, actorType)
	actor := factory(id)
	s.registry.ActorReady(actor)
	return actor
}

// MakeActorWithID is MakeActor with a forced id — spec.md §4.1's
// makeActor(id:,factory:). It is a fatal precondition violation for id to
// already be registered.
func MakeActorWithID[T registry.Invocable](ctx context.Context, s *System, id ActorID, factory func(id ActorID) T) T {
	return MakeActor(WithIDHint(ctx, id), s, "explicit", factory)
}

// ResignID removes actor's registration, e.g. when it is being torn down.
func ResignID(s *System, id ActorID) { s.registry.ResignID(id) }

// Resolve looks up id in s's local registry and type-asserts it to T.
func Resolve[T any](ctx context.Context, s *System, id ActorID) (T, bool, error) {
	return registry.Resolve[T](s.registry, ctx, id)
}
