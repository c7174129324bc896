package main

import (
	"context"
	"fmt"

	"github.com/arkeep-io/actormesh"
)

// echoTarget is the invocationTarget string the echo actor answers.
const echoTarget = "Echo.echo"

// echoActorID is the well-known id every actormesh-demo server registers
// its echo actor under, so a client only needs the server's NodeID to
// address it.
func echoActorID(node actormesh.NodeID) actormesh.ActorID {
	return actormesh.ActorID{NodeID: &node, ID: "echo"}
}

// echoActor implements actormesh.DistributedActor and answers echoTarget by
// returning its sole string argument unchanged.
type echoActor struct {
	id actormesh.ActorID
}

func newEchoActor(id actormesh.ActorID) *echoActor {
	return &echoActor{id: id}
}

func (a *echoActor) ActorID() actormesh.ActorID { return a.id }

func (a *echoActor) Invoke(ctx context.Context, target string, dec *actormesh.InvocationDecoder, handler actormesh.ResultHandler) error {
	switch target {
	case echoTarget:
		msg, err := actormesh.DecodeNextArgument[string](dec)
		if err != nil {
			return err
		}
		return handler.OnReturn(msg)
	default:
		return fmt.Errorf("actormesh-demo: echo actor has no method %q", target)
	}
}
