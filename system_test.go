package actormesh

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/arkeep-io/actormesh/internal/identity"
)

const echoTarget = "Echo.echo"

type echoActor struct {
	id ActorID
}

func (a *echoActor) ActorID() ActorID { return a.id }

func (a *echoActor) Invoke(ctx context.Context, target string, dec *InvocationDecoder, handler ResultHandler) error {
	msg, err := DecodeNextArgument[string](dec)
	if err != nil {
		return err
	}
	return handler.OnReturn(msg)
}

// TestEndToEndEchoCall wires a server System and a client System together
// over a real WebSocket and exercises spec.md §8 scenario 1: a client calls
// an actor living on the server and receives its reply.
func TestEndToEndEchoCall(t *testing.T) {
	serverNode := identity.NewNodeID()
	logger := zap.NewNop()

	server, err := NewSystem(Config{
		Mode:   ModeServer,
		NodeID: serverNode,
		Host:   "127.0.0.1",
		Port:   18911,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("NewSystem (server): %v", err)
	}
	defer server.ShutdownGracefully()

	actorID := ActorID{NodeID: &serverNode, ID: "echo"}
	MakeActorWithID(context.Background(), server, actorID, func(id ActorID) *echoActor {
		return &echoActor{id: id}
	})

	client, err := NewSystem(Config{
		Mode:   ModeClient,
		NodeID: identity.NewNodeID(),
		Host:   "127.0.0.1",
		Port:   18911,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("NewSystem (client): %v", err)
	}
	defer client.ShutdownGracefully()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := RemoteCall[string](ctx, client, actorID, echoTarget, nil, "hello")
	if err != nil {
		t.Fatalf("RemoteCall: %v", err)
	}
	if reply != "hello" {
		t.Fatalf("got %q, want %q", reply, "hello")
	}
}
