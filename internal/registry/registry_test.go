package registry

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/arkeep-io/actormesh/internal/identity"
	"github.com/arkeep-io/actormesh/internal/rpcerr"
	"github.com/arkeep-io/actormesh/internal/wire"
)

type fakeActor struct {
	id identity.ActorID
}

func (a *fakeActor) ActorID() identity.ActorID { return a.id }
func (a *fakeActor) Invoke(context.Context, string, *wire.InvocationDecoder, wire.ResultHandler) error {
	return nil
}

type otherActor struct {
	id identity.ActorID
}

func (a *otherActor) ActorID() identity.ActorID { return a.id }
func (a *otherActor) Invoke(context.Context, string, *wire.InvocationDecoder, wire.ResultHandler) error {
	return nil
}

func TestAssignIDGeneratesFreshID(t *testing.T) {
	node := identity.NewNodeID()
	r := New(node, nil, zap.NewNop())

	id := r.AssignID(context.Background(), "fakeActor")
	if !id.HasNode() {
		t.Fatal("assigned id must carry a node tag")
	}
}

func TestAssignIDHonorsHint(t *testing.T) {
	node := identity.NewNodeID()
	r := New(node, nil, zap.NewNop())
	hint := identity.WithNodeID("well-known", node)

	id := r.AssignID(WithIDHint(context.Background(), hint), "fakeActor")
	if !id.Equal(hint) {
		t.Fatalf("got %v, want hint %v", id, hint)
	}
}

func TestAssignIDPanicsOnHintCollision(t *testing.T) {
	node := identity.NewNodeID()
	r := New(node, nil, zap.NewNop())
	hint := identity.WithNodeID("well-known", node)
	r.ActorReady(&fakeActor{id: hint})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on id hint collision")
		}
	}()
	r.AssignID(WithIDHint(context.Background(), hint), "fakeActor")
}

func TestActorReadyAndResolve(t *testing.T) {
	node := identity.NewNodeID()
	r := New(node, nil, zap.NewNop())
	id := identity.NewActorID(node)
	actor := &fakeActor{id: id}
	r.ActorReady(actor)

	got, found, err := Resolve[*fakeActor](r, context.Background(), id)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !found {
		t.Fatal("expected actor to be found")
	}
	if got != actor {
		t.Fatal("resolved actor does not match registered actor")
	}
}

func TestResolveNotFound(t *testing.T) {
	node := identity.NewNodeID()
	r := New(node, nil, zap.NewNop())

	_, found, err := Resolve[*fakeActor](r, context.Background(), identity.NewActorID(node))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected not found for unregistered id")
	}
}

func TestResolveWrongTypeReturnsError(t *testing.T) {
	node := identity.NewNodeID()
	r := New(node, nil, zap.NewNop())
	id := identity.NewActorID(node)
	r.ActorReady(&fakeActor{id: id})

	_, found, err := Resolve[*otherActor](r, context.Background(), id)
	if found {
		t.Fatal("must not report found for a type mismatch")
	}
	if err == nil {
		t.Fatal("expected a ResolveFailedToMatchActorType error")
	}
}

func TestResignIDRemovesActor(t *testing.T) {
	node := identity.NewNodeID()
	r := New(node, nil, zap.NewNop())
	id := identity.NewActorID(node)
	r.ActorReady(&fakeActor{id: id})
	r.ResignID(id)

	_, found, _ := Resolve[*fakeActor](r, context.Background(), id)
	if found {
		t.Fatal("expected actor to be gone after ResignID")
	}
}

func TestOnDemandResolve(t *testing.T) {
	node := identity.NewNodeID()
	target := identity.NewActorID(node)
	var calls int

	r := New(node, func(ctx context.Context, id identity.ActorID) (Invocable, bool) {
		calls++
		if !id.Equal(target) {
			return nil, false
		}
		return &fakeActor{id: id}, true
	}, zap.NewNop())

	got, found, err := Resolve[*fakeActor](r, context.Background(), target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected on-demand resolve to succeed")
	}
	if !got.ActorID().Equal(target) {
		t.Fatal("on-demand actor has wrong id")
	}
	if calls != 1 {
		t.Fatalf("on-demand handler called %d times, want 1", calls)
	}

	// A second resolve should hit the now-registered entry, not the handler.
	if _, _, err := Resolve[*fakeActor](r, context.Background(), target); err != nil {
		t.Fatalf("unexpected error on second resolve: %v", err)
	}
	if calls != 1 {
		t.Fatalf("on-demand handler called again on a now-registered id: %d calls", calls)
	}
}

func TestOnDemandWrongTypeReturnsResolveFailed(t *testing.T) {
	node := identity.NewNodeID()
	target := identity.NewActorID(node)

	r := New(node, func(ctx context.Context, id identity.ActorID) (Invocable, bool) {
		return &otherActor{id: id}, true
	}, zap.NewNop())

	_, found, err := Resolve[*fakeActor](r, context.Background(), target)
	if found {
		t.Fatal("must not report found for a type mismatch")
	}
	if _, ok := err.(*rpcerr.ResolveFailed); !ok {
		t.Fatalf("got %T, want *rpcerr.ResolveFailed", err)
	}
}

func TestOnDemandNotFound(t *testing.T) {
	node := identity.NewNodeID()
	r := New(node, func(context.Context, identity.ActorID) (Invocable, bool) {
		return nil, false
	}, zap.NewNop())

	_, found, err := Resolve[*fakeActor](r, context.Background(), identity.NewActorID(node))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected not found when on-demand handler declines")
	}
}
