// Package registry implements the local actor table described in spec.md
// §4.5: ActorID -> managed actor handle, assignment of fresh or hinted ids,
// and resolution that falls back to a user-supplied on-demand handler before
// reporting "not local".
//
// Generalizes agentmanager.Manager's map[string]*ConnectedAgent registry
// (register/deregister/dispatch-by-id under one sync.RWMutex) to a
// type-checked, on-demand-resolving table keyed by the full ActorID pair.
package registry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/arkeep-io/actormesh/internal/identity"
	"github.com/arkeep-io/actormesh/internal/rpcerr"
	"github.com/arkeep-io/actormesh/internal/wire"
)

// Invocable is the opaque handle with a dispatch capability that the
// registry stores — spec.md §3's "ManagedActor entry". Any local actor
// registered with actorReady must implement it so the dispatcher can route
// a Call envelope to it without knowing its concrete type.
type Invocable interface {
	// ActorID returns the id this actor was registered under.
	ActorID() identity.ActorID

	// Invoke executes the method named by target on this actor, decoding
	// its arguments from dec. On success the method is responsible for
	// calling handler.OnReturn/OnReturnVoid itself and returning nil; a
	// non-nil return means the target errored and the dispatcher should
	// call handler.OnThrow.
	Invoke(ctx context.Context, target string, dec *wire.InvocationDecoder, handler wire.ResultHandler) error
}

// OnDemandHandler lazily materializes an actor the first time its id is
// referenced. It returns the actor (as Invocable, so the registry can store
// and later look it up) and whether it produced one at all.
type OnDemandHandler func(ctx context.Context, id identity.ActorID) (Invocable, bool)

type idHintKey struct{}

// WithIDHint returns a context carrying id as the task-scoped hint consumed
// by the next AssignID call made with it — spec.md §4.1, §4.5, §9. The hint
// is visible only within the extent of ctx; it is not global or durable.
func WithIDHint(ctx context.Context, id identity.ActorID) context.Context {
	return context.WithValue(ctx, idHintKey{}, id)
}

func idHintFrom(ctx context.Context) (identity.ActorID, bool) {
	id, ok := ctx.Value(idHintKey{}).(identity.ActorID)
	return id, ok
}

type reentrancyKey struct{}

func withReentrant(ctx context.Context) context.Context {
	return context.WithValue(ctx, reentrancyKey{}, true)
}

func isReentrant(ctx context.Context) bool {
	v, _ := ctx.Value(reentrancyKey{}).(bool)
	return v
}

// Registry is the local actor table, protected by a mutual-exclusion lock.
// The zero value is not usable — create instances with New.
type Registry struct {
	mu       sync.RWMutex
	actors   map[string]Invocable // keyed by identity.ActorID.Key()
	onDemand OnDemandHandler
	logger   *zap.Logger
	node     identity.NodeID
}

// New creates an empty Registry for node. onDemand may be nil if the system
// has no lazily-materialized actors.
func New(node identity.NodeID, onDemand OnDemandHandler, logger *zap.Logger) *Registry {
	return &Registry{
		actors:   make(map[string]Invocable),
		onDemand: onDemand,
		logger:   logger.Named("registry"),
		node:     node,
	}
}

// AssignID returns the ActorID a new actor of the given type should use. If
// ctx carries an id hint (see WithIDHint), it is returned — and it is a
// programming error, fatal to the process, for that id to already exist in
// the registry (spec.md §4.5's fatal precondition). Otherwise a fresh,
// randomly-unique id tagged with this node is generated.
func (r *Registry) AssignID(ctx context.Context, actorType string) identity.ActorID {
	if hint, ok := idHintFrom(ctx); ok {
		r.mu.RLock()
		_, exists := r.actors[hint.Key()]
		r.mu.RUnlock()
		if exists {
			panic(fmt.Sprintf("actormesh: id hint collision for %s (type %s) — id already registered", hint, actorType))
		}
		return hint
	}
	return identity.NewActorID(r.node)
}

// ActorReady inserts actor into the registry under its own ActorID.
func (r *Registry) ActorReady(actor Invocable) {
	id := actor.ActorID()
	r.mu.Lock()
	r.actors[id.Key()] = actor
	r.mu.Unlock()
	r.logger.Debug("actor ready", zap.String("actor_id", id.String()))
}

// ResignID removes the actor registered under id, if any.
func (r *Registry) ResignID(id identity.ActorID) {
	r.mu.Lock()
	delete(r.actors, id.Key())
	r.mu.Unlock()
	r.logger.Debug("actor resigned", zap.String("actor_id", id.String()))
}

// ResolveAny returns the untyped handle registered (or on-demand resolved)
// under id — used by the dispatcher to locate a call's recipient without
// knowing its concrete capability.
func (r *Registry) ResolveAny(ctx context.Context, id identity.ActorID) (Invocable, bool) {
	actor, found, _ := r.resolve(ctx, id)
	return actor, found
}

// Resolve looks up id and type-asserts the stored (or on-demand resolved)
// actor to T. Returns (zero, false, nil) if id is not local at all;
// (zero, false, err) if it is local but the wrong type. The two resolution
// paths raise distinct error types per spec.md §4.5: a mismatch on an actor
// already in the table is ResolveFailedToMatchActorType, while a mismatch on
// an actor the on-demand handler just produced is ResolveFailed.
func Resolve[T any](r *Registry, ctx context.Context, id identity.ActorID) (T, bool, error) {
	var zero T
	actor, found, viaOnDemand := r.resolve(ctx, id)
	if !found {
		return zero, false, nil
	}
	typed, ok := actor.(T)
	if ok {
		return typed, true, nil
	}
	if viaOnDemand {
		return zero, false, &rpcerr.ResolveFailed{ID: id.String()}
	}
	return zero, false, &rpcerr.ResolveFailedToMatchActorType{
		ID:       id.String(),
		Found:    fmt.Sprintf("%T", actor),
		Expected: fmt.Sprintf("%T", zero),
	}
}

// resolve implements spec.md §4.5's three-step lookup with the §9-preferred
// reentrancy strategy: the registry lock is held only for the direct-table
// lookup and, separately, for the on-demand-handler revalidation — never
// while the on-demand handler itself runs. That handler may call back into
// ActorReady/Resolve for related ids without deadlocking, because by the
// time it runs this goroutine holds no lock at all.
//
// The returned bool reports whether the hit came from the on-demand handler
// rather than the direct table, so Resolve[T] can raise the right error type
// on a mismatch. ctx also carries the reentrancy marker across a nested
// resolve-from-within-an-on-demand-handler call chain, logged at Debug level
// below; the split-lock design means nesting never needs to skip locking to
// avoid self-deadlock in the first place.
func (r *Registry) resolve(ctx context.Context, id identity.ActorID) (actor Invocable, found bool, viaOnDemand bool) {
	if isReentrant(ctx) {
		r.logger.Debug("resolve re-entered from within an on-demand handler", zap.String("actor_id", id.String()))
	}

	r.mu.RLock()
	actor, found = r.actors[id.Key()]
	r.mu.RUnlock()
	if found {
		return actor, true, false
	}

	if r.onDemand == nil {
		return nil, false, false
	}

	candidate, produced := r.onDemand(withReentrant(ctx), id)
	if !produced {
		return nil, false, false
	}

	// Revalidate: another goroutine may have registered this id for real
	// while the on-demand handler ran without holding the lock. The
	// genuinely-registered entry wins over the on-demand answer.
	r.mu.Lock()
	if existing, ok := r.actors[id.Key()]; ok {
		r.mu.Unlock()
		return existing, true, false
	}
	r.actors[id.Key()] = candidate
	r.mu.Unlock()

	return candidate, true, true
}
