package task

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Registry routes task identifiers to their owning actor. One actor exists
// per identifier, created lazily and addressed deterministically; routing
// the same id always yields the same instance, which is what serializes all
// mutation of that task's state.
type Registry struct {
	store  StateStore
	deps   Deps
	logger *zap.Logger

	mu     sync.Mutex
	actors map[string]*Actor
}

// NewRegistry builds a Registry over the given state store and shared
// pipeline dependencies.
func NewRegistry(store StateStore, deps Deps, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:  store,
		deps:   deps,
		logger: logger,
		actors: make(map[string]*Actor),
	}
}

// Obtain returns the actor owning id, creating it on first use. Whether
// the id names an initialized task is the actor's concern, not the
// registry's; Status on a fresh actor reports ErrNotFound.
func (r *Registry) Obtain(id string) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if actor, ok := r.actors[id]; ok {
		return actor
	}
	actor := NewActor(id, r.store.Scope(id), r.deps, r.logger)
	r.actors[id] = actor
	return actor
}

// Snapshot reads the committed state of id without retaining anything.
// Unlike Obtain, a probe for an unknown id leaves the registry untouched,
// so polling arbitrary ids cannot grow the actor map.
func (r *Registry) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	r.mu.Lock()
	actor, ok := r.actors[id]
	r.mu.Unlock()
	if !ok {
		actor = NewActor(id, r.store.Scope(id), r.deps, r.logger)
	}
	return actor.Status(ctx)
}

// Size returns the number of live actor instances.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}
