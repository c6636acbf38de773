package auth

import (
	"context"
	"sync"

	"huddle/client/internal/store"
)

// Identity is the read-only identity context shared by every component.
// It caches the current principal and fans out sign-in/out notifications;
// nothing downstream of it may mutate the principal.
type Identity struct {
	mu        sync.RWMutex
	principal *store.Principal
	watchers  map[int]func(*store.Principal)
	nextID    int
	cancel    func()
}

// NewIdentity snapshots the current principal from the auth collaborator and
// tracks subsequent auth changes.
func NewIdentity(ctx context.Context, a Auth) *Identity {
	id := &Identity{watchers: make(map[int]func(*store.Principal))}
	if p, err := a.CurrentPrincipal(ctx); err == nil {
		id.principal = &p
	}
	id.cancel = a.OnAuthChange(id.set)
	return id
}

// Principal returns the current principal, if any.
func (id *Identity) Principal() (store.Principal, bool) {
	id.mu.RLock()
	defer id.mu.RUnlock()
	if id.principal == nil {
		return store.Principal{}, false
	}
	return *id.principal, true
}

// OnChange registers a watcher for sign-in/out. A nil principal means the
// session ended; the room directory and all open sessions react to it.
func (id *Identity) OnChange(fn func(*store.Principal)) (cancel func()) {
	id.mu.Lock()
	n := id.nextID
	id.nextID++
	id.watchers[n] = fn
	id.mu.Unlock()

	return func() {
		id.mu.Lock()
		delete(id.watchers, n)
		id.mu.Unlock()
	}
}

// Close detaches from the auth collaborator.
func (id *Identity) Close() {
	if id.cancel != nil {
		id.cancel()
	}
}

func (id *Identity) set(p *store.Principal) {
	id.mu.Lock()
	id.principal = p
	fns := make([]func(*store.Principal), 0, len(id.watchers))
	for _, fn := range id.watchers {
		fns = append(fns, fn)
	}
	id.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}
