package room

import (
	"context"
	"strings"
	"sync"
	"time"

	"huddle/client/internal/auth"
	"huddle/client/internal/store"
)

// Entry is one room in the directory along with the viewing principal's role.
type Entry struct {
	store.Room
	Role Role
}

// Directory maintains the list of rooms visible to the current principal.
// Views render its snapshot; they never hold an authoritative copy.
type Directory struct {
	identity   *auth.Identity
	store      Store
	resolver   *Resolver
	cancelAuth func()

	mu    sync.RWMutex
	rooms []Entry
}

// NewDirectory builds a directory bound to the identity context. The room
// list empties on sign-out.
func NewDirectory(identity *auth.Identity, st Store) *Directory {
	d := &Directory{
		identity: identity,
		store:    st,
		resolver: NewResolver(st),
	}
	d.cancelAuth = identity.OnChange(func(p *store.Principal) {
		if p == nil {
			d.reset()
		}
	})
	return d
}

// Close detaches the directory from auth notifications.
func (d *Directory) Close() {
	if d.cancelAuth != nil {
		d.cancelAuth()
	}
}

// Refresh re-resolves room visibility and replaces the snapshot.
func (d *Directory) Refresh(ctx context.Context) error {
	principal, ok := d.identity.Principal()
	if !ok {
		return domainError(CodeAuthenticationRequired, "no active principal")
	}

	resolved, err := d.resolver.ResolveRooms(ctx, principal.ID)
	if err != nil {
		return err
	}

	entries := make([]Entry, 0, len(resolved.Created)+len(resolved.Joined))
	seen := make(map[string]bool)
	for _, rm := range resolved.Created {
		if seen[rm.ID] {
			continue
		}
		seen[rm.ID] = true
		entries = append(entries, Entry{Room: rm, Role: RoleCreator})
	}
	for _, rm := range resolved.Joined {
		if seen[rm.ID] {
			continue
		}
		seen[rm.ID] = true
		entries = append(entries, Entry{Room: rm, Role: RoleMember})
	}

	d.mu.Lock()
	d.rooms = entries
	d.mu.Unlock()
	return nil
}

// ListRooms refreshes and returns the visible rooms.
func (d *Directory) ListRooms(ctx context.Context) ([]Entry, error) {
	if err := d.Refresh(ctx); err != nil {
		return nil, err
	}
	return d.Rooms(), nil
}

// Rooms returns the current snapshot.
func (d *Directory) Rooms() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, len(d.rooms))
	copy(out, d.rooms)
	return out
}

// CreateRoom inserts a room optimistically, then swaps in the confirmed row
// in one step so the list never shows both. On failure the optimistic entry
// is removed and CREATE_FAILED returned.
func (d *Directory) CreateRoom(ctx context.Context, name string) (store.Room, error) {
	principal, ok := d.identity.Principal()
	if !ok {
		return store.Room{}, domainError(CodeAuthenticationRequired, "no active principal")
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return store.Room{}, domainError(CodeValidationError, "room name must not be empty")
	}

	optimistic := store.Room{
		ID:        newTempID(),
		Name:      name,
		CreatorID: principal.ID,
		CreatedAt: time.Now(),
	}

	d.mu.Lock()
	d.rooms = append(d.rooms, Entry{Room: optimistic, Role: RoleCreator})
	d.mu.Unlock()

	created, err := d.store.InsertRoom(ctx, name, principal.ID)
	if err != nil {
		d.removeRoom(optimistic.ID)
		return store.Room{}, wrapError(CodeCreateFailed, "create room", err)
	}

	d.swapRoom(optimistic.ID, created)
	return created, nil
}

func (d *Directory) removeRoom(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, e := range d.rooms {
		if e.ID == id {
			d.rooms = append(d.rooms[:i], d.rooms[i+1:]...)
			return
		}
	}
}

// swapRoom replaces the temp entry with the confirmed row. If the server row
// already arrived through a refresh, the temp entry is simply dropped.
func (d *Directory) swapRoom(tempID string, confirmed store.Room) {
	d.mu.Lock()
	defer d.mu.Unlock()

	confirmedIdx := -1
	tempIdx := -1
	for i, e := range d.rooms {
		switch e.ID {
		case confirmed.ID:
			confirmedIdx = i
		case tempID:
			tempIdx = i
		}
	}
	if tempIdx == -1 {
		return
	}
	if confirmedIdx != -1 {
		d.rooms = append(d.rooms[:tempIdx], d.rooms[tempIdx+1:]...)
		return
	}
	d.rooms[tempIdx] = Entry{Room: confirmed, Role: RoleCreator}
}

func (d *Directory) reset() {
	d.mu.Lock()
	d.rooms = nil
	d.mu.Unlock()
}
