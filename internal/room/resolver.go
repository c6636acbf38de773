package room

import (
	"context"
	"errors"

	"huddle/client/internal/store"
)

// ResolvedRooms is the full set of rooms a principal may see, split by
// provenance. A room the principal both created and was added to appears
// only under Created.
type ResolvedRooms struct {
	Created []store.Room
	Joined  []store.Room
}

// Resolver derives room visibility and per-room roles. It is the sole source
// of truth for "which rooms can this principal see"; no other component
// re-derives that set.
type Resolver struct {
	store Store
}

func NewResolver(st Store) *Resolver {
	return &Resolver{store: st}
}

// ResolveRooms returns the rooms the principal created and the rooms it was
// added to. Lookup failures surface as REMOTE_UNAVAILABLE; they are never
// collapsed into an empty result.
func (r *Resolver) ResolveRooms(ctx context.Context, principalID string) (ResolvedRooms, error) {
	if principalID == "" {
		return ResolvedRooms{}, domainError(CodeAuthenticationRequired, "no active principal")
	}

	created, err := r.store.ListRoomsCreatedBy(ctx, principalID)
	if err != nil {
		return ResolvedRooms{}, wrapError(CodeRemoteUnavailable, "list created rooms", err)
	}
	createdIDs := make(map[string]bool, len(created))
	for _, room := range created {
		createdIDs[room.ID] = true
	}

	memberships, err := r.store.ListMembershipsByUser(ctx, principalID)
	if err != nil {
		return ResolvedRooms{}, wrapError(CodeRemoteUnavailable, "list memberships", err)
	}

	var joinedIDs []string
	seen := make(map[string]bool)
	for _, m := range memberships {
		if createdIDs[m.RoomID] || seen[m.RoomID] {
			continue
		}
		seen[m.RoomID] = true
		joinedIDs = append(joinedIDs, m.RoomID)
	}

	joined, err := r.store.ListRoomsByIDs(ctx, joinedIDs)
	if err != nil {
		return ResolvedRooms{}, wrapError(CodeRemoteUnavailable, "list joined rooms", err)
	}

	return ResolvedRooms{Created: created, Joined: joined}, nil
}

// Role derives the principal's standing in one room.
func (r *Resolver) Role(ctx context.Context, roomID, principalID string) (Role, error) {
	if principalID == "" {
		return RoleNone, domainError(CodeAuthenticationRequired, "no active principal")
	}

	rm, err := r.store.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return RoleNone, nil
	}
	if err != nil {
		return RoleNone, wrapError(CodeRemoteUnavailable, "get room", err)
	}
	if rm.CreatorID == principalID {
		return RoleCreator, nil
	}

	memberships, err := r.store.ListMembershipsByRoom(ctx, roomID)
	if err != nil {
		return RoleNone, wrapError(CodeRemoteUnavailable, "list room memberships", err)
	}
	for _, m := range memberships {
		if m.UserID == principalID {
			return RoleMember, nil
		}
	}
	return RoleNone, nil
}

// RequireMember is Role plus a NOT_A_MEMBER rejection for outsiders.
func (r *Resolver) RequireMember(ctx context.Context, roomID, principalID string) (Role, error) {
	role, err := r.Role(ctx, roomID, principalID)
	if err != nil {
		return RoleNone, err
	}
	if role == RoleNone {
		return RoleNone, domainError(CodeNotAMember, "not a member of this room")
	}
	return role, nil
}
