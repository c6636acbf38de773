// Package room is the client core: membership-scoped room visibility, the
// room directory, and per-room live sessions that reconcile a push change
// feed into a consistent local snapshot.
package room

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"huddle/client/internal/store"
)

// Store is the slice of the data-store collaborator this package consumes.
// *store.PostgresStore satisfies it; tests substitute fakes.
type Store interface {
	GetRoom(ctx context.Context, roomID string) (store.Room, error)
	ListRoomsCreatedBy(ctx context.Context, userID string) ([]store.Room, error)
	ListRoomsByIDs(ctx context.Context, ids []string) ([]store.Room, error)
	ListMembershipsByUser(ctx context.Context, userID string) ([]store.Membership, error)
	ListMembershipsByRoom(ctx context.Context, roomID string) ([]store.Membership, error)
	ListUsersByIDs(ctx context.Context, ids []string) ([]store.Principal, error)
	ListTasksByRoom(ctx context.Context, roomID string) ([]store.Task, error)
	ListCommentsByTask(ctx context.Context, taskID string) ([]store.Comment, error)
	ListChatsByRoom(ctx context.Context, roomID string) ([]store.ChatMessage, error)
	InsertRoom(ctx context.Context, name, creatorID string) (store.Room, error)
	InsertMembership(ctx context.Context, roomID, userID string) (store.Membership, error)
	InsertTask(ctx context.Context, t store.Task) (store.Task, error)
	InsertComment(ctx context.Context, roomID string, c store.Comment) (store.Comment, error)
	InsertChat(ctx context.Context, m store.ChatMessage) (store.ChatMessage, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status store.Status) (store.Task, error)
	UpdateTaskAssignee(ctx context.Context, taskID string, assigneeID *string) (store.Task, error)
}

const tempIDPrefix = "tmp_"

// newTempID generates a client-side id for an optimistic insert. The prefix
// keeps temp ids recognizable and out of the server id space.
func newTempID() string {
	return tempIDPrefix + uuid.NewString()
}

func isTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}
