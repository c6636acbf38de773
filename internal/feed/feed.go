// Package feed defines the change-notification contract: a push channel
// delivering row-level insert/update events for a room, plus the Redis
// pub/sub implementation used in production.
package feed

import (
	"context"
	"encoding/json"
)

type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
)

// Entity names the logical collection a change event belongs to. The values
// double as channel-key segments, so they must stay stable.
type Entity string

const (
	EntityRooms       Entity = "rooms"
	EntityMemberships Entity = "memberships"
	EntityTasks       Entity = "tasks"
	EntityComments    Entity = "comments"
	EntityChats       Entity = "chats"
)

// Event is one row-level change. Row carries the full row as JSON; consumers
// decode it according to Entity.
type Event struct {
	Kind   Kind            `json:"kind"`
	Entity Entity          `json:"entity"`
	Row    json.RawMessage `json:"row"`
}

// Handler receives events for one subscription. It is called from the
// subscription's delivery goroutine; implementations must not block.
type Handler func(Event)

// Subscription is a live attachment to one (entity, room) stream.
// Unsubscribe is idempotent. Dropped is closed if the transport loses the
// stream for any reason other than Unsubscribe; missed events are not
// replayed, so consumers must re-fetch after resubscribing.
type Subscription interface {
	Unsubscribe() error
	Dropped() <-chan struct{}
}

// Feed is the subscribe side of the change-notification transport.
type Feed interface {
	Subscribe(ctx context.Context, entity Entity, roomID string, h Handler) (Subscription, error)
}

// Publisher is the write side, used by the store to emit events after each
// confirmed insert/update.
type Publisher interface {
	Publish(ctx context.Context, entity Entity, roomID string, kind Kind, row any) error
}
