package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFeed implements Feed and Publisher over Redis pub/sub. Each
// (entity, room) pair maps to one channel, so subscribers receive only the
// rooms they asked for.
type RedisFeed struct {
	client *redis.Client
	prefix string
}

// NewRedisFeed connects to Redis and verifies the connection.
func NewRedisFeed(redisURL string) (*RedisFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisFeed{client: client, prefix: "feed:"}, nil
}

// NewRedisFeedWithClient wraps an existing Redis client.
func NewRedisFeedWithClient(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client, prefix: "feed:"}
}

func (f *RedisFeed) channel(entity Entity, roomID string) string {
	return f.prefix + string(entity) + ":" + roomID
}

// Publish emits one change event for a room. Row is marshaled into the
// event's Row payload.
func (f *RedisFeed) Publish(ctx context.Context, entity Entity, roomID string, kind Kind, row any) error {
	rawRow, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	payload, err := json.Marshal(Event{Kind: kind, Entity: entity, Row: rawRow})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := f.client.Publish(ctx, f.channel(entity, roomID), payload).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", entity, err)
	}
	return nil
}

// Subscribe attaches a handler to one (entity, room) stream. Delivery runs on
// a dedicated goroutine until Unsubscribe or context cancellation.
func (f *RedisFeed) Subscribe(ctx context.Context, entity Entity, roomID string, h Handler) (Subscription, error) {
	pubsub := f.client.Subscribe(ctx, f.channel(entity, roomID))

	// Force the SUBSCRIBE round-trip so a broken connection fails here
	// rather than silently delivering nothing.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", f.channel(entity, roomID), err)
	}

	sub := &redisSubscription{pubsub: pubsub, dropped: make(chan struct{})}
	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Unsubscribe()
				return
			case msg, ok := <-ch:
				if !ok {
					sub.markDropped()
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("feed: drop malformed event on %s: %v", msg.Channel, err)
					continue
				}
				h(ev)
			}
		}
	}()
	return sub, nil
}

// Close releases the underlying Redis client.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}

type redisSubscription struct {
	once     sync.Once
	dropOnce sync.Once
	pubsub   *redis.PubSub
	dropped  chan struct{}
	closed   atomic.Bool
}

func (s *redisSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		err = s.pubsub.Close()
	})
	return err
}

func (s *redisSubscription) Dropped() <-chan struct{} {
	return s.dropped
}

// markDropped signals an unexpected loss of the stream. A close initiated by
// Unsubscribe is not a drop.
func (s *redisSubscription) markDropped() {
	if s.closed.Load() {
		return
	}
	s.dropOnce.Do(func() { close(s.dropped) })
}
