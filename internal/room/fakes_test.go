package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"huddle/client/internal/auth"
	"huddle/client/internal/feed"
	"huddle/client/internal/store"
)

type fakeStore struct {
	getRoomFn               func(context.Context, string) (store.Room, error)
	listRoomsCreatedByFn    func(context.Context, string) ([]store.Room, error)
	listRoomsByIDsFn        func(context.Context, []string) ([]store.Room, error)
	listMembershipsByUserFn func(context.Context, string) ([]store.Membership, error)
	listMembershipsByRoomFn func(context.Context, string) ([]store.Membership, error)
	listUsersByIDsFn        func(context.Context, []string) ([]store.Principal, error)
	listTasksByRoomFn       func(context.Context, string) ([]store.Task, error)
	listCommentsByTaskFn    func(context.Context, string) ([]store.Comment, error)
	listChatsByRoomFn       func(context.Context, string) ([]store.ChatMessage, error)
	insertRoomFn            func(context.Context, string, string) (store.Room, error)
	insertMembershipFn      func(context.Context, string, string) (store.Membership, error)
	insertTaskFn            func(context.Context, store.Task) (store.Task, error)
	insertCommentFn         func(context.Context, string, store.Comment) (store.Comment, error)
	insertChatFn            func(context.Context, store.ChatMessage) (store.ChatMessage, error)
	updateTaskStatusFn      func(context.Context, string, store.Status) (store.Task, error)
	updateTaskAssigneeFn    func(context.Context, string, *string) (store.Task, error)
}

func (f *fakeStore) GetRoom(ctx context.Context, roomID string) (store.Room, error) {
	if f.getRoomFn != nil {
		return f.getRoomFn(ctx, roomID)
	}
	return store.Room{}, store.ErrNotFound
}

func (f *fakeStore) ListRoomsCreatedBy(ctx context.Context, userID string) ([]store.Room, error) {
	if f.listRoomsCreatedByFn != nil {
		return f.listRoomsCreatedByFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) ListRoomsByIDs(ctx context.Context, ids []string) ([]store.Room, error) {
	if f.listRoomsByIDsFn != nil {
		return f.listRoomsByIDsFn(ctx, ids)
	}
	return nil, nil
}

func (f *fakeStore) ListMembershipsByUser(ctx context.Context, userID string) ([]store.Membership, error) {
	if f.listMembershipsByUserFn != nil {
		return f.listMembershipsByUserFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) ListMembershipsByRoom(ctx context.Context, roomID string) ([]store.Membership, error) {
	if f.listMembershipsByRoomFn != nil {
		return f.listMembershipsByRoomFn(ctx, roomID)
	}
	return nil, nil
}

func (f *fakeStore) ListUsersByIDs(ctx context.Context, ids []string) ([]store.Principal, error) {
	if f.listUsersByIDsFn != nil {
		return f.listUsersByIDsFn(ctx, ids)
	}
	out := make([]store.Principal, 0, len(ids))
	for _, id := range ids {
		out = append(out, store.Principal{ID: id, Email: id + "@example.test"})
	}
	return out, nil
}

func (f *fakeStore) ListTasksByRoom(ctx context.Context, roomID string) ([]store.Task, error) {
	if f.listTasksByRoomFn != nil {
		return f.listTasksByRoomFn(ctx, roomID)
	}
	return nil, nil
}

func (f *fakeStore) ListCommentsByTask(ctx context.Context, taskID string) ([]store.Comment, error) {
	if f.listCommentsByTaskFn != nil {
		return f.listCommentsByTaskFn(ctx, taskID)
	}
	return nil, nil
}

func (f *fakeStore) ListChatsByRoom(ctx context.Context, roomID string) ([]store.ChatMessage, error) {
	if f.listChatsByRoomFn != nil {
		return f.listChatsByRoomFn(ctx, roomID)
	}
	return nil, nil
}

func (f *fakeStore) InsertRoom(ctx context.Context, name, creatorID string) (store.Room, error) {
	if f.insertRoomFn != nil {
		return f.insertRoomFn(ctx, name, creatorID)
	}
	return store.Room{ID: "room-srv", Name: name, CreatorID: creatorID, CreatedAt: time.Now()}, nil
}

func (f *fakeStore) InsertMembership(ctx context.Context, roomID, userID string) (store.Membership, error) {
	if f.insertMembershipFn != nil {
		return f.insertMembershipFn(ctx, roomID, userID)
	}
	return store.Membership{RoomID: roomID, UserID: userID}, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t store.Task) (store.Task, error) {
	if f.insertTaskFn != nil {
		return f.insertTaskFn(ctx, t)
	}
	t.ID = "task-srv"
	return t, nil
}

func (f *fakeStore) InsertComment(ctx context.Context, roomID string, c store.Comment) (store.Comment, error) {
	if f.insertCommentFn != nil {
		return f.insertCommentFn(ctx, roomID, c)
	}
	c.ID = "comment-srv"
	return c, nil
}

func (f *fakeStore) InsertChat(ctx context.Context, m store.ChatMessage) (store.ChatMessage, error) {
	if f.insertChatFn != nil {
		return f.insertChatFn(ctx, m)
	}
	m.ID = "chat-srv"
	return m, nil
}

func (f *fakeStore) UpdateTaskStatus(ctx context.Context, taskID string, status store.Status) (store.Task, error) {
	if f.updateTaskStatusFn != nil {
		return f.updateTaskStatusFn(ctx, taskID, status)
	}
	return store.Task{ID: taskID, Status: status}, nil
}

func (f *fakeStore) UpdateTaskAssignee(ctx context.Context, taskID string, assigneeID *string) (store.Task, error) {
	if f.updateTaskAssigneeFn != nil {
		return f.updateTaskAssigneeFn(ctx, taskID, assigneeID)
	}
	return store.Task{ID: taskID, AssigneeID: assigneeID}, nil
}

// fakeFeed is an in-process change feed. Events emitted through it are
// delivered synchronously to matching subscriptions.
type fakeFeed struct {
	mu           sync.Mutex
	subs         map[string][]*fakeSub
	subscribeErr error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: make(map[string][]*fakeSub)}
}

type fakeSub struct {
	once    sync.Once
	h       feed.Handler
	dropped chan struct{}
}

func (s *fakeSub) Unsubscribe() error {
	return nil
}

func (s *fakeSub) Dropped() <-chan struct{} {
	return s.dropped
}

func (s *fakeSub) drop() {
	s.once.Do(func() { close(s.dropped) })
}

func feedKey(entity feed.Entity, roomID string) string {
	return string(entity) + ":" + roomID
}

func (f *fakeFeed) Subscribe(ctx context.Context, entity feed.Entity, roomID string, h feed.Handler) (feed.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &fakeSub{h: h, dropped: make(chan struct{})}
	key := feedKey(entity, roomID)
	f.subs[key] = append(f.subs[key], sub)
	return sub, nil
}

func (f *fakeFeed) setSubscribeErr(err error) {
	f.mu.Lock()
	f.subscribeErr = err
	f.mu.Unlock()
}

// emit delivers one event to every live subscription on (entity, roomID).
func (f *fakeFeed) emit(t *testing.T, entity feed.Entity, roomID string, kind feed.Kind, row any) {
	t.Helper()
	raw, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("marshal row: %v", err)
	}
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs[feedKey(entity, roomID)]...)
	f.mu.Unlock()
	for _, sub := range subs {
		sub.h(feed.Event{Kind: kind, Entity: entity, Row: raw})
	}
}

// dropAll simulates a transport failure: every subscription signals a drop
// and stops receiving.
func (f *fakeFeed) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, subs := range f.subs {
		for _, sub := range subs {
			sub.drop()
		}
		delete(f.subs, key)
	}
}

// fakeAuth satisfies auth.Auth with a fixed principal.
type fakeAuth struct {
	mu        sync.Mutex
	principal *store.Principal
	watchers  []func(*store.Principal)
}

func newFakeAuth(p store.Principal) *fakeAuth {
	return &fakeAuth{principal: &p}
}

func (a *fakeAuth) CurrentPrincipal(ctx context.Context) (store.Principal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.principal == nil {
		return store.Principal{}, auth.ErrNotAuthenticated
	}
	return *a.principal, nil
}

func (a *fakeAuth) OnAuthChange(fn func(*store.Principal)) (cancel func()) {
	a.mu.Lock()
	a.watchers = append(a.watchers, fn)
	a.mu.Unlock()
	return func() {}
}

func (a *fakeAuth) signOut() {
	a.mu.Lock()
	a.principal = nil
	watchers := append(make([]func(*store.Principal), 0, len(a.watchers)), a.watchers...)
	a.mu.Unlock()
	for _, fn := range watchers {
		fn(nil)
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
