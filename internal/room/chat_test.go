package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"huddle/client/internal/feed"
	"huddle/client/internal/store"
)

func TestSendOptimisticRoundTrip(t *testing.T) {
	st := roomStore()
	fd := newFakeFeed()
	st.insertChatFn = func(_ context.Context, m store.ChatMessage) (store.ChatMessage, error) {
		m.ID = "m1"
		m.CreatedAt = time.Now()
		return m, nil
	}

	s, _ := openTestSession(t, st, fd, "bob")
	awaitReady(t, s)

	sent, err := s.Send(context.Background(), "hello room")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if sent.UserID != "bob" {
		t.Fatalf("message attributed to %s, want bob", sent.UserID)
	}

	waitFor(t, func() bool {
		chat := s.Chat()
		return len(chat) == 1 && chat[0].ID == "m1"
	}, "message confirmed")

	fd.emit(t, feed.EntityChats, "r1", feed.KindInsert, sent)
	time.Sleep(20 * time.Millisecond)
	if got := len(s.Chat()); got != 1 {
		t.Fatalf("echo duplicated the message: %d rows", got)
	}
}

func TestSendFailureRestoresTranscript(t *testing.T) {
	st := roomStore()
	st.listChatsByRoomFn = func(context.Context, string) ([]store.ChatMessage, error) {
		return []store.ChatMessage{
			{ID: "m1", RoomID: "r1", UserID: "alice", Body: "existing"},
		}, nil
	}
	st.insertChatFn = func(context.Context, store.ChatMessage) (store.ChatMessage, error) {
		return store.ChatMessage{}, errors.New("remote unavailable")
	}

	s, _ := openTestSession(t, st, newFakeFeed(), "bob")
	awaitReady(t, s)
	waitFor(t, func() bool { return len(s.Chat()) == 1 }, "transcript loaded")

	_, err := s.Send(context.Background(), "doomed")
	if CodeOf(err) != CodeMutationFailed {
		t.Fatalf("expected MUTATION_FAILED, got %v", err)
	}

	waitFor(t, func() bool { return len(s.Chat()) == 1 }, "transcript back to pre-send length")
	if s.Chat()[0].ID != "m1" {
		t.Fatalf("surviving transcript corrupted: %+v", s.Chat())
	}
}

func TestSendValidatesBody(t *testing.T) {
	called := false
	st := roomStore()
	st.insertChatFn = func(_ context.Context, m store.ChatMessage) (store.ChatMessage, error) {
		called = true
		return m, nil
	}

	s, _ := openTestSession(t, st, newFakeFeed(), "bob")
	awaitReady(t, s)

	if _, err := s.Send(context.Background(), "  "); CodeOf(err) != CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if called {
		t.Fatalf("validation failures must not reach the store")
	}
}

func TestTranscriptOrderIndependentOfArrival(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fd := newFakeFeed()
	s, _ := openTestSession(t, roomStore(), fd, "bob")
	awaitReady(t, s)

	// Deliver out of order; same-timestamp messages tie-break on id.
	fd.emit(t, feed.EntityChats, "r1", feed.KindInsert,
		store.ChatMessage{ID: "m3", RoomID: "r1", UserID: "alice", Body: "third", CreatedAt: base.Add(2 * time.Second)})
	fd.emit(t, feed.EntityChats, "r1", feed.KindInsert,
		store.ChatMessage{ID: "m1", RoomID: "r1", UserID: "alice", Body: "first", CreatedAt: base})
	fd.emit(t, feed.EntityChats, "r1", feed.KindInsert,
		store.ChatMessage{ID: "m2b", RoomID: "r1", UserID: "bob", Body: "tied", CreatedAt: base.Add(time.Second)})
	fd.emit(t, feed.EntityChats, "r1", feed.KindInsert,
		store.ChatMessage{ID: "m2a", RoomID: "r1", UserID: "alice", Body: "tied", CreatedAt: base.Add(time.Second)})

	waitFor(t, func() bool { return len(s.Chat()) == 4 }, "all messages merged")

	want := []string{"m1", "m2a", "m2b", "m3"}
	chat := s.Chat()
	for i, id := range want {
		if chat[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, chat[i].ID, id)
		}
	}
}
