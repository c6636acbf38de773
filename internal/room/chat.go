package room

import (
	"context"
	"strings"
	"time"

	"huddle/client/internal/feed"
	"huddle/client/internal/store"
)

// Send appends a chat message to the transcript. The message is visible
// optimistically; a confirmed failure removes it again and the transcript
// returns to its pre-send length.
func (s *Session) Send(ctx context.Context, body string) (store.ChatMessage, error) {
	if err := s.requireOpen(); err != nil {
		return store.ChatMessage{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return store.ChatMessage{}, domainError(CodeValidationError, "message body must not be empty")
	}
	if !Can(s.role, ActionPost) {
		return store.ChatMessage{}, domainError(CodeNotAMember, "not allowed to post in this room")
	}

	optimistic := store.ChatMessage{
		ID:        newTempID(),
		RoomID:    s.roomID,
		UserID:    s.principal.ID,
		Body:      body,
		CreatedAt: time.Now(),
	}
	s.enqueue(change{entity: feed.EntityChats, kind: feed.KindInsert, chat: &optimistic})

	created, err := s.st.InsertChat(ctx, optimistic)
	if err != nil {
		s.enqueue(change{entity: feed.EntityChats, removeID: optimistic.ID})
		return store.ChatMessage{}, wrapError(CodeMutationFailed, "send message", err)
	}

	s.enqueue(change{entity: feed.EntityChats, kind: feed.KindInsert, chat: &created, swapID: optimistic.ID})
	return created, nil
}
