package room

import (
	"sort"

	"huddle/client/internal/feed"
	"huddle/client/internal/store"
)

// Merge rules, uniform across collections:
//
//	insert with a known id  -> discarded (optimistic entry and its echo race)
//	update with unknown id  -> treated as insert (initial-fetch vs.
//	                           subscription-start ordering is not race-free)
//
// Events apply in arrival order; display order is (CreatedAt, ID).

func mergeRow[T any](rows []T, id func(T) string, kind feed.Kind, row T) []T {
	rowID := id(row)
	for i := range rows {
		if id(rows[i]) == rowID {
			if kind == feed.KindInsert {
				return rows
			}
			rows[i] = row
			return rows
		}
	}
	return append(rows, row)
}

// swapRow replaces the optimistic entry oldID with the confirmed row. If the
// confirmed id already arrived through the feed, the optimistic entry is
// dropped so the collection never holds both.
func swapRow[T any](rows []T, id func(T) string, oldID string, row T) []T {
	confirmedIdx := -1
	oldIdx := -1
	rowID := id(row)
	for i := range rows {
		switch id(rows[i]) {
		case rowID:
			confirmedIdx = i
		case oldID:
			oldIdx = i
		}
	}
	if oldIdx == -1 {
		return mergeRow(rows, id, feed.KindInsert, row)
	}
	if confirmedIdx != -1 {
		return append(rows[:oldIdx], rows[oldIdx+1:]...)
	}
	rows[oldIdx] = row
	return rows
}

func removeRow[T any](rows []T, id func(T) string, target string) []T {
	for i := range rows {
		if id(rows[i]) == target {
			return append(rows[:i], rows[i+1:]...)
		}
	}
	return rows
}

func taskID(t store.Task) string        { return t.ID }
func chatID(m store.ChatMessage) string { return m.ID }
func commentID(c store.Comment) string  { return c.ID }

func sortTasks(tasks []store.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func sortChats(chats []store.ChatMessage) {
	sort.Slice(chats, func(i, j int) bool {
		if !chats[i].CreatedAt.Equal(chats[j].CreatedAt) {
			return chats[i].CreatedAt.Before(chats[j].CreatedAt)
		}
		return chats[i].ID < chats[j].ID
	})
}

func sortComments(comments []store.Comment) {
	sort.Slice(comments, func(i, j int) bool {
		if !comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].CreatedAt.Before(comments[j].CreatedAt)
		}
		return comments[i].ID < comments[j].ID
	})
}
