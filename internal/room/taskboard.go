package room

import (
	"context"
	"strings"
	"time"

	"huddle/client/internal/feed"
	"huddle/client/internal/store"
)

// Task board operations. Every mutation is optimistic-then-confirmed: the
// local entry is visible immediately, the confirmed row replaces it through
// the same merge point that applies peers' events, and a confirmed failure
// rolls the local entry back.

// CreateTask adds a task to the board.
func (s *Session) CreateTask(ctx context.Context, content string, priority store.Priority, assigneeID *string, deadline *time.Time) (store.Task, error) {
	if err := s.requireOpen(); err != nil {
		return store.Task{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return store.Task{}, domainError(CodeValidationError, "task content must not be empty")
	}
	if !Can(s.role, ActionCreateTask) {
		return store.Task{}, domainError(CodeNotAMember, "not allowed to create tasks in this room")
	}
	if assigneeID != nil && !s.isMember(*assigneeID) {
		return store.Task{}, domainError(CodeNotAMember, "assignee is not a member of this room")
	}

	optimistic := store.Task{
		ID:         newTempID(),
		RoomID:     s.roomID,
		Content:    content,
		Priority:   store.NormalizePriority(string(priority)),
		Status:     store.StatusToDo,
		AssigneeID: assigneeID,
		Deadline:   deadline,
		CreatedAt:  time.Now(),
	}
	s.enqueue(change{entity: feed.EntityTasks, kind: feed.KindInsert, task: &optimistic})

	created, err := s.st.InsertTask(ctx, optimistic)
	if err != nil {
		s.enqueue(change{entity: feed.EntityTasks, removeID: optimistic.ID})
		return store.Task{}, wrapError(CodeMutationFailed, "create task "+optimistic.ID, err)
	}

	s.enqueue(change{entity: feed.EntityTasks, kind: feed.KindInsert, task: &created, swapID: optimistic.ID})
	return created, nil
}

// SetStatus moves a task to a new status. The status set is flat: any value
// may follow any other.
func (s *Session) SetStatus(ctx context.Context, taskID string, status store.Status) (store.Task, error) {
	if err := s.requireOpen(); err != nil {
		return store.Task{}, err
	}
	prev, ok := s.task(taskID)
	if !ok {
		return store.Task{}, domainError(CodeMutationFailed, "unknown task "+taskID)
	}

	next := prev
	next.Status = store.NormalizeStatus(string(status))
	s.enqueue(change{entity: feed.EntityTasks, kind: feed.KindUpdate, task: &next})

	updated, err := s.st.UpdateTaskStatus(ctx, taskID, next.Status)
	if err != nil {
		restore := prev
		s.enqueue(change{entity: feed.EntityTasks, kind: feed.KindUpdate, task: &restore})
		return store.Task{}, wrapError(CodeMutationFailed, "set status of task "+taskID, err)
	}

	s.enqueue(change{entity: feed.EntityTasks, kind: feed.KindUpdate, task: &updated})
	return updated, nil
}

// Assign sets or clears (nil) a task's assignee. The assignee must be a
// current room member.
func (s *Session) Assign(ctx context.Context, taskID string, assigneeID *string) (store.Task, error) {
	if err := s.requireOpen(); err != nil {
		return store.Task{}, err
	}
	if assigneeID != nil && !s.isMember(*assigneeID) {
		return store.Task{}, domainError(CodeNotAMember, "assignee is not a member of this room")
	}
	prev, ok := s.task(taskID)
	if !ok {
		return store.Task{}, domainError(CodeMutationFailed, "unknown task "+taskID)
	}

	next := prev
	next.AssigneeID = assigneeID
	s.enqueue(change{entity: feed.EntityTasks, kind: feed.KindUpdate, task: &next})

	updated, err := s.st.UpdateTaskAssignee(ctx, taskID, assigneeID)
	if err != nil {
		restore := prev
		s.enqueue(change{entity: feed.EntityTasks, kind: feed.KindUpdate, task: &restore})
		return store.Task{}, wrapError(CodeMutationFailed, "assign task "+taskID, err)
	}

	s.enqueue(change{entity: feed.EntityTasks, kind: feed.KindUpdate, task: &updated})
	return updated, nil
}

// LoadComments pulls a task's comments into the session.
func (s *Session) LoadComments(ctx context.Context, taskID string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	rows, err := s.st.ListCommentsByTask(ctx, taskID)
	if err != nil {
		return wrapError(CodeRemoteUnavailable, "load comments for task "+taskID, err)
	}
	s.enqueue(change{bulk: true, entity: feed.EntityComments, commentTaskID: taskID, bulkComments: rows})
	return nil
}

// AddComment appends a comment to a task.
func (s *Session) AddComment(ctx context.Context, taskID, body string) (store.Comment, error) {
	if err := s.requireOpen(); err != nil {
		return store.Comment{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return store.Comment{}, domainError(CodeValidationError, "comment body must not be empty")
	}
	if _, ok := s.task(taskID); !ok {
		return store.Comment{}, domainError(CodeMutationFailed, "unknown task "+taskID)
	}

	optimistic := store.Comment{
		ID:        newTempID(),
		TaskID:    taskID,
		Body:      body,
		CreatedAt: time.Now(),
	}
	s.enqueue(change{entity: feed.EntityComments, kind: feed.KindInsert, comment: &optimistic, commentTaskID: taskID})

	created, err := s.st.InsertComment(ctx, s.roomID, optimistic)
	if err != nil {
		s.enqueue(change{entity: feed.EntityComments, commentTaskID: taskID, removeID: optimistic.ID})
		return store.Comment{}, wrapError(CodeMutationFailed, "comment on task "+taskID, err)
	}

	s.enqueue(change{entity: feed.EntityComments, kind: feed.KindInsert, comment: &created, commentTaskID: taskID, swapID: optimistic.ID})
	return created, nil
}

func (s *Session) task(id string) (store.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return store.Task{}, false
}
