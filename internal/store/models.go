package store

import "time"

// Task priority levels.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Task status values. The set is flat: any status may follow any other.
type Status string

const (
	StatusToDo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

func NormalizePriority(p string) Priority {
	switch Priority(p) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return Priority(p)
	default:
		return PriorityMedium
	}
}

func NormalizeStatus(s string) Status {
	switch Status(s) {
	case StatusToDo, StatusInProgress, StatusCompleted, StatusBlocked:
		return Status(s)
	default:
		return StatusToDo
	}
}

// Principal is an authenticated user. Immutable for the session.
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// Room scopes tasks and chat messages. The creator is permanent and holds
// elevated rights; rooms are never renamed or deleted by this client.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatorID string    `json:"creatorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Membership grants a user visibility into a room. The room creator is a
// member whether or not a membership row exists for them.
type Membership struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type Task struct {
	ID         string     `json:"id"`
	RoomID     string     `json:"roomId"`
	Content    string     `json:"content"`
	Priority   Priority   `json:"priority"`
	Status     Status     `json:"status"`
	AssigneeID *string    `json:"assigneeId,omitempty"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Comment on a task. Append-only.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatMessage in a room. Append-only; display order is (CreatedAt, ID).
type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}
