package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"huddle/client/internal/feed"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// PostgresStore is the relational data-store collaborator. Every confirmed
// insert/update is echoed onto the change feed so subscribed room sessions
// see their own writes and peers' writes through the same channel.
type PostgresStore struct {
	db  *sql.DB
	pub feed.Publisher
}

// NewPostgresStore wraps an open database handle. pub may be nil, in which
// case writes are not echoed onto the feed.
func NewPostgresStore(db *sql.DB, pub feed.Publisher) *PostgresStore {
	return &PostgresStore{db: db, pub: pub}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) publish(ctx context.Context, entity feed.Entity, roomID string, kind feed.Kind, row any) {
	if s.pub == nil {
		return
	}
	// The write already committed; a failed echo only delays peers until
	// their next bulk fetch.
	if err := s.pub.Publish(ctx, entity, roomID, kind, row); err != nil {
		log.Printf("store: publish %s %s event: %v", kind, entity, err)
	}
}

func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var room Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, creator_id, created_at FROM rooms WHERE id=$1`, roomID,
	).Scan(&room.ID, &room.Name, &room.CreatorID, &room.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}

func (s *PostgresStore) ListRoomsCreatedBy(ctx context.Context, userID string) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, creator_id, created_at FROM rooms WHERE creator_id=$1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list created rooms: %w", err)
	}
	defer rows.Close()
	return scanRooms(rows)
}

func (s *PostgresStore) ListRoomsByIDs(ctx context.Context, ids []string) ([]Room, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, creator_id, created_at FROM rooms WHERE id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("list rooms by ids: %w", err)
	}
	defer rows.Close()
	return scanRooms(rows)
}

func scanRooms(rows *sql.Rows) ([]Room, error) {
	var out []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.Name, &room.CreatorID, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListMembershipsByUser(ctx context.Context, userID string) ([]Membership, error) {
	return s.listMemberships(ctx, `SELECT room_id, user_id FROM memberships WHERE user_id=$1`, userID)
}

func (s *PostgresStore) ListMembershipsByRoom(ctx context.Context, roomID string) ([]Membership, error) {
	return s.listMemberships(ctx, `SELECT room_id, user_id FROM memberships WHERE room_id=$1`, roomID)
}

func (s *PostgresStore) listMemberships(ctx context.Context, query string, arg string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.RoomID, &m.UserID); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListUsersByIDs(ctx context.Context, ids []string) ([]Principal, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, COALESCE(display_name, '') FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []Principal
	for rows.Next() {
		var p Principal
		if err := rows.Scan(&p.ID, &p.Email, &p.DisplayName); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTasksByRoom(ctx context.Context, roomID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, content, priority, status, assignee_id, deadline, created_at
		FROM tasks WHERE room_id=$1 ORDER BY created_at, id
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	if err := row.Scan(&t.ID, &t.RoomID, &t.Content, &t.Priority, &t.Status, &t.AssigneeID, &t.Deadline, &t.CreatedAt); err != nil {
		return Task{}, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListCommentsByTask(ctx context.Context, taskID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, body, created_at FROM comments WHERE task_id=$1 ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Body, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListChatsByRoom(ctx context.Context, roomID string) ([]ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, user_id, body, created_at FROM chats WHERE room_id=$1 ORDER BY created_at, id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertRoom(ctx context.Context, name, creatorID string) (Room, error) {
	var room Room
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rooms (name, creator_id)
		VALUES ($1, $2)
		RETURNING id, name, creator_id, created_at
	`, name, creatorID).Scan(&room.ID, &room.Name, &room.CreatorID, &room.CreatedAt)
	if err != nil {
		return Room{}, fmt.Errorf("insert room: %w", err)
	}
	s.publish(ctx, feed.EntityRooms, room.ID, feed.KindInsert, room)
	return room, nil
}

// InsertMembership is idempotent: adding an existing member is a no-op.
func (s *PostgresStore) InsertMembership(ctx context.Context, roomID, userID string) (Membership, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (room_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`, roomID, userID)
	if err != nil {
		return Membership{}, fmt.Errorf("insert membership: %w", err)
	}
	m := Membership{RoomID: roomID, UserID: userID}
	s.publish(ctx, feed.EntityMemberships, roomID, feed.KindInsert, m)
	return m, nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, t Task) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (room_id, content, priority, status, assignee_id, deadline)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, room_id, content, priority, status, assignee_id, deadline, created_at
	`, t.RoomID, t.Content, t.Priority, t.Status, t.AssigneeID, t.Deadline)
	created, err := scanTask(row)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	s.publish(ctx, feed.EntityTasks, created.RoomID, feed.KindInsert, created)
	return created, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, roomID string, c Comment) (Comment, error) {
	var created Comment
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (task_id, body)
		VALUES ($1, $2)
		RETURNING id, task_id, body, created_at
	`, c.TaskID, c.Body).Scan(&created.ID, &created.TaskID, &created.Body, &created.CreatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	s.publish(ctx, feed.EntityComments, roomID, feed.KindInsert, created)
	return created, nil
}

func (s *PostgresStore) InsertChat(ctx context.Context, m ChatMessage) (ChatMessage, error) {
	var created ChatMessage
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO chats (room_id, user_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, room_id, user_id, body, created_at
	`, m.RoomID, m.UserID, m.Body).Scan(&created.ID, &created.RoomID, &created.UserID, &created.Body, &created.CreatedAt)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("insert chat: %w", err)
	}
	s.publish(ctx, feed.EntityChats, created.RoomID, feed.KindInsert, created)
	return created, nil
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, taskID string, status Status) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tasks SET status=$2 WHERE id=$1
		RETURNING id, room_id, content, priority, status, assignee_id, deadline, created_at
	`, taskID, status)
	updated, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("update task status: %w", err)
	}
	s.publish(ctx, feed.EntityTasks, updated.RoomID, feed.KindUpdate, updated)
	return updated, nil
}

func (s *PostgresStore) UpdateTaskAssignee(ctx context.Context, taskID string, assigneeID *string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tasks SET assignee_id=$2 WHERE id=$1
		RETURNING id, room_id, content, priority, status, assignee_id, deadline, created_at
	`, taskID, assigneeID)
	updated, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("update task assignee: %w", err)
	}
	s.publish(ctx, feed.EntityTasks, updated.RoomID, feed.KindUpdate, updated)
	return updated, nil
}
