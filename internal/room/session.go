package room

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"huddle/client/internal/auth"
	"huddle/client/internal/feed"
	"huddle/client/internal/store"
)

// Phase is a session's position in its lifecycle.
type Phase string

const (
	PhaseOpening Phase = "opening"
	PhaseActive  Phase = "active"
	PhaseClosing Phase = "closing"
	PhaseClosed  Phase = "closed"
)

// Per-resource keys for initial-fetch failures. A failed task fetch must not
// prevent chat display, so failures are recorded, not propagated.
const (
	ResourceRoom    = "room"
	ResourceMembers = "members"
	ResourceTasks   = "tasks"
	ResourceChats   = "chats"
)

const (
	maxResubscribeAttempts = 5
	resubscribeBackoff     = 250 * time.Millisecond
)

// change is one unit of work for the session's serial merge loop. Feed
// events, bulk-fetch results, and the session's own optimistic writes all
// arrive here, so they cannot interleave mid-merge.
type change struct {
	entity feed.Entity
	kind   feed.Kind

	task    *store.Task
	chat    *store.ChatMessage
	member  *store.Membership
	comment *store.Comment
	users   []store.Principal

	bulk      bool
	bulkRoom  *store.Room
	bulkTasks []store.Task
	bulkChats []store.ChatMessage

	commentTaskID string
	bulkComments  []store.Comment

	// swapID replaces the optimistic entry with the carried confirmed row;
	// removeID rolls an optimistic entry back.
	swapID   string
	removeID string

	activate bool
	syncLost bool
	fetchErr *resourceErr
}

type resourceErr struct {
	resource string
	err      error
}

// Session owns one room's live aggregate: metadata, roster, task board, and
// chat transcript, plus the subscriptions feeding it. Views read snapshots;
// the session is the single owner of truth.
type Session struct {
	roomID    string
	principal store.Principal
	role      Role
	st        Store
	fd        feed.Feed

	ctx    context.Context
	cancel context.CancelFunc

	events    chan change
	drops     chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once

	resubAttempts int
	resubDelay    time.Duration

	cancelAuth func()

	mu        sync.RWMutex
	phase     Phase
	room      store.Room
	memberIDs []string
	users     map[string]store.Principal
	tasks     []store.Task
	comments  map[string][]store.Comment
	chats     []store.ChatMessage
	fetchErrs map[string]error
	syncLost  bool

	subMu sync.Mutex
	subs  []feed.Subscription
}

// Open verifies membership and starts a live session for one room. The
// returned session is in the opening phase; Ready is closed once the initial
// fetches resolve and subscriptions are attached.
func Open(ctx context.Context, st Store, fd feed.Feed, identity *auth.Identity, roomID string) (*Session, error) {
	principal, ok := identity.Principal()
	if !ok {
		return nil, domainError(CodeAuthenticationRequired, "no active principal")
	}
	role, err := NewResolver(st).RequireMember(ctx, roomID, principal.ID)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		roomID:        roomID,
		principal:     principal,
		role:          role,
		st:            st,
		fd:            fd,
		ctx:           sctx,
		cancel:        cancel,
		events:        make(chan change, 256),
		drops:         make(chan struct{}, 1),
		ready:         make(chan struct{}),
		resubAttempts: maxResubscribeAttempts,
		resubDelay:    resubscribeBackoff,
		phase:         PhaseOpening,
		users:         make(map[string]store.Principal),
		comments:      make(map[string][]store.Comment),
		fetchErrs:     make(map[string]error),
	}
	s.cancelAuth = identity.OnChange(func(p *store.Principal) {
		if p == nil {
			s.Close()
		}
	})

	go s.loop()
	go s.maintain()
	go s.bootstrap()
	return s, nil
}

// Ready is closed when the session reaches the active phase.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

func (s *Session) RoomID() string {
	return s.roomID
}

func (s *Session) Role() Role {
	return s.role
}

// State reports the current lifecycle phase.
func (s *Session) State() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Close tears the session down: no further events are accepted, in-flight
// fetches are cancelled, and subscriptions are released. Safe to call any
// number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.phase != PhaseClosed {
			s.phase = PhaseClosing
		}
		s.mu.Unlock()
		if s.cancelAuth != nil {
			s.cancelAuth()
		}
		s.cancel()
	})
}

// Snapshot is a read-only projection of the session state for rendering.
type Snapshot struct {
	Phase        Phase
	Role         Role
	LiveSyncLost bool
	Room         store.Room
	Members      []store.Principal
	Tasks        []store.Task
	Chat         []store.ChatMessage
	FetchErrors  map[string]error
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Phase:        s.phase,
		Role:         s.role,
		LiveSyncLost: s.syncLost,
		Room:         s.room,
		Members:      s.membersLocked(),
		Tasks:        make([]store.Task, len(s.tasks)),
		Chat:         make([]store.ChatMessage, len(s.chats)),
		FetchErrors:  make(map[string]error, len(s.fetchErrs)),
	}
	copy(snap.Tasks, s.tasks)
	copy(snap.Chat, s.chats)
	for k, v := range s.fetchErrs {
		snap.FetchErrors[k] = v
	}
	return snap
}

// Members returns the roster. The creator is always listed, and listed
// first, whether or not a membership row exists for them.
func (s *Session) Members() []store.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.membersLocked()
}

func (s *Session) membersLocked() []store.Principal {
	out := make([]store.Principal, 0, len(s.memberIDs)+1)
	if s.room.CreatorID != "" {
		out = append(out, s.userLocked(s.room.CreatorID))
	}
	for _, id := range s.memberIDs {
		if id == s.room.CreatorID {
			continue
		}
		out = append(out, s.userLocked(id))
	}
	return out
}

// userLocked resolves a user id against the cached rows, falling back to an
// id-only placeholder until the row arrives.
func (s *Session) userLocked(id string) store.Principal {
	if u, ok := s.users[id]; ok {
		return u
	}
	return store.Principal{ID: id}
}

// Tasks returns the board in (CreatedAt, ID) order.
func (s *Session) Tasks() []store.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Chat returns the transcript in (CreatedAt, ID) order.
func (s *Session) Chat() []store.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ChatMessage, len(s.chats))
	copy(out, s.chats)
	return out
}

// Comments returns the loaded comments for one task.
func (s *Session) Comments(taskID string) []store.Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.comments[taskID]
	out := make([]store.Comment, len(rows))
	copy(out, rows)
	return out
}

// LiveSyncLost reports whether resubscription gave up; the snapshot is then
// the last known good state.
func (s *Session) LiveSyncLost() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncLost
}

// ---- serial merge loop ----

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.unsubscribeAll()
			s.mu.Lock()
			s.phase = PhaseClosed
			s.mu.Unlock()
			return
		case ch := <-s.events:
			s.apply(ch)
		}
	}
}

// enqueue hands a change to the merge loop, discarding it if the session is
// shutting down. Every async continuation funnels through here, which is the
// liveness guard the lifecycle rules require.
func (s *Session) enqueue(ch change) {
	select {
	case s.events <- ch:
	case <-s.ctx.Done():
	}
}

// apply is the reconciliation step: (state, change) -> state, invoked only
// from the loop goroutine.
func (s *Session) apply(ch change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseClosing || s.phase == PhaseClosed {
		return
	}

	switch {
	case ch.activate:
		s.phase = PhaseActive
		s.readyOnce.Do(func() { close(s.ready) })

	case ch.syncLost:
		s.syncLost = true

	case ch.fetchErr != nil:
		s.fetchErrs[ch.fetchErr.resource] = ch.fetchErr.err

	case ch.bulkRoom != nil:
		s.room = *ch.bulkRoom
		delete(s.fetchErrs, ResourceRoom)

	case ch.bulk && ch.entity == feed.EntityTasks:
		for i := range ch.bulkTasks {
			s.tasks = mergeRow(s.tasks, taskID, feed.KindInsert, ch.bulkTasks[i])
		}
		sortTasks(s.tasks)
		delete(s.fetchErrs, ResourceTasks)

	case ch.bulk && ch.entity == feed.EntityChats:
		for i := range ch.bulkChats {
			s.chats = mergeRow(s.chats, chatID, feed.KindInsert, ch.bulkChats[i])
		}
		sortChats(s.chats)
		delete(s.fetchErrs, ResourceChats)

	case ch.bulk && ch.entity == feed.EntityComments:
		rows := s.comments[ch.commentTaskID]
		for i := range ch.bulkComments {
			rows = mergeRow(rows, commentID, feed.KindInsert, ch.bulkComments[i])
		}
		sortComments(rows)
		s.comments[ch.commentTaskID] = rows

	case ch.users != nil:
		for _, u := range ch.users {
			s.users[u.ID] = u
		}
		delete(s.fetchErrs, ResourceMembers)

	case ch.member != nil && ch.removeID != "":
		s.memberIDs = removeString(s.memberIDs, ch.removeID)

	case ch.member != nil:
		s.addMemberLocked(ch.member.UserID)

	case ch.entity == feed.EntityTasks && ch.removeID != "":
		s.tasks = removeRow(s.tasks, taskID, ch.removeID)

	case ch.task != nil && ch.swapID != "":
		s.tasks = swapRow(s.tasks, taskID, ch.swapID, *ch.task)
		sortTasks(s.tasks)

	case ch.task != nil:
		s.tasks = mergeRow(s.tasks, taskID, ch.kind, *ch.task)
		sortTasks(s.tasks)

	case ch.entity == feed.EntityChats && ch.removeID != "":
		s.chats = removeRow(s.chats, chatID, ch.removeID)

	case ch.chat != nil && ch.swapID != "":
		s.chats = swapRow(s.chats, chatID, ch.swapID, *ch.chat)
		sortChats(s.chats)

	case ch.chat != nil:
		s.chats = mergeRow(s.chats, chatID, ch.kind, *ch.chat)
		sortChats(s.chats)

	case ch.entity == feed.EntityComments && ch.removeID != "":
		s.comments[ch.commentTaskID] = removeRow(s.comments[ch.commentTaskID], commentID, ch.removeID)

	case ch.comment != nil && ch.swapID != "":
		rows := swapRow(s.comments[ch.commentTaskID], commentID, ch.swapID, *ch.comment)
		sortComments(rows)
		s.comments[ch.commentTaskID] = rows

	case ch.comment != nil:
		rows := mergeRow(s.comments[ch.commentTaskID], commentID, ch.kind, *ch.comment)
		sortComments(rows)
		s.comments[ch.commentTaskID] = rows
	}
}

func (s *Session) addMemberLocked(userID string) {
	for _, id := range s.memberIDs {
		if id == userID {
			return
		}
	}
	s.memberIDs = append(s.memberIDs, userID)
}

func removeString(list []string, target string) []string {
	for i, v := range list {
		if v == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// ---- bootstrap, subscriptions, recovery ----

func (s *Session) bootstrap() {
	if err := s.attach(); err != nil {
		log.Printf("room %s: initial subscribe failed: %v", s.roomID, err)
		s.signalDrop()
	}
	s.fetchAll()
	s.enqueue(change{activate: true})
}

// attach establishes the three live streams. On partial failure everything
// attached so far is released and the error returned.
func (s *Session) attach() error {
	entities := []feed.Entity{feed.EntityTasks, feed.EntityChats, feed.EntityMemberships}
	subs := make([]feed.Subscription, 0, len(entities))
	for _, entity := range entities {
		sub, err := s.fd.Subscribe(s.ctx, entity, s.roomID, s.handleFeed)
		if err != nil {
			for _, attached := range subs {
				_ = attached.Unsubscribe()
			}
			return err
		}
		subs = append(subs, sub)
	}

	s.subMu.Lock()
	s.subs = subs
	s.subMu.Unlock()

	for _, sub := range subs {
		go func(sub feed.Subscription) {
			select {
			case <-sub.Dropped():
				s.signalDrop()
			case <-s.ctx.Done():
			}
		}(sub)
	}
	return nil
}

func (s *Session) unsubscribeAll() {
	s.subMu.Lock()
	subs := s.subs
	s.subs = nil
	s.subMu.Unlock()
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

// handleFeed decodes one wire event and hands it to the merge loop.
func (s *Session) handleFeed(ev feed.Event) {
	switch ev.Entity {
	case feed.EntityTasks:
		var t store.Task
		if err := json.Unmarshal(ev.Row, &t); err != nil {
			log.Printf("room %s: drop malformed task event: %v", s.roomID, err)
			return
		}
		s.enqueue(change{entity: ev.Entity, kind: ev.Kind, task: &t})
	case feed.EntityChats:
		var m store.ChatMessage
		if err := json.Unmarshal(ev.Row, &m); err != nil {
			log.Printf("room %s: drop malformed chat event: %v", s.roomID, err)
			return
		}
		s.enqueue(change{entity: ev.Entity, kind: ev.Kind, chat: &m})
	case feed.EntityMemberships:
		var m store.Membership
		if err := json.Unmarshal(ev.Row, &m); err != nil {
			log.Printf("room %s: drop malformed membership event: %v", s.roomID, err)
			return
		}
		s.enqueue(change{entity: ev.Entity, kind: ev.Kind, member: &m})
		go s.loadUsers([]string{m.UserID})
	}
}

// fetchAll runs the bulk fetches. Each resource resolves independently;
// failures are recorded per resource and do not block the others.
func (s *Session) fetchAll() {
	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		rm, err := s.st.GetRoom(s.ctx, s.roomID)
		if err != nil {
			s.enqueue(change{fetchErr: &resourceErr{resource: ResourceRoom, err: err}})
			return
		}
		s.enqueue(change{bulkRoom: &rm})
		s.loadUsers([]string{rm.CreatorID})
	}()

	go func() {
		defer wg.Done()
		memberships, err := s.st.ListMembershipsByRoom(s.ctx, s.roomID)
		if err != nil {
			s.enqueue(change{fetchErr: &resourceErr{resource: ResourceMembers, err: err}})
			return
		}
		ids := make([]string, 0, len(memberships))
		for _, m := range memberships {
			s.enqueue(change{entity: feed.EntityMemberships, kind: feed.KindInsert, member: &m})
			ids = append(ids, m.UserID)
		}
		s.loadUsers(ids)
	}()

	go func() {
		defer wg.Done()
		tasks, err := s.st.ListTasksByRoom(s.ctx, s.roomID)
		if err != nil {
			s.enqueue(change{fetchErr: &resourceErr{resource: ResourceTasks, err: err}})
			return
		}
		s.enqueue(change{bulk: true, entity: feed.EntityTasks, bulkTasks: tasks})
	}()

	go func() {
		defer wg.Done()
		chats, err := s.st.ListChatsByRoom(s.ctx, s.roomID)
		if err != nil {
			s.enqueue(change{fetchErr: &resourceErr{resource: ResourceChats, err: err}})
			return
		}
		s.enqueue(change{bulk: true, entity: feed.EntityChats, bulkChats: chats})
	}()

	wg.Wait()
}

func (s *Session) loadUsers(ids []string) {
	if len(ids) == 0 {
		return
	}
	users, err := s.st.ListUsersByIDs(s.ctx, ids)
	if err != nil {
		log.Printf("room %s: load users: %v", s.roomID, err)
		return
	}
	s.enqueue(change{users: users})
}

func (s *Session) signalDrop() {
	select {
	case s.drops <- struct{}{}:
	default:
	}
}

// maintain reacts to dropped subscriptions. The transport does not replay
// missed events, so every successful reattach is followed by a fresh bulk
// fetch to close the gap.
func (s *Session) maintain() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.drops:
			s.resubscribe()
		}
	}
}

func (s *Session) resubscribe() {
	backoff := s.resubDelay
	for attempt := 1; attempt <= s.resubAttempts; attempt++ {
		if s.ctx.Err() != nil {
			return
		}
		s.unsubscribeAll()
		err := s.attach()
		if err == nil {
			s.fetchAll()
			return
		}
		log.Printf("room %s: resubscribe attempt %d/%d failed: %v",
			s.roomID, attempt, s.resubAttempts, err)

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	// Keep the last-known snapshot; just mark the session degraded.
	s.enqueue(change{syncLost: true})
}

// requireOpen rejects mutations once teardown has begun.
func (s *Session) requireOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.phase == PhaseClosing || s.phase == PhaseClosed {
		return domainError(CodeSessionClosed, "session is closed")
	}
	return nil
}

// isMember reports whether a user id is in the roster, counting the creator.
func (s *Session) isMember(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if userID == s.room.CreatorID {
		return true
	}
	for _, id := range s.memberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AddMember grants a user visibility into the room. Creator only.
func (s *Session) AddMember(ctx context.Context, userID string) error {
	if err := s.requireOpen(); err != nil {
		return err
	}
	if !Can(s.role, ActionAddMember) {
		return domainError(CodeNotAMember, "only the room creator can add members")
	}
	if userID == "" {
		return domainError(CodeValidationError, "user id must not be empty")
	}
	// Re-adding a member is an idempotent no-op. Skipping the optimistic
	// insert here also keeps a failed remote call from rolling back a
	// membership that predates this request.
	if s.isMember(userID) {
		return nil
	}

	optimistic := store.Membership{RoomID: s.roomID, UserID: userID}
	s.enqueue(change{entity: feed.EntityMemberships, kind: feed.KindInsert, member: &optimistic})

	if _, err := s.st.InsertMembership(ctx, s.roomID, userID); err != nil {
		s.enqueue(change{member: &optimistic, removeID: userID})
		return wrapError(CodeMutationFailed, "add member", err)
	}
	go s.loadUsers([]string{userID})
	return nil
}
