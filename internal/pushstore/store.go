// Package pushstore owns the push and push-message collections. The
// in-memory maps are the source of truth; every mutation is followed by a
// wholesale snapshot rewrite through the Snapshot interface and a change
// notification to subscribers.
package pushstore

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/memoai/memopush/internal/domain"
)

// ErrNotFound is returned when a push id does not exist.
var ErrNotFound = errors.New("pushstore: push not found")

// Snapshot loads and saves the full push state. Save rewrites everything;
// there is no incremental persistence.
type Snapshot interface {
	Load() (map[string]domain.Push, []domain.PushMessage, error)
	Save(pushes map[string]domain.Push, messages []domain.PushMessage) error
}

// Store holds pushes and their messages in memory.
//
// Fine-grained mutators (CreatePending, AppendMessage, SetActive, Complete)
// do not persist on their own: the outer operation that drives them calls
// Persist exactly once when it is done, so a multi-step conversation turn
// results in a single snapshot write and a single notification. Store-owned
// operations (Delete, DeleteForChunk, Sweep) persist themselves.
type Store struct {
	mu       sync.Mutex
	pushes   map[string]domain.Push
	messages []domain.PushMessage
	snap     Snapshot
	entropy  *rand.Rand
	now      func() time.Time

	subMu sync.Mutex
	subs  []func()
}

// New creates a Store backed by the given snapshot.
func New(snap Snapshot) *Store {
	return &Store{
		pushes:  make(map[string]domain.Push),
		snap:    snap,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
}

// Load replaces the in-memory state with the persisted snapshot. Pushes
// missing an expiry (records from before expiry existed) are backfilled
// with createdAt + defaultDue.
func (s *Store) Load(defaultDue time.Duration) error {
	pushes, messages, err := s.snap.Load()
	if err != nil {
		return fmt.Errorf("failed to load push snapshot: %w", err)
	}

	for id, p := range pushes {
		if p.ExpiresAt.IsZero() {
			p.ExpiresAt = p.CreatedAt.Add(defaultDue)
			pushes[id] = p
		}
	}

	s.mu.Lock()
	s.pushes = pushes
	s.messages = messages
	s.mu.Unlock()
	return nil
}

// Subscribe registers a callback fired after every persisted mutation.
// No ordering is guaranteed across subscribers.
func (s *Store) Subscribe(fn func()) {
	s.subMu.Lock()
	s.subs = append(s.subs, fn)
	s.subMu.Unlock()
}

func (s *Store) notify() {
	s.subMu.Lock()
	subs := make([]func(), len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// Persist writes the current state through the snapshot and notifies
// subscribers. A failed save propagates and suppresses the notification:
// a mutation whose durability is unconfirmed is not announced as applied.
func (s *Store) Persist() error {
	s.mu.Lock()
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *Store) persistLocked() error {
	pushes := make(map[string]domain.Push, len(s.pushes))
	for id, p := range s.pushes {
		pushes[id] = p
	}
	messages := make([]domain.PushMessage, len(s.messages))
	copy(messages, s.messages)
	return s.snap.Save(pushes, messages)
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

// List returns pushes, newest-created first. An empty state filter returns
// everything.
func (s *Store) List(state domain.PushState) []domain.Push {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]domain.Push, 0, len(s.pushes))
	for _, p := range s.pushes {
		if state != "" && p.State != state {
			continue
		}
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
	return list
}

// Get returns a single push or ErrNotFound.
func (s *Store) Get(id string) (domain.Push, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pushes[id]
	if !ok {
		return domain.Push{}, ErrNotFound
	}
	return p, nil
}

// Messages returns a push's messages, oldest first.
func (s *Store) Messages(pushID string) []domain.PushMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []domain.PushMessage
	for _, m := range s.messages {
		if m.PushID == pushID {
			list = append(list, m)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// OpenCount returns the number of pending or active pushes.
func (s *Store) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openCountLocked()
}

func (s *Store) openCountLocked() int {
	n := 0
	for _, p := range s.pushes {
		if p.State.Open() {
			n++
		}
	}
	return n
}

// HasOpenForChunk reports whether the chunk already has a pending or active
// push. The scheduler uses this to keep the one-open-push-per-chunk
// invariant.
func (s *Store) HasOpenForChunk(chunkID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pushes {
		if p.ChunkID == chunkID && p.State.Open() {
			return true
		}
	}
	return false
}

// CreatePending adds a new pending push for a chunk. Does not persist.
func (s *Store) CreatePending(chunkID string, ttl time.Duration) domain.Push {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p := domain.Push{
		ID:        s.newID(),
		ChunkID:   chunkID,
		State:     domain.PushPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.pushes[p.ID] = p
	return p
}

// AppendMessage records a conversation turn for a push. Does not persist.
func (s *Store) AppendMessage(pushID string, sender domain.Sender, content string) (domain.PushMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pushes[pushID]; !ok {
		return domain.PushMessage{}, ErrNotFound
	}
	m := domain.PushMessage{
		ID:        s.newID(),
		PushID:    pushID,
		Sender:    sender,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.messages = append(s.messages, m)
	return m, nil
}

// SetActive transitions a push to active, recording the opening question.
// Does not persist.
func (s *Store) SetActive(pushID, question string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pushes[pushID]
	if !ok {
		return ErrNotFound
	}
	p.State = domain.PushActive
	p.LastQuestion = question
	s.pushes[pushID] = p
	return nil
}

// Complete transitions a push to completed with its evaluation. Does not
// persist.
func (s *Store) Complete(pushID string, eval domain.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pushes[pushID]
	if !ok {
		return ErrNotFound
	}
	p.State = domain.PushCompleted
	p.Evaluation = &eval
	s.pushes[pushID] = p
	return nil
}

// Delete removes a push and all its messages, then persists.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.pushes[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.pushes, id)
	s.dropMessagesLocked(map[string]bool{id: true})
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// DeleteForChunk removes every push referencing a chunk, cascading their
// messages, and persists if anything was removed. Returns the number of
// pushes deleted.
func (s *Store) DeleteForChunk(chunkID string) (int, error) {
	s.mu.Lock()
	doomed := make(map[string]bool)
	for id, p := range s.pushes {
		if p.ChunkID == chunkID {
			doomed[id] = true
		}
	}
	for id := range doomed {
		delete(s.pushes, id)
	}
	s.dropMessagesLocked(doomed)
	var err error
	if len(doomed) > 0 {
		err = s.persistLocked()
	}
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if len(doomed) > 0 {
		s.notify()
	}
	return len(doomed), nil
}

// Sweep deletes every completed push and every push whose expiry has
// passed, regardless of state. Expired actives are abandoned, not
// re-queued. Persists if anything changed. Returns deleted and kept counts.
func (s *Store) Sweep(now time.Time) (deleted, kept int, err error) {
	s.mu.Lock()
	doomed := make(map[string]bool)
	for id, p := range s.pushes {
		if p.State == domain.PushCompleted || p.ExpiresAt.Before(now) {
			doomed[id] = true
		}
	}
	for id := range doomed {
		delete(s.pushes, id)
	}
	s.dropMessagesLocked(doomed)
	deleted = len(doomed)
	kept = len(s.pushes)
	if deleted > 0 {
		err = s.persistLocked()
	}
	s.mu.Unlock()
	if err != nil {
		return 0, 0, err
	}
	if deleted > 0 {
		s.notify()
	}
	return deleted, kept, nil
}

func (s *Store) dropMessagesLocked(pushIDs map[string]bool) {
	if len(pushIDs) == 0 {
		return
	}
	remaining := s.messages[:0]
	for _, m := range s.messages {
		if !pushIDs[m.PushID] {
			remaining = append(remaining, m)
		}
	}
	s.messages = remaining
}
