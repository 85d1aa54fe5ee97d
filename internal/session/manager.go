package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Turn describes the turn currently holding a user's lock.
type Turn struct {
	UserID  string    `json:"user_id"`
	TurnID  string    `json:"turn_id"`
	Waiting int       `json:"waiting"`
	Since   time.Time `json:"since"`
}

type entry struct {
	sem    chan struct{}
	refs   int
	turnID string
	since  time.Time
}

// Manager serializes turns per user. Different users never wait on each
// other. Entries are reference counted and dropped when the last holder or
// waiter leaves, so the table only holds users with work in progress.
type Manager struct {
	mu    sync.Mutex
	users map[string]*entry
	now   func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		users: make(map[string]*entry),
		now:   time.Now,
	}
}

// Acquire blocks until the caller holds userID's lock or ctx is done. The
// returned release func must be called exactly once.
func (m *Manager) Acquire(ctx context.Context, userID, turnID string) (release func(), err error) {
	m.mu.Lock()
	e, ok := m.users[userID]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.users[userID] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.unref(userID, e)
		return nil, ctx.Err()
	}

	m.mu.Lock()
	e.turnID = turnID
	e.since = m.now().UTC()
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			e.turnID = ""
			e.since = time.Time{}
			m.mu.Unlock()
			<-e.sem
			m.unref(userID, e)
		})
	}, nil
}

func (m *Manager) unref(userID string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.users, userID)
	}
}

// ActiveCount reports how many users currently have a turn running.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.users {
		if e.turnID != "" {
			n++
		}
	}
	return n
}

// Active lists running turns, oldest first.
func (m *Manager) Active() []Turn {
	m.mu.Lock()
	out := make([]Turn, 0, len(m.users))
	for userID, e := range m.users {
		if e.turnID == "" {
			continue
		}
		out = append(out, Turn{UserID: userID, TurnID: e.turnID, Waiting: e.refs - 1, Since: e.since})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

func (m *Manager) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}
