// Package session keeps the per-user conversation state of multi-step
// commands such as /post.
package session

import (
	"sync"
	"time"
)

// DefaultTTL is how long an untouched conversation is kept.
const DefaultTTL = 30 * time.Minute

// State is one step of a conversation. The concrete types below are the
// only implementations.
type State interface {
	// Name identifies the step in logs.
	Name() string
	isState()
}

// Idle means no conversation is in progress.
type Idle struct{}

// AwaitingCaption waits for the text that goes above the protected link.
type AwaitingCaption struct {
	Destination string
}

// AwaitingImageChoice waits for the user to decide whether the post gets
// an image.
type AwaitingImageChoice struct {
	Destination string
	Caption     string
}

// AwaitingImage waits for the photo of the post.
type AwaitingImage struct {
	Destination string
	Caption     string
}

func (Idle) Name() string                { return "idle" }
func (AwaitingCaption) Name() string     { return "awaiting_caption" }
func (AwaitingImageChoice) Name() string { return "awaiting_image_choice" }
func (AwaitingImage) Name() string       { return "awaiting_image" }

func (Idle) isState()                {}
func (AwaitingCaption) isState()     {}
func (AwaitingImageChoice) isState() {}
func (AwaitingImage) isState()       {}

type entry struct {
	state   State
	touched time.Time
}

// Manager stores conversation state in memory. It is safe for concurrent
// use.
type Manager struct {
	ttl time.Duration

	// NowFunc is used to get the current time.
	NowFunc func() time.Time

	mu       sync.Mutex
	sessions map[int64]entry
}

// NewManager returns a Manager that forgets conversations idle for longer
// than ttl. A non-positive ttl selects DefaultTTL.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{ttl: ttl, NowFunc: time.Now, sessions: make(map[int64]entry)}
}

// Get returns the current state of userID, Idle when there is none.
func (m *Manager) Get(userID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[userID]
	if !ok {
		return Idle{}
	}
	if m.NowFunc().Sub(e.touched) > m.ttl {
		delete(m.sessions, userID)
		return Idle{}
	}
	return e.state
}

// Set moves userID to st. Setting Idle or nil ends the conversation.
func (m *Manager) Set(userID int64, st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, idle := st.(Idle); idle || st == nil {
		delete(m.sessions, userID)
		return
	}
	m.sessions[userID] = entry{state: st, touched: m.NowFunc()}
}

// Clear ends the conversation of userID.
func (m *Manager) Clear(userID int64) {
	m.Set(userID, Idle{})
}

// InProgress reports whether userID is in the middle of a conversation.
func (m *Manager) InProgress(userID int64) bool {
	_, idle := m.Get(userID).(Idle)
	return !idle
}

// Len returns the number of live conversations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.NowFunc()
	n := 0
	for id, e := range m.sessions {
		if now.Sub(e.touched) > m.ttl {
			delete(m.sessions, id)
			continue
		}
		n++
	}
	return n
}
