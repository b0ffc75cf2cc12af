// Package chat orchestrates conversation turns: retrieval, prompt assembly,
// the model call, and durable history recording.
package chat

import (
	"sync"
	"time"

	"github.com/hyperjump/kaiwa/internal/models"
)

// State is the lifecycle position of a session.
type State int

const (
	// StateEmpty is a new session with no messages yet.
	StateEmpty State = iota
	// StateAwaitingResponse marks a turn in flight. No second turn may
	// start until the current one settles.
	StateAwaitingResponse
	// StateIdle is a session with at least one completed or failed turn.
	StateIdle
	// StateClosed sessions accept no further turns.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one conversation: its transcript and attached documents.
// The in-memory transcript mirrors what the history store has durably
// recorded for this session.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	state    State
	messages []*models.ChatMessage
	docIDs   []string
}

func newSession(id string, createdAt time.Time) *Session {
	return &Session{ID: id, CreatedAt: createdAt, state: StateEmpty}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the transcript in order.
func (s *Session) Messages() []*models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// DocumentIDs returns a copy of the attached document IDs.
func (s *Session) DocumentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.docIDs))
	copy(out, s.docIDs)
	return out
}

// attachDocument records a document as in scope for retrieval. Attaching is
// idempotent and allowed in any open state.
func (s *Session) attachDocument(docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrInvalidSessionState
	}
	for _, id := range s.docIDs {
		if id == docID {
			return nil
		}
	}
	s.docIDs = append(s.docIDs, docID)
	return nil
}

// beginTurn moves the session into StateAwaitingResponse. It fails when a
// turn is already in flight or the session is closed, leaving state and
// transcript untouched.
func (s *Session) beginTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateAwaitingResponse, StateClosed:
		return ErrInvalidSessionState
	}
	s.state = StateAwaitingResponse
	return nil
}

// endTurn settles an in-flight turn. A session returns to StateIdle once a
// user message landed; a turn that failed before recording anything leaves
// the session back in StateEmpty.
func (s *Session) endTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingResponse {
		return
	}
	if len(s.messages) == 0 {
		s.state = StateEmpty
		return
	}
	s.state = StateIdle
}

// appendMessage adds a message to the in-memory transcript.
func (s *Session) appendMessage(msg *models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// close marks the session closed. Closing during an in-flight turn is
// rejected.
func (s *Session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAwaitingResponse {
		return ErrInvalidSessionState
	}
	s.state = StateClosed
	return nil
}
