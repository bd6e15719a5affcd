package lifecycle

import (
	"fmt"
	"sync"
)

// SessionState tracks what the moderation UI is in the middle of for
// one account, replacing ad-hoc "is busy" flags with an explicit state.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionAwaitingCaption
	SessionAwaitingHashtags
	SessionProcessing
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionAwaitingCaption:
		return "awaiting_caption"
	case SessionAwaitingHashtags:
		return "awaiting_hashtags"
	case SessionProcessing:
		return "processing"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Session is the per-account UI interaction state. Transitions are
// explicit: a new interaction may only begin from idle.
type Session struct {
	mu    sync.Mutex
	state SessionState
	// shortcode the non-idle state refers to, if any
	subject string
}

// State returns the current state and its subject shortcode.
func (s *Session) State() (SessionState, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.subject
}

// Begin moves the session from idle into the given state.
func (s *Session) Begin(state SessionState, shortcode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionIdle {
		return fmt.Errorf("lifecycle: session is %s (on %s), cannot begin %s",
			s.state, s.subject, state)
	}
	s.state = state
	s.subject = shortcode
	return nil
}

// End returns the session to idle.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionIdle
	s.subject = ""
}
