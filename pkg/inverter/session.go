package inverter

import "sync"

// sessionStore holds the current upstream session identifier. Concurrent
// day fetches read it optimistically; whichever re-login finishes last wins.
type sessionStore struct {
	mu sync.Mutex
	id string
}

func (s *sessionStore) current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *sessionStore) set(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

// invalidate clears the stored session only if it still matches old, so a
// fetch holding a stale identifier cannot wipe a session that another fetch
// already replaced.
func (s *sessionStore) invalidate(old string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == old {
		s.id = ""
	}
}
