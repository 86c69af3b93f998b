package callstate

import (
	"sync"
	"time"
)

type entry struct {
	mu    sync.Mutex
	state *State
}

// Store maps call identifiers to their state. The map lock is held only to
// find or create an entry; each entry has its own lock so turns for one call
// are serialized without blocking other calls.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewStore creates an empty store. A nil clock uses time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		entries: make(map[string]*entry),
		now:     now,
	}
}

func (s *Store) entry(callSid string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[callSid]
	if !ok {
		e = &entry{state: newState(callSid, s.now())}
		s.entries[callSid] = e
	}
	return e
}

// Do runs fn with exclusive access to the call's state, creating it on first use.
func (s *Store) Do(callSid string, fn func(*State)) {
	e := s.entry(callSid)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}

// Get returns a snapshot of the call's state without creating it.
func (s *Store) Get(callSid string) (Snapshot, bool) {
	s.mu.Lock()
	e, ok := s.entries[callSid]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.snapshot(), true
}

// Delete evicts the call's state.
func (s *Store) Delete(callSid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, callSid)
}

// Len returns the number of live calls.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
