package conversation

import (
	"errors"
	"sync"

	"wildfiregpt/internal/logging"
)

// ErrThreadNotFound is returned when a thread ID is not in the store.
var ErrThreadNotFound = errors.New("thread not found")

// Store holds all live threads for a process, keyed by ID. Threads are only
// ever appended to; the store itself just tracks ownership and feedback
// annotations kept out-of-band from the immutable turn log.
type Store struct {
	mu      sync.RWMutex
	threads map[string]*Thread

	// feedback holds user annotations keyed by thread ID and turn index.
	// Kept separate from turns so history stays immutable.
	feedback map[string]map[int]string
}

// NewStore creates an empty thread store.
func NewStore() *Store {
	return &Store{
		threads:  make(map[string]*Thread),
		feedback: make(map[string]map[int]string),
	}
}

// Create makes a new empty thread and registers it.
func (s *Store) Create() *Thread {
	t := NewThread()
	s.mu.Lock()
	s.threads[t.ID()] = t
	s.mu.Unlock()
	logging.SessionDebug("Created thread %s", t.ID())
	return t
}

// Get returns the thread with the given ID.
func (s *Store) Get(id string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, ErrThreadNotFound
	}
	return t, nil
}

// Fork replays the last n turns of the thread with the given ID onto a new
// registered thread. The old thread is left in place; any in-flight run
// against it is simply never resumed.
func (s *Store) Fork(id string, n int) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.threads[id]
	if !ok {
		return nil, ErrThreadNotFound
	}
	forked := old.Fork(n)
	s.threads[forked.ID()] = forked
	logging.SessionDebug("Forked thread %s -> %s (last %d turns)", id, forked.ID(), n)
	return forked, nil
}

// AddFeedback records a user annotation for the turn at the given index.
// Feedback never mutates the turn itself.
func (s *Store) AddFeedback(threadID string, turnIndex int, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return ErrThreadNotFound
	}
	if s.feedback[threadID] == nil {
		s.feedback[threadID] = make(map[int]string)
	}
	s.feedback[threadID][turnIndex] = note
	return nil
}

// Feedback returns the annotation for a turn, if any.
func (s *Store) Feedback(threadID string, turnIndex int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	note, ok := s.feedback[threadID][turnIndex]
	return note, ok
}

// Count returns the number of live threads.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}
