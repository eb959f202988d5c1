package interview

import (
	"context"
	"sync"
)

// slot serializes operations on one session id. Slots are reference counted
// and dropped once no operation holds them, so idle ids cost nothing.
type slot struct {
	op sync.Mutex // held for a whole mutating operation

	mu      sync.Mutex // guards deleted and cancel; held across the commit
	deleted bool
	cancel  context.CancelFunc

	refs int // guarded by slots.mu
}

type slots struct {
	mu   sync.Mutex
	byID map[string]*slot
}

func newSlots() *slots {
	return &slots{byID: make(map[string]*slot)}
}

func (s *slots) acquire(id string) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.byID[id]
	if !ok {
		sl = &slot{}
		s.byID[id] = sl
	}
	sl.refs++
	return sl
}

func (s *slots) release(id string, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(s.byID, id)
	}
}

// peek returns the live slot for id without taking a reference.
func (s *slots) peek(id string) (*slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.byID[id]
	return sl, ok
}

// markDeletedLocked flags the slot and cancels any in-flight operation. The caller
// must hold sl.mu.
func (sl *slot) markDeletedLocked() {
	sl.deleted = true
	if sl.cancel != nil {
		sl.cancel()
	}
}
