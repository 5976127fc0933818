package syncengine

import (
	"sync"
	"time"

	"github.com/placette/zticket/internal/entity"
)

// Summary is the record of one finished sync cycle, consumed by the host UI
// (badge counts, failure toast).
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Completed  int
	Failed     int
	Remaining  int
}

// Callbacks are the user-facing signals of the engine. Any field may be nil.
type Callbacks struct {
	// CycleFinished fires after every completed sync cycle.
	CycleFinished func(Summary)
	// AuthRequired fires when a cycle halts on an invalid session.
	AuthRequired func()
	// ItemFailed fires when an item exhausts its retry budget.
	ItemFailed func(item entity.QueueItem, message string)
}

// State is the explicit, injected engine state: the last cycle summary plus
// the observer list. No ambient singletons; callers hold and share it.
type State struct {
	mu        sync.RWMutex
	last      *Summary
	nextID    int
	listeners map[int]Callbacks
}

func NewState() *State {
	return &State{listeners: make(map[int]Callbacks)}
}

// Listen registers callbacks and returns an unsubscribe function.
func (s *State) Listen(cb Callbacks) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = cb
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// LastSummary returns the most recent cycle summary, if any cycle ran yet.
func (s *State) LastSummary() (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Summary{}, false
	}
	return *s.last, true
}

func (s *State) recordSummary(sum Summary) {
	s.mu.Lock()
	s.last = &sum
	cbs := s.snapshot()
	s.mu.Unlock()
	for _, cb := range cbs {
		if cb.CycleFinished != nil {
			cb.CycleFinished(sum)
		}
	}
}

func (s *State) notifyAuthRequired() {
	s.mu.RLock()
	cbs := s.snapshot()
	s.mu.RUnlock()
	for _, cb := range cbs {
		if cb.AuthRequired != nil {
			cb.AuthRequired()
		}
	}
}

func (s *State) notifyItemFailed(item entity.QueueItem, message string) {
	s.mu.RLock()
	cbs := s.snapshot()
	s.mu.RUnlock()
	for _, cb := range cbs {
		if cb.ItemFailed != nil {
			cb.ItemFailed(item, message)
		}
	}
}

// snapshot must be called with at least a read lock held.
func (s *State) snapshot() []Callbacks {
	out := make([]Callbacks, 0, len(s.listeners))
	for _, cb := range s.listeners {
		out = append(out, cb)
	}
	return out
}
