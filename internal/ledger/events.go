package ledger

import "sync"

// Table names as published in change events.
const (
	TableTickets   = "tickets"
	TablePhotos    = "photos"
	TableMarkets   = "markets"
	TableSyncQueue = "sync_queue"
)

// Op is the kind of committed mutation an event describes.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
)

// Event describes one committed row mutation.
type Event struct {
	Table string
	Op    Op
	ID    int64
}

// Events is an explicit per-table observer list. Consumers subscribe and
// recompute derived views; handlers run synchronously after commit, outside
// the store's write lock, and must stay cheap.
type Events struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(Event)
}

func NewEvents() *Events {
	return &Events{subs: make(map[string]map[int]func(Event))}
}

// Subscribe registers fn for events on table and returns an unsubscribe
// function.
func (e *Events) Subscribe(table string, fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs[table] == nil {
		e.subs[table] = make(map[int]func(Event))
	}
	id := e.nextID
	e.nextID++
	e.subs[table][id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs[table], id)
	}
}

func (e *Events) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	e.mu.RLock()
	var fns []func(Event)
	var evs []Event
	for _, ev := range events {
		for _, fn := range e.subs[ev.Table] {
			fns = append(fns, fn)
			evs = append(evs, ev)
		}
	}
	e.mu.RUnlock()
	for i, fn := range fns {
		fn(evs[i])
	}
}
