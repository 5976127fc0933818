package ledger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/placette/zticket/constants"
)

// Views maintains the derived counters the host UI consumes (pending-sync
// badge, per-status ticket counts). It subscribes to ledger change events and
// recomputes on every committed mutation, so consumers always observe the
// latest committed state.
type Views struct {
	tickets TicketRepository
	queue   QueueRepository
	logger  *slog.Logger

	mu            sync.RWMutex
	pendingSync   int
	ticketsByStat map[constants.TicketStatus]int

	unsubscribe []func()
}

func NewViews(store *Store, tickets TicketRepository, queue QueueRepository, logger *slog.Logger) *Views {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Views{
		tickets:       tickets,
		queue:         queue,
		logger:        logger,
		ticketsByStat: make(map[constants.TicketStatus]int),
	}
	v.refreshQueue(context.Background())
	v.refreshTickets(context.Background())

	events := store.Events()
	v.unsubscribe = append(v.unsubscribe,
		events.Subscribe(TableSyncQueue, func(Event) { v.refreshQueue(context.Background()) }),
		events.Subscribe(TableTickets, func(Event) { v.refreshTickets(context.Background()) }),
	)
	return v
}

// Close detaches the view from the event hub.
func (v *Views) Close() {
	for _, off := range v.unsubscribe {
		off()
	}
}

// PendingSyncCount is the number of queue items awaiting transmission.
func (v *Views) PendingSyncCount() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.pendingSync
}

// TicketCounts returns a copy of the per-status ticket counters.
func (v *Views) TicketCounts() map[constants.TicketStatus]int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[constants.TicketStatus]int, len(v.ticketsByStat))
	for k, n := range v.ticketsByStat {
		out[k] = n
	}
	return out
}

func (v *Views) refreshQueue(ctx context.Context) {
	n, err := v.queue.CountPending(ctx)
	if err != nil {
		v.logger.Error("failed to refresh pending-sync count", "error", err)
		return
	}
	v.mu.Lock()
	v.pendingSync = n
	v.mu.Unlock()
}

func (v *Views) refreshTickets(ctx context.Context) {
	counts, err := v.tickets.CountByStatus(ctx)
	if err != nil {
		v.logger.Error("failed to refresh ticket counts", "error", err)
		return
	}
	v.mu.Lock()
	v.ticketsByStat = counts
	v.mu.Unlock()
}
