// Package syncengine drains the sync queue against the remote backend. It
// runs opportunistically: at session start, on offline→online transitions, on
// a fixed interval and on explicit manual triggers.
package syncengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/placette/zticket/constants"
	"github.com/placette/zticket/internal/entity"
	"github.com/placette/zticket/internal/ledger"
	"github.com/placette/zticket/internal/remote"
)

// Backend is the reconciler surface the engine drives. remote.Reconciler is
// the production implementation.
type Backend interface {
	SubmitBatch(ctx context.Context, items []*entity.QueueItem) ([]remote.ItemResult, error)
	UploadPhoto(ctx context.Context, item *entity.QueueItem) error
}

// Options tune the engine. Zero values fall back to sane defaults.
type Options struct {
	Interval  time.Duration
	BatchSize int
	FanOut    int // concurrent photo uploads per cycle
	// Online reports current connectivity; nil means always online.
	Online func() bool
	// Authenticated reports whether a session exists; nil means always.
	Authenticated func() bool
}

type Engine struct {
	store   *ledger.Store
	queue   ledger.QueueRepository
	tickets ledger.TicketRepository
	backend Backend
	state   *State
	logger  *slog.Logger

	interval  time.Duration
	batchSize int
	fanOut    int
	online    func() bool
	authed    func() bool

	cycleMu sync.Mutex    // at most one cycle at a time
	kick    chan struct{} // coalesced wake-ups
}

func New(store *ledger.Store, queue ledger.QueueRepository, tickets ledger.TicketRepository, backend Backend, state *State, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:     store,
		queue:     queue,
		tickets:   tickets,
		backend:   backend,
		state:     state,
		logger:    logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		fanOut:    opts.FanOut,
		online:    opts.Online,
		authed:    opts.Authenticated,
		kick:      make(chan struct{}, 1),
	}
	if e.interval <= 0 {
		e.interval = 2 * time.Minute
	}
	if e.batchSize <= 0 {
		e.batchSize = 50
	}
	if e.fanOut <= 0 {
		e.fanOut = 4
	}
	if e.online == nil {
		e.online = func() bool { return true }
	}
	if e.authed == nil {
		e.authed = func() bool { return true }
	}
	return e
}

// Run blocks until ctx is done: one cycle at start, then on every interval
// tick or wake-up. There is no immediate re-attempt after a failure; the
// interval is the backoff.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("sync engine started", "interval", e.interval, "batch_size", e.batchSize)
	e.RunCycle(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("sync engine stopped")
			return
		case <-ticker.C:
			e.RunCycle(ctx)
		case <-e.kick:
			e.RunCycle(ctx)
		}
	}
}

// NotifyOnline wakes the engine after an offline→online transition.
func (e *Engine) NotifyOnline() { e.wake() }

// TriggerNow requests a cycle (manual trigger from settings).
func (e *Engine) TriggerNow() { e.wake() }

func (e *Engine) wake() {
	select {
	case e.kick <- struct{}{}:
	default: // a wake-up is already pending
	}
}

// RetryFailed re-queues failed items and wakes the engine. Safe to invoke at
// any time; in-flight items are untouched.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	n, err := e.queue.RetryFailed(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.wake()
	}
	return n, nil
}

// RunCycle performs one sync cycle. Re-entrant triggers while a cycle is
// active are coalesced: the call returns false without doing anything.
func (e *Engine) RunCycle(ctx context.Context) bool {
	if !e.cycleMu.TryLock() {
		e.logger.Debug("sync cycle already running, trigger coalesced")
		return false
	}
	defer e.cycleMu.Unlock()

	if !e.online() {
		e.logger.Debug("skipping sync cycle: offline")
		return false
	}
	if !e.authed() {
		e.logger.Debug("skipping sync cycle: no authenticated session")
		return false
	}

	started := time.Now().UTC()
	items, err := e.queue.Pending(ctx, e.batchSize)
	if err != nil {
		e.logger.Error("failed to fetch pending sync items", "error", err)
		return false
	}
	if len(items) == 0 {
		return true
	}
	e.logger.Info("sync cycle started", "pending", len(items))

	// Binary payloads are excluded from the generic batch to bound request
	// size; photos go one by one through the upload path.
	var records, photos []*entity.QueueItem
	for _, item := range items {
		if item.EntityType == constants.EntityPhoto {
			photos = append(photos, item)
		} else {
			records = append(records, item)
		}
	}

	var completed, failed int
	halted := e.submitRecords(ctx, records, &completed, &failed)
	if !halted {
		halted = e.uploadPhotos(ctx, photos, &completed, &failed)
	}
	// On a halt the photo items were never claimed and stay pending as-is.

	remaining, err := e.queue.CountPending(ctx)
	if err != nil {
		e.logger.Error("failed to count pending items", "error", err)
	}
	sum := Summary{
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Completed:  completed,
		Failed:     failed,
		Remaining:  remaining,
	}
	e.state.recordSummary(sum)
	e.logger.Info("sync cycle finished", "completed", completed, "failed", failed, "remaining", remaining, "halted", halted)
	return true
}

// submitRecords drives the batch endpoint. Returns true when the cycle must
// halt (invalid session).
func (e *Engine) submitRecords(ctx context.Context, records []*entity.QueueItem, completed, failed *int) bool {
	if len(records) == 0 {
		return false
	}
	for _, item := range records {
		if err := e.queue.MarkInProgress(ctx, item.ID); err != nil {
			e.logger.Error("failed to claim queue item", "queue_id", item.ID, "error", err)
		}
	}

	results, err := e.backend.SubmitBatch(ctx, records)
	if err != nil {
		kind := remote.KindOf(err)
		if kind == remote.KindAuth {
			e.logger.Warn("sync cycle halted: session invalid", "error", err)
			e.releaseAll(ctx, records)
			e.state.notifyAuthRequired()
			return true
		}
		// Request-level failure counts as one attempt for every item.
		for _, item := range records {
			if e.handleItemFailure(ctx, item, err) {
				*failed++
			}
		}
		return false
	}

	byID := make(map[int64]remote.ItemResult, len(results))
	for _, res := range results {
		byID[res.QueueID] = res
	}
	for i, item := range records {
		res, ok := byID[item.ID]
		if !ok || res.Err != nil {
			var cause error
			if ok {
				cause = res.Err
			} else {
				cause = &remote.Error{Kind: remote.KindTransient, Message: "no verdict for item"}
			}
			if remote.KindOf(cause) == remote.KindAuth {
				e.releaseAll(ctx, records[i:])
				e.state.notifyAuthRequired()
				return true
			}
			if e.handleItemFailure(ctx, item, cause) {
				*failed++
			}
			continue
		}
		e.complete(ctx, item, res.ServerID)
		*completed++
	}
	return false
}

// uploadPhotos pushes photo items with bounded fan-out. Queue transitions
// stay serialized through the ledger's write path.
func (e *Engine) uploadPhotos(ctx context.Context, photos []*entity.QueueItem, completed, failed *int) bool {
	if len(photos) == 0 {
		return false
	}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		sem      = make(chan struct{}, e.fanOut)
		authHalt bool
	)
	for _, item := range photos {
		if err := e.queue.MarkInProgress(ctx, item.ID); err != nil {
			e.logger.Error("failed to claim photo item", "queue_id", item.ID, "error", err)
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(item *entity.QueueItem) {
			defer wg.Done()
			defer func() { <-sem }()

			err := e.backend.UploadPhoto(ctx, item)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				e.complete(ctx, item, nil)
				*completed++
				return
			}
			if remote.KindOf(err) == remote.KindAuth {
				authHalt = true
				e.releaseAll(ctx, []*entity.QueueItem{item})
				return
			}
			if e.handleItemFailure(ctx, item, err) {
				*failed++
			}
		}(item)
	}
	wg.Wait()
	if authHalt {
		e.state.notifyAuthRequired()
	}
	return authHalt
}

func (e *Engine) complete(ctx context.Context, item *entity.QueueItem, serverID *string) {
	if err := e.queue.MarkCompleted(ctx, item.ID, serverID); err != nil {
		e.logger.Error("failed to mark item completed", "queue_id", item.ID, "error", err)
		return
	}
	// Record the acknowledgment on the ticket itself. OCR items reference a
	// ticket but do not carry its record, so they never acknowledge it.
	if item.EntityType == constants.EntityTicket && item.Action != constants.ActionOCR {
		ack := time.Now().UTC()
		err := e.store.WithTx(ctx, func(tx *ledger.Tx) error {
			return e.tickets.SetServerTimestamp(ctx, tx, item.EntityID, ack)
		})
		if err != nil {
			e.logger.Error("failed to set server timestamp", "ticket_id", item.EntityID, "error", err)
		}
	}
}

// handleItemFailure applies the retry policy for one item. Returns true when
// the item was demoted to FAILED.
func (e *Engine) handleItemFailure(ctx context.Context, item *entity.QueueItem, cause error) bool {
	kind := remote.KindOf(cause)
	msg := cause.Error()

	if kind == remote.KindFatal {
		// Retrying cannot help; fail immediately without burning the budget.
		if err := e.queue.MarkFailed(ctx, item.ID, msg); err != nil {
			e.logger.Error("failed to mark item failed", "queue_id", item.ID, "error", err)
			return false
		}
		e.logger.Warn("sync item failed permanently", "queue_id", item.ID, "kind", kind, "error", msg)
		e.state.notifyItemFailed(*item, msg)
		return true
	}

	retries, err := e.queue.IncrementRetry(ctx, item.ID, msg)
	if err != nil {
		e.logger.Error("failed to record retry", "queue_id", item.ID, "error", err)
		return false
	}
	if retries >= constants.MaxRetries {
		if err := e.queue.MarkFailed(ctx, item.ID, msg); err != nil {
			e.logger.Error("failed to mark item failed", "queue_id", item.ID, "error", err)
			return false
		}
		e.logger.Warn("sync item exhausted retry budget", "queue_id", item.ID, "retries", retries, "error", msg)
		e.state.notifyItemFailed(*item, msg)
		return true
	}
	e.logger.Info("sync item left pending for next cycle", "queue_id", item.ID, "retries", retries, "kind", kind)
	return false
}

func (e *Engine) releaseAll(ctx context.Context, items []*entity.QueueItem) {
	for _, item := range items {
		if err := e.queue.Release(ctx, item.ID); err != nil {
			e.logger.Error("failed to release queue item", "queue_id", item.ID, "error", err)
		}
	}
}
