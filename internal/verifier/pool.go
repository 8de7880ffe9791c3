package verifier

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prospecthq/leadhive/internal/observability"
	"github.com/rs/zerolog/log"
)

// MaxWorkers caps the pool regardless of how many credentials exist
const MaxWorkers = 10

// ErrNoWorkers is returned by Add when no credential exists to process work
var ErrNoWorkers = errors.New("verification pool has no workers: no API credentials configured")

// WorkerSlot is one long-lived verification worker. Slots are created at
// pool initialisation and never destroyed; the bound credential is acquired
// and released per work item.
type WorkerSlot struct {
	ID             int
	busy           atomic.Bool
	processedCount atomic.Int64
}

// Busy reports whether the slot is processing an item
func (w *WorkerSlot) Busy() bool {
	return w.busy.Load()
}

// ProcessedCount returns how many items the slot has handled
func (w *WorkerSlot) ProcessedCount() int64 {
	return w.processedCount.Load()
}

// Pool drains the verification queue with one worker per credential
type Pool struct {
	queue   *queue
	keys    *KeyPool
	service *Service
	slots   []*WorkerSlot

	wake    chan struct{}
	stopCh  chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// NewPool creates the worker pool: one slot per credential capped at
// MaxWorkers. The caller decides the fallback single legacy credential
// before constructing the KeyPool; an empty pool still constructs but Add
// reports loudly that nothing can be processed.
func NewPool(keys *KeyPool, service *Service) *Pool {
	workers := keys.Size()
	if workers > MaxWorkers {
		workers = MaxWorkers
	}

	slots := make([]*WorkerSlot, workers)
	for i := range slots {
		slots[i] = &WorkerSlot{ID: i}
	}

	log.Info().
		Int("workers", workers).
		Int("credentials", keys.Size()).
		Msg("Verification pool initialised")

	return &Pool{
		queue:   newQueue(),
		keys:    keys,
		service: service,
		slots:   slots,
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the workers under a supervisor that restarts any worker
// that dies to a panic, so a poisoned item cannot silently shrink the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, slot := range p.slots {
		p.superviseWorker(ctx, slot)
	}
}

func (p *Pool) superviseWorker(ctx context.Context, slot *WorkerSlot) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			restart := p.runWorker(ctx, slot)
			if !restart {
				return
			}
			log.Warn().Int("worker_id", slot.ID).Msg("Restarting verification worker after panic")
		}
	}()
}

// runWorker executes the worker loop, returning true when the loop ended in
// a panic and should be restarted.
func (p *Pool) runWorker(ctx context.Context, slot *WorkerSlot) (restart bool) {
	defer func() {
		if r := recover(); r != nil {
			slot.busy.Store(false)
			sentry.CaptureException(fmt.Errorf("verification worker panic: %v", r))
			log.Error().
				Int("worker_id", slot.ID).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Verification worker panicked")
			restart = !p.stopped.Load()
		}
	}()

	for {
		select {
		case <-p.stopCh:
			return false
		case <-ctx.Done():
			return false
		default:
		}

		item := p.queue.pop()
		if item == nil {
			select {
			case <-p.wake:
			case <-p.stopCh:
				return false
			case <-ctx.Done():
				return false
			case <-time.After(5 * time.Second):
				// Periodic re-check in case a wake signal was coalesced
			}
			continue
		}

		p.processItem(ctx, slot, item)
	}
}

// processItem runs one queue item on an exclusively-held credential. The
// credential release and the busy flag reset sit in defers so a failed
// verification can never starve a key or wedge the slot.
func (p *Pool) processItem(ctx context.Context, slot *WorkerSlot, item *Item) {
	slot.busy.Store(true)
	defer slot.busy.Store(false)

	cred, err := p.keys.Acquire(ctx)
	if err != nil {
		p.finishItem(item, nil, err)
		return
	}
	defer p.keys.Release(cred)

	started := time.Now()

	var outcome *Outcome
	switch item.Type {
	case ItemTypeBulk:
		outcome, err = p.service.VerifyBulk(ctx, cred, item)
	default:
		outcome, err = p.service.VerifyLead(ctx, cred, item)
	}

	if outcome != nil {
		observability.RecordVerification(ctx, observability.VerificationMetrics{
			Status:      string(outcome.Status),
			Provider:    outcome.Provider,
			CreditsUsed: outcome.CreditsUsed,
			Duration:    time.Since(started),
		})
	}

	slot.processedCount.Add(1)
	p.finishItem(item, outcome, err)
}

// finishItem resolves callbacks and any completion future. One item's
// failure never halts the worker; the error lands on the item's own
// error path and the loop moves on.
func (p *Pool) finishItem(item *Item, outcome *Outcome, err error) {
	if err != nil {
		log.Error().
			Err(err).
			Str("lead_id", item.LeadID).
			Str("bulk_job_id", item.BulkJobID).
			Msg("Verification item failed")
		if item.OnError != nil {
			item.OnError(err)
		}
		if item.done != nil {
			item.done <- &Outcome{Status: StatusError, Err: err}
		}
		return
	}

	if item.OnComplete != nil {
		item.OnComplete(outcome)
	}
	if item.done != nil {
		item.done <- outcome
	}
}

// Add enqueues a verification item. When waitForCompletion is true the
// returned channel receives the item's outcome exactly once.
func (p *Pool) Add(item *Item, waitForCompletion bool) (<-chan *Outcome, error) {
	if len(p.slots) == 0 {
		log.Error().
			Str("lead_id", item.LeadID).
			Str("bulk_job_id", item.BulkJobID).
			Msg("Dropping verification item: no workers available")
		return nil, ErrNoWorkers
	}
	if p.stopped.Load() {
		return nil, errors.New("verification pool is stopped")
	}

	var done chan *Outcome
	if waitForCompletion {
		done = make(chan *Outcome, 1)
		item.done = done
	}

	p.queue.push(item)

	// Wake an idle worker; a pending signal already covers us
	select {
	case p.wake <- struct{}{}:
	default:
	}

	return done, nil
}

// QueueDepth returns the number of items waiting
func (p *Pool) QueueDepth() int {
	return p.queue.len()
}

// Slots exposes the worker slots for diagnostics
func (p *Pool) Slots() []*WorkerSlot {
	return p.slots
}

// Stop signals the workers and waits for in-flight items to drain
func (p *Pool) Stop() {
	if p.stopped.Swap(true) {
		return
	}
	close(p.stopCh)
	p.wg.Wait()
	log.Debug().Msg("Verification pool stopped")
}
