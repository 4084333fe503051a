package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/notify"
)

// =============================================================================
// CAMPAIGN ENGINE - Lifecycle Manager
// =============================================================================
// Owns campaign state transitions (draft -> scheduled -> running -> paused ->
// completed/failed) and the dispatcher loops that drain each running
// campaign's queue. One dispatcher loop runs per active campaign and can be
// cancelled independently without affecting other campaigns.

// Config holds tunables for the dispatch pipeline.
type Config struct {
	// FetchBatchSize is how many work items one queue fetch asks for.
	FetchBatchSize int
	// FetchTimeout is how long an empty fetch waits for new items.
	FetchTimeout time.Duration
	// IdleChecks is how many consecutive empty fetches trigger a
	// completion check.
	IdleChecks int
	// PublishPageSize is how many queued links the publisher loads per
	// page, re-checking campaign status between pages.
	PublishPageSize int
	// SnapshotEvery publishes a progress snapshot every N processed items
	// rather than on every item, to bound notification volume.
	SnapshotEvery int
	// CommitTimeout bounds the detached post-send commit so a pause
	// cancellation cannot strand a sent message without its message id.
	CommitTimeout time.Duration
	// SweepBatchSize caps how many due scheduled campaigns one sweep
	// promotes.
	SweepBatchSize int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FetchBatchSize:  10,
		FetchTimeout:    2 * time.Second,
		IdleChecks:      3,
		PublishPageSize: 100,
		SnapshotEvery:   5,
		CommitTimeout:   10 * time.Second,
		SweepBatchSize:  50,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FetchBatchSize <= 0 {
		c.FetchBatchSize = d.FetchBatchSize
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.IdleChecks <= 0 {
		c.IdleChecks = d.IdleChecks
	}
	if c.PublishPageSize <= 0 {
		c.PublishPageSize = d.PublishPageSize
	}
	if c.SnapshotEvery <= 0 {
		c.SnapshotEvery = d.SnapshotEvery
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = d.CommitTimeout
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = d.SweepBatchSize
	}
	return c
}

// Engine drives campaign lifecycles and per-campaign dispatcher loops.
type Engine struct {
	store    Store
	queue    Queue
	sender   Sender
	gate     SendGate
	notifier notify.Notifier
	lockFor  LockFactory
	cfg      Config

	registry *consumerRegistry

	trackMu  sync.Mutex
	trackers map[uuid.UUID]*progressTracker

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewEngine wires an engine from its collaborators. notifier may be nil.
func NewEngine(store Store, queue Queue, sender Sender, gate SendGate, notifier notify.Notifier, cfg Config) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:      store,
		queue:      queue,
		sender:     sender,
		gate:       gate,
		notifier:   notifier,
		cfg:        cfg.withDefaults(),
		registry:   newConsumerRegistry(),
		trackers:   make(map[uuid.UUID]*progressTracker),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	return e
}

// SetLockFactory installs a distributed lock factory used to guard
// start/resume across process instances. Without one, the conditional
// status update is the only guard (sufficient for a single instance).
func (e *Engine) SetLockFactory(f LockFactory) { e.lockFor = f }

// Start moves a draft or scheduled campaign to running, publishes its
// queued links as work items, and starts its dispatcher loop.
func (e *Engine) Start(ctx context.Context, campaignID uuid.UUID) error {
	return e.activate(ctx, campaignID, "start", domain.CampaignDraft, domain.CampaignScheduled)
}

// Resume moves a paused campaign back to running with a fresh progress
// tracker, re-publishes links still queued, and restarts the dispatcher.
func (e *Engine) Resume(ctx context.Context, campaignID uuid.UUID) error {
	return e.activate(ctx, campaignID, "resume", domain.CampaignPaused)
}

func (e *Engine) activate(ctx context.Context, campaignID uuid.UUID, op string, from ...domain.CampaignStatus) error {
	if e.lockFor != nil {
		lock := e.lockFor(fmt.Sprintf("campaign:%s", campaignID))
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			// The conditional status update below is the secondary guard.
			log.Printf("[Engine] Warning: failed to acquire lock for campaign %s: %v", campaignID, err)
		} else if !acquired {
			return &InvalidStateError{CampaignID: campaignID, Op: op, Reason: "already being processed by another worker"}
		} else {
			defer lock.Release(ctx)
		}
	}

	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("%s campaign %s: %w", op, campaignID, err)
	}
	if !statusIn(c.Status, from...) {
		return &InvalidStateError{CampaignID: campaignID, Status: c.Status, Op: op}
	}
	if c.TotalContacts <= 0 {
		return &InvalidStateError{CampaignID: campaignID, Status: c.Status, Op: op, Reason: "campaign has no recipients"}
	}

	ok, err := e.store.MarkRunning(ctx, campaignID, from...)
	if err != nil {
		return fmt.Errorf("%s campaign %s: %w", op, campaignID, err)
	}
	if !ok {
		// Another caller won the race; their precondition held, ours no
		// longer does.
		return &InvalidStateError{CampaignID: campaignID, Status: c.Status, Op: op, Reason: "status changed concurrently"}
	}

	e.resetTracker(campaignID)
	e.notifyStatus(ctx, campaignID, domain.CampaignRunning)

	h, hctx := e.registry.swap(e.baseCtx, campaignID)
	go e.publishQueued(hctx, campaignID)
	go e.runConsumer(hctx, campaignID, h)

	log.Printf("[Engine] Campaign %s %sed (%d contacts)", campaignID, op, c.TotalContacts)
	return nil
}

// Pause halts a running campaign. It cancels exactly that campaign's
// dispatcher loop and awaits its graceful exit before returning, so no
// send for the campaign is still in flight when Pause returns. Work items
// already published stay durable on the queue; links still queued are
// re-published on resume.
func (e *Engine) Pause(ctx context.Context, campaignID uuid.UUID) error {
	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("pause campaign %s: %w", campaignID, err)
	}
	if c.Status != domain.CampaignRunning {
		return &InvalidStateError{CampaignID: campaignID, Status: c.Status, Op: "pause"}
	}

	ok, err := e.store.MarkPaused(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("pause campaign %s: %w", campaignID, err)
	}
	if !ok {
		return &InvalidStateError{CampaignID: campaignID, Status: c.Status, Op: "pause", Reason: "status changed concurrently"}
	}

	e.registry.stop(campaignID)
	e.dropTracker(campaignID)
	e.notifyStatus(ctx, campaignID, domain.CampaignPaused)

	log.Printf("[Engine] Campaign %s paused", campaignID)
	return nil
}

// completeIfDone transitions a running campaign to completed once every
// recipient is accounted for in a counter bucket. The conditional
// MarkCompleted makes the transition fire exactly once even when the
// dispatcher and the reconciler both cross the threshold.
func (e *Engine) completeIfDone(ctx context.Context, campaignID uuid.UUID) bool {
	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		log.Printf("[Engine] completion check for %s: %v", campaignID, err)
		return false
	}
	if c.Status != domain.CampaignRunning || c.ProcessedCount() < c.TotalContacts {
		return false
	}

	ok, err := e.store.MarkCompleted(ctx, campaignID)
	if err != nil {
		log.Printf("[Engine] failed to complete campaign %s: %v", campaignID, err)
		return false
	}
	if !ok {
		return false
	}

	e.dropTracker(campaignID)
	campaignsCompletedTotal.Inc()

	var duration time.Duration
	if c.StartedAt != nil {
		duration = time.Since(*c.StartedAt)
	}
	e.publish(ctx, notify.Event{
		Kind:       notify.KindCampaignCompleted,
		CampaignID: campaignID.String(),
		At:         time.Now(),
		Payload: map[string]interface{}{
			"total_contacts":  c.TotalContacts,
			"sent_count":      c.SentCount,
			"delivered_count": c.DeliveredCount,
			"read_count":      c.ReadCount,
			"failed_count":    c.FailedCount,
			"replied_count":   c.RepliedCount,
			"duration_ms":     duration.Milliseconds(),
		},
	})

	log.Printf("[Engine] Campaign %s completed (%d contacts in %v)", campaignID, c.TotalContacts, duration)
	return true
}

// failCampaign marks a campaign failed with a reason and notifies. Used
// for failures during start/resume publishing; per-item send failures
// never reach here.
func (e *Engine) failCampaign(ctx context.Context, campaignID uuid.UUID, cause error) {
	ok, err := e.store.MarkFailed(ctx, campaignID, cause.Error())
	if err != nil {
		log.Printf("[Engine] failed to mark campaign %s failed: %v", campaignID, err)
		return
	}
	if !ok {
		return
	}
	e.dropTracker(campaignID)
	e.notifyStatus(ctx, campaignID, domain.CampaignFailed)
	log.Printf("[Engine] Campaign %s failed: %v", campaignID, cause)
}

// SweepScheduled promotes scheduled campaigns whose time has arrived.
// Safe to run concurrently with manual starts: Start's precondition makes
// the second trigger a no-op.
func (e *Engine) SweepScheduled(ctx context.Context) {
	ids, err := e.store.ListDueScheduled(ctx, time.Now(), e.cfg.SweepBatchSize)
	if err != nil {
		log.Printf("[Engine] sweep: listing due campaigns: %v", err)
		return
	}
	for _, id := range ids {
		if err := e.Start(ctx, id); err != nil {
			if IsInvalidState(err) {
				continue // raced with a manual start
			}
			log.Printf("[Engine] sweep: starting campaign %s: %v", id, err)
		}
	}
}

// Recover restarts dispatcher loops for campaigns left running by a
// previous process. Links still queued are re-published; already-published
// unacked items are redelivered by the queue.
func (e *Engine) Recover(ctx context.Context) error {
	ids, err := e.store.ListByStatus(ctx, domain.CampaignRunning, 1000)
	if err != nil {
		return fmt.Errorf("recover running campaigns: %w", err)
	}
	for _, id := range ids {
		e.resetTracker(id)
		h, hctx := e.registry.swap(e.baseCtx, id)
		go e.publishQueued(hctx, id)
		go e.runConsumer(hctx, id, h)
	}
	if len(ids) > 0 {
		log.Printf("[Engine] Recovered %d running campaigns", len(ids))
	}
	return nil
}

// ActiveConsumers returns the number of live dispatcher loops.
func (e *Engine) ActiveConsumers() int { return e.registry.active() }

// Progress returns the current snapshot for a running campaign, or nil if
// no tracker exists (campaign not running in this process).
func (e *Engine) Progress(ctx context.Context, campaignID uuid.UUID) (*Snapshot, error) {
	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	t := e.lookupTracker(campaignID)
	if t == nil {
		return nil, nil
	}
	s := t.snapshot(c.ProcessedCount(), c.TotalContacts)
	return &s, nil
}

// Close cancels all dispatcher loops and awaits graceful drain with a
// bounded timeout.
func (e *Engine) Close(timeout time.Duration) error {
	drained := e.registry.closeAll(timeout)
	e.baseCancel()
	if !drained {
		return fmt.Errorf("shutdown: dispatcher loops did not drain within %v", timeout)
	}
	return nil
}

// --- tracker bookkeeping ---

func (e *Engine) resetTracker(campaignID uuid.UUID) *progressTracker {
	t := newProgressTracker(campaignID)
	e.trackMu.Lock()
	e.trackers[campaignID] = t
	e.trackMu.Unlock()
	return t
}

func (e *Engine) lookupTracker(campaignID uuid.UUID) *progressTracker {
	e.trackMu.Lock()
	t := e.trackers[campaignID]
	e.trackMu.Unlock()
	return t
}

func (e *Engine) dropTracker(campaignID uuid.UUID) {
	e.trackMu.Lock()
	delete(e.trackers, campaignID)
	e.trackMu.Unlock()
}

// --- notifications ---

func (e *Engine) notifyStatus(ctx context.Context, campaignID uuid.UUID, status domain.CampaignStatus) {
	e.publish(ctx, notify.Event{
		Kind:       notify.KindCampaignStatus,
		CampaignID: campaignID.String(),
		At:         time.Now(),
		Payload:    map[string]interface{}{"status": string(status)},
	})
}

func (e *Engine) publish(ctx context.Context, ev notify.Event) {
	if err := e.notifier.Publish(ctx, ev); err != nil {
		log.Printf("[Engine] notification publish failed (%s): %v", ev.Kind, err)
	}
}

func statusIn(s domain.CampaignStatus, set ...domain.CampaignStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
