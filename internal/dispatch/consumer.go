package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

// =============================================================================
// BATCH DISPATCHER - per-campaign queue consumer
// =============================================================================
// Drains one campaign's durable queue: fetch a small batch, re-validate
// campaign status from storage before each send (never from an in-memory
// snapshot), apply the shared rate limit, send, commit, acknowledge.
// Per-item failures mark that one link failed and the loop continues; one
// bad recipient never aborts the batch.

// runConsumer is the dispatcher loop for a single campaign. It exits when
// its context is cancelled (pause or shutdown), when the campaign leaves
// running, or when the queue infrastructure stays unreachable; in the last
// case the campaign is deliberately left running so a resume or restart can
// recover.
func (e *Engine) runConsumer(ctx context.Context, campaignID uuid.UUID, h *consumerHandle) {
	defer close(h.done)

	activeConsumers.Inc()
	defer activeConsumers.Dec()

	cons, err := e.queue.Consumer(campaignID)
	if err != nil {
		log.Printf("[Dispatcher] Campaign %s: consumer setup failed: %v", campaignID, err)
		return
	}
	defer cons.Close()

	fetchBackoff := backoff.NewExponentialBackOff()
	fetchBackoff.InitialInterval = 250 * time.Millisecond
	fetchBackoff.MaxInterval = 5 * time.Second
	fetchBackoff.MaxElapsedTime = 2 * time.Minute

	idle := 0
	processed := 0

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		default:
		}

		deliveries, err := cons.Fetch(ctx, e.cfg.FetchBatchSize, e.cfg.FetchTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break loop
			}
			queueFetchErrorsTotal.Inc()
			wait := fetchBackoff.NextBackOff()
			if wait == backoff.Stop {
				// Broker stayed unreachable. Infrastructure failure, not a
				// business failure: the campaign stays running for a later
				// resume/restart to pick up.
				log.Printf("[Dispatcher] Campaign %s: queue unreachable, giving up: %v", campaignID, err)
				break loop
			}
			log.Printf("[Dispatcher] Campaign %s: fetch error (retrying in %v): %v", campaignID, wait, err)
			select {
			case <-ctx.Done():
				break loop
			case <-time.After(wait):
			}
			continue
		}
		fetchBackoff.Reset()

		if len(deliveries) == 0 {
			idle++
			if idle >= e.cfg.IdleChecks {
				e.completeIfDone(ctx, campaignID)
				c, err := e.store.GetCampaign(ctx, campaignID)
				if err != nil || c.Status != domain.CampaignRunning {
					break loop
				}
				// Still running with an empty queue: publication may be
				// bursty, keep polling.
				idle = 0
			}
			continue
		}
		idle = 0

		tracker := e.lookupTracker(campaignID)
		if tracker == nil {
			tracker = e.resetTracker(campaignID)
		}
		tracker.recordBatch()

		for _, d := range deliveries {
			// Authoritative status, per item. A pause that raced with this
			// fetch must win here, not after the send.
			c, err := e.store.GetCampaign(ctx, campaignID)
			if err != nil {
				log.Printf("[Dispatcher] Campaign %s: status check failed: %v", campaignID, err)
				continue // leave unacked for redelivery
			}

			switch c.Status {
			case domain.CampaignPaused:
				// Cooperative halt point: hand the item back as handled and
				// stop. The link is still queued, so resume re-publishes it.
				e.ack(cons, d)
				break loop
			case domain.CampaignRunning:
				if e.processItem(ctx, cons, d, c, tracker) {
					processed++
					if processed%e.cfg.SnapshotEvery == 0 {
						e.publishProgress(ctx, campaignID, tracker)
					}
				}
			default:
				// Completed/failed: drain the remainder without sending.
				e.ack(cons, d)
			}
		}
	}

	// Whatever ended the loop, a Failed/Delivered event (or our own last
	// send) may have crossed the completion threshold.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CommitTimeout)
	defer cancel()
	e.completeIfDone(finalCtx, campaignID)
}

// processItem sends one work item. Returns true when the item counted as
// processed (sent or failed), false when it was skipped.
func (e *Engine) processItem(ctx context.Context, cons QueueConsumer, d Delivery, c *domain.Campaign, tracker *progressTracker) bool {
	link, err := e.store.GetLink(ctx, d.Item.LinkID)
	if err != nil {
		if err == domain.ErrNotFound {
			e.ack(cons, d) // stale work item
			return false
		}
		log.Printf("[Dispatcher] Campaign %s: loading link %s: %v", c.ID, d.Item.LinkID, err)
		return false // leave unacked, redelivery will retry
	}
	if link.DeliveryStatus != domain.DeliveryQueued {
		// Redelivered duplicate of an item we already handled; the link
		// has moved on. Effects are de-duplicated here, not at the broker.
		e.ack(cons, d)
		return false
	}

	// Shared gate across all campaigns. Blocks only this item; other
	// campaigns' loops wait independently.
	if err := e.gate.Wait(ctx); err != nil {
		return false // cancelled mid-wait; item stays queued and unacked
	}

	msgID, sendErr := e.sender.Send(ctx, link.ContactID, c.MessageSpec())

	// Commit on a detached context: a pause arriving between the provider
	// accepting the message and our commit must not strand the link.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CommitTimeout)
	defer cancel()

	if sendErr != nil {
		serr := &RecipientSendError{ContactID: link.ContactID, Err: sendErr}
		ok, err := e.store.MarkLinkFailed(commitCtx, link.ID, serr.Error())
		if err != nil {
			log.Printf("[Dispatcher] Campaign %s: marking link %s failed: %v", c.ID, link.ID, err)
			return false
		}
		// The conditional update lost means a concurrent writer advanced
		// the link after our read; it is already counted in some bucket.
		if ok {
			if err := e.store.ApplyCounterDelta(commitCtx, c.ID, domain.CounterDelta{Failed: 1}); err != nil {
				log.Printf("[Dispatcher] Campaign %s: counter update: %v", c.ID, err)
			}
			tracker.recordFailed()
			sendsTotal.WithLabelValues("failed").Inc()
		}
		e.ack(cons, d)
		e.completeIfDone(commitCtx, c.ID)
		return ok
	}

	ok, err := e.store.MarkLinkSent(commitCtx, link.ID, msgID)
	if err != nil {
		log.Printf("[Dispatcher] Campaign %s: marking link %s sent: %v", c.ID, link.ID, err)
		return false
	}
	if ok {
		if err := e.store.ApplyCounterDelta(commitCtx, c.ID, domain.CounterDelta{Sent: 1}); err != nil {
			log.Printf("[Dispatcher] Campaign %s: counter update: %v", c.ID, err)
		}
		tracker.recordSent()
		sendsTotal.WithLabelValues("sent").Inc()
	}
	e.ack(cons, d)
	e.completeIfDone(commitCtx, c.ID)
	return ok
}

func (e *Engine) ack(cons QueueConsumer, d Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CommitTimeout)
	defer cancel()
	if err := cons.Ack(ctx, d); err != nil {
		log.Printf("[Dispatcher] ack %s failed: %v", d.ID, err)
	}
}

func (e *Engine) publishProgress(ctx context.Context, campaignID uuid.UUID, tracker *progressTracker) {
	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return
	}
	snap := tracker.snapshot(c.ProcessedCount(), c.TotalContacts)
	e.publish(ctx, notifyProgressEvent(campaignID, snap))
}
