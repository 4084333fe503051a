package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// consumerHandle is the cancellable handle for one campaign's dispatcher
// loop. done is closed by the consumer goroutine when it has fully exited.
type consumerHandle struct {
	campaignID uuid.UUID
	cancel     context.CancelFunc
	done       chan struct{}
}

// consumerRegistry maps campaign id -> running consumer handle. It upholds
// the single active consumer invariant: swap cancels and awaits any prior
// handle for the campaign before installing the new one, so at most one
// consumer drains a campaign's queue at any instant even under rapid
// pause/resume.
//
// Consumer goroutines never touch the registry themselves (they only close
// their own done channel), so holding the mutex across the await in swap
// cannot deadlock.
type consumerRegistry struct {
	mu      sync.Mutex
	handles map[uuid.UUID]*consumerHandle
}

func newConsumerRegistry() *consumerRegistry {
	return &consumerRegistry{handles: make(map[uuid.UUID]*consumerHandle)}
}

// swap atomically replaces the handle for a campaign, cancelling and
// awaiting the previous one first. Returns the new handle and its context.
func (r *consumerRegistry) swap(parent context.Context, campaignID uuid.UUID) (*consumerHandle, context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.handles[campaignID]; ok {
		prev.cancel()
		<-prev.done
	}

	ctx, cancel := context.WithCancel(parent)
	h := &consumerHandle{
		campaignID: campaignID,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	r.handles[campaignID] = h
	return h, ctx
}

// stop cancels and awaits the consumer for a campaign, if any. Returns
// true if a consumer existed.
func (r *consumerRegistry) stop(campaignID uuid.UUID) bool {
	r.mu.Lock()
	h, ok := r.handles[campaignID]
	if ok {
		delete(r.handles, campaignID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	h.cancel()
	<-h.done
	return true
}

// active returns the number of live consumers (handles whose goroutine has
// not yet exited).
func (r *consumerRegistry) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, h := range r.handles {
		select {
		case <-h.done:
		default:
			n++
		}
	}
	return n
}

// closeAll cancels every consumer and waits for them to drain, up to the
// given timeout. Returns false if the timeout elapsed first.
func (r *consumerRegistry) closeAll(timeout time.Duration) bool {
	r.mu.Lock()
	handles := make([]*consumerHandle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[uuid.UUID]*consumerHandle)
	r.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}

	deadline := time.After(timeout)
	for _, h := range handles {
		select {
		case <-h.done:
		case <-deadline:
			return false
		}
	}
	return true
}
