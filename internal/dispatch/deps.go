package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Store is the persistence contract the engine depends on. All status
// mutations are conditional on the current row state so that concurrent
// writers (dispatcher, reconciler, multiple process instances) can never
// double-apply a transition; implementations report whether the row
// actually changed.
type Store interface {
	GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)

	// MarkRunning flips a campaign to running and stamps started_at,
	// only if its current status is one of from.
	MarkRunning(ctx context.Context, id uuid.UUID, from ...domain.CampaignStatus) (bool, error)
	// MarkPaused flips running -> paused.
	MarkPaused(ctx context.Context, id uuid.UUID) (bool, error)
	// MarkCompleted flips running -> completed and stamps completed_at.
	// The conditional update is what makes completion fire exactly once.
	MarkCompleted(ctx context.Context, id uuid.UUID) (bool, error)
	// MarkFailed flips a non-terminal campaign to failed with a reason.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)

	// ApplyCounterDelta atomically adjusts the aggregate counters of a
	// campaign row (single UPDATE with arithmetic, no read-modify-write).
	ApplyCounterDelta(ctx context.Context, id uuid.UUID, delta domain.CounterDelta) error

	// GetQueuedLinks pages through still-queued links ordered by link id,
	// returning links with id greater than afterID. Keyset pagination keeps
	// the page stable while the consumer is concurrently draining the set.
	GetQueuedLinks(ctx context.Context, campaignID uuid.UUID, limit int, afterID uuid.UUID) ([]domain.RecipientLink, error)

	GetLink(ctx context.Context, id uuid.UUID) (*domain.RecipientLink, error)
	GetLinkByMessageID(ctx context.Context, messageID string) (*domain.RecipientLink, error)
	// LatestLinkForContact returns the most recent link for a contact, for
	// attributing inbound replies.
	LatestLinkForContact(ctx context.Context, contactID uuid.UUID) (*domain.RecipientLink, error)

	// MarkLinkSent advances queued -> sent and attaches the provider
	// message id. Returns false if the link was no longer queued.
	MarkLinkSent(ctx context.Context, linkID uuid.UUID, messageID string) (bool, error)
	// MarkLinkFailed advances queued -> failed with an error message and
	// bumps retry_count. Returns false if the link was no longer queued.
	MarkLinkFailed(ctx context.Context, linkID uuid.UUID, reason string) (bool, error)
	// TransitionLink moves a link from one delivery status to another,
	// recording errMsg when non-empty. Returns false if the link was not
	// in the expected prior status (a concurrent writer got there first).
	TransitionLink(ctx context.Context, linkID uuid.UUID, from, to domain.DeliveryStatus, errMsg string) (bool, error)

	// ListDueScheduled returns ids of scheduled campaigns whose
	// scheduled_at is at or before now.
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	// ListByStatus returns ids of campaigns in the given status, for
	// crash recovery of running campaigns at boot.
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]uuid.UUID, error)
}

// Delivery is one work item pulled from the durable queue. ID is the
// broker-assigned entry id used to acknowledge it.
type Delivery struct {
	ID   string
	Item domain.WorkItem
}

// Queue is the durable per-campaign queue contract. The broker provides
// at-least-once delivery: unacknowledged items are redelivered, so all
// downstream effects must be idempotent.
type Queue interface {
	Publish(ctx context.Context, campaignID uuid.UUID, item domain.WorkItem) error
	Consumer(campaignID uuid.UUID) (QueueConsumer, error)
}

// QueueConsumer drains one campaign's queue. At most one consumer is
// active per campaign at any instant; the registry enforces that.
type QueueConsumer interface {
	// Fetch returns up to max items, waiting at most wait for new ones.
	// An empty slice with nil error means the queue is currently drained.
	Fetch(ctx context.Context, max int, wait time.Duration) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	Close() error
}

// Sender is the outbound provider contract: send one message to one
// contact, returning the provider's message id.
type Sender interface {
	Send(ctx context.Context, contactID uuid.UUID, spec domain.MessageSpec) (string, error)
}

// LockFactory builds a distributed lock for a key. A nil factory disables
// locking (single-instance deployments).
type LockFactory func(key string) Lock

// Lock is the subset of distributed locking the engine needs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}
