package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

// =============================================================================
// STATUS RECONCILER
// =============================================================================
// Converts inbound delivery-status and reply events (from the webhook
// ingestion layer) into monotonic per-link transitions and consistent
// aggregate counters. Events arrive out of order and may be replayed; the
// state machine plus conditional link updates make every application
// idempotent. Malformed or unmatchable events are dropped with a log and
// never crash the ingestion path.

// StatusEvent is one provider callback about a message.
type StatusEvent struct {
	// MessageID is the provider's id for the outbound message. Used to
	// locate the link when LinkID is zero.
	MessageID string
	// LinkID optionally addresses the link directly.
	LinkID uuid.UUID
	// Kind is the reported delivery outcome: delivered, read or failed.
	Kind EventKind
	// Reason carries the provider's failure description, if any.
	Reason     string
	OccurredAt time.Time
}

// Reconciler applies status events against the store. It shares the
// engine's completion check so an event that accounts for the last
// recipient completes the campaign.
type Reconciler struct {
	store  Store
	engine *Engine
}

// NewReconciler creates a reconciler backed by the engine's store.
func NewReconciler(engine *Engine) *Reconciler {
	return &Reconciler{store: engine.store, engine: engine}
}

// ApplyStatusEvent applies one provider event to its link. Replays and
// stale events (a delivered echo after a read, anything after a reply or
// failure) are ignored. Every application that actually changes state also
// runs the completion check for the owning campaign.
func (r *Reconciler) ApplyStatusEvent(ctx context.Context, ev StatusEvent) error {
	switch ev.Kind {
	case EventDelivered, EventRead, EventFailed:
	default:
		statusEventsTotal.WithLabelValues(string(ev.Kind), "rejected").Inc()
		return &ReconciliationError{MessageID: ev.MessageID, Err: fmt.Errorf("unsupported event kind %q", ev.Kind)}
	}

	link, err := r.resolveLink(ctx, ev)
	if err != nil {
		statusEventsTotal.WithLabelValues(string(ev.Kind), "unmatched").Inc()
		return err
	}

	changed, err := r.apply(ctx, link, ev.Kind, ev.Reason)
	if err != nil {
		statusEventsTotal.WithLabelValues(string(ev.Kind), "error").Inc()
		return err
	}
	if changed {
		statusEventsTotal.WithLabelValues(string(ev.Kind), "applied").Inc()
	} else {
		statusEventsTotal.WithLabelValues(string(ev.Kind), "ignored").Inc()
	}
	return nil
}

// HandleReply records an inbound reply from a contact against their most
// recent campaign link. A reply is terminal: later delivered/read echoes
// for the same link are ignored from then on.
func (r *Reconciler) HandleReply(ctx context.Context, contactID uuid.UUID) error {
	link, err := r.store.LatestLinkForContact(ctx, contactID)
	if err != nil {
		if err == domain.ErrNotFound {
			// Reply from a contact we never messaged; nothing to attribute.
			log.Printf("[Reconciler] reply from contact %s matches no campaign link", contactID)
			statusEventsTotal.WithLabelValues(string(EventReplied), "unmatched").Inc()
			return nil
		}
		return fmt.Errorf("locating link for contact %s: %w", contactID, err)
	}

	changed, err := r.apply(ctx, link, EventReplied, "")
	if err != nil {
		statusEventsTotal.WithLabelValues(string(EventReplied), "error").Inc()
		return err
	}
	if changed {
		statusEventsTotal.WithLabelValues(string(EventReplied), "applied").Inc()
	} else {
		statusEventsTotal.WithLabelValues(string(EventReplied), "ignored").Inc()
	}
	return nil
}

// apply runs one event through the state machine and commits the result.
// The link update is conditional on the prior status: if a concurrent
// writer advanced the link first, the counter delta is not applied and the
// event is treated as ignored.
func (r *Reconciler) apply(ctx context.Context, link *domain.RecipientLink, kind EventKind, reason string) (bool, error) {
	next, delta, changed := Transition(link.DeliveryStatus, kind)
	if !changed {
		return false, nil
	}

	ok, err := r.store.TransitionLink(ctx, link.ID, link.DeliveryStatus, next, reason)
	if err != nil {
		return false, fmt.Errorf("transition link %s %s->%s: %w", link.ID, link.DeliveryStatus, next, err)
	}
	if !ok {
		return false, nil
	}

	if err := r.store.ApplyCounterDelta(ctx, link.CampaignID, delta); err != nil {
		return false, fmt.Errorf("counter update for campaign %s: %w", link.CampaignID, err)
	}

	// A delivered/read/failed event can be what crosses the completion
	// threshold.
	r.engine.completeIfDone(ctx, link.CampaignID)
	return true, nil
}

func (r *Reconciler) resolveLink(ctx context.Context, ev StatusEvent) (*domain.RecipientLink, error) {
	if ev.LinkID != uuid.Nil {
		link, err := r.store.GetLink(ctx, ev.LinkID)
		if err != nil {
			return nil, &ReconciliationError{MessageID: ev.MessageID, Err: err}
		}
		return link, nil
	}
	if ev.MessageID == "" {
		return nil, &ReconciliationError{Err: fmt.Errorf("event has neither link id nor message id")}
	}
	link, err := r.store.GetLinkByMessageID(ctx, ev.MessageID)
	if err != nil {
		return nil, &ReconciliationError{MessageID: ev.MessageID, Err: err}
	}
	return link, nil
}
