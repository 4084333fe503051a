package dispatch

import (
	"github.com/ignite/campaign-engine/internal/domain"
)

// =============================================================================
// DELIVERY STATE MACHINE
// =============================================================================
// Pure logic mapping (current status, incoming event) to (next status,
// counter deltas). No I/O. Both the dispatcher's own sent transition and
// externally-sourced provider events go through this table, which is what
// keeps the two write paths from ever double-counting a transition.
//
// Partial order: queued(0) < sent(1) < delivered(2) < read(3).
// Replied and failed are absorbing: once a link reaches either, no event
// mutates its counters again. A reply is the strongest terminal signal and
// is never downgraded by a later delivered/read echo.

// EventKind classifies an incoming delivery event.
type EventKind string

const (
	EventSent      EventKind = "sent"
	EventDelivered EventKind = "delivered"
	EventRead      EventKind = "read"
	EventFailed    EventKind = "failed"
	EventReplied   EventKind = "replied"
)

// ParseEventKind maps a wire event name to an EventKind.
func ParseEventKind(s string) (EventKind, bool) {
	switch EventKind(s) {
	case EventSent, EventDelivered, EventRead, EventFailed, EventReplied:
		return EventKind(s), true
	}
	return "", false
}

// Transition computes the result of applying an event to a link in the
// given status. When changed is false, next equals current and delta is
// zero: applying the same event twice yields the same counters as once.
//
// Counters partition the non-queued links: every transition that moves a
// link out of a counted bucket decrements that bucket, including the
// failed transition. (The processed count used for completion detection is
// the sum over all five buckets, so each link is counted at most once.)
func Transition(current domain.DeliveryStatus, event EventKind) (next domain.DeliveryStatus, delta domain.CounterDelta, changed bool) {
	if current.IsAbsorbing() {
		return current, domain.CounterDelta{}, false
	}

	switch event {
	case EventSent:
		// Only the dispatcher produces this, and only for queued links.
		if current != domain.DeliveryQueued {
			return current, domain.CounterDelta{}, false
		}
		return domain.DeliverySent, domain.CounterDelta{Sent: 1}, true

	case EventDelivered:
		if current == domain.DeliveryDelivered || current == domain.DeliveryRead {
			return current, domain.CounterDelta{}, false
		}
		d := bucketDecrement(current)
		d.Delivered++
		return domain.DeliveryDelivered, d, true

	case EventRead:
		if current == domain.DeliveryRead {
			return current, domain.CounterDelta{}, false
		}
		d := bucketDecrement(current)
		d.Read++
		return domain.DeliveryRead, d, true

	case EventFailed:
		d := bucketDecrement(current)
		d.Failed++
		return domain.DeliveryFailed, d, true

	case EventReplied:
		d := bucketDecrement(current)
		d.Replied++
		return domain.DeliveryReplied, d, true
	}

	return current, domain.CounterDelta{}, false
}

// bucketDecrement returns the delta that removes a link from the bucket it
// is currently counted in. Queued links are not counted anywhere.
func bucketDecrement(s domain.DeliveryStatus) domain.CounterDelta {
	switch s {
	case domain.DeliverySent:
		return domain.CounterDelta{Sent: -1}
	case domain.DeliveryDelivered:
		return domain.CounterDelta{Delivered: -1}
	case domain.DeliveryRead:
		return domain.CounterDelta{Read: -1}
	}
	return domain.CounterDelta{}
}
