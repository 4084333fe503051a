package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus enumerates the per-recipient delivery lifecycle.
type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "queued"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryReplied   DeliveryStatus = "replied"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Rank returns the position of a status in the forward-only partial order
// queued < sent < delivered < read. Replied and failed sit outside the
// order; they are absorbing states reached by explicit rules.
func (s DeliveryStatus) Rank() int {
	switch s {
	case DeliveryQueued:
		return 0
	case DeliverySent:
		return 1
	case DeliveryDelivered:
		return 2
	case DeliveryRead:
		return 3
	default:
		return -1
	}
}

// IsAbsorbing reports whether a link in this status accepts no further
// transitions that mutate counters.
func (s DeliveryStatus) IsAbsorbing() bool {
	return s == DeliveryReplied || s == DeliveryFailed
}

// RecipientLink ties one contact to one campaign. Exactly one link exists
// per (campaign, contact) pair; the database enforces uniqueness.
type RecipientLink struct {
	ID         uuid.UUID `json:"id" db:"id"`
	CampaignID uuid.UUID `json:"campaign_id" db:"campaign_id"`
	ContactID  uuid.UUID `json:"contact_id" db:"contact_id"`

	DeliveryStatus DeliveryStatus `json:"delivery_status" db:"delivery_status"`
	MessageID      string         `json:"message_id,omitempty" db:"message_id"`
	RetryCount     int            `json:"retry_count" db:"retry_count"`
	ErrorMessage   string         `json:"error_message,omitempty" db:"error_message"`

	SentAt      *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	ReadAt      *time.Time `json:"read_at,omitempty" db:"read_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// WorkItem is the unit of dispatch work placed on a campaign's durable
// queue. It is the queue payload, nothing more; the consumer re-reads
// authoritative state before acting on it.
type WorkItem struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	LinkID     uuid.UUID `json:"link_id"`
	ContactID  uuid.UUID `json:"contact_id"`
}

// CounterDelta is a signed adjustment to a campaign's aggregate counters,
// applied atomically by the repository in a single update.
type CounterDelta struct {
	Sent      int
	Delivered int
	Read      int
	Failed    int
	Replied   int
}

// IsZero reports whether the delta would change nothing.
func (d CounterDelta) IsZero() bool {
	return d == CounterDelta{}
}

// Add returns the sum of two deltas.
func (d CounterDelta) Add(o CounterDelta) CounterDelta {
	return CounterDelta{
		Sent:      d.Sent + o.Sent,
		Delivered: d.Delivered + o.Delivered,
		Read:      d.Read + o.Read,
		Failed:    d.Failed + o.Failed,
		Replied:   d.Replied + o.Replied,
	}
}
