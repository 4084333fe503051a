// Package notify publishes campaign progress and status events to whatever
// is informing a UI. Publishing is fire-and-forget: failures are logged by
// callers and never block the dispatch path.
package notify

import (
	"context"
	"time"
)

// Event kinds published by the engine.
const (
	KindCampaignStatus    = "campaign_status"
	KindCampaignProgress  = "campaign_progress"
	KindCampaignCompleted = "campaign_completed"
)

// Event is a single notification about a campaign.
type Event struct {
	Kind       string                 `json:"kind"`
	CampaignID string                 `json:"campaign_id"`
	At         time.Time              `json:"at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// Notifier is the sink contract. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards all events. Useful for tests and for running without a
// broadcast layer configured.
type Nop struct{}

// Publish implements Notifier.
func (Nop) Publish(context.Context, Event) error { return nil }
