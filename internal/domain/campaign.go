package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// campaignEdges is the forward-only lifecycle graph. A campaign never
// re-enters draft or scheduled once it has left them.
var campaignEdges = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled, CampaignRunning},
	CampaignScheduled: {CampaignRunning},
	CampaignRunning:   {CampaignPaused, CampaignCompleted, CampaignFailed},
	CampaignPaused:    {CampaignRunning},
}

// CanTransition reports whether the lifecycle graph permits moving a
// campaign from one status to another.
func CanTransition(from, to CampaignStatus) bool {
	for _, next := range campaignEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Campaign represents a mass-messaging campaign and its live aggregate
// counters. Counters are mutated only through atomic repository updates,
// never assigned in memory.
type Campaign struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	Name       string         `json:"name" db:"name"`
	Body       string         `json:"body" db:"body"`
	TemplateID *uuid.UUID     `json:"template_id" db:"template_id"`
	Status     CampaignStatus `json:"status" db:"status"`

	TotalContacts  int `json:"total_contacts" db:"total_contacts"`
	SentCount      int `json:"sent_count" db:"sent_count"`
	DeliveredCount int `json:"delivered_count" db:"delivered_count"`
	ReadCount      int `json:"read_count" db:"read_count"`
	FailedCount    int `json:"failed_count" db:"failed_count"`
	RepliedCount   int `json:"replied_count" db:"replied_count"`

	ErrorReason string `json:"error_reason,omitempty" db:"error_reason"`

	ScheduledAt *time.Time `json:"scheduled_at" db:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// ProcessedCount returns how many recipients have left the queued state.
// Each non-queued link is counted in exactly one bucket, so the sum is the
// number of processed recipients and never exceeds TotalContacts.
func (c *Campaign) ProcessedCount() int {
	return c.SentCount + c.DeliveredCount + c.ReadCount + c.FailedCount + c.RepliedCount
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed
}

// MessageSpec is what a campaign asks the provider to send to one contact.
type MessageSpec struct {
	Body       string     `json:"body"`
	TemplateID *uuid.UUID `json:"template_id,omitempty"`
}

// MessageSpec builds the provider send request for this campaign.
func (c *Campaign) MessageSpec() MessageSpec {
	return MessageSpec{Body: c.Body, TemplateID: c.TemplateID}
}
