package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/notify"
)

// publishQueued is the producer side of the dispatcher: it pages through a
// campaign's still-queued links and publishes each as a work item, checking
// campaign status at every page boundary so a pause racing with the
// initial publish halts further publishing immediately.
//
// Persistent failures here are campaign-level: the campaign is marked
// failed and a notification is emitted. Nothing is raised to an API caller;
// by the time this runs, the synchronous part of start/resume has returned.
func (e *Engine) publishQueued(ctx context.Context, campaignID uuid.UUID) {
	var after uuid.UUID
	published := 0

	for {
		c, err := e.store.GetCampaign(ctx, campaignID)
		if err != nil {
			e.failPublish(ctx, campaignID, err)
			return
		}
		if c.Status != domain.CampaignRunning {
			log.Printf("[Publisher] Campaign %s is %s, stopping publish after %d items", campaignID, c.Status, published)
			return
		}

		links, err := e.store.GetQueuedLinks(ctx, campaignID, e.cfg.PublishPageSize, after)
		if err != nil {
			e.failPublish(ctx, campaignID, err)
			return
		}
		if len(links) == 0 {
			log.Printf("[Publisher] Campaign %s: published %d work items", campaignID, published)
			return
		}

		for _, link := range links {
			item := domain.WorkItem{
				CampaignID: campaignID,
				LinkID:     link.ID,
				ContactID:  link.ContactID,
			}
			if err := e.queue.Publish(ctx, campaignID, item); err != nil {
				e.failPublish(ctx, campaignID, err)
				return
			}
			published++
		}
		after = links[len(links)-1].ID
	}
}

// failPublish marks the campaign failed unless the publisher was simply
// cancelled by a pause or shutdown. The status write uses a detached
// context so the cancellation that ended the publish cannot also abort the
// failure record.
func (e *Engine) failPublish(ctx context.Context, campaignID uuid.UUID, cause error) {
	if ctx.Err() != nil {
		return
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CommitTimeout)
	defer cancel()
	e.failCampaign(fctx, campaignID, cause)
}

func notifyProgressEvent(campaignID uuid.UUID, snap Snapshot) notify.Event {
	return notify.Event{
		Kind:       notify.KindCampaignProgress,
		CampaignID: campaignID.String(),
		At:         time.Now(),
		Payload: map[string]interface{}{
			"processed":       snap.Processed,
			"total":           snap.Total,
			"percent_done":    snap.PercentDone,
			"rate_per_second": snap.RatePerSecond,
			"eta_ms":          snap.ETA.Milliseconds(),
		},
	}
}
