package dispatch

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// progressTracker is the ephemeral per-campaign accumulator for throughput
// and ETA. It exists only while its campaign is running; pausing discards
// it and resuming creates a fresh one, so rate and ETA reset after a pause
// rather than averaging across the gap.
type progressTracker struct {
	campaignID uuid.UUID
	startTime  time.Time

	mu               sync.Mutex
	batchesProcessed int
	totalSent        int
	totalFailed      int
}

func newProgressTracker(campaignID uuid.UUID) *progressTracker {
	return &progressTracker{campaignID: campaignID, startTime: time.Now()}
}

func (t *progressTracker) recordBatch() {
	t.mu.Lock()
	t.batchesProcessed++
	t.mu.Unlock()
}

func (t *progressTracker) recordSent() {
	t.mu.Lock()
	t.totalSent++
	t.mu.Unlock()
}

func (t *progressTracker) recordFailed() {
	t.mu.Lock()
	t.totalFailed++
	t.mu.Unlock()
}

// rate returns processed items per second since this tracker started.
func (t *progressTracker) rate() float64 {
	t.mu.Lock()
	processed := t.totalSent + t.totalFailed
	t.mu.Unlock()

	elapsed := time.Since(t.startTime).Seconds()
	if elapsed <= 0 || processed == 0 {
		return 0
	}
	return float64(processed) / elapsed
}

// eta estimates time remaining for the given number of outstanding items.
// Returns 0 when the rate is unknown.
func (t *progressTracker) eta(remaining int) time.Duration {
	r := t.rate()
	if r <= 0 || remaining <= 0 {
		return 0
	}
	secs := float64(remaining) / r
	if math.IsInf(secs, 0) || math.IsNaN(secs) {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// Snapshot is a point-in-time progress report published to the
// notification sink every few processed items.
type Snapshot struct {
	CampaignID     uuid.UUID     `json:"campaign_id"`
	Processed      int           `json:"processed"`
	Total          int           `json:"total"`
	PercentDone    float64       `json:"percent_done"`
	RatePerSecond  float64       `json:"rate_per_second"`
	ETA            time.Duration `json:"eta"`
	SentThisRun    int           `json:"sent_this_run"`
	FailedThisRun  int           `json:"failed_this_run"`
	RunningSeconds float64       `json:"running_seconds"`
}

// snapshot computes a progress report against the authoritative campaign
// counters. processed and total come from the campaign row, not this
// tracker, so the percentage stays correct across pause/resume.
func (t *progressTracker) snapshot(processed, total int) Snapshot {
	t.mu.Lock()
	sent, failed := t.totalSent, t.totalFailed
	t.mu.Unlock()

	pct := 0.0
	if total > 0 {
		pct = 100 * float64(processed) / float64(total)
	}
	return Snapshot{
		CampaignID:     t.campaignID,
		Processed:      processed,
		Total:          total,
		PercentDone:    pct,
		RatePerSecond:  t.rate(),
		ETA:            t.eta(total - processed),
		SentThisRun:    sent,
		FailedThisRun:  failed,
		RunningSeconds: time.Since(t.startTime).Seconds(),
	}
}
