package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically promotes scheduled campaigns whose scheduled time
// has arrived into running. It is safe alongside manual starts: the
// engine's precondition check makes the second trigger a no-op.
type Sweeper struct {
	engine   *Engine
	cron     *cron.Cron
	interval time.Duration
}

// NewSweeper creates a sweeper that runs every interval (minimum one
// second, default one minute).
func NewSweeper(engine *Engine, interval time.Duration) *Sweeper {
	if interval < time.Second {
		interval = time.Minute
	}
	return &Sweeper{
		engine:   engine,
		cron:     cron.New(),
		interval: interval,
	}
}

// Start begins the sweep schedule.
func (s *Sweeper) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.sweep); err != nil {
		return fmt.Errorf("scheduling sweep: %w", err)
	}
	s.cron.Start()
	log.Printf("[Sweeper] Started with interval %v", s.interval)
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Printf("[Sweeper] Stopped")
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()
	s.engine.SweepScheduled(ctx)
}
