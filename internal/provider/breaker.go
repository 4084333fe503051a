package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/ignite/campaign-engine/internal/dispatch"
	"github.com/ignite/campaign-engine/internal/domain"
)

// BreakerSender wraps a Sender with a circuit breaker so a dying provider
// fails fast instead of tying up rate-limit slots on doomed requests. An
// open breaker surfaces as an ordinary send error: the affected links are
// marked failed and the dispatch loop keeps going.
type BreakerSender struct {
	inner dispatch.Sender
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerSender wraps inner with sane provider-sized breaker settings:
// trip after 5 consecutive failures, retry one probe after 30 seconds.
func NewBreakerSender(name string, inner dispatch.Sender) *BreakerSender {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &BreakerSender{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(settings),
	}
}

// Send implements dispatch.Sender.
func (b *BreakerSender) Send(ctx context.Context, contactID uuid.UUID, spec domain.MessageSpec) (string, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Send(ctx, contactID, spec)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}
