package provider

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

type flakySender struct {
	err   error
	calls int
}

func (f *flakySender) Send(ctx context.Context, contactID uuid.UUID, spec domain.MessageSpec) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "msg-ok", nil
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	inner := &flakySender{}
	b := NewBreakerSender("test", inner)

	msgID, err := b.Send(context.Background(), uuid.New(), domain.MessageSpec{Body: "x"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msgID != "msg-ok" {
		t.Errorf("expected msg-ok, got %s", msgID)
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	inner := &flakySender{err: errors.New("gateway down")}
	b := NewBreakerSender("test", inner)

	for i := 0; i < 5; i++ {
		if _, err := b.Send(context.Background(), uuid.New(), domain.MessageSpec{Body: "x"}); err == nil {
			t.Fatalf("send %d: expected error", i)
		}
	}
	if inner.calls != 5 {
		t.Fatalf("expected 5 calls before trip, got %d", inner.calls)
	}

	// Breaker is now open: requests are rejected without reaching the provider.
	_, err := b.Send(context.Background(), uuid.New(), domain.MessageSpec{Body: "x"})
	if err == nil {
		t.Fatal("expected open-circuit error")
	}
	if !strings.Contains(err.Error(), "open") {
		t.Errorf("expected circuit breaker error, got: %v", err)
	}
	if inner.calls != 5 {
		t.Errorf("open breaker still called provider: %d calls", inner.calls)
	}
}

func TestBreakerRecoversAfterSuccess(t *testing.T) {
	inner := &flakySender{err: errors.New("blip")}
	b := NewBreakerSender("test", inner)

	for i := 0; i < 3; i++ {
		b.Send(context.Background(), uuid.New(), domain.MessageSpec{Body: "x"})
	}

	// Under the trip threshold a success resets the consecutive-failure count.
	inner.err = nil
	if _, err := b.Send(context.Background(), uuid.New(), domain.MessageSpec{Body: "x"}); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}

	inner.err = errors.New("blip again")
	for i := 0; i < 4; i++ {
		b.Send(context.Background(), uuid.New(), domain.MessageSpec{Body: "x"})
	}
	// Four failures after the reset: still under the threshold of five.
	inner.err = nil
	if _, err := b.Send(context.Background(), uuid.New(), domain.MessageSpec{Body: "x"}); err != nil {
		t.Fatalf("breaker tripped too early: %v", err)
	}
}
