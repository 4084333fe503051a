package dispatch

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

// InvalidStateError is returned when a lifecycle operation is requested
// against a campaign whose current status does not permit it. The campaign
// is left untouched; this is the only failure surfaced synchronously to
// API callers.
type InvalidStateError struct {
	CampaignID uuid.UUID
	Status     domain.CampaignStatus
	Op         string
	Reason     string
}

func (e *InvalidStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s campaign %s: %s", e.Op, e.CampaignID, e.Reason)
	}
	return fmt.Sprintf("cannot %s campaign %s in '%s' status", e.Op, e.CampaignID, e.Status)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var ise *InvalidStateError
	return errors.As(err, &ise)
}

// RecipientSendError wraps a failure delivering to a single recipient. It
// never propagates past the dispatch loop: the one link is marked failed
// and the batch continues.
type RecipientSendError struct {
	ContactID uuid.UUID
	Err       error
}

func (e *RecipientSendError) Error() string {
	return fmt.Sprintf("send to contact %s: %v", e.ContactID, e.Err)
}

func (e *RecipientSendError) Unwrap() error { return e.Err }

// ReconciliationError marks a status event that could not be applied
// (unknown message id, malformed payload). The ingestion path logs and
// drops these; they never crash it.
type ReconciliationError struct {
	MessageID string
	Err       error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile event for message %q: %v", e.MessageID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
