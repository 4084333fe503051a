package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/dispatch"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// providerEvent is the delivery receipt shape posted by the message gateway.
type providerEvent struct {
	MessageID  string `json:"message_id"`
	LinkID     string `json:"link_id"`
	Event      string `json:"event"`
	Reason     string `json:"reason"`
	OccurredAt string `json:"occurred_at"`
}

// HandleProviderWebhook absorbs a batch of delivery status events. The whole
// batch is accepted with 200 even when individual events are rejected:
// providers retry whole batches, and replaying an applied event is a no-op.
func (s *Service) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	var events []providerEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	accepted, rejected := 0, 0
	for _, pe := range events {
		kind, ok := dispatch.ParseEventKind(pe.Event)
		if !ok {
			rejected++
			continue
		}
		ev := dispatch.StatusEvent{
			MessageID: pe.MessageID,
			Kind:      kind,
			Reason:    pe.Reason,
		}
		if pe.LinkID != "" {
			if id, err := uuid.Parse(pe.LinkID); err == nil {
				ev.LinkID = id
			}
		}
		if pe.OccurredAt != "" {
			if at, err := time.Parse(time.RFC3339, pe.OccurredAt); err == nil {
				ev.OccurredAt = at
			}
		}
		if err := s.reconciler.ApplyStatusEvent(r.Context(), ev); err != nil {
			logger.Warn("status event rejected", "message_id", pe.MessageID, "err", err.Error())
			rejected++
			continue
		}
		accepted++
	}

	writeJSON(w, http.StatusOK, map[string]int{"accepted": accepted, "rejected": rejected})
}

// HandleReplyWebhook records an inbound message from a contact, marking
// their most recent campaign link as replied.
func (s *Service) HandleReplyWebhook(w http.ResponseWriter, r *http.Request) {
	var input struct {
		ContactID uuid.UUID `json:"contact_id"`
		Body      string    `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if input.ContactID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "contact_id is required")
		return
	}

	if err := s.reconciler.HandleReply(r.Context(), input.ContactID); err != nil {
		logger.Error("reply webhook failed", "contact_id", input.ContactID.String(), "err", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to record reply")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
