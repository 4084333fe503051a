package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/dispatch"
	"github.com/ignite/campaign-engine/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// campaignParam parses the {campaignId} URL parameter.
func campaignParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "campaignId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Service) HandleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input struct {
		Name        string     `json:"name"`
		Body        string     `json:"body"`
		TemplateID  *uuid.UUID `json:"template_id"`
		ScheduledAt string     `json:"scheduled_at"` // ISO 8601, optional
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if input.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if input.Body == "" && input.TemplateID == nil {
		writeError(w, http.StatusBadRequest, "body or template_id is required")
		return
	}

	c := &domain.Campaign{
		ID:         uuid.New(),
		Name:       input.Name,
		Body:       input.Body,
		TemplateID: input.TemplateID,
		Status:     domain.CampaignDraft,
	}
	if input.ScheduledAt != "" {
		at, err := time.Parse(time.RFC3339, input.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "scheduled_at must be ISO 8601 (e.g. 2026-01-02T15:04:05Z)")
			return
		}
		c.Status = domain.CampaignScheduled
		c.ScheduledAt = &at
	}

	if err := s.store.CreateCampaign(ctx, c); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":     c.ID.String(),
		"status": c.Status,
	})
}

func (s *Service) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignParam(w, r)
	if !ok {
		return
	}

	c, err := s.store.GetCampaign(r.Context(), id)
	if err == domain.ErrNotFound {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Service) HandleAddRecipients(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignParam(w, r)
	if !ok {
		return
	}

	var input struct {
		ContactIDs []uuid.UUID `json:"contact_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(input.ContactIDs) == 0 {
		writeError(w, http.StatusBadRequest, "contact_ids is required")
		return
	}

	c, err := s.store.GetCampaign(r.Context(), id)
	if err == domain.ErrNotFound {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	// Recipients are frozen once dispatch begins
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignScheduled {
		writeError(w, http.StatusConflict, "recipients can only be added to draft or scheduled campaigns")
		return
	}

	inserted, err := s.store.CreateLinks(r.Context(), id, input.ContactIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to add recipients")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id": id.String(),
		"added":       inserted,
		"skipped":     len(input.ContactIDs) - inserted,
	})
}

func (s *Service) HandleStartCampaign(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.dispatcher.Start, "running")
}

func (s *Service) HandlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.dispatcher.Pause, "paused")
}

func (s *Service) HandleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.dispatcher.Resume, "running")
}

// lifecycleOp runs a state transition and maps the engine's error taxonomy
// onto HTTP statuses: unknown campaign is 404, a transition the state machine
// forbids is 409.
func (s *Service) lifecycleOp(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) error, resulting string) {
	id, ok := campaignParam(w, r)
	if !ok {
		return
	}

	err := op(r.Context(), id)
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": resulting})
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	var inv *dispatch.InvalidStateError
	if errors.As(err, &inv) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  inv.Reason,
			"status": string(inv.Status),
		})
		return
	}
	writeError(w, http.StatusInternalServerError, "campaign operation failed")
}

func (s *Service) HandleGetProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignParam(w, r)
	if !ok {
		return
	}

	snap, err := s.dispatcher.Progress(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute progress")
		return
	}
	if snap != nil {
		writeJSON(w, http.StatusOK, snap)
		return
	}

	// No live tracker in this process: report the stored counters
	c, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	percent := 0.0
	if c.TotalContacts > 0 {
		percent = float64(c.ProcessedCount()) / float64(c.TotalContacts) * 100
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id":  c.ID.String(),
		"status":       c.Status,
		"processed":    c.ProcessedCount(),
		"total":        c.TotalContacts,
		"percent_done": percent,
	})
}
