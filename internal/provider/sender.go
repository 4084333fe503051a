// Package provider holds outbound messaging-provider clients. The engine
// only sees the dispatch.Sender contract; this package supplies a thin
// HTTP implementation and a circuit-breaker decorator.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/httpretry"
)

// HTTPSender posts messages to the provider's REST API. Transient gateway
// errors are retried with backoff before they reach the circuit breaker.
type HTTPSender struct {
	baseURL string
	apiKey  string
	client  httpretry.Doer
}

// NewHTTPSender creates a sender for the given provider endpoint.
func NewHTTPSender(baseURL, apiKey string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSender{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httpretry.New(&http.Client{Timeout: timeout}, 2),
	}
}

type sendRequest struct {
	ContactID  string     `json:"contact_id"`
	Body       string     `json:"body,omitempty"`
	TemplateID *uuid.UUID `json:"template_id,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// Send implements dispatch.Sender.
func (s *HTTPSender) Send(ctx context.Context, contactID uuid.UUID, spec domain.MessageSpec) (string, error) {
	payload, err := json.Marshal(sendRequest{
		ContactID:  contactID.String(),
		Body:       spec.Body,
		TemplateID: spec.TemplateID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var out sendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("provider response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", fmt.Errorf("provider rejected send (status %d): %s", resp.StatusCode, msg)
	}
	if out.MessageID == "" {
		return "", fmt.Errorf("provider returned no message id")
	}
	return out.MessageID, nil
}
