package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

func TestHTTPSenderSend(t *testing.T) {
	contactID := uuid.New()
	templateID := uuid.New()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ContactID != contactID.String() {
			t.Errorf("expected contact %s, got %s", contactID, req.ContactID)
		}
		if req.TemplateID == nil || *req.TemplateID != templateID {
			t.Errorf("template id not forwarded")
		}
		json.NewEncoder(w).Encode(sendResponse{MessageID: "msg-abc123"})
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "test-key", 5*time.Second)
	msgID, err := s.Send(context.Background(), contactID, domain.MessageSpec{
		Body:       "hello",
		TemplateID: &templateID,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msgID != "msg-abc123" {
		t.Errorf("expected msg-abc123, got %s", msgID)
	}
}

func TestHTTPSenderProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(sendResponse{Error: "invalid destination"})
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "k", time.Second)
	_, err := s.Send(context.Background(), uuid.New(), domain.MessageSpec{Body: "x"})
	if err == nil {
		t.Fatal("expected error for 422 response")
	}
	if !strings.Contains(err.Error(), "invalid destination") {
		t.Errorf("expected provider error message, got: %v", err)
	}
}

func TestHTTPSenderMissingMessageID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sendResponse{})
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "k", time.Second)
	_, err := s.Send(context.Background(), uuid.New(), domain.MessageSpec{Body: "x"})
	if err == nil {
		t.Fatal("expected error when response has no message id")
	}
}

func TestHTTPSenderRetriesTransientErrors(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(sendResponse{MessageID: "msg-retry"})
	}))
	defer srv.Close()

	s := NewHTTPSender(srv.URL, "k", 5*time.Second)
	msgID, err := s.Send(context.Background(), uuid.New(), domain.MessageSpec{Body: "x"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msgID != "msg-retry" {
		t.Errorf("expected msg-retry, got %s", msgID)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestHTTPSenderContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(sendResponse{MessageID: "late"})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	s := NewHTTPSender(srv.URL, "k", time.Second)
	if _, err := s.Send(ctx, uuid.New(), domain.MessageSpec{Body: "x"}); err == nil {
		t.Fatal("expected context deadline error")
	}
}
