package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/dispatch"
	"github.com/ignite/campaign-engine/internal/domain"
)

// ---------------------------------------------------------------------------
// stubs
// ---------------------------------------------------------------------------

type stubStore struct {
	campaigns map[uuid.UUID]*domain.Campaign
	created   []*domain.Campaign
	links     int
}

func newStubStore() *stubStore {
	return &stubStore{campaigns: make(map[uuid.UUID]*domain.Campaign)}
}

func (s *stubStore) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	s.created = append(s.created, c)
	s.campaigns[c.ID] = c
	return nil
}

func (s *stubStore) GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	c, ok := s.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (s *stubStore) CreateLinks(ctx context.Context, campaignID uuid.UUID, contactIDs []uuid.UUID) (int, error) {
	// Simulate one duplicate being skipped.
	n := len(contactIDs)
	if n > 1 {
		n--
	}
	s.links += n
	return n, nil
}

type stubDispatcher struct {
	startErr  error
	pauseErr  error
	resumeErr error
	calls     []string
}

func (d *stubDispatcher) Start(ctx context.Context, id uuid.UUID) error {
	d.calls = append(d.calls, "start")
	return d.startErr
}

func (d *stubDispatcher) Pause(ctx context.Context, id uuid.UUID) error {
	d.calls = append(d.calls, "pause")
	return d.pauseErr
}

func (d *stubDispatcher) Resume(ctx context.Context, id uuid.UUID) error {
	d.calls = append(d.calls, "resume")
	return d.resumeErr
}

func (d *stubDispatcher) Progress(ctx context.Context, id uuid.UUID) (*dispatch.Snapshot, error) {
	return &dispatch.Snapshot{CampaignID: id, Processed: 5, Total: 10, PercentDone: 50}, nil
}

type stubReconciler struct {
	events  []dispatch.StatusEvent
	replies []uuid.UUID
	evErr   error
}

func (r *stubReconciler) ApplyStatusEvent(ctx context.Context, ev dispatch.StatusEvent) error {
	if r.evErr != nil {
		return r.evErr
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *stubReconciler) HandleReply(ctx context.Context, contactID uuid.UUID) error {
	r.replies = append(r.replies, contactID)
	return nil
}

func newTestService() (*Service, *stubStore, *stubDispatcher, *stubReconciler) {
	store := newStubStore()
	d := &stubDispatcher{}
	r := &stubReconciler{}
	return NewService(store, d, r), store, d, r
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// campaign CRUD and lifecycle
// ---------------------------------------------------------------------------

func TestCreateCampaign(t *testing.T) {
	svc, store, _, _ := newTestService()
	router := svc.Router()

	rec := doJSON(t, router, "POST", "/api/campaigns/", map[string]string{
		"name": "spring-sale",
		"body": "hello there",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, store.created, 1)
	assert.Equal(t, domain.CampaignDraft, store.created[0].Status)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])
	assert.Equal(t, "draft", resp["status"])
}

func TestCreateCampaignScheduled(t *testing.T) {
	svc, store, _, _ := newTestService()
	router := svc.Router()

	rec := doJSON(t, router, "POST", "/api/campaigns/", map[string]string{
		"name":         "scheduled-blast",
		"body":         "hi",
		"scheduled_at": "2026-09-15T10:00:00Z",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, store.created, 1)
	assert.Equal(t, domain.CampaignScheduled, store.created[0].Status)
	require.NotNil(t, store.created[0].ScheduledAt)
}

func TestCreateCampaignValidation(t *testing.T) {
	svc, _, _, _ := newTestService()
	router := svc.Router()

	// missing name
	rec := doJSON(t, router, "POST", "/api/campaigns/", map[string]string{"body": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// neither body nor template
	rec = doJSON(t, router, "POST", "/api/campaigns/", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// bad timestamp
	rec = doJSON(t, router, "POST", "/api/campaigns/", map[string]string{
		"name": "x", "body": "y", "scheduled_at": "tomorrow",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCampaignNotFound(t *testing.T) {
	svc, _, _, _ := newTestService()
	router := svc.Router()

	rec := doJSON(t, router, "GET", "/api/campaigns/"+uuid.NewString()+"/", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddRecipients(t *testing.T) {
	svc, store, _, _ := newTestService()
	router := svc.Router()

	c := &domain.Campaign{ID: uuid.New(), Status: domain.CampaignDraft}
	store.campaigns[c.ID] = c

	rec := doJSON(t, router, "POST", "/api/campaigns/"+c.ID.String()+"/recipients", map[string]interface{}{
		"contact_ids": []string{uuid.NewString(), uuid.NewString(), uuid.NewString()},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["added"])
	assert.Equal(t, float64(1), resp["skipped"])
}

func TestAddRecipientsFrozenOnceRunning(t *testing.T) {
	svc, store, _, _ := newTestService()
	router := svc.Router()

	c := &domain.Campaign{ID: uuid.New(), Status: domain.CampaignRunning}
	store.campaigns[c.ID] = c

	rec := doJSON(t, router, "POST", "/api/campaigns/"+c.ID.String()+"/recipients", map[string]interface{}{
		"contact_ids": []string{uuid.NewString()},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLifecycleEndpoints(t *testing.T) {
	svc, _, d, _ := newTestService()
	router := svc.Router()
	id := uuid.NewString()

	for _, op := range []string{"start", "pause", "resume"} {
		rec := doJSON(t, router, "POST", "/api/campaigns/"+id+"/"+op, nil)
		assert.Equal(t, http.StatusOK, rec.Code, op)
	}
	assert.Equal(t, []string{"start", "pause", "resume"}, d.calls)
}

func TestLifecycleConflict(t *testing.T) {
	svc, _, d, _ := newTestService()
	router := svc.Router()

	cid := uuid.New()
	d.startErr = &dispatch.InvalidStateError{CampaignID: cid, Status: domain.CampaignCompleted, Op: "start"}

	rec := doJSON(t, router, "POST", "/api/campaigns/"+cid.String()+"/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp["status"])
}

func TestLifecycleNotFound(t *testing.T) {
	svc, _, d, _ := newTestService()
	router := svc.Router()

	d.startErr = domain.ErrNotFound
	rec := doJSON(t, router, "POST", "/api/campaigns/"+uuid.NewString()+"/start", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLifecycleBadID(t *testing.T) {
	svc, _, _, _ := newTestService()
	router := svc.Router()

	rec := doJSON(t, router, "POST", "/api/campaigns/not-a-uuid/start", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetProgress(t *testing.T) {
	svc, _, _, _ := newTestService()
	router := svc.Router()

	rec := doJSON(t, router, "GET", "/api/campaigns/"+uuid.NewString()+"/progress", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var snap dispatch.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 5, snap.Processed)
	assert.Equal(t, 10, snap.Total)
}

// ---------------------------------------------------------------------------
// webhooks
// ---------------------------------------------------------------------------

func TestProviderWebhook(t *testing.T) {
	svc, _, _, r := newTestService()
	router := svc.Router()

	linkID := uuid.New()
	rec := doJSON(t, router, "POST", "/api/webhooks/provider", []map[string]string{
		{"message_id": "msg-1", "event": "delivered", "occurred_at": "2026-08-31T12:00:00Z"},
		{"message_id": "msg-2", "event": "failed", "reason": "number unreachable"},
		{"link_id": linkID.String(), "event": "read"},
		{"message_id": "msg-3", "event": "clicked"}, // unsupported kind
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp["accepted"])
	assert.Equal(t, 1, resp["rejected"])

	require.Len(t, r.events, 3)
	assert.Equal(t, dispatch.EventDelivered, r.events[0].Kind)
	assert.Equal(t, "number unreachable", r.events[1].Reason)
	assert.Equal(t, linkID, r.events[2].LinkID)
}

func TestProviderWebhookBadPayload(t *testing.T) {
	svc, _, _, _ := newTestService()
	router := svc.Router()

	req := httptest.NewRequest("POST", "/api/webhooks/provider", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplyWebhook(t *testing.T) {
	svc, _, _, r := newTestService()
	router := svc.Router()

	contactID := uuid.New()
	rec := doJSON(t, router, "POST", "/api/webhooks/reply", map[string]string{
		"contact_id": contactID.String(),
		"body":       "yes please",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, r.replies, 1)
	assert.Equal(t, contactID, r.replies[0])
}

func TestReplyWebhookRequiresContact(t *testing.T) {
	svc, _, _, _ := newTestService()
	router := svc.Router()

	rec := doJSON(t, router, "POST", "/api/webhooks/reply", map[string]string{"body": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	svc, _, _, _ := newTestService()
	svc.SetHealthChecks(
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return nil },
	)
	router := svc.Router()

	rec := doJSON(t, router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Components["database"])
	assert.Equal(t, "ok", resp.Components["redis"])
}

func TestHealthDegradedWhenBackendDown(t *testing.T) {
	svc, _, _, _ := newTestService()
	svc.SetHealthChecks(
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return errors.New("connection refused") },
	)
	router := svc.Router()

	rec := doJSON(t, router, "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Components["database"])
	assert.Contains(t, resp.Components["redis"], "connection refused")
}

func TestHealthWithoutChecks(t *testing.T) {
	svc, _, _, _ := newTestService()
	router := svc.Router()

	rec := doJSON(t, router, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}
