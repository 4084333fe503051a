// Package api exposes the campaign engine over HTTP: campaign CRUD and
// lifecycle operations, provider webhooks, and progress reads.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/campaign-engine/internal/dispatch"
	"github.com/ignite/campaign-engine/internal/domain"
)

// CampaignStore is the slice of persistence the handlers need.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	CreateLinks(ctx context.Context, campaignID uuid.UUID, contactIDs []uuid.UUID) (int, error)
}

// Dispatcher drives campaign lifecycle operations.
type Dispatcher interface {
	Start(ctx context.Context, campaignID uuid.UUID) error
	Pause(ctx context.Context, campaignID uuid.UUID) error
	Resume(ctx context.Context, campaignID uuid.UUID) error
	Progress(ctx context.Context, campaignID uuid.UUID) (*dispatch.Snapshot, error)
}

// StatusReconciler absorbs provider callbacks and inbound replies.
type StatusReconciler interface {
	ApplyStatusEvent(ctx context.Context, ev dispatch.StatusEvent) error
	HandleReply(ctx context.Context, contactID uuid.UUID) error
}

// PingFunc probes one backing service.
type PingFunc func(ctx context.Context) error

// Service wires HTTP routes to the engine.
type Service struct {
	store      CampaignStore
	dispatcher Dispatcher
	reconciler StatusReconciler
	checks     map[string]PingFunc
}

// NewService creates the HTTP service.
func NewService(store CampaignStore, dispatcher Dispatcher, reconciler StatusReconciler) *Service {
	return &Service{store: store, dispatcher: dispatcher, reconciler: reconciler}
}

// SetHealthChecks registers backend probes reported by /health.
func (s *Service) SetHealthChecks(db, redis PingFunc) {
	s.checks = map[string]PingFunc{}
	if db != nil {
		s.checks["database"] = db
	}
	if redis != nil {
		s.checks["redis"] = redis
	}
}

// Router builds the chi router with all routes mounted.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/campaigns", func(r chi.Router) {
		r.Post("/", s.HandleCreateCampaign)
		r.Route("/{campaignId}", func(r chi.Router) {
			r.Get("/", s.HandleGetCampaign)
			r.Post("/recipients", s.HandleAddRecipients)
			r.Post("/start", s.HandleStartCampaign)
			r.Post("/pause", s.HandlePauseCampaign)
			r.Post("/resume", s.HandleResumeCampaign)
			r.Get("/progress", s.HandleGetProgress)
		})
	})

	r.Route("/api/webhooks", func(r chi.Router) {
		r.Post("/provider", s.HandleProviderWebhook)
		r.Post("/reply", s.HandleReplyWebhook)
	})

	return r
}

// HandleHealth reports liveness, pinging each registered backend. Any
// failing backend degrades the overall status to 503 so a balancer can
// pull the instance.
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	components := map[string]string{}
	for name, ping := range s.checks {
		if err := ping(ctx); err != nil {
			status = "degraded"
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	body := map[string]interface{}{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if len(components) > 0 {
		body["components"] = components
	}
	writeJSON(w, code, body)
}
