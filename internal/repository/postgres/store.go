// Package postgres implements the engine's persistence contract against
// PostgreSQL. Counter mutations and status flips are single conditional
// UPDATEs, so concurrent writers (dispatcher, reconciler, other process
// instances) serialize on the row rather than on in-process locking.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/domain"
)

// Store is the Postgres-backed persistence layer.
type Store struct{ db *sql.DB }

// NewStore creates a Postgres-backed store.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

const campaignColumns = `
	id, name, COALESCE(body,''), template_id, status,
	total_contacts, sent_count, delivered_count, read_count, failed_count, replied_count,
	COALESCE(error_reason,''), scheduled_at, started_at, completed_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := row.Scan(
		&c.ID, &c.Name, &c.Body, &c.TemplateID, &c.Status,
		&c.TotalContacts, &c.SentCount, &c.DeliveredCount, &c.ReadCount, &c.FailedCount, &c.RepliedCount,
		&c.ErrorReason, &c.ScheduledAt, &c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	return c, nil
}

func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+campaignColumns+`
		FROM campaigns
		WHERE id = $1
	`, id)
	return scanCampaign(row)
}

// CreateCampaign inserts a new draft campaign.
func (s *Store) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, body, template_id, status, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`, c.ID, c.Name, c.Body, c.TemplateID, c.Status, c.ScheduledAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// MarkRunning flips a campaign to running if its status is one of from,
// stamping started_at. Returns whether the row changed.
func (s *Store) MarkRunning(ctx context.Context, id uuid.UUID, from ...domain.CampaignStatus) (bool, error) {
	statuses := make([]string, len(from))
	for i, st := range from {
		statuses[i] = string(st)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'running', started_at = NOW(), error_reason = NULL, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
	`, id, pq.Array(statuses))
	if err != nil {
		return false, fmt.Errorf("mark campaign running: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) MarkPaused(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'paused', updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark campaign paused: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkCompleted flips running -> completed. The status guard is what makes
// completion fire exactly once across the dispatcher and the reconciler.
func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark campaign completed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	if len(reason) > 500 {
		reason = reason[:500]
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'failed', error_reason = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`, id, reason)
	if err != nil {
		return false, fmt.Errorf("mark campaign failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ApplyCounterDelta adjusts the aggregate counters in one atomic UPDATE.
// Deltas are computed by the delivery state machine; nothing here reads
// the counters first.
func (s *Store) ApplyCounterDelta(ctx context.Context, id uuid.UUID, d domain.CounterDelta) error {
	if d.IsZero() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET sent_count      = sent_count      + $2,
		    delivered_count = delivered_count + $3,
		    read_count      = read_count      + $4,
		    failed_count    = failed_count    + $5,
		    replied_count   = replied_count   + $6,
		    updated_at      = NOW()
		WHERE id = $1
	`, id, d.Sent, d.Delivered, d.Read, d.Failed, d.Replied)
	if err != nil {
		return fmt.Errorf("apply counter delta: %w", err)
	}
	return nil
}

func (s *Store) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM campaigns
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due scheduled: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *Store) ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM campaigns
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list campaigns by status: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
