package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
)

const linkColumns = `
	id, campaign_id, contact_id, delivery_status,
	COALESCE(message_id,''), retry_count, COALESCE(error_message,''),
	sent_at, delivered_at, read_at, created_at, updated_at`

func scanLink(row interface{ Scan(...interface{}) error }) (*domain.RecipientLink, error) {
	l := &domain.RecipientLink{}
	err := row.Scan(
		&l.ID, &l.CampaignID, &l.ContactID, &l.DeliveryStatus,
		&l.MessageID, &l.RetryCount, &l.ErrorMessage,
		&l.SentAt, &l.DeliveredAt, &l.ReadAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan recipient link: %w", err)
	}
	return l, nil
}

func (s *Store) GetLink(ctx context.Context, id uuid.UUID) (*domain.RecipientLink, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+linkColumns+`
		FROM campaign_recipient_links
		WHERE id = $1
	`, id)
	return scanLink(row)
}

func (s *Store) GetLinkByMessageID(ctx context.Context, messageID string) (*domain.RecipientLink, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+linkColumns+`
		FROM campaign_recipient_links
		WHERE message_id = $1
	`, messageID)
	return scanLink(row)
}

// LatestLinkForContact returns the most recently created link for a contact,
// used to attribute inbound replies to a campaign.
func (s *Store) LatestLinkForContact(ctx context.Context, contactID uuid.UUID) (*domain.RecipientLink, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+linkColumns+`
		FROM campaign_recipient_links
		WHERE contact_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, contactID)
	return scanLink(row)
}

// GetQueuedLinks pages through a campaign's queued links by id so that rows
// flipping out of 'queued' mid-walk never shift the cursor.
func (s *Store) GetQueuedLinks(ctx context.Context, campaignID uuid.UUID, limit int, afterID uuid.UUID) ([]domain.RecipientLink, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+linkColumns+`
		FROM campaign_recipient_links
		WHERE campaign_id = $1 AND delivery_status = 'queued' AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`, campaignID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("get queued links: %w", err)
	}
	defer rows.Close()

	var out []domain.RecipientLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// MarkLinkSent records a successful provider hand-off. Conditional on the
// link still being queued so a redelivered work item cannot double-send.
func (s *Store) MarkLinkSent(ctx context.Context, linkID uuid.UUID, messageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_recipient_links
		SET delivery_status = 'sent', message_id = $2, sent_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND delivery_status = 'queued'
	`, linkID, messageID)
	if err != nil {
		return false, fmt.Errorf("mark link sent: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) MarkLinkFailed(ctx context.Context, linkID uuid.UUID, errMsg string) (bool, error) {
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_recipient_links
		SET delivery_status = 'failed', error_message = $2, retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $1 AND delivery_status = 'queued'
	`, linkID, errMsg)
	if err != nil {
		return false, fmt.Errorf("mark link failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// TransitionLink moves a link from one delivery status to another. The
// from-status guard makes reconciliation replays no-ops.
func (s *Store) TransitionLink(ctx context.Context, linkID uuid.UUID, from, to domain.DeliveryStatus, errMsg string) (bool, error) {
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_recipient_links
		SET delivery_status = $3,
		    error_message   = CASE WHEN $4 = '' THEN error_message ELSE $4 END,
		    delivered_at    = CASE WHEN $3 = 'delivered' THEN NOW() ELSE delivered_at END,
		    read_at         = CASE WHEN $3 = 'read' THEN NOW() ELSE read_at END,
		    updated_at      = NOW()
		WHERE id = $1 AND delivery_status = $2
	`, linkID, from, to, errMsg)
	if err != nil {
		return false, fmt.Errorf("transition link: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CreateLinks bulk-inserts queued links for a campaign and bumps its
// total_contacts by the number of rows actually inserted. Duplicate
// (campaign_id, contact_id) pairs are silently skipped.
func (s *Store) CreateLinks(ctx context.Context, campaignID uuid.UUID, contactIDs []uuid.UUID) (int, error) {
	if len(contactIDs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create links: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, contactID := range contactIDs {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO campaign_recipient_links (id, campaign_id, contact_id, delivery_status, created_at, updated_at)
			VALUES ($1, $2, $3, 'queued', NOW(), NOW())
			ON CONFLICT (campaign_id, contact_id) DO NOTHING
		`, uuid.New(), campaignID, contactID)
		if err != nil {
			return 0, fmt.Errorf("insert link: %w", err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if inserted > 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE campaigns
			SET total_contacts = total_contacts + $2, updated_at = NOW()
			WHERE id = $1
		`, campaignID, inserted); err != nil {
			return 0, fmt.Errorf("bump total contacts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create links: %w", err)
	}
	return inserted, nil
}
