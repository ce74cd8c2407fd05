package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radiusdt/pulse/internal/models"
)

// PostgresVariantStore implements VariantStore using PostgreSQL.
type PostgresVariantStore struct {
	pool *pgxpool.Pool
}

func NewPostgresVariantStore(pool *pgxpool.Pool) *PostgresVariantStore {
	return &PostgresVariantStore{pool: pool}
}

func (r *PostgresVariantStore) UpsertVariant(ctx context.Context, v *models.CampaignVariant) error {
	if v == nil {
		return nil
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaign_variants (id, campaign_id, name, subject, content, weight, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			campaign_id = EXCLUDED.campaign_id,
			name = EXCLUDED.name,
			subject = EXCLUDED.subject,
			content = EXCLUDED.content,
			weight = EXCLUDED.weight,
			updated_at = EXCLUDED.updated_at
	`, v.ID, v.CampaignID, v.Name, v.Subject, v.Content, v.Weight, v.CreatedAt, v.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert variant: %w", err)
	}
	return nil
}

func (r *PostgresVariantStore) GetVariant(ctx context.Context, id string) (*models.CampaignVariant, error) {
	var v models.CampaignVariant
	err := r.pool.QueryRow(ctx, `
		SELECT id, campaign_id, name, subject, content, weight, created_at, updated_at
		FROM campaign_variants WHERE id = $1
	`, id).Scan(&v.ID, &v.CampaignID, &v.Name, &v.Subject, &v.Content, &v.Weight, &v.CreatedAt, &v.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	return &v, nil
}

func (r *PostgresVariantStore) ListVariants(ctx context.Context, campaignID string) ([]*models.CampaignVariant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, campaign_id, name, subject, content, weight, created_at, updated_at
		FROM campaign_variants WHERE campaign_id = $1 ORDER BY created_at, id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	defer rows.Close()

	variants := make([]*models.CampaignVariant, 0)
	for rows.Next() {
		var v models.CampaignVariant
		if err := rows.Scan(&v.ID, &v.CampaignID, &v.Name, &v.Subject, &v.Content, &v.Weight, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		variants = append(variants, &v)
	}
	return variants, rows.Err()
}

// IncrementCounter upserts the (variant, day) row and adds delta to one counter.
func (r *PostgresVariantStore) IncrementCounter(ctx context.Context, variantID, campaignID string, day time.Time, counter VariantCounter, delta int64) error {
	if !counter.Valid() {
		return fmt.Errorf("unknown variant counter: %s", counter)
	}

	// counter is validated against a fixed set of column names above.
	query := fmt.Sprintf(`
		INSERT INTO variant_analytics (id, variant_id, campaign_id, metric_date, %[1]s)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (variant_id, metric_date) DO UPDATE SET
			%[1]s = variant_analytics.%[1]s + EXCLUDED.%[1]s
	`, string(counter))

	_, err := r.pool.Exec(ctx, query, uuid.New().String(), variantID, campaignID, models.DayOf(day), delta)
	if err != nil {
		return fmt.Errorf("failed to increment variant %s: %w", counter, err)
	}
	return nil
}

func (r *PostgresVariantStore) ListAnalytics(ctx context.Context, campaignID string) ([]*models.VariantAnalyticsSnapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, variant_id, campaign_id, metric_date, recipients, opens, clicks, bounces, unsubscribes
		FROM variant_analytics WHERE campaign_id = $1 ORDER BY metric_date, variant_id
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list variant analytics: %w", err)
	}
	defer rows.Close()

	snapshots := make([]*models.VariantAnalyticsSnapshot, 0)
	for rows.Next() {
		var s models.VariantAnalyticsSnapshot
		if err := rows.Scan(&s.ID, &s.VariantID, &s.CampaignID, &s.Date, &s.Recipients,
			&s.Opens, &s.Clicks, &s.Bounces, &s.Unsubscribes); err != nil {
			return nil, err
		}
		s.Date = models.DayOf(s.Date)
		snapshots = append(snapshots, &s)
	}
	return snapshots, rows.Err()
}

func (r *PostgresVariantStore) GetSelection(ctx context.Context, campaignID string) (*models.VariantSelection, error) {
	s, err := r.scanSelection(r.pool.QueryRow(ctx, `
		SELECT campaign_id, status, winner_variant_id, decided_at
		FROM variant_selections WHERE campaign_id = $1
	`, campaignID))
	if err != nil {
		return nil, fmt.Errorf("failed to get variant selection: %w", err)
	}
	return s, nil
}

// DecideWinner inserts the decision only when none exists, then reads back the stored row.
func (r *PostgresVariantStore) DecideWinner(ctx context.Context, campaignID, variantID string, at time.Time) (*models.VariantSelection, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO variant_selections (campaign_id, status, winner_variant_id, decided_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (campaign_id) DO UPDATE SET
			status = EXCLUDED.status,
			winner_variant_id = EXCLUDED.winner_variant_id,
			decided_at = EXCLUDED.decided_at
		WHERE variant_selections.status <> $2
	`, campaignID, string(models.SelectionDecided), variantID, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to record winner: %w", err)
	}

	return r.GetSelection(ctx, campaignID)
}

func (r *PostgresVariantStore) scanSelection(row pgx.Row) (*models.VariantSelection, error) {
	var s models.VariantSelection
	var status string
	var winner *string

	err := row.Scan(&s.CampaignID, &status, &winner, &s.DecidedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.Status = models.SelectionStatus(status)
	s.WinnerVariantID = derefString(winner)
	if s.DecidedAt != nil {
		t := s.DecidedAt.UTC()
		s.DecidedAt = &t
	}
	return &s, nil
}
