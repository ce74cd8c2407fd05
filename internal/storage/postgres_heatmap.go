package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radiusdt/pulse/internal/models"
)

// PostgresHeatMapStore implements HeatMapStore using PostgreSQL.
type PostgresHeatMapStore struct {
	pool *pgxpool.Pool
}

func NewPostgresHeatMapStore(pool *pgxpool.Pool) *PostgresHeatMapStore {
	return &PostgresHeatMapStore{pool: pool}
}

// AppendPoint upserts the owning heat map and inserts the point in one transaction.
func (r *PostgresHeatMapStore) AppendPoint(ctx context.Context, p *models.InteractionDataPoint) (*models.HeatMap, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var hm models.HeatMap
	err = tx.QueryRow(ctx, `
		INSERT INTO email_heat_maps (id, email_id, campaign_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (email_id, campaign_id) DO UPDATE SET
			updated_at = GREATEST(email_heat_maps.updated_at, EXCLUDED.updated_at)
		RETURNING id, email_id, campaign_id, created_at, updated_at
	`, uuid.New().String(), p.EmailID, p.CampaignID, p.Timestamp).
		Scan(&hm.ID, &hm.EmailID, &hm.CampaignID, &hm.CreatedAt, &hm.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert heat map: %w", err)
	}
	hm.CreatedAt = hm.CreatedAt.UTC()
	hm.UpdatedAt = hm.UpdatedAt.UTC()

	err = tx.QueryRow(ctx, `
		INSERT INTO interaction_data_points (heat_map_id, email_id, campaign_id, contact_id, element_id,
			element_type, x_coordinate, y_coordinate, interaction_type, interaction_duration_ms,
			intensity, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, hm.ID, p.EmailID, p.CampaignID, nullString(p.ContactID), nullString(p.ElementID),
		nullString(p.ElementType), p.XCoordinate, p.YCoordinate, string(p.InteractionType),
		p.InteractionDuration, p.Intensity, p.Timestamp, p.Metadata,
	).Scan(&p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert interaction point: %w", err)
	}
	p.HeatMapID = hm.ID

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit interaction point: %w", err)
	}
	return &hm, nil
}

// PointsByEmail returns the points of every heat map for emailID, most recent first.
func (r *PostgresHeatMapStore) PointsByEmail(ctx context.Context, emailID string) ([]*models.InteractionDataPoint, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, heat_map_id, email_id, campaign_id, contact_id, element_id, element_type,
			x_coordinate, y_coordinate, interaction_type, interaction_duration_ms, intensity,
			occurred_at, metadata
		FROM interaction_data_points
		WHERE email_id = $1
		ORDER BY occurred_at DESC, id DESC
	`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to list interaction points: %w", err)
	}
	defer rows.Close()

	points := make([]*models.InteractionDataPoint, 0)
	for rows.Next() {
		var p models.InteractionDataPoint
		var contactID, elementID, elementType *string
		var interactionType string

		if err := rows.Scan(&p.ID, &p.HeatMapID, &p.EmailID, &p.CampaignID, &contactID, &elementID,
			&elementType, &p.XCoordinate, &p.YCoordinate, &interactionType, &p.InteractionDuration,
			&p.Intensity, &p.Timestamp, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to scan interaction point: %w", err)
		}

		p.ContactID = derefString(contactID)
		p.ElementID = derefString(elementID)
		p.ElementType = derefString(elementType)
		p.InteractionType = models.InteractionType(interactionType)
		p.Timestamp = p.Timestamp.UTC()

		points = append(points, &p)
	}

	return points, rows.Err()
}

func (r *PostgresHeatMapStore) ListByCampaign(ctx context.Context, campaignID string) ([]*models.HeatMap, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, email_id, campaign_id, created_at, updated_at
		FROM email_heat_maps WHERE campaign_id = $1 ORDER BY created_at
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list heat maps: %w", err)
	}
	defer rows.Close()

	heatMaps := make([]*models.HeatMap, 0)
	for rows.Next() {
		var hm models.HeatMap
		if err := rows.Scan(&hm.ID, &hm.EmailID, &hm.CampaignID, &hm.CreatedAt, &hm.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan heat map: %w", err)
		}
		hm.CreatedAt = hm.CreatedAt.UTC()
		hm.UpdatedAt = hm.UpdatedAt.UTC()
		heatMaps = append(heatMaps, &hm)
	}

	return heatMaps, rows.Err()
}
