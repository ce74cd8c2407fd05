package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radiusdt/pulse/internal/models"
)

// PostgresLinkStore implements LinkStore using PostgreSQL.
type PostgresLinkStore struct {
	pool *pgxpool.Pool
}

func NewPostgresLinkStore(pool *pgxpool.Pool) *PostgresLinkStore {
	return &PostgresLinkStore{pool: pool}
}

const linkColumns = `id, campaign_id, original_url, token, tracking_url, click_count, unique_click_count, created_at, updated_at`

func scanLink(row pgx.Row) (*models.TrackedLink, error) {
	var l models.TrackedLink
	err := row.Scan(&l.ID, &l.CampaignID, &l.OriginalURL, &l.Token, &l.TrackingURL,
		&l.ClickCount, &l.UniqueClickCount, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}

// CreateIfAbsent inserts the link; a concurrent creator for the same
// (campaign, URL) wins and its row is returned.
func (r *PostgresLinkStore) CreateIfAbsent(ctx context.Context, link *models.TrackedLink) (*models.TrackedLink, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO link_tracking (`+linkColumns+`)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7)
		ON CONFLICT (campaign_id, original_url) DO NOTHING
	`, link.ID, link.CampaignID, link.OriginalURL, link.Token, link.TrackingURL, link.CreatedAt, link.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert tracked link: %w", err)
	}

	stored, err := r.GetByURL(ctx, link.CampaignID, link.OriginalURL)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("tracked link vanished after insert: %s", link.OriginalURL)
	}
	return stored, nil
}

func (r *PostgresLinkStore) GetByURL(ctx context.Context, campaignID, originalURL string) (*models.TrackedLink, error) {
	l, err := scanLink(r.pool.QueryRow(ctx, `
		SELECT `+linkColumns+` FROM link_tracking WHERE campaign_id = $1 AND original_url = $2
	`, campaignID, originalURL))
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked link: %w", err)
	}
	return l, nil
}

func (r *PostgresLinkStore) GetByToken(ctx context.Context, token string) (*models.TrackedLink, error) {
	l, err := scanLink(r.pool.QueryRow(ctx, `
		SELECT `+linkColumns+` FROM link_tracking WHERE token = $1
	`, token))
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked link by token: %w", err)
	}
	return l, nil
}

func (r *PostgresLinkStore) ListByCampaign(ctx context.Context, campaignID string) ([]*models.TrackedLink, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+linkColumns+` FROM link_tracking WHERE campaign_id = $1 ORDER BY created_at, original_url
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked links: %w", err)
	}
	defer rows.Close()

	links := make([]*models.TrackedLink, 0)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// IncrementClicks records the contact's triple and bumps both counters in
// one transaction. The click is unique only when the triple insert adds a
// row, so uniqueness survives restarts and cache loss.
func (r *PostgresLinkStore) IncrementClicks(ctx context.Context, campaignID, originalURL, contactID string) (*models.TrackedLink, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin click transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	unique := false
	if contactID != "" {
		tag, err := tx.Exec(ctx, `
			INSERT INTO link_unique_clicks (campaign_id, original_url, contact_id, first_clicked_at)
			SELECT campaign_id, original_url, $3, $4 FROM link_tracking
			WHERE campaign_id = $1 AND original_url = $2
			ON CONFLICT (campaign_id, original_url, contact_id) DO NOTHING
		`, campaignID, originalURL, contactID, time.Now().UTC())
		if err != nil {
			return nil, false, fmt.Errorf("failed to record unique click: %w", err)
		}
		unique = tag.RowsAffected() == 1
	}

	uniqueDelta := 0
	if unique {
		uniqueDelta = 1
	}

	l, err := scanLink(tx.QueryRow(ctx, `
		UPDATE link_tracking SET
			click_count = click_count + 1,
			unique_click_count = unique_click_count + $3,
			updated_at = $4
		WHERE campaign_id = $1 AND original_url = $2
		RETURNING `+linkColumns+`
	`, campaignID, originalURL, uniqueDelta, time.Now().UTC()))
	if err != nil {
		return nil, false, fmt.Errorf("failed to increment link clicks: %w", err)
	}
	if l == nil {
		return nil, false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit click: %w", err)
	}
	return l, unique, nil
}

// PostgresSnapshotStore implements SnapshotStore using PostgreSQL.
type PostgresSnapshotStore struct {
	pool *pgxpool.Pool
}

func NewPostgresSnapshotStore(pool *pgxpool.Pool) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{pool: pool}
}

const snapshotColumns = `id, campaign_id, metric_date, total_opens, unique_opens, total_clicks, unique_clicks,
	click_through_rate, engagement_score, most_clicked_link, most_active_hour, most_active_device`

func scanSnapshot(row pgx.Row) (*models.EngagementSnapshot, error) {
	var s models.EngagementSnapshot
	err := row.Scan(&s.ID, &s.CampaignID, &s.Date, &s.TotalOpens, &s.UniqueOpens, &s.TotalClicks,
		&s.UniqueClicks, &s.ClickThroughRate, &s.EngagementScore, &s.MostClickedLink,
		&s.MostActiveHour, &s.MostActiveDevice)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Date = models.DayOf(s.Date)
	return &s, nil
}

// Upsert replaces the snapshot for (campaign, date).
func (r *PostgresSnapshotStore) Upsert(ctx context.Context, s *models.EngagementSnapshot) error {
	if s == nil {
		return nil
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO engagement_metrics (`+snapshotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (campaign_id, metric_date) DO UPDATE SET
			total_opens = EXCLUDED.total_opens,
			unique_opens = EXCLUDED.unique_opens,
			total_clicks = EXCLUDED.total_clicks,
			unique_clicks = EXCLUDED.unique_clicks,
			click_through_rate = EXCLUDED.click_through_rate,
			engagement_score = EXCLUDED.engagement_score,
			most_clicked_link = EXCLUDED.most_clicked_link,
			most_active_hour = EXCLUDED.most_active_hour,
			most_active_device = EXCLUDED.most_active_device
	`, s.ID, s.CampaignID, s.Date, s.TotalOpens, s.UniqueOpens, s.TotalClicks, s.UniqueClicks,
		s.ClickThroughRate, s.EngagementScore, s.MostClickedLink, s.MostActiveHour, s.MostActiveDevice)

	if err != nil {
		return fmt.Errorf("failed to upsert engagement snapshot: %w", err)
	}
	return nil
}

func (r *PostgresSnapshotStore) Get(ctx context.Context, campaignID string, day time.Time) (*models.EngagementSnapshot, error) {
	s, err := scanSnapshot(r.pool.QueryRow(ctx, `
		SELECT `+snapshotColumns+` FROM engagement_metrics WHERE campaign_id = $1 AND metric_date = $2
	`, campaignID, models.DayOf(day)))
	if err != nil {
		return nil, fmt.Errorf("failed to get engagement snapshot: %w", err)
	}
	return s, nil
}

func (r *PostgresSnapshotStore) ListRange(ctx context.Context, campaignID string, from, to time.Time) ([]*models.EngagementSnapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+snapshotColumns+` FROM engagement_metrics
		WHERE campaign_id = $1 AND metric_date >= $2 AND metric_date <= $3
		ORDER BY metric_date
	`, campaignID, models.DayOf(from), models.DayOf(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list engagement snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]*models.EngagementSnapshot, 0)
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
