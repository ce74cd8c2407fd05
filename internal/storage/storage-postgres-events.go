package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radiusdt/pulse/internal/models"
)

// PostgresEventStore implements EventStore using PostgreSQL.
// open_events and click_events are insert-only; BIGSERIAL ids give arena ordering.
type PostgresEventStore struct {
	pool *pgxpool.Pool
}

// NewPostgresEventStore creates a new PostgreSQL-backed event store.
func NewPostgresEventStore(pool *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{pool: pool}
}

// AppendOpen stores an open event and sets its ID.
func (s *PostgresEventStore) AppendOpen(ctx context.Context, e *models.OpenEvent) error {
	b := &e.EventBase
	err := s.pool.QueryRow(ctx, `
		INSERT INTO open_events (campaign_id, contact_id, email_id, occurred_at, ip_address, user_agent,
			device_type, browser, os, country, city, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, b.CampaignID, nullString(b.ContactID), nullString(b.EmailID), b.Timestamp,
		nullString(b.IPAddress), nullString(b.UserAgent), nullString(b.DeviceType),
		nullString(b.Browser), nullString(b.OS), nullString(b.Country), nullString(b.City),
		b.Metadata,
	).Scan(&b.ID)

	if err != nil {
		return fmt.Errorf("failed to save open event: %w", err)
	}
	return nil
}

// AppendClick stores a click event and sets its ID.
func (s *PostgresEventStore) AppendClick(ctx context.Context, e *models.ClickEvent) error {
	b := &e.EventBase
	err := s.pool.QueryRow(ctx, `
		INSERT INTO click_events (campaign_id, contact_id, email_id, url, occurred_at, ip_address, user_agent,
			device_type, browser, os, country, city, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, b.CampaignID, nullString(b.ContactID), nullString(b.EmailID), e.URL, b.Timestamp,
		nullString(b.IPAddress), nullString(b.UserAgent), nullString(b.DeviceType),
		nullString(b.Browser), nullString(b.OS), nullString(b.Country), nullString(b.City),
		b.Metadata,
	).Scan(&b.ID)

	if err != nil {
		return fmt.Errorf("failed to save click event: %w", err)
	}
	return nil
}

// ListByCampaign returns opens and clicks in [from, to) ordered by timestamp, then ID.
func (s *PostgresEventStore) ListByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]models.InteractionEvent, error) {
	events := make([]models.InteractionEvent, 0)

	opens, err := s.pool.Query(ctx, `
		SELECT id, campaign_id, contact_id, email_id, occurred_at, ip_address, user_agent,
			device_type, browser, os, country, city, metadata
		FROM open_events
		WHERE campaign_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY occurred_at, id
	`, campaignID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list open events: %w", err)
	}
	for opens.Next() {
		var e models.OpenEvent
		if err := scanEventBase(opens, &e.EventBase); err != nil {
			opens.Close()
			return nil, err
		}
		events = append(events, &e)
	}
	opens.Close()
	if err := opens.Err(); err != nil {
		return nil, fmt.Errorf("failed to list open events: %w", err)
	}

	clicks, err := s.pool.Query(ctx, `
		SELECT id, campaign_id, contact_id, email_id, occurred_at, ip_address, user_agent,
			device_type, browser, os, country, city, metadata, url
		FROM click_events
		WHERE campaign_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY occurred_at, id
	`, campaignID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list click events: %w", err)
	}
	for clicks.Next() {
		var e models.ClickEvent
		if err := scanEventBase(clicks, &e.EventBase, &e.URL); err != nil {
			clicks.Close()
			return nil, err
		}
		events = append(events, &e)
	}
	clicks.Close()
	if err := clicks.Err(); err != nil {
		return nil, fmt.Errorf("failed to list click events: %w", err)
	}

	models.SortEvents(events)
	return events, nil
}

// ActiveCampaigns returns campaigns with at least one event in [from, to).
func (s *PostgresEventStore) ActiveCampaigns(ctx context.Context, from, to time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT campaign_id FROM open_events WHERE occurred_at >= $1 AND occurred_at < $2
		UNION
		SELECT campaign_id FROM click_events WHERE occurred_at >= $1 AND occurred_at < $2
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list active campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, id)
	}
	sort.Strings(campaigns)

	return campaigns, rows.Err()
}

func scanEventBase(rows pgx.Rows, b *models.EventBase, extra ...any) error {
	var contactID, emailID, ip, ua, deviceType, browser, os, country, city *string

	dest := []any{
		&b.ID, &b.CampaignID, &contactID, &emailID, &b.Timestamp, &ip, &ua,
		&deviceType, &browser, &os, &country, &city, &b.Metadata,
	}
	dest = append(dest, extra...)

	if err := rows.Scan(dest...); err != nil {
		return fmt.Errorf("failed to scan event: %w", err)
	}

	b.Timestamp = b.Timestamp.UTC()
	b.ContactID = derefString(contactID)
	b.EmailID = derefString(emailID)
	b.IPAddress = derefString(ip)
	b.UserAgent = derefString(ua)
	b.DeviceType = derefString(deviceType)
	b.Browser = derefString(browser)
	b.OS = derefString(os)
	b.Country = derefString(country)
	b.City = derefString(city)

	return nil
}
