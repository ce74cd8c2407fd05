package storage

import (
	"context"
	"time"

	"github.com/radiusdt/pulse/internal/models"
)

// =============================================
// EVENT STORE
// =============================================

// EventStore is the append-only log of opens and clicks. Appends assign
// sequential IDs and never mutate existing records.
type EventStore interface {
	AppendOpen(ctx context.Context, e *models.OpenEvent) error
	AppendClick(ctx context.Context, e *models.ClickEvent) error

	// ListByCampaign returns events in [from, to) ordered by timestamp, then ID.
	ListByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]models.InteractionEvent, error)

	// ActiveCampaigns returns campaigns with at least one event in [from, to).
	ActiveCampaigns(ctx context.Context, from, to time.Time) ([]string, error)
}

// =============================================
// LINK STORE
// =============================================

// LinkStore holds tracked links, unique per (campaign, original URL).
type LinkStore interface {
	// CreateIfAbsent inserts link unless one exists for its (campaign, URL)
	// and returns the stored row either way.
	CreateIfAbsent(ctx context.Context, link *models.TrackedLink) (*models.TrackedLink, error)
	GetByURL(ctx context.Context, campaignID, originalURL string) (*models.TrackedLink, error)
	GetByToken(ctx context.Context, token string) (*models.TrackedLink, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]*models.TrackedLink, error)

	// IncrementClicks adds one click. When contactID is set it also records
	// the (campaign, url, contact) triple and, if the triple is new, one
	// unique click, all in a single atomic update. It reports whether the
	// click was unique. Returns nil when no link exists.
	IncrementClicks(ctx context.Context, campaignID, originalURL, contactID string) (*models.TrackedLink, bool, error)
}

// =============================================
// CLICK GUARD
// =============================================

// ClickGuard caches (campaign, url, contact) triples the LinkStore has
// already counted as unique. A hit lets repeat clicks skip the durable
// check; a miss proves nothing.
type ClickGuard interface {
	// Seen reports whether the triple was remembered.
	Seen(ctx context.Context, campaignID, url, contactID string) (bool, error)
	// Remember records a triple after the LinkStore committed it.
	Remember(ctx context.Context, campaignID, url, contactID string) error
}

// =============================================
// SNAPSHOT STORE
// =============================================

// SnapshotStore holds derived engagement snapshots, one per (campaign, day).
type SnapshotStore interface {
	Upsert(ctx context.Context, s *models.EngagementSnapshot) error
	Get(ctx context.Context, campaignID string, day time.Time) (*models.EngagementSnapshot, error)
	// ListRange returns snapshots for days in [from, to], oldest first.
	ListRange(ctx context.Context, campaignID string, from, to time.Time) ([]*models.EngagementSnapshot, error)
}

// =============================================
// HEAT MAP STORE
// =============================================

// HeatMapStore holds heat maps and their append-only interaction points.
type HeatMapStore interface {
	// AppendPoint creates the (email, campaign) heat map on first use and
	// appends the point, filling p.ID and p.HeatMapID.
	AppendPoint(ctx context.Context, p *models.InteractionDataPoint) (*models.HeatMap, error)
	// PointsByEmail returns points for an email, most recent first.
	PointsByEmail(ctx context.Context, emailID string) ([]*models.InteractionDataPoint, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]*models.HeatMap, error)
}

// =============================================
// VARIANT STORE
// =============================================

// VariantCounter names a per-day variant counter column.
type VariantCounter string

const (
	CounterRecipients   VariantCounter = "recipients"
	CounterOpens        VariantCounter = "opens"
	CounterClicks       VariantCounter = "clicks"
	CounterBounces      VariantCounter = "bounces"
	CounterUnsubscribes VariantCounter = "unsubscribes"
)

// Valid reports whether c maps to a known column.
func (c VariantCounter) Valid() bool {
	switch c {
	case CounterRecipients, CounterOpens, CounterClicks, CounterBounces, CounterUnsubscribes:
		return true
	}
	return false
}

// VariantStore holds variants, their daily analytics and winner selection.
type VariantStore interface {
	UpsertVariant(ctx context.Context, v *models.CampaignVariant) error
	GetVariant(ctx context.Context, id string) (*models.CampaignVariant, error)
	ListVariants(ctx context.Context, campaignID string) ([]*models.CampaignVariant, error)

	// IncrementCounter atomically adds delta to the (variant, day) snapshot, creating it if needed.
	IncrementCounter(ctx context.Context, variantID, campaignID string, day time.Time, counter VariantCounter, delta int64) error
	ListAnalytics(ctx context.Context, campaignID string) ([]*models.VariantAnalyticsSnapshot, error)

	// GetSelection returns nil when no decision has been recorded.
	GetSelection(ctx context.Context, campaignID string) (*models.VariantSelection, error)
	// DecideWinner records variantID as winner unless a winner already
	// exists, and returns the selection as stored afterwards.
	DecideWinner(ctx context.Context, campaignID, variantID string, at time.Time) (*models.VariantSelection, error)
}

// =============================================
// EVENT MIRROR
// =============================================

// EventMirror copies raw events to an analytics sink. Best effort.
type EventMirror interface {
	Mirror(ctx context.Context, e models.InteractionEvent) error
	Flush(ctx context.Context) error
	Close() error
}
