package engagement

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/metrics"
	"github.com/radiusdt/pulse/internal/models"
	"github.com/radiusdt/pulse/internal/storage"
	"github.com/radiusdt/pulse/internal/tracking"
)

// LinkTracker issues tracking tokens for campaign links and keeps their click counters.
type LinkTracker struct {
	links   storage.LinkStore
	guard   storage.ClickGuard
	urls    *tracking.URLBuilder
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewLinkTracker creates a new link tracker.
func NewLinkTracker(links storage.LinkStore, guard storage.ClickGuard, urls *tracking.URLBuilder, m *metrics.Metrics, logger *zap.Logger) *LinkTracker {
	return &LinkTracker{
		links:   links,
		guard:   guard,
		urls:    urls,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// GetOrCreateTrackedLink returns the link for (campaignID, originalURL),
// minting a token and a zero-count record on first use.
func (t *LinkTracker) GetOrCreateTrackedLink(ctx context.Context, campaignID, originalURL string) (*models.TrackedLink, error) {
	if campaignID == "" {
		return nil, invalid("campaignId", "is required")
	}
	if err := validateDestination(originalURL); err != nil {
		return nil, err
	}

	existing, err := t.links.GetByURL(ctx, campaignID, originalURL)
	if err != nil {
		return nil, fmt.Errorf("lookup tracked link: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	now := t.now().UTC()
	token := tracking.LinkToken(campaignID, originalURL, now)
	link := &models.TrackedLink{
		ID:          uuid.New().String(),
		CampaignID:  campaignID,
		OriginalURL: originalURL,
		Token:       token,
		TrackingURL: t.urls.ClickURL(token),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	stored, err := t.links.CreateIfAbsent(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("create tracked link: %w", err)
	}

	if stored.Token == token {
		t.logger.Debug("tracked link created",
			zap.String("campaign_id", campaignID),
			zap.String("token", token),
		)
	}
	return stored, nil
}

// RegisterClick counts a click on a link. The first click of a contact on
// a (campaign, url) pair also counts as unique; anonymous clicks never do.
// The link store decides uniqueness; the guard only short-cuts repeats.
func (t *LinkTracker) RegisterClick(ctx context.Context, campaignID, originalURL, contactID string) (*models.TrackedLink, error) {
	if _, err := t.GetOrCreateTrackedLink(ctx, campaignID, originalURL); err != nil {
		return nil, err
	}

	candidate := contactID
	if contactID != "" {
		seen, err := t.guard.Seen(ctx, campaignID, originalURL, contactID)
		if err != nil {
			t.logger.Warn("unique click cache unavailable",
				zap.String("campaign_id", campaignID),
				zap.String("contact_id", contactID),
				zap.Error(err),
			)
		}
		if seen {
			candidate = ""
		}
	}

	link, unique, err := t.links.IncrementClicks(ctx, campaignID, originalURL, candidate)
	if err != nil {
		return nil, fmt.Errorf("increment link clicks: %w", err)
	}
	if link == nil {
		return nil, fmt.Errorf("increment link clicks: link for %s vanished", originalURL)
	}

	if unique {
		t.metrics.RecordUniqueClick()
		if err := t.guard.Remember(ctx, campaignID, originalURL, contactID); err != nil {
			t.logger.Warn("failed to cache unique click", zap.Error(err))
		}
	}
	return link, nil
}

// ResolveToken returns the link for token, or nil when the token is unknown.
func (t *LinkTracker) ResolveToken(ctx context.Context, token string) (*models.TrackedLink, error) {
	if token == "" {
		return nil, nil
	}
	link, err := t.links.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	return link, nil
}

// ListLinks returns a campaign's tracked links. Store failures yield an empty list.
func (t *LinkTracker) ListLinks(ctx context.Context, campaignID string) []*models.TrackedLink {
	links, err := t.links.ListByCampaign(ctx, campaignID)
	if err != nil {
		t.logger.Warn("failed to list tracked links", zap.String("campaign_id", campaignID), zap.Error(err))
		return []*models.TrackedLink{}
	}
	return links
}

func validateDestination(raw string) error {
	if raw == "" {
		return invalid("url", "is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("url", "is not a valid URL")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("url", "must be an absolute http(s) URL")
	}
	return nil
}
