package engagement

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/geo"
	"github.com/radiusdt/pulse/internal/metrics"
	"github.com/radiusdt/pulse/internal/models"
	"github.com/radiusdt/pulse/internal/storage"
	"github.com/radiusdt/pulse/internal/tracking"
)

// Aggregation failure stages, used as metric labels.
const (
	stageLink      = "link"
	stageAggregate = "aggregate"
	stageMirror    = "mirror"
	stageVariant   = "variant"
)

// GeoInput carries a caller-supplied location that overrides IP lookup.
type GeoInput struct {
	Country string
	City    string
}

// OpenParams holds parameters for open registration
type OpenParams struct {
	CampaignID string
	ContactID  string
	EmailID    string
	UserAgent  string
	IP         string
	VariantID  string // attributes the event to an A/B variant when set
	Geo        *GeoInput
	Metadata   map[string]any
}

// ClickParams holds parameters for click registration
type ClickParams struct {
	CampaignID string
	URL        string
	ContactID  string
	EmailID    string
	UserAgent  string
	IP         string
	VariantID  string // attributes the event to an A/B variant when set
	Geo        *GeoInput
	Metadata   map[string]any
}

// Recorder persists opens and clicks and keeps derived counters current.
type Recorder struct {
	events     storage.EventStore
	classifier tracking.DeviceClassifier
	geo        geo.Resolver
	links      *LinkTracker
	aggregator *Aggregator
	variants   *VariantTracker
	mirror     storage.EventMirror
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewRecorder creates a new event recorder. resolver, variants and mirror may be nil.
func NewRecorder(
	events storage.EventStore,
	classifier tracking.DeviceClassifier,
	resolver geo.Resolver,
	links *LinkTracker,
	aggregator *Aggregator,
	variants *VariantTracker,
	mirror storage.EventMirror,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Recorder {
	if mirror == nil {
		mirror = storage.NopEventMirror{}
	}
	return &Recorder{
		events:     events,
		classifier: classifier,
		geo:        resolver,
		links:      links,
		aggregator: aggregator,
		variants:   variants,
		mirror:     mirror,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// RecordOpen stores an open event. Duplicates are never rejected.
func (r *Recorder) RecordOpen(ctx context.Context, p OpenParams) (*models.OpenEvent, error) {
	if p.CampaignID == "" {
		return nil, invalid("campaignId", "is required")
	}

	e := &models.OpenEvent{
		EventBase: r.newBase(p.CampaignID, p.ContactID, p.EmailID, p.UserAgent, p.IP, p.Geo, p.Metadata),
	}

	if err := r.events.AppendOpen(ctx, e); err != nil {
		r.metrics.RecordEventFailure(string(models.EventKindOpen))
		return nil, fmt.Errorf("record open: %w", err)
	}
	r.metrics.RecordEvent(string(models.EventKindOpen), e.DeviceType)

	r.afterWrite(ctx, e, p.VariantID)
	return e, nil
}

// RecordClick stores a click event and updates the link's counters.
func (r *Recorder) RecordClick(ctx context.Context, p ClickParams) (*models.ClickEvent, error) {
	if p.CampaignID == "" {
		return nil, invalid("campaignId", "is required")
	}
	if err := validateDestination(p.URL); err != nil {
		return nil, err
	}

	e := &models.ClickEvent{
		EventBase: r.newBase(p.CampaignID, p.ContactID, p.EmailID, p.UserAgent, p.IP, p.Geo, p.Metadata),
		URL:       p.URL,
	}

	if err := r.events.AppendClick(ctx, e); err != nil {
		r.metrics.RecordEventFailure(string(models.EventKindClick))
		return nil, fmt.Errorf("record click: %w", err)
	}
	r.metrics.RecordEvent(string(models.EventKindClick), e.DeviceType)

	r.afterWrite(ctx, e, p.VariantID)
	return e, nil
}

func (r *Recorder) newBase(campaignID, contactID, emailID, userAgent, ip string, g *GeoInput, metadata map[string]any) models.EventBase {
	b := models.EventBase{
		CampaignID: campaignID,
		ContactID:  contactID,
		EmailID:    emailID,
		Timestamp:  r.now().UTC(),
		IPAddress:  ip,
		UserAgent:  userAgent,
		Metadata:   metadata,
	}

	if r.classifier != nil {
		device := r.classifier.Classify(userAgent)
		b.DeviceType = device.DeviceType
		b.Browser = device.Browser
		b.OS = device.OS
	}

	switch {
	case g != nil:
		b.Country = g.Country
		b.City = g.City
	case ip != "" && r.geo != nil:
		if info := r.geo.Resolve(ip); info != nil {
			b.Country = info.Country
			b.City = info.City
		}
	}

	return b
}

// afterWrite runs the derived steps. The event is already durable, so
// failures here are logged and counted, and the next recompute repairs them.
func (r *Recorder) afterWrite(ctx context.Context, e models.InteractionEvent, variantID string) {
	b := e.Base()

	if err := r.mirror.Mirror(ctx, e); err != nil {
		r.metrics.RecordAggregationFailure(stageMirror)
		r.logger.Warn("failed to mirror event",
			zap.String("kind", string(e.Kind())),
			zap.Int64("event_id", b.ID),
			zap.Error(err),
		)
	}

	if click, ok := e.(*models.ClickEvent); ok && r.links != nil {
		if _, err := r.links.RegisterClick(ctx, b.CampaignID, click.URL, b.ContactID); err != nil {
			r.metrics.RecordAggregationFailure(stageLink)
			r.logger.Error("failed to update link counters",
				zap.String("campaign_id", b.CampaignID),
				zap.String("url", click.URL),
				zap.Int64("event_id", b.ID),
				zap.Error(err),
			)
		}
	}

	if variantID != "" && r.variants != nil {
		eventType := models.VariantEventOpen
		if e.Kind() == models.EventKindClick {
			eventType = models.VariantEventClick
		}
		if err := r.variants.RecordVariantEvent(ctx, variantID, b.CampaignID, eventType); err != nil {
			r.metrics.RecordAggregationFailure(stageVariant)
			r.logger.Warn("failed to update variant counters",
				zap.String("campaign_id", b.CampaignID),
				zap.String("variant_id", variantID),
				zap.Int64("event_id", b.ID),
				zap.Error(err),
			)
		}
	}

	if r.aggregator != nil {
		if _, err := r.aggregator.recompute(ctx, b.CampaignID, b.Timestamp, triggerInline); err != nil {
			r.metrics.RecordAggregationFailure(stageAggregate)
			r.logger.Error("failed to recompute engagement snapshot",
				zap.String("campaign_id", b.CampaignID),
				zap.Int64("event_id", b.ID),
				zap.Error(err),
			)
		}
	}
}
