package engagement

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/metrics"
	"github.com/radiusdt/pulse/internal/models"
	"github.com/radiusdt/pulse/internal/storage"
)

// Intensity weights.
const (
	clickIntensity    = 5
	minHoverIntensity = 1
	maxHoverIntensity = 3
	defaultIntensity  = 1
)

// EmailInfo is the display data of an email owned by the authoring subsystem.
type EmailInfo struct {
	Name    string
	Subject string
}

// EmailDirectory looks up display data for emails. Returns nil when unknown.
type EmailDirectory interface {
	LookupEmail(ctx context.Context, emailID string) (*EmailInfo, error)
}

// PointParams describes one spatial interaction. X and Y are percentages
// of the rendered element's width and height.
type PointParams struct {
	EmailID     string
	CampaignID  string
	ContactID   string
	ElementID   string
	ElementType string
	X           float64
	Y           float64
	Type        models.InteractionType
	DurationMs  *int64
	Metadata    map[string]any
}

// HeatMapBuilder records interaction points and builds visualizations.
type HeatMapBuilder struct {
	store     storage.HeatMapStore
	directory EmailDirectory
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewHeatMapBuilder creates a heat-map builder. directory may be nil.
func NewHeatMapBuilder(store storage.HeatMapStore, directory EmailDirectory, m *metrics.Metrics, logger *zap.Logger) *HeatMapBuilder {
	return &HeatMapBuilder{
		store:     store,
		directory: directory,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Intensity returns the rendering weight of an interaction.
func Intensity(t models.InteractionType, durationMs *int64) int {
	switch {
	case t == models.InteractionClick:
		return clickIntensity
	case t == models.InteractionHover && durationMs != nil:
		secs := *durationMs / 1000
		if secs < minHoverIntensity {
			return minHoverIntensity
		}
		if secs > maxHoverIntensity {
			return maxHoverIntensity
		}
		return int(secs)
	default:
		return defaultIntensity
	}
}

// RecordInteractionPoint validates and appends a point, creating the
// (email, campaign) heat map on first use.
func (b *HeatMapBuilder) RecordInteractionPoint(ctx context.Context, p PointParams) (*models.InteractionDataPoint, error) {
	if err := validatePoint(p); err != nil {
		return nil, err
	}

	point := &models.InteractionDataPoint{
		EmailID:             p.EmailID,
		CampaignID:          p.CampaignID,
		ContactID:           p.ContactID,
		ElementID:           p.ElementID,
		ElementType:         p.ElementType,
		XCoordinate:         p.X,
		YCoordinate:         p.Y,
		InteractionType:     p.Type,
		InteractionDuration: p.DurationMs,
		Intensity:           Intensity(p.Type, p.DurationMs),
		Timestamp:           b.now().UTC(),
		Metadata:            p.Metadata,
	}

	if _, err := b.store.AppendPoint(ctx, point); err != nil {
		return nil, fmt.Errorf("record interaction point: %w", err)
	}

	b.metrics.RecordInteractionPoint(string(p.Type))
	return point, nil
}

func validatePoint(p PointParams) error {
	if p.EmailID == "" {
		return invalid("emailId", "is required")
	}
	if p.CampaignID == "" {
		return invalid("campaignId", "is required")
	}
	if !p.Type.Valid() {
		return invalid("interactionType", "must be one of click, hover, scroll")
	}
	if !inPercentRange(p.X) {
		return invalid("xCoordinate", "must be between 0 and 100")
	}
	if !inPercentRange(p.Y) {
		return invalid("yCoordinate", "must be between 0 and 100")
	}
	if p.DurationMs != nil && *p.DurationMs < 0 {
		return invalid("interactionDuration", "must not be negative")
	}
	return nil
}

func inPercentRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}

// Visualization returns the chart dataset for an email. Emails without
// points, or an unavailable store, yield an empty dataset with maxIntensity 0.
func (b *HeatMapBuilder) Visualization(ctx context.Context, emailID string) *models.HeatMapVisualization {
	viz := &models.HeatMapVisualization{DataPoints: []models.HeatMapPoint{}}

	points, err := b.store.PointsByEmail(ctx, emailID)
	if err != nil {
		b.logger.Warn("failed to load interaction points", zap.String("email_id", emailID), zap.Error(err))
		return viz
	}
	if len(points) == 0 {
		return viz
	}

	maxIntensity := 1
	for _, p := range points {
		viz.DataPoints = append(viz.DataPoints, models.HeatMapPoint{
			X:     p.XCoordinate,
			Y:     p.YCoordinate,
			Value: p.Intensity,
			Type:  p.InteractionType,
		})
		if p.Intensity > maxIntensity {
			maxIntensity = p.Intensity
		}
	}
	viz.MaxIntensity = maxIntensity
	viz.TotalInteractions = len(points)

	return viz
}

// Interactions returns raw points for an email, most recent first.
func (b *HeatMapBuilder) Interactions(ctx context.Context, emailID string) []*models.InteractionDataPoint {
	points, err := b.store.PointsByEmail(ctx, emailID)
	if err != nil {
		b.logger.Warn("failed to load interaction points", zap.String("email_id", emailID), zap.Error(err))
		return []*models.InteractionDataPoint{}
	}
	return points
}

// CampaignHeatMaps lists a campaign's heat maps with email display data.
func (b *HeatMapBuilder) CampaignHeatMaps(ctx context.Context, campaignID string) []*models.HeatMapSummary {
	heatMaps, err := b.store.ListByCampaign(ctx, campaignID)
	if err != nil {
		b.logger.Warn("failed to list heat maps", zap.String("campaign_id", campaignID), zap.Error(err))
		return []*models.HeatMapSummary{}
	}

	summaries := make([]*models.HeatMapSummary, 0, len(heatMaps))
	for _, hm := range heatMaps {
		s := &models.HeatMapSummary{
			ID:         hm.ID,
			EmailID:    hm.EmailID,
			CampaignID: hm.CampaignID,
			CreatedAt:  hm.CreatedAt,
			UpdatedAt:  hm.UpdatedAt,
		}
		if b.directory != nil {
			info, err := b.directory.LookupEmail(ctx, hm.EmailID)
			if err != nil {
				b.logger.Warn("failed to look up email", zap.String("email_id", hm.EmailID), zap.Error(err))
			} else if info != nil {
				s.EmailName = info.Name
				s.EmailSubject = info.Subject
			}
		}
		summaries = append(summaries, s)
	}
	return summaries
}
