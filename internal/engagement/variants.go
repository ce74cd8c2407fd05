package engagement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/metrics"
	"github.com/radiusdt/pulse/internal/models"
	"github.com/radiusdt/pulse/internal/storage"
)

// WinnerSelector picks a winning variant from accumulated analytics.
// No implementation ships with the service.
type WinnerSelector interface {
	SelectWinner(ctx context.Context, campaignID string, variants []*models.CampaignVariant, analytics []*models.VariantAnalyticsSnapshot) (string, error)
}

// VariantPerformance is the lifetime performance of one variant.
type VariantPerformance struct {
	VariantID    string  `json:"variantId"`
	Name         string  `json:"name,omitempty"`
	Weight       int     `json:"weight"`
	Share        float64 `json:"share"`
	Recipients   int64   `json:"recipients"`
	Opens        int64   `json:"opens"`
	Clicks       int64   `json:"clicks"`
	Bounces      int64   `json:"bounces"`
	Unsubscribes int64   `json:"unsubscribes"`
	OpenRate     float64 `json:"openRate"`
	ClickRate    float64 `json:"clickRate"`
	IsWinner     bool    `json:"isWinner"`
}

// VariantReport summarises an A/B test.
type VariantReport struct {
	CampaignID  string                  `json:"campaignId"`
	Selection   models.VariantSelection `json:"selection"`
	WeightTotal int                     `json:"weightTotal"`
	Variants    []VariantPerformance    `json:"variants"`
}

// VariantTracker accumulates per-variant counters and records the winner.
type VariantTracker struct {
	store    storage.VariantStore
	selector WinnerSelector
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewVariantTracker creates a variant tracker. selector may be nil.
func NewVariantTracker(store storage.VariantStore, selector WinnerSelector, m *metrics.Metrics, logger *zap.Logger) *VariantTracker {
	return &VariantTracker{
		store:    store,
		selector: selector,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// RecordVariantEvent increments the matching counter of the variant's current-day snapshot.
func (t *VariantTracker) RecordVariantEvent(ctx context.Context, variantID, campaignID string, eventType models.VariantEventType) error {
	if !eventType.Valid() {
		return invalid("type", "must be one of open, click, bounce, unsubscribe")
	}
	if err := t.checkOwnership(ctx, variantID, campaignID); err != nil {
		return err
	}

	if err := t.store.IncrementCounter(ctx, variantID, campaignID, t.now(), counterFor(eventType), 1); err != nil {
		return fmt.Errorf("record variant %s: %w", eventType, err)
	}

	t.metrics.RecordVariantEvent(string(eventType))
	return nil
}

func counterFor(t models.VariantEventType) storage.VariantCounter {
	switch t {
	case models.VariantEventOpen:
		return storage.CounterOpens
	case models.VariantEventClick:
		return storage.CounterClicks
	case models.VariantEventBounce:
		return storage.CounterBounces
	default:
		return storage.CounterUnsubscribes
	}
}

// AddRecipients adds n delivered recipients to the variant's current-day snapshot.
func (t *VariantTracker) AddRecipients(ctx context.Context, variantID, campaignID string, n int64) error {
	if n <= 0 {
		return invalid("count", "must be positive")
	}
	if err := t.checkOwnership(ctx, variantID, campaignID); err != nil {
		return err
	}

	if err := t.store.IncrementCounter(ctx, variantID, campaignID, t.now(), storage.CounterRecipients, n); err != nil {
		return fmt.Errorf("record variant recipients: %w", err)
	}

	t.metrics.RecordVariantEvent(string(storage.CounterRecipients))
	return nil
}

// checkOwnership rejects events for a registered variant under a different campaign.
// Variants authored elsewhere and never registered here are accepted.
func (t *VariantTracker) checkOwnership(ctx context.Context, variantID, campaignID string) error {
	if variantID == "" {
		return invalid("variantId", "is required")
	}
	if campaignID == "" {
		return invalid("campaignId", "is required")
	}

	v, err := t.store.GetVariant(ctx, variantID)
	if err != nil {
		t.logger.Warn("variant lookup failed", zap.String("variant_id", variantID), zap.Error(err))
		return nil
	}
	if v != nil && v.CampaignID != campaignID {
		return invalid("variantId", "belongs to another campaign")
	}
	return nil
}

// SetWinningVariant moves the campaign's selection from running to decided.
// Marking the same winner again is a no-op; a different winner returns ErrAlreadyDecided.
func (t *VariantTracker) SetWinningVariant(ctx context.Context, campaignID, variantID string) (*models.VariantSelection, error) {
	if campaignID == "" {
		return nil, invalid("campaignId", "is required")
	}
	if variantID == "" {
		return nil, invalid("variantId", "is required")
	}

	v, err := t.store.GetVariant(ctx, variantID)
	if err != nil {
		return nil, fmt.Errorf("load variant: %w", err)
	}
	if v == nil || v.CampaignID != campaignID {
		t.metrics.RecordWinnerDecision("not_found")
		return nil, ErrVariantNotFound
	}

	sel, err := t.store.DecideWinner(ctx, campaignID, variantID, t.now())
	if err != nil {
		return nil, fmt.Errorf("record winner: %w", err)
	}
	if sel.WinnerVariantID != variantID {
		t.metrics.RecordWinnerDecision("conflict")
		return sel, ErrAlreadyDecided
	}

	t.metrics.RecordWinnerDecision("decided")
	t.logger.Info("winning variant recorded",
		zap.String("campaign_id", campaignID),
		zap.String("variant_id", variantID),
	)
	return sel, nil
}

// AutoSelectWinner delegates the choice to the configured WinnerSelector.
func (t *VariantTracker) AutoSelectWinner(ctx context.Context, campaignID string) (*models.VariantSelection, error) {
	if t.selector == nil {
		return nil, ErrAutoSelectionUnsupported
	}

	variants, err := t.store.ListVariants(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	analytics, err := t.store.ListAnalytics(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list variant analytics: %w", err)
	}

	winner, err := t.selector.SelectWinner(ctx, campaignID, variants, analytics)
	if err != nil {
		return nil, fmt.Errorf("select winner: %w", err)
	}
	return t.SetWinningVariant(ctx, campaignID, winner)
}

// UpsertVariant validates and stores a variant. Weights that do not sum to
// 100 across the campaign are tolerated and logged.
func (t *VariantTracker) UpsertVariant(ctx context.Context, v *models.CampaignVariant) (*models.CampaignVariant, error) {
	if v == nil {
		return nil, invalid("variant", "is required")
	}
	if err := v.Validate(); err != nil {
		return nil, invalid("variant", err.Error())
	}

	existing, err := t.store.GetVariant(ctx, v.ID)
	if err != nil {
		return nil, fmt.Errorf("load variant: %w", err)
	}
	now := t.now().UTC()
	if existing != nil {
		if existing.CampaignID != v.CampaignID {
			return nil, invalid("variantId", "belongs to another campaign")
		}
		v.CreatedAt = existing.CreatedAt
	} else {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	if err := t.store.UpsertVariant(ctx, v); err != nil {
		return nil, fmt.Errorf("store variant: %w", err)
	}

	if variants, err := t.store.ListVariants(ctx, v.CampaignID); err == nil {
		if total := totalWeight(variants); total != 100 {
			t.logger.Warn("variant weights do not sum to 100",
				zap.String("campaign_id", v.CampaignID),
				zap.Int("total_weight", total),
			)
		}
	}
	return v, nil
}

// Variants lists a campaign's variants. Store failures yield an empty list.
func (t *VariantTracker) Variants(ctx context.Context, campaignID string) []*models.CampaignVariant {
	variants, err := t.store.ListVariants(ctx, campaignID)
	if err != nil {
		t.logger.Warn("failed to list variants", zap.String("campaign_id", campaignID), zap.Error(err))
		return []*models.CampaignVariant{}
	}
	return variants
}

// RecipientShares normalises weights into fractions summing to 1. All-zero
// weights split recipients equally.
func RecipientShares(variants []*models.CampaignVariant) map[string]float64 {
	shares := make(map[string]float64, len(variants))
	if len(variants) == 0 {
		return shares
	}

	total := totalWeight(variants)
	for _, v := range variants {
		if total == 0 {
			shares[v.ID] = 1 / float64(len(variants))
			continue
		}
		shares[v.ID] = float64(v.Weight) / float64(total)
	}
	return shares
}

func totalWeight(variants []*models.CampaignVariant) int {
	total := 0
	for _, v := range variants {
		total += v.Weight
	}
	return total
}

// Report aggregates lifetime counters per variant. Store failures yield an
// empty running report.
func (t *VariantTracker) Report(ctx context.Context, campaignID string) *VariantReport {
	report := &VariantReport{
		CampaignID: campaignID,
		Selection:  models.VariantSelection{CampaignID: campaignID, Status: models.SelectionRunning},
		Variants:   []VariantPerformance{},
	}

	variants, vErr := t.store.ListVariants(ctx, campaignID)
	analytics, aErr := t.store.ListAnalytics(ctx, campaignID)
	sel, sErr := t.store.GetSelection(ctx, campaignID)
	if err := errors.Join(vErr, aErr, sErr); err != nil {
		t.logger.Warn("failed to build variant report", zap.String("campaign_id", campaignID), zap.Error(err))
		return report
	}
	if sel != nil {
		report.Selection = *sel
	}

	shares := RecipientShares(variants)
	report.WeightTotal = totalWeight(variants)

	index := make(map[string]int, len(variants))
	for _, v := range variants {
		index[v.ID] = len(report.Variants)
		report.Variants = append(report.Variants, VariantPerformance{
			VariantID: v.ID,
			Name:      v.Name,
			Weight:    v.Weight,
			Share:     shares[v.ID],
		})
	}

	for _, s := range analytics {
		i, ok := index[s.VariantID]
		if !ok {
			index[s.VariantID] = len(report.Variants)
			i = len(report.Variants)
			report.Variants = append(report.Variants, VariantPerformance{VariantID: s.VariantID})
		}
		p := &report.Variants[i]
		p.Recipients += s.Recipients
		p.Opens += s.Opens
		p.Clicks += s.Clicks
		p.Bounces += s.Bounces
		p.Unsubscribes += s.Unsubscribes
	}

	for i := range report.Variants {
		p := &report.Variants[i]
		if p.Recipients > 0 {
			p.OpenRate = float64(p.Opens) / float64(p.Recipients)
			p.ClickRate = float64(p.Clicks) / float64(p.Recipients)
		}
		p.IsWinner = report.Selection.Status == models.SelectionDecided && report.Selection.WinnerVariantID == p.VariantID
	}

	return report
}
