package engagement

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/metrics"
	"github.com/radiusdt/pulse/internal/models"
	"github.com/radiusdt/pulse/internal/storage"
)

// snapshotNamespace seeds name-based snapshot IDs.
var snapshotNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("pulse:engagement-snapshot"))

// Recompute triggers, used as metric labels.
const (
	triggerInline    = "inline"
	triggerManual    = "manual"
	triggerReconcile = "reconcile"
)

// Aggregator rebuilds per-campaign daily engagement snapshots from raw events.
type Aggregator struct {
	events    storage.EventStore
	snapshots storage.SnapshotStore
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewAggregator creates a new metrics aggregator.
func NewAggregator(events storage.EventStore, snapshots storage.SnapshotStore, m *metrics.Metrics, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		events:    events,
		snapshots: snapshots,
		metrics:   m,
		logger:    logger,
	}
}

// SnapshotID returns the stable ID of the (campaign, day) snapshot.
func SnapshotID(campaignID string, day time.Time) string {
	key := campaignID + "|" + models.DayOf(day).Format(models.DateLayout)
	return uuid.NewSHA1(snapshotNamespace, []byte(key)).String()
}

// Aggregate reduces events, already ordered by (timestamp, id), into the
// snapshot for campaignID and day. It has no side effects.
func Aggregate(campaignID string, day time.Time, events []models.InteractionEvent) *models.EngagementSnapshot {
	snap := models.EmptySnapshot(campaignID, day)
	snap.ID = SnapshotID(campaignID, day)

	openContacts := make(map[string]struct{})
	clickContacts := make(map[string]struct{})

	var hourOpens [24]int64
	deviceOpens := make(map[string]int64)
	var deviceOrder []string
	urlClicks := make(map[string]int64)
	var urlOrder []string

	for _, e := range events {
		b := e.Base()
		switch ev := e.(type) {
		case *models.OpenEvent:
			snap.TotalOpens++
			if b.ContactID != "" {
				openContacts[b.ContactID] = struct{}{}
			}
			hourOpens[b.Timestamp.UTC().Hour()]++
			if b.DeviceType != "" {
				if _, seen := deviceOpens[b.DeviceType]; !seen {
					deviceOrder = append(deviceOrder, b.DeviceType)
				}
				deviceOpens[b.DeviceType]++
			}
		case *models.ClickEvent:
			snap.TotalClicks++
			if b.ContactID != "" {
				clickContacts[b.ContactID] = struct{}{}
			}
			if _, seen := urlClicks[ev.URL]; !seen {
				urlOrder = append(urlOrder, ev.URL)
			}
			urlClicks[ev.URL]++
		}
	}

	snap.UniqueOpens = int64(len(openContacts))
	snap.UniqueClicks = int64(len(clickContacts))
	snap.ClickThroughRate = clickThroughRate(snap.UniqueClicks, snap.UniqueOpens)
	snap.EngagementScore = engagementScore(snap.ClickThroughRate, snap.UniqueClicks, snap.UniqueOpens, snap.TotalClicks)

	// Ties keep the first-encountered key.
	if url, ok := argmax(urlOrder, urlClicks); ok {
		snap.MostClickedLink = &url
	}
	if device, ok := argmax(deviceOrder, deviceOpens); ok {
		snap.MostActiveDevice = &device
	}
	if snap.TotalOpens > 0 {
		best := 0
		for h := 1; h < 24; h++ {
			if hourOpens[h] > hourOpens[best] {
				best = h
			}
		}
		snap.MostActiveHour = &best
	}

	return snap
}

// clickThroughRate returns uniqueClicks/uniqueOpens in basis points.
func clickThroughRate(uniqueClicks, uniqueOpens int64) int64 {
	if uniqueOpens <= 0 {
		return 0
	}
	return int64(math.Round(float64(uniqueClicks) / float64(uniqueOpens) * 10000))
}

// engagementScore weighs CTR (40), the unique click/open ratio (40) and raw
// click volume capped at 20 points, clamped to [0, 100].
func engagementScore(ctrBasisPoints, uniqueClicks, uniqueOpens, totalClicks int64) int {
	score := float64(ctrBasisPoints) / 10000 * 40
	if uniqueOpens > 0 {
		score += float64(uniqueClicks) / float64(uniqueOpens) * 40
	}
	score += math.Min(float64(totalClicks)/10, 20)

	rounded := int(math.Round(math.Min(100, score)))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

func argmax(order []string, counts map[string]int64) (string, bool) {
	if len(order) == 0 {
		return "", false
	}
	best := order[0]
	for _, k := range order[1:] {
		if counts[k] > counts[best] {
			best = k
		}
	}
	return best, true
}

// Recompute rebuilds and stores the snapshot for campaignID and the UTC day containing day.
func (a *Aggregator) Recompute(ctx context.Context, campaignID string, day time.Time) (*models.EngagementSnapshot, error) {
	if campaignID == "" {
		return nil, invalid("campaignId", "is required")
	}
	return a.recompute(ctx, campaignID, day, triggerManual)
}

func (a *Aggregator) recompute(ctx context.Context, campaignID string, day time.Time, trigger string) (*models.EngagementSnapshot, error) {
	start := time.Now()
	from := models.DayOf(day)
	to := from.AddDate(0, 0, 1)

	events, err := a.events.ListByCampaign(ctx, campaignID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	snap := Aggregate(campaignID, from, events)
	if err := a.snapshots.Upsert(ctx, snap); err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}

	a.metrics.RecordRecompute(trigger, time.Since(start))
	a.logger.Debug("engagement snapshot recomputed",
		zap.String("campaign_id", campaignID),
		zap.String("date", from.Format(models.DateLayout)),
		zap.Int("events", len(events)),
		zap.String("trigger", trigger),
	)
	return snap, nil
}

// Snapshot returns the stored snapshot for a campaign and day, or a zero
// snapshot when none exists or the store is unavailable.
func (a *Aggregator) Snapshot(ctx context.Context, campaignID string, day time.Time) *models.EngagementSnapshot {
	snap, err := a.snapshots.Get(ctx, campaignID, day)
	if err != nil {
		a.logger.Warn("failed to load engagement snapshot", zap.String("campaign_id", campaignID), zap.Error(err))
		return models.EmptySnapshot(campaignID, day)
	}
	if snap == nil {
		return models.EmptySnapshot(campaignID, day)
	}
	return snap
}

// Snapshots returns stored snapshots for days in [from, to], oldest first.
func (a *Aggregator) Snapshots(ctx context.Context, campaignID string, from, to time.Time) []*models.EngagementSnapshot {
	list, err := a.snapshots.ListRange(ctx, campaignID, from, to)
	if err != nil {
		a.logger.Warn("failed to list engagement snapshots", zap.String("campaign_id", campaignID), zap.Error(err))
		return []*models.EngagementSnapshot{}
	}
	return list
}
