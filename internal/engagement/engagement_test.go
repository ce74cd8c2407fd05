package engagement

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/geo"
	"github.com/radiusdt/pulse/internal/models"
	"github.com/radiusdt/pulse/internal/storage"
	"github.com/radiusdt/pulse/internal/tracking"
)

var errStoreDown = errors.New("store unavailable")

// testClock is a settable time source.
type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type testEngine struct {
	clock      *testClock
	events     *storage.InMemoryEventStore
	links      *storage.InMemoryLinkStore
	snapshots  *storage.InMemorySnapshotStore
	heatMaps   *storage.InMemoryHeatMapStore
	variants   *storage.InMemoryVariantStore
	geo        *geo.StaticProvider
	tracker    *LinkTracker
	aggregator *Aggregator
	recorder   *Recorder
	builder    *HeatMapBuilder
	variantsT  *VariantTracker
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	logger := zap.NewNop()
	clock := &testClock{t: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)}

	e := &testEngine{
		clock:     clock,
		events:    storage.NewInMemoryEventStore(),
		links:     storage.NewInMemoryLinkStore(),
		snapshots: storage.NewInMemorySnapshotStore(),
		heatMaps:  storage.NewInMemoryHeatMapStore(),
		variants:  storage.NewInMemoryVariantStore(),
		geo:       geo.NewStaticProvider(),
	}

	e.tracker = NewLinkTracker(e.links, storage.NewInMemoryClickGuard(), tracking.NewURLBuilder("https://t.example.com"), nil, logger)
	e.tracker.now = clock.Now

	e.aggregator = NewAggregator(e.events, e.snapshots, nil, logger)

	e.variantsT = NewVariantTracker(e.variants, nil, nil, logger)
	e.variantsT.now = clock.Now

	resolver := geo.NewCachedResolver(e.geo, 100, time.Hour, nil, logger)
	e.recorder = NewRecorder(e.events, tracking.NewUAClassifier(), resolver, e.tracker, e.aggregator, e.variantsT, nil, nil, logger)
	e.recorder.now = clock.Now

	e.builder = NewHeatMapBuilder(e.heatMaps, nil, nil, logger)
	e.builder.now = clock.Now

	return e
}

// failingEventStore rejects every write.
type failingEventStore struct {
	*storage.InMemoryEventStore
}

func (s failingEventStore) AppendOpen(ctx context.Context, e *models.OpenEvent) error {
	return errStoreDown
}

func (s failingEventStore) AppendClick(ctx context.Context, e *models.ClickEvent) error {
	return errStoreDown
}

// failingSnapshotStore fails every operation.
type failingSnapshotStore struct{}

func (failingSnapshotStore) Upsert(ctx context.Context, s *models.EngagementSnapshot) error {
	return errStoreDown
}

func (failingSnapshotStore) Get(ctx context.Context, campaignID string, day time.Time) (*models.EngagementSnapshot, error) {
	return nil, errStoreDown
}

func (failingSnapshotStore) ListRange(ctx context.Context, campaignID string, from, to time.Time) ([]*models.EngagementSnapshot, error) {
	return nil, errStoreDown
}

// failingHeatMapStore fails every operation.
type failingHeatMapStore struct{}

func (failingHeatMapStore) AppendPoint(ctx context.Context, p *models.InteractionDataPoint) (*models.HeatMap, error) {
	return nil, errStoreDown
}

func (failingHeatMapStore) PointsByEmail(ctx context.Context, emailID string) ([]*models.InteractionDataPoint, error) {
	return nil, errStoreDown
}

func (failingHeatMapStore) ListByCampaign(ctx context.Context, campaignID string) ([]*models.HeatMap, error) {
	return nil, errStoreDown
}

func intPtr(i int) *int { return &i }

func int64Ptr(i int64) *int64 { return &i }
