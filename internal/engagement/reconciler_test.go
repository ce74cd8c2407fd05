package engagement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/models"
)

// recordingMirror counts mirrored events and flushes.
type recordingMirror struct {
	mirrored int
	flushes  int
	flushErr error
}

func (m *recordingMirror) Mirror(ctx context.Context, e models.InteractionEvent) error {
	m.mirrored++
	return nil
}

func (m *recordingMirror) Flush(ctx context.Context) error {
	m.flushes++
	return m.flushErr
}

func (m *recordingMirror) Close() error { return nil }

func TestReconcilerRepairsMissedAggregation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	mirror := &recordingMirror{}

	// Inline aggregation fails, so only the event log is written.
	broken := NewAggregator(e.events, failingSnapshotStore{}, nil, zap.NewNop())
	r := NewRecorder(e.events, nil, nil, e.tracker, broken, nil, mirror, nil, zap.NewNop())
	r.now = e.clock.Now

	e.clock.Advance(-24 * time.Hour)
	_, err := r.RecordOpen(ctx, OpenParams{CampaignID: "c1", ContactID: "u1"})
	require.NoError(t, err)
	e.clock.Advance(24 * time.Hour)
	_, err = r.RecordOpen(ctx, OpenParams{CampaignID: "c1", ContactID: "u2"})
	require.NoError(t, err)
	_, err = r.RecordOpen(ctx, OpenParams{CampaignID: "c2", ContactID: "u3"})
	require.NoError(t, err)
	assert.Equal(t, 3, mirror.mirrored)

	stored, err := e.snapshots.Get(ctx, "c1", e.clock.Now())
	require.NoError(t, err)
	require.Nil(t, stored)

	rec := NewReconciler(e.events, e.aggregator, mirror, "@every 15m", nil, zap.NewNop())
	rec.now = e.clock.Now

	n, err := rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, mirror.flushes)

	assert.Equal(t, int64(1), e.aggregator.Snapshot(ctx, "c1", e.clock.Now().Add(-24*time.Hour)).TotalOpens)
	assert.Equal(t, int64(1), e.aggregator.Snapshot(ctx, "c1", e.clock.Now()).TotalOpens)
	assert.Equal(t, int64(1), e.aggregator.Snapshot(ctx, "c2", e.clock.Now()).TotalOpens)
}

func TestReconcilerReportsFlushFailure(t *testing.T) {
	e := newTestEngine(t)
	mirror := &recordingMirror{flushErr: errStoreDown}

	rec := NewReconciler(e.events, e.aggregator, mirror, "@every 15m", nil, zap.NewNop())
	rec.now = e.clock.Now

	n, err := rec.RunOnce(context.Background())
	assert.Zero(t, n)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestReconcilerReportsAggregationFailure(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.recorder.RecordOpen(ctx, OpenParams{CampaignID: "c1", ContactID: "u1"})
	require.NoError(t, err)

	broken := NewAggregator(e.events, failingSnapshotStore{}, nil, zap.NewNop())
	rec := NewReconciler(e.events, broken, nil, "@every 15m", nil, zap.NewNop())
	rec.now = e.clock.Now

	n, err := rec.RunOnce(ctx)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestReconcilerStartStop(t *testing.T) {
	e := newTestEngine(t)

	bad := NewReconciler(e.events, e.aggregator, nil, "not a schedule", nil, zap.NewNop())
	assert.Error(t, bad.Start())

	rec := NewReconciler(e.events, e.aggregator, nil, "@every 1h", nil, zap.NewNop())
	require.NoError(t, rec.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec.Stop(ctx)
}
