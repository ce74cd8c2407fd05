package engagement

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/models"
)

var day = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func open(id int64, contact, device string, at time.Time) *models.OpenEvent {
	return &models.OpenEvent{EventBase: models.EventBase{ID: id, CampaignID: "c1", ContactID: contact, DeviceType: device, Timestamp: at}}
}

func click(id int64, contact, url string, at time.Time) *models.ClickEvent {
	return &models.ClickEvent{EventBase: models.EventBase{ID: id, CampaignID: "c1", ContactID: contact, Timestamp: at}, URL: url}
}

func TestAggregateUniqueOpensIgnoreAnonymous(t *testing.T) {
	events := []models.InteractionEvent{
		open(1, "u1", "", day.Add(time.Hour)),
		open(2, "u2", "", day.Add(time.Hour)),
		open(3, "u3", "", day.Add(time.Hour)),
		open(4, "", "", day.Add(time.Hour)),
	}

	snap := Aggregate("c1", day, events)

	assert.Equal(t, int64(4), snap.TotalOpens)
	assert.Equal(t, int64(3), snap.UniqueOpens)
}

func TestAggregateEmpty(t *testing.T) {
	snap := Aggregate("c1", day, nil)

	assert.Equal(t, SnapshotID("c1", day), snap.ID)
	assert.Zero(t, snap.TotalOpens)
	assert.Zero(t, snap.ClickThroughRate)
	assert.Zero(t, snap.EngagementScore)
	assert.Nil(t, snap.MostClickedLink)
	assert.Nil(t, snap.MostActiveHour)
	assert.Nil(t, snap.MostActiveDevice)
}

func TestAggregateClickThroughRateBasisPoints(t *testing.T) {
	events := []models.InteractionEvent{
		open(1, "u1", "", day),
		open(2, "u2", "", day),
		open(3, "u3", "", day),
		click(4, "u1", "https://a", day),
	}

	snap := Aggregate("c1", day, events)

	// 1/3 = 0.3333 -> 3333 basis points
	assert.Equal(t, int64(3333), snap.ClickThroughRate)
	assert.Equal(t, 33.33, snap.CTRPercent())
}

func TestAggregateTieBreaks(t *testing.T) {
	t.Run("most clicked link keeps first encountered", func(t *testing.T) {
		events := []models.InteractionEvent{
			click(1, "u1", "https://b", day.Add(time.Minute)),
			click(2, "u2", "https://a", day.Add(2*time.Minute)),
			click(3, "u3", "https://a", day.Add(3*time.Minute)),
			click(4, "u4", "https://b", day.Add(4*time.Minute)),
		}
		snap := Aggregate("c1", day, events)
		require.NotNil(t, snap.MostClickedLink)
		assert.Equal(t, "https://b", *snap.MostClickedLink)
	})

	t.Run("most clicked link prefers higher count", func(t *testing.T) {
		events := []models.InteractionEvent{
			click(1, "u1", "https://b", day),
			click(2, "u2", "https://a", day),
			click(3, "u3", "https://a", day),
		}
		snap := Aggregate("c1", day, events)
		assert.Equal(t, "https://a", *snap.MostClickedLink)
	})

	t.Run("most active hour picks lowest on tie", func(t *testing.T) {
		events := []models.InteractionEvent{
			open(1, "u1", "", day.Add(17*time.Hour)),
			open(2, "u2", "", day.Add(5*time.Hour)),
			open(3, "u3", "", day.Add(17*time.Hour+time.Minute)),
			open(4, "u4", "", day.Add(5*time.Hour+time.Minute)),
		}
		snap := Aggregate("c1", day, events)
		require.NotNil(t, snap.MostActiveHour)
		assert.Equal(t, 5, *snap.MostActiveHour)
	})

	t.Run("most active hour counts opens only", func(t *testing.T) {
		events := []models.InteractionEvent{
			open(1, "u1", "", day.Add(8*time.Hour)),
			click(2, "u1", "https://a", day.Add(3*time.Hour)),
			click(3, "u1", "https://a", day.Add(3*time.Hour)),
		}
		snap := Aggregate("c1", day, events)
		assert.Equal(t, 8, *snap.MostActiveHour)
	})

	t.Run("most active device keeps first encountered and skips unknown", func(t *testing.T) {
		events := []models.InteractionEvent{
			open(1, "u1", "", day),
			open(2, "u2", "", day),
			open(3, "u3", "", day),
			open(4, "u4", models.DeviceDesktop, day),
			open(5, "u5", models.DeviceMobile, day),
			open(6, "u6", models.DeviceMobile, day),
			open(7, "u7", models.DeviceDesktop, day),
		}
		snap := Aggregate("c1", day, events)
		require.NotNil(t, snap.MostActiveDevice)
		assert.Equal(t, models.DeviceDesktop, *snap.MostActiveDevice)
	})

	t.Run("no known device", func(t *testing.T) {
		snap := Aggregate("c1", day, []models.InteractionEvent{open(1, "u1", "", day)})
		assert.Nil(t, snap.MostActiveDevice)
	})
}

func TestEngagementScore(t *testing.T) {
	tests := []struct {
		name         string
		ctr          int64
		uniqueClicks int64
		uniqueOpens  int64
		totalClicks  int64
		want         int
	}{
		{"no activity", 0, 0, 0, 0, 0},
		{"clicks without opens", 0, 0, 0, 250, 20},
		{"half ratio", 5000, 1, 2, 1, 40},
		{"full ratio capped", 10000, 10, 10, 500, 100},
		{"ratio above one clamps to 100", 30000, 3, 1, 3, 100},
		{"volume only partial", 0, 0, 4, 7, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engagementScore(tt.ctr, tt.uniqueClicks, tt.uniqueOpens, tt.totalClicks)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.LessOrEqual(t, got, 100)
		})
	}
}

func TestAggregateInvariants(t *testing.T) {
	events := []models.InteractionEvent{
		open(1, "u1", models.DeviceMobile, day.Add(time.Hour)),
		open(2, "u1", models.DeviceMobile, day.Add(2*time.Hour)),
		open(3, "", "", day.Add(3*time.Hour)),
		click(4, "u1", "https://a", day.Add(4*time.Hour)),
		click(5, "u1", "https://a", day.Add(5*time.Hour)),
		click(6, "", "https://b", day.Add(6*time.Hour)),
		click(7, "u2", "https://b", day.Add(7*time.Hour)),
	}

	snap := Aggregate("c1", day, events)

	assert.LessOrEqual(t, snap.UniqueOpens, snap.TotalOpens)
	assert.LessOrEqual(t, snap.UniqueClicks, snap.TotalClicks)
	assert.GreaterOrEqual(t, snap.EngagementScore, 0)
	assert.LessOrEqual(t, snap.EngagementScore, 100)
	assert.Equal(t, int64(2), snap.UniqueClicks)
	assert.Equal(t, int64(1), snap.UniqueOpens)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.recorder.RecordOpen(ctx, OpenParams{CampaignID: "c1", ContactID: "u1"})
	require.NoError(t, err)
	e.clock.Advance(time.Minute)
	_, err = e.recorder.RecordClick(ctx, ClickParams{CampaignID: "c1", ContactID: "u1", URL: "https://a.example.com"})
	require.NoError(t, err)

	first, err := e.aggregator.Recompute(ctx, "c1", e.clock.Now())
	require.NoError(t, err)
	second, err := e.aggregator.Recompute(ctx, "c1", e.clock.Now())
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	stored := e.aggregator.Snapshot(ctx, "c1", e.clock.Now())
	assert.Equal(t, first, stored)
}

func TestRecomputeScopesToDay(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.recorder.RecordOpen(ctx, OpenParams{CampaignID: "c1", ContactID: "u1"})
	require.NoError(t, err)
	e.clock.Advance(24 * time.Hour)
	_, err = e.recorder.RecordOpen(ctx, OpenParams{CampaignID: "c1", ContactID: "u2"})
	require.NoError(t, err)
	_, err = e.recorder.RecordOpen(ctx, OpenParams{CampaignID: "c1", ContactID: "u3"})
	require.NoError(t, err)

	yesterday := e.aggregator.Snapshot(ctx, "c1", e.clock.Now().Add(-24*time.Hour))
	today := e.aggregator.Snapshot(ctx, "c1", e.clock.Now())

	assert.Equal(t, int64(1), yesterday.TotalOpens)
	assert.Equal(t, int64(2), today.TotalOpens)

	history := e.aggregator.Snapshots(ctx, "c1", e.clock.Now().Add(-48*time.Hour), e.clock.Now())
	require.Len(t, history, 2)
	assert.True(t, history[0].Date.Before(history[1].Date))
}

func TestRecomputeRequiresCampaign(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.aggregator.Recompute(context.Background(), "", day)
	assert.True(t, IsValidation(err))
}

func TestSnapshotReadDegradesOnStoreFailure(t *testing.T) {
	e := newTestEngine(t)
	a := NewAggregator(e.events, failingSnapshotStore{}, nil, zap.NewNop())

	snap := a.Snapshot(context.Background(), "c1", day.Add(3*time.Hour))
	require.NotNil(t, snap)
	assert.Equal(t, "c1", snap.CampaignID)
	assert.Equal(t, day, snap.Date)
	assert.Zero(t, snap.TotalOpens)

	assert.Empty(t, a.Snapshots(context.Background(), "c1", day, day))
}

func TestSnapshotIDIsStable(t *testing.T) {
	assert.Equal(t, SnapshotID("c1", day), SnapshotID("c1", day.Add(23*time.Hour)))
	assert.NotEqual(t, SnapshotID("c1", day), SnapshotID("c1", day.AddDate(0, 0, 1)))
	assert.NotEqual(t, SnapshotID("c1", day), SnapshotID("c2", day))
}
