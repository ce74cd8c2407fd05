package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/config"
	"github.com/radiusdt/pulse/internal/engagement"
	"github.com/radiusdt/pulse/internal/models"
	"github.com/radiusdt/pulse/internal/storage"
	"github.com/radiusdt/pulse/internal/tracking"
)

type testServer struct {
	handler http.Handler
	links   *storage.InMemoryLinkStore
	events  *storage.InMemoryEventStore
	heat    *storage.InMemoryHeatMapStore
}

func newTestServer(t *testing.T, health map[string]HealthCheck) *testServer {
	t.Helper()
	logger := zap.NewNop()

	events := storage.NewInMemoryEventStore()
	links := storage.NewInMemoryLinkStore()
	heat := storage.NewInMemoryHeatMapStore()

	tracker := engagement.NewLinkTracker(links, storage.NewInMemoryClickGuard(), tracking.NewURLBuilder("https://t.example.com"), nil, logger)
	aggregator := engagement.NewAggregator(events, storage.NewInMemorySnapshotStore(), nil, logger)
	variants := engagement.NewVariantTracker(storage.NewInMemoryVariantStore(), nil, nil, logger)

	deps := &Dependencies{
		Config:       &config.Config{},
		Logger:       logger,
		Recorder:     engagement.NewRecorder(events, tracking.NewUAClassifier(), nil, tracker, aggregator, variants, nil, nil, logger),
		Links:        tracker,
		Aggregator:   aggregator,
		HeatMaps:     engagement.NewHeatMapBuilder(heat, nil, nil, logger),
		Variants:     variants,
		HealthChecks: health,
	}

	return &testServer{handler: NewServer(deps), links: links, events: events, heat: heat}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, map[string]HealthCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("down") },
	})

	rec := ts.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"postgres": "up", "redis": "down"}, body["components"])
}

func TestTrackOpenServesPixel(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/track/open?c=c1&ct=u1&e=e1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, tracking.TransparentPixel, rec.Body.Bytes())
	assert.Equal(t, 1, ts.events.Len())

	rec = ts.do(t, http.MethodGet, "/api/track/open", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.events.Len())
}

func TestTrackClickRedirects(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/campaigns/c1/links", map[string]string{"url": "https://x.example.com/offer"})
	require.Equal(t, http.StatusOK, rec.Code)
	link := decodeBody[models.TrackedLink](t, rec)
	require.NotEmpty(t, link.Token)

	for i := 0; i < 2; i++ {
		rec = ts.do(t, http.MethodGet, "/api/track/click/"+link.Token+"?ct=u1", nil)
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://x.example.com/offer", rec.Header().Get("Location"))
	}

	stored, err := ts.links.GetByToken(context.Background(), link.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.ClickCount)
	assert.Equal(t, int64(1), stored.UniqueClickCount)

	rec = ts.do(t, http.MethodGet, "/api/campaigns/c1/links", nil)
	listed := decodeBody[[]models.TrackedLink](t, rec)
	require.Len(t, listed, 1)
	assert.Equal(t, int64(2), listed[0].ClickCount)
}

func TestTrackedEventsFeedVariantReport(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/campaigns/c1/variants", map[string]any{"id": "va", "name": "A", "weight": 100})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/campaigns/c1/links", map[string]string{"url": "https://x.example.com/offer"})
	require.Equal(t, http.StatusOK, rec.Code)
	link := decodeBody[models.TrackedLink](t, rec)

	rec = ts.do(t, http.MethodGet, "/api/track/open?c=c1&ct=u1&v=va", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/track/click/"+link.Token+"?ct=u1&v=va", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/track/open?c=c1&ct=u2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/campaigns/c1/variants/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[engagement.VariantReport](t, rec)
	require.Len(t, report.Variants, 1)
	assert.Equal(t, int64(1), report.Variants[0].Opens)
	assert.Equal(t, int64(1), report.Variants[0].Clicks)
}

func TestTrackClickUnknownToken(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/track/click/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, ts.events.Len())
}

func TestCreateLinkValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", "{"},
		{"missing url", map[string]string{}},
		{"not a url", map[string]string{"url": "offer"}},
		{"unsupported scheme", map[string]string{"url": "ftp://x.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/campaigns/c1/links", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestEngagementEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, ct := range []string{"u1", "u2", "u3", ""} {
		ts.do(t, http.MethodGet, "/api/track/open?c=c1&ct="+ct, nil)
	}

	rec := ts.do(t, http.MethodGet, "/api/campaigns/c1/engagement", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[models.EngagementSnapshot](t, rec)
	assert.Equal(t, int64(4), snap.TotalOpens)
	assert.Equal(t, int64(3), snap.UniqueOpens)

	rec = ts.do(t, http.MethodPost, "/api/campaigns/c1/engagement/recompute", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	recomputed := decodeBody[models.EngagementSnapshot](t, rec)
	assert.Equal(t, snap, recomputed)

	rec = ts.do(t, http.MethodGet, "/api/campaigns/c1/engagement/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.EngagementSnapshot](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/api/campaigns/c1/engagement?date=2024-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeBody[models.EngagementSnapshot](t, rec).TotalOpens)
}

func TestEngagementDateValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	paths := []string{
		"/api/campaigns/c1/engagement?date=01-02-2024",
		"/api/campaigns/c1/engagement/history?from=2024-02-01&to=2024-01-01",
		"/api/campaigns/c1/engagement/history?from=2020-01-01&to=2024-01-01",
		"/api/campaigns/c1/engagement/history?to=yesterday",
	}
	for _, p := range paths {
		rec := ts.do(t, http.MethodGet, p, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, p)
	}

	rec := ts.do(t, http.MethodPost, "/api/campaigns/c1/engagement/recompute?date=bad", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordInteraction(t *testing.T) {
	ts := newTestServer(t, nil)

	body := map[string]any{
		"emailId":             "e1",
		"campaignId":          "c1",
		"xCoordinate":         0,
		"yCoordinate":         55.5,
		"interactionType":     "hover",
		"interactionDuration": 2500,
	}
	rec := ts.do(t, http.MethodPost, "/api/heat-maps/interactions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	point := decodeBody[models.InteractionDataPoint](t, rec)
	assert.Equal(t, 2, point.Intensity)

	rec = ts.do(t, http.MethodGet, "/api/heat-maps/emails/e1/heat-map-visualization", nil)
	viz := decodeBody[models.HeatMapVisualization](t, rec)
	assert.Equal(t, 1, viz.TotalInteractions)
	assert.Equal(t, 2, viz.MaxIntensity)

	rec = ts.do(t, http.MethodGet, "/api/heat-maps/emails/e1/interactions", nil)
	assert.Len(t, decodeBody[[]models.InteractionDataPoint](t, rec), 1)

	rec = ts.do(t, http.MethodGet, "/api/heat-maps/campaigns/c1", nil)
	assert.Len(t, decodeBody[[]models.HeatMapSummary](t, rec), 1)
}

func TestRecordInteractionRejected(t *testing.T) {
	ts := newTestServer(t, nil)

	valid := func() map[string]any {
		return map[string]any{"emailId": "e1", "campaignId": "c1", "xCoordinate": 10, "yCoordinate": 10, "interactionType": "click"}
	}

	tests := []struct {
		name   string
		modify func(m map[string]any)
	}{
		{"x out of range", func(m map[string]any) { m["xCoordinate"] = 150 }},
		{"missing x", func(m map[string]any) { delete(m, "xCoordinate") }},
		{"missing email", func(m map[string]any) { delete(m, "emailId") }},
		{"missing campaign", func(m map[string]any) { delete(m, "campaignId") }},
		{"unknown type", func(m map[string]any) { m["interactionType"] = "drag" }},
		{"negative duration", func(m map[string]any) { m["interactionDuration"] = -5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := valid()
			tt.modify(body)
			rec := ts.do(t, http.MethodPost, "/api/heat-maps/interactions", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	points, err := ts.heat.PointsByEmail(context.Background(), "e1")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestEmptyVisualization(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/heat-maps/emails/none/heat-map-visualization", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"dataPoints":[],"maxIntensity":0,"totalInteractions":0}`, rec.Body.String())
}

func TestVariantLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, id := range []string{"va", "vb"} {
		rec := ts.do(t, http.MethodPost, "/api/campaigns/c1/variants", map[string]any{"id": id, "name": "Variant " + id, "weight": 50})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := ts.do(t, http.MethodGet, "/api/campaigns/c1/variants", nil)
	assert.Len(t, decodeBody[[]models.CampaignVariant](t, rec), 2)

	rec = ts.do(t, http.MethodPost, "/api/campaigns/c1/variants/va/events", map[string]any{"type": "recipients", "count": 10})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPost, "/api/campaigns/c1/variants/va/events", map[string]any{"type": "open"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/campaigns/c1/winner", map[string]any{"variantId": "va"})
	require.Equal(t, http.StatusOK, rec.Code)
	sel := decodeBody[models.VariantSelection](t, rec)
	assert.Equal(t, models.SelectionDecided, sel.Status)

	rec = ts.do(t, http.MethodPost, "/api/campaigns/c1/winner", map[string]any{"variantId": "va"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/campaigns/c1/winner", map[string]any{"variantId": "vb"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/campaigns/c1/winner", map[string]any{"variantId": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/campaigns/c1/winner", map[string]any{"auto": true})
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/campaigns/c1/variants/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[engagement.VariantReport](t, rec)
	require.Len(t, report.Variants, 2)
	assert.Equal(t, "va", report.Variants[0].VariantID)
	assert.True(t, report.Variants[0].IsWinner)
	assert.InDelta(t, 0.1, report.Variants[0].OpenRate, 1e-9)
}

func TestVariantValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"variant missing weight", "/api/campaigns/c1/variants", map[string]any{"id": "va", "name": "A"}},
		{"variant weight above 100", "/api/campaigns/c1/variants", map[string]any{"id": "va", "name": "A", "weight": 101}},
		{"unknown event type", "/api/campaigns/c1/variants/va/events", map[string]any{"type": "forward"}},
		{"recipients without count", "/api/campaigns/c1/variants/va/events", map[string]any{"type": "recipients"}},
		{"winner without variant", "/api/campaigns/c1/winner", map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestDayParamDefaultsToToday(t *testing.T) {
	s := &Server{now: func() time.Time { return time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC) }}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	d, err := s.dayParam(req, "date")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), d)
}
