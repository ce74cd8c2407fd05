package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/config"
	"github.com/radiusdt/pulse/internal/engagement"
	"github.com/radiusdt/pulse/internal/metrics"
	"github.com/radiusdt/pulse/internal/middleware"
	"github.com/radiusdt/pulse/internal/models"
)

const healthTimeout = 2 * time.Second

// HealthCheck pings one backing service.
type HealthCheck func(ctx context.Context) error

// Dependencies holds all external dependencies for the server.
type Dependencies struct {
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Recorder   *engagement.Recorder
	Links      *engagement.LinkTracker
	Aggregator *engagement.Aggregator
	HeatMaps   *engagement.HeatMapBuilder
	Variants   *engagement.VariantTracker

	// RateLimiter adds per-IP limits on tracking routes when set.
	RateLimiter *middleware.RateLimitMiddleware
	// HealthChecks are reported by /health, keyed by component name.
	HealthChecks map[string]HealthCheck
}

// Server wraps HTTP handlers and engagement services.
type Server struct {
	recorder   *engagement.Recorder
	links      *engagement.LinkTracker
	aggregator *engagement.Aggregator
	heatMaps   *engagement.HeatMapBuilder
	variants   *engagement.VariantTracker
	health     map[string]HealthCheck
	logger     *zap.Logger
	config     *config.Config
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewServer constructs a new http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	return newServer(deps).routes(deps)
}

func newServer(deps *Dependencies) *Server {
	return &Server{
		recorder:   deps.Recorder,
		links:      deps.Links,
		aggregator: deps.Aggregator,
		heatMaps:   deps.HeatMaps,
		variants:   deps.Variants,
		health:     deps.HealthChecks,
		logger:     deps.Logger,
		config:     deps.Config,
		metrics:    deps.Metrics,
		now:        time.Now,
	}
}

func (s *Server) routes(deps *Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewMetricsMiddleware(s.metrics).Handler)

	r.Get("/health", s.handleHealth)
	if s.config.Metrics.Enabled {
		r.Handle(s.config.Metrics.Path, metrics.Handler())
	}

	r.Route("/api/track", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.HandlerPerIP)
		}
		r.Get("/open", s.handleTrackOpen)
		r.Get("/click/{token}", s.handleTrackClick)
	})

	r.Route("/api/heat-maps", func(r chi.Router) {
		r.Post("/interactions", s.handleRecordInteraction)
		r.Get("/emails/{emailId}/heat-map-visualization", s.handleHeatMapVisualization)
		r.Get("/emails/{emailId}/interactions", s.handleEmailInteractions)
		r.Get("/campaigns/{campaignId}", s.handleCampaignHeatMaps)
	})

	r.Route("/api/campaigns/{campaignId}", func(r chi.Router) {
		r.Get("/links", s.handleListLinks)
		r.Post("/links", s.handleCreateLink)

		r.Get("/engagement", s.handleEngagement)
		r.Get("/engagement/history", s.handleEngagementHistory)
		r.Post("/engagement/recompute", s.handleRecompute)

		r.Get("/variants", s.handleListVariants)
		r.Post("/variants", s.handleUpsertVariant)
		r.Get("/variants/report", s.handleVariantReport)
		r.Post("/variants/{variantId}/events", s.handleVariantEvent)
		r.Post("/winner", s.handleWinner)
	})

	return r
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := "ok"
	components := make(map[string]string, len(s.health))
	for name, check := range s.health {
		if err := check(ctx); err != nil {
			s.logger.Warn("health check failed", zap.String("component", name), zap.Error(err))
			components[name] = "down"
			status = "degraded"
			continue
		}
		components[name] = "up"
	}

	s.jsonResponse(w, map[string]any{"status": status, "components": components})
}

// ---- Helpers ----

func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	s.jsonStatus(w, http.StatusOK, data)
}

func (s *Server) jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// serviceError maps engagement errors onto HTTP status codes.
func (s *Server) serviceError(w http.ResponseWriter, op string, err error) {
	var verr *engagement.ValidationError
	switch {
	case errors.As(err, &verr):
		s.errorResponse(w, verr.Error(), http.StatusBadRequest)
	case errors.Is(err, engagement.ErrVariantNotFound):
		s.errorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engagement.ErrAlreadyDecided):
		s.errorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engagement.ErrAutoSelectionUnsupported):
		s.errorResponse(w, err.Error(), http.StatusNotImplemented)
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return false
	}
	if err := validateRequest(dst); err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// dayParam parses a YYYY-MM-DD query parameter, defaulting to today (UTC).
func (s *Server) dayParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return models.DayOf(s.now()), nil
	}
	d, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return time.Time{}, errors.New(name + " must be formatted as YYYY-MM-DD")
	}
	return d, nil
}
