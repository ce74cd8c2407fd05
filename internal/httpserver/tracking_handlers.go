package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/engagement"
	"github.com/radiusdt/pulse/internal/tracking"
)

// handleTrackOpen records an open and always serves the pixel.
func (s *Server) handleTrackOpen(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	campaignID := q.Get("c")

	if campaignID == "" {
		s.logger.Debug("open pixel without campaign", zap.String("client_ip", tracking.ClientIP(r)))
		tracking.WritePixel(w)
		return
	}

	_, err := s.recorder.RecordOpen(r.Context(), engagement.OpenParams{
		CampaignID: campaignID,
		ContactID:  q.Get("ct"),
		EmailID:    q.Get("e"),
		UserAgent:  r.UserAgent(),
		IP:         tracking.ClientIP(r),
		VariantID:  q.Get("v"),
	})
	if err != nil {
		s.logger.Error("failed to record open",
			zap.String("campaign_id", campaignID),
			zap.Error(err),
		)
	}

	tracking.WritePixel(w)
}

// handleTrackClick resolves a link token, records the click and redirects.
func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	link, err := s.links.ResolveToken(r.Context(), token)
	if err != nil {
		s.logger.Error("failed to resolve link token", zap.String("token", token), zap.Error(err))
		s.errorResponse(w, "link temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	if link == nil {
		s.errorResponse(w, "link not found", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	_, err = s.recorder.RecordClick(r.Context(), engagement.ClickParams{
		CampaignID: link.CampaignID,
		URL:        link.OriginalURL,
		ContactID:  q.Get("ct"),
		EmailID:    q.Get("e"),
		UserAgent:  r.UserAgent(),
		IP:         tracking.ClientIP(r),
		VariantID:  q.Get("v"),
	})
	if err != nil {
		s.logger.Error("failed to record click",
			zap.String("campaign_id", link.CampaignID),
			zap.String("token", token),
			zap.Error(err),
		)
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, link.OriginalURL, http.StatusFound)
}
