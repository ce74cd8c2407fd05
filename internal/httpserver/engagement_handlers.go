package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// maxHistoryDays bounds one history request.
const maxHistoryDays = 366

type createLinkRequest struct {
	URL string `json:"url" validate:"required,url"`
}

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if !s.decode(w, r, &req) {
		return
	}

	link, err := s.links.GetOrCreateTrackedLink(r.Context(), chi.URLParam(r, "campaignId"), req.URL)
	if err != nil {
		s.serviceError(w, "create tracked link", err)
		return
	}
	s.jsonResponse(w, link)
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.links.ListLinks(r.Context(), chi.URLParam(r, "campaignId")))
}

func (s *Server) handleEngagement(w http.ResponseWriter, r *http.Request) {
	day, err := s.dayParam(r, "date")
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.jsonResponse(w, s.aggregator.Snapshot(r.Context(), chi.URLParam(r, "campaignId"), day))
}

func (s *Server) handleEngagementHistory(w http.ResponseWriter, r *http.Request) {
	to, err := s.dayParam(r, "to")
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	from := to.AddDate(0, 0, -29)
	if r.URL.Query().Get("from") != "" {
		if from, err = s.dayParam(r, "from"); err != nil {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if from.After(to) {
		s.errorResponse(w, "from must not be after to", http.StatusBadRequest)
		return
	}
	if to.Sub(from).Hours()/24 >= maxHistoryDays {
		s.errorResponse(w, "range must not exceed 366 days", http.StatusBadRequest)
		return
	}

	s.jsonResponse(w, s.aggregator.Snapshots(r.Context(), chi.URLParam(r, "campaignId"), from, to))
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	day, err := s.dayParam(r, "date")
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := s.aggregator.Recompute(r.Context(), chi.URLParam(r, "campaignId"), day)
	if err != nil {
		s.serviceError(w, "recompute engagement", err)
		return
	}
	s.jsonResponse(w, snap)
}
