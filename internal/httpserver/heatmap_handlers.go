package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/radiusdt/pulse/internal/engagement"
	"github.com/radiusdt/pulse/internal/models"
)

// interactionRequest uses pointers so that a zero coordinate is distinguishable from a missing one.
type interactionRequest struct {
	EmailID             string         `json:"emailId" validate:"required"`
	CampaignID          string         `json:"campaignId" validate:"required"`
	ContactID           string         `json:"contactId"`
	ElementID           string         `json:"elementId"`
	ElementType         string         `json:"elementType"`
	XCoordinate         *float64       `json:"xCoordinate" validate:"required"`
	YCoordinate         *float64       `json:"yCoordinate" validate:"required"`
	InteractionType     string         `json:"interactionType" validate:"required,oneof=click hover scroll"`
	InteractionDuration *int64         `json:"interactionDuration" validate:"omitempty,gte=0"`
	Metadata            map[string]any `json:"metadata"`
}

func (s *Server) handleRecordInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if !s.decode(w, r, &req) {
		return
	}

	point, err := s.heatMaps.RecordInteractionPoint(r.Context(), engagement.PointParams{
		EmailID:     req.EmailID,
		CampaignID:  req.CampaignID,
		ContactID:   req.ContactID,
		ElementID:   req.ElementID,
		ElementType: req.ElementType,
		X:           *req.XCoordinate,
		Y:           *req.YCoordinate,
		Type:        models.InteractionType(req.InteractionType),
		DurationMs:  req.InteractionDuration,
		Metadata:    req.Metadata,
	})
	if err != nil {
		s.serviceError(w, "record interaction point", err)
		return
	}
	s.jsonStatus(w, http.StatusCreated, point)
}

func (s *Server) handleHeatMapVisualization(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.heatMaps.Visualization(r.Context(), chi.URLParam(r, "emailId")))
}

func (s *Server) handleEmailInteractions(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.heatMaps.Interactions(r.Context(), chi.URLParam(r, "emailId")))
}

func (s *Server) handleCampaignHeatMaps(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.heatMaps.CampaignHeatMaps(r.Context(), chi.URLParam(r, "campaignId")))
}
