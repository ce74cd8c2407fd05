package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/radiusdt/pulse/internal/models"
)

const recipientsEvent = "recipients"

type variantRequest struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Subject string `json:"subject"`
	Content string `json:"content"`
	Weight  *int   `json:"weight" validate:"required,min=0,max=100"`
}

type variantEventRequest struct {
	Type  string `json:"type" validate:"required,oneof=open click bounce unsubscribe recipients"`
	Count int64  `json:"count" validate:"required_if=Type recipients,gte=0"`
}

type winnerRequest struct {
	VariantID string `json:"variantId" validate:"required_without=Auto"`
	Auto      bool   `json:"auto"`
}

func (s *Server) handleUpsertVariant(w http.ResponseWriter, r *http.Request) {
	var req variantRequest
	if !s.decode(w, r, &req) {
		return
	}

	v, err := s.variants.UpsertVariant(r.Context(), &models.CampaignVariant{
		ID:         req.ID,
		CampaignID: chi.URLParam(r, "campaignId"),
		Name:       req.Name,
		Subject:    req.Subject,
		Content:    req.Content,
		Weight:     *req.Weight,
	})
	if err != nil {
		s.serviceError(w, "upsert variant", err)
		return
	}
	s.jsonResponse(w, v)
}

func (s *Server) handleListVariants(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.variants.Variants(r.Context(), chi.URLParam(r, "campaignId")))
}

func (s *Server) handleVariantEvent(w http.ResponseWriter, r *http.Request) {
	var req variantEventRequest
	if !s.decode(w, r, &req) {
		return
	}

	campaignID := chi.URLParam(r, "campaignId")
	variantID := chi.URLParam(r, "variantId")

	var err error
	if req.Type == recipientsEvent {
		err = s.variants.AddRecipients(r.Context(), variantID, campaignID, req.Count)
	} else {
		err = s.variants.RecordVariantEvent(r.Context(), variantID, campaignID, models.VariantEventType(req.Type))
	}
	if err != nil {
		s.serviceError(w, "record variant event", err)
		return
	}
	s.jsonStatus(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (s *Server) handleVariantReport(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.variants.Report(r.Context(), chi.URLParam(r, "campaignId")))
}

func (s *Server) handleWinner(w http.ResponseWriter, r *http.Request) {
	var req winnerRequest
	if !s.decode(w, r, &req) {
		return
	}

	campaignID := chi.URLParam(r, "campaignId")

	var (
		sel *models.VariantSelection
		err error
	)
	if req.Auto {
		sel, err = s.variants.AutoSelectWinner(r.Context(), campaignID)
	} else {
		sel, err = s.variants.SetWinningVariant(r.Context(), campaignID, req.VariantID)
	}
	if err != nil {
		s.serviceError(w, "set winning variant", err)
		return
	}
	s.jsonResponse(w, sel)
}
