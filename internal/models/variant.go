package models

import (
	"errors"
	"time"
)

// CampaignVariant is one alternative version of a campaign under A/B testing.
// Weight is the share of recipients (0-100) the variant should receive.
type CampaignVariant struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaignId"`
	Name       string    `json:"name"`
	Subject    string    `json:"subject"`
	Content    string    `json:"content"`
	Weight     int       `json:"weight"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Validate checks required fields and the weight range.
func (v *CampaignVariant) Validate() error {
	if v.ID == "" {
		return errors.New("variant id is required")
	}
	if v.CampaignID == "" {
		return errors.New("campaign id is required")
	}
	if v.Name == "" {
		return errors.New("variant name is required")
	}
	if v.Weight < 0 || v.Weight > 100 {
		return errors.New("weight must be between 0 and 100")
	}
	return nil
}

// VariantEventType selects the counter incremented by a variant event.
type VariantEventType string

const (
	VariantEventOpen        VariantEventType = "open"
	VariantEventClick       VariantEventType = "click"
	VariantEventBounce      VariantEventType = "bounce"
	VariantEventUnsubscribe VariantEventType = "unsubscribe"
)

// Valid reports whether t is a known variant event type.
func (t VariantEventType) Valid() bool {
	switch t {
	case VariantEventOpen, VariantEventClick, VariantEventBounce, VariantEventUnsubscribe:
		return true
	}
	return false
}

// VariantAnalyticsSnapshot holds one day of counters for a variant.
type VariantAnalyticsSnapshot struct {
	ID           string    `json:"id"`
	VariantID    string    `json:"variantId"`
	CampaignID   string    `json:"campaignId"`
	Date         time.Time `json:"date"`
	Recipients   int64     `json:"recipients"`
	Opens        int64     `json:"opens"`
	Clicks       int64     `json:"clicks"`
	Bounces      int64     `json:"bounces"`
	Unsubscribes int64     `json:"unsubscribes"`
}

// SelectionStatus is the state of a campaign's A/B winner selection.
type SelectionStatus string

const (
	SelectionRunning SelectionStatus = "running"
	SelectionDecided SelectionStatus = "decided"
)

// VariantSelection records the winner decision for a campaign. The
// transition from running to decided happens at most once.
type VariantSelection struct {
	CampaignID      string          `json:"campaignId"`
	Status          SelectionStatus `json:"status"`
	WinnerVariantID string          `json:"winnerVariantId,omitempty"`
	DecidedAt       *time.Time      `json:"decidedAt,omitempty"`
}
