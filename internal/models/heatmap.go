package models

import "time"

// InteractionType is the kind of on-canvas interaction captured for heat maps.
type InteractionType string

const (
	InteractionClick  InteractionType = "click"
	InteractionHover  InteractionType = "hover"
	InteractionScroll InteractionType = "scroll"
)

// Valid reports whether t is a known interaction type.
func (t InteractionType) Valid() bool {
	switch t {
	case InteractionClick, InteractionHover, InteractionScroll:
		return true
	}
	return false
}

// HeatMap groups the interaction points of one (email, campaign) pair.
type HeatMap struct {
	ID         string    `json:"id"`
	EmailID    string    `json:"emailId"`
	CampaignID string    `json:"campaignId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// InteractionDataPoint is a single spatial interaction. Coordinates are
// percentages (0-100) of the rendered element's width and height.
type InteractionDataPoint struct {
	ID                  int64           `json:"id"`
	HeatMapID           string          `json:"heatMapId"`
	EmailID             string          `json:"emailId"`
	CampaignID          string          `json:"campaignId"`
	ContactID           string          `json:"contactId,omitempty"`
	ElementID           string          `json:"elementId,omitempty"`
	ElementType         string          `json:"elementType,omitempty"`
	XCoordinate         float64         `json:"xCoordinate"`
	YCoordinate         float64         `json:"yCoordinate"`
	InteractionType     InteractionType `json:"interactionType"`
	InteractionDuration *int64          `json:"interactionDuration,omitempty"`
	Intensity           int             `json:"intensity"`
	Timestamp           time.Time       `json:"timestamp"`
	Metadata            map[string]any  `json:"metadata,omitempty"`
}

// HeatMapPoint is one entry of a visualization dataset.
type HeatMapPoint struct {
	X     float64         `json:"x"`
	Y     float64         `json:"y"`
	Value int             `json:"value"`
	Type  InteractionType `json:"type"`
}

// HeatMapVisualization is the normalized dataset consumed by heat-map charts.
type HeatMapVisualization struct {
	DataPoints        []HeatMapPoint `json:"dataPoints"`
	MaxIntensity      int            `json:"maxIntensity"`
	TotalInteractions int            `json:"totalInteractions"`
}

// HeatMapSummary lists a heat map with display details of its email.
type HeatMapSummary struct {
	ID           string    `json:"id"`
	EmailID      string    `json:"emailId"`
	CampaignID   string    `json:"campaignId"`
	EmailName    string    `json:"emailName"`
	EmailSubject string    `json:"emailSubject"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
