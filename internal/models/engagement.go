package models

import "time"

// EngagementSnapshot is the derived per-campaign, per-day engagement rollup.
// It can always be rebuilt from the raw events of that day.
type EngagementSnapshot struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaignId"`
	Date       time.Time `json:"date"`

	TotalOpens   int64 `json:"totalOpens"`
	UniqueOpens  int64 `json:"uniqueOpens"`
	TotalClicks  int64 `json:"totalClicks"`
	UniqueClicks int64 `json:"uniqueClicks"`

	// ClickThroughRate is unique clicks / unique opens expressed in basis points (rate x 10000).
	ClickThroughRate int64 `json:"clickThroughRate"`
	EngagementScore  int   `json:"engagementScore"`

	MostClickedLink  *string `json:"mostClickedLink,omitempty"`
	MostActiveHour   *int    `json:"mostActiveHour,omitempty"`
	MostActiveDevice *string `json:"mostActiveDevice,omitempty"`
}

// CTRPercent returns the click-through rate as a percentage with two decimals.
func (s *EngagementSnapshot) CTRPercent() float64 {
	return float64(s.ClickThroughRate) / 100
}

// EmptySnapshot returns the zero-valued snapshot for a campaign and day.
func EmptySnapshot(campaignID string, day time.Time) *EngagementSnapshot {
	return &EngagementSnapshot{
		CampaignID: campaignID,
		Date:       DayOf(day),
	}
}
