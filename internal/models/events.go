package models

import (
	"sort"
	"time"
)

// DateLayout is the day granularity used for snapshot keys.
const DateLayout = "2006-01-02"

// EventKind tags the concrete type of an InteractionEvent.
type EventKind string

const (
	EventKindOpen  EventKind = "open"
	EventKindClick EventKind = "click"
)

// Device types produced by the user-agent classifier. An empty string means unknown.
const (
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
	DeviceTablet  = "tablet"
)

// ===========================================
// INTERACTION EVENTS
// ===========================================

// InteractionEvent is an append-only record of a recipient interaction.
// Concrete types are *OpenEvent and *ClickEvent.
type InteractionEvent interface {
	Kind() EventKind
	Base() *EventBase
}

// EventBase holds the fields shared by every interaction event.
type EventBase struct {
	ID         int64     `json:"id"`
	CampaignID string    `json:"campaignId"`
	ContactID  string    `json:"contactId,omitempty"`
	EmailID    string    `json:"emailId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	// Request info
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`

	// Device info
	DeviceType string `json:"deviceType,omitempty"`
	Browser    string `json:"browser,omitempty"`
	OS         string `json:"os,omitempty"`

	// Geo info
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Anonymous reports whether the event has no attributable contact.
func (b *EventBase) Anonymous() bool {
	return b.ContactID == ""
}

// OpenEvent is recorded when a recipient's client renders the tracking pixel.
type OpenEvent struct {
	EventBase
}

func (e *OpenEvent) Kind() EventKind  { return EventKindOpen }
func (e *OpenEvent) Base() *EventBase { return &e.EventBase }

// ClickEvent is recorded when a recipient follows a tracked link.
type ClickEvent struct {
	EventBase
	URL string `json:"url"`
}

func (e *ClickEvent) Kind() EventKind  { return EventKindClick }
func (e *ClickEvent) Base() *EventBase { return &e.EventBase }

// SortEvents orders events by timestamp, then by ID for events recorded in the same instant.
func SortEvents(events []InteractionEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].Base(), events[j].Base()
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
}

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ===========================================
// TRACKED LINKS
// ===========================================

// TrackedLink maps an opaque token to a destination URL inside a campaign.
type TrackedLink struct {
	ID               string    `json:"id"`
	CampaignID       string    `json:"campaignId"`
	OriginalURL      string    `json:"originalUrl"`
	Token            string    `json:"token"`
	TrackingURL      string    `json:"trackingUrl"`
	ClickCount       int64     `json:"clickCount"`
	UniqueClickCount int64     `json:"uniqueClickCount"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
