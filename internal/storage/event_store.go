package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/radiusdt/pulse/internal/models"
)

// InMemoryEventStore is an arena of interaction events. Events are
// appended with sequential IDs and indexed by campaign.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events []models.InteractionEvent
	nextID int64

	// Indexes for faster lookups
	byCampaign map[string][]int // campaign_id -> arena offsets
}

// NewInMemoryEventStore creates a new in-memory event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		byCampaign: make(map[string][]int),
	}
}

func (s *InMemoryEventStore) AppendOpen(ctx context.Context, e *models.OpenEvent) error {
	cp := *e
	cp.Metadata = copyMetadata(e.Metadata)
	id := s.append(&cp)
	e.ID = id
	return nil
}

func (s *InMemoryEventStore) AppendClick(ctx context.Context, e *models.ClickEvent) error {
	cp := *e
	cp.Metadata = copyMetadata(e.Metadata)
	id := s.append(&cp)
	e.ID = id
	return nil
}

func (s *InMemoryEventStore) append(e models.InteractionEvent) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	base := e.Base()
	base.ID = s.nextID
	s.events = append(s.events, e)
	s.byCampaign[base.CampaignID] = append(s.byCampaign[base.CampaignID], len(s.events)-1)

	return base.ID
}

func (s *InMemoryEventStore) ListByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]models.InteractionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.InteractionEvent, 0)
	for _, off := range s.byCampaign[campaignID] {
		e := s.events[off]
		ts := e.Base().Timestamp
		if ts.Before(from) || !ts.Before(to) {
			continue
		}
		result = append(result, cloneEvent(e))
	}
	models.SortEvents(result)

	return result, nil
}

func (s *InMemoryEventStore) ActiveCampaigns(ctx context.Context, from, to time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, 0)
	for campaignID, offsets := range s.byCampaign {
		for _, off := range offsets {
			ts := s.events[off].Base().Timestamp
			if !ts.Before(from) && ts.Before(to) {
				result = append(result, campaignID)
				break
			}
		}
	}
	sort.Strings(result)

	return result, nil
}

// Len returns the number of stored events.
func (s *InMemoryEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func cloneEvent(e models.InteractionEvent) models.InteractionEvent {
	switch ev := e.(type) {
	case *models.OpenEvent:
		cp := *ev
		cp.Metadata = copyMetadata(ev.Metadata)
		return &cp
	case *models.ClickEvent:
		cp := *ev
		cp.Metadata = copyMetadata(ev.Metadata)
		return &cp
	}
	return e
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
