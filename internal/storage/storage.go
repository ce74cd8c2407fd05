package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radiusdt/pulse/internal/models"
)

// In-memory implementations

// InMemoryLinkStore stores tracked links in memory.
type InMemoryLinkStore struct {
	mu      sync.RWMutex
	links   map[string]*models.TrackedLink // campaign_id|url -> link
	byToken map[string]string              // token -> campaign_id|url
	clicked map[string]struct{}            // guardKey -> contact already counted
}

func NewInMemoryLinkStore() *InMemoryLinkStore {
	return &InMemoryLinkStore{
		links:   make(map[string]*models.TrackedLink),
		byToken: make(map[string]string),
		clicked: make(map[string]struct{}),
	}
}

func linkKey(campaignID, originalURL string) string {
	return campaignID + "|" + originalURL
}

func (r *InMemoryLinkStore) CreateIfAbsent(ctx context.Context, link *models.TrackedLink) (*models.TrackedLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := linkKey(link.CampaignID, link.OriginalURL)
	if existing, ok := r.links[key]; ok {
		cp := *existing
		return &cp, nil
	}

	cp := *link
	r.links[key] = &cp
	r.byToken[link.Token] = key

	out := cp
	return &out, nil
}

func (r *InMemoryLinkStore) GetByURL(ctx context.Context, campaignID, originalURL string) (*models.TrackedLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if l, ok := r.links[linkKey(campaignID, originalURL)]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, nil
}

func (r *InMemoryLinkStore) GetByToken(ctx context.Context, token string) (*models.TrackedLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.byToken[token]
	if !ok {
		return nil, nil
	}
	cp := *r.links[key]
	return &cp, nil
}

func (r *InMemoryLinkStore) ListByCampaign(ctx context.Context, campaignID string) ([]*models.TrackedLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*models.TrackedLink, 0)
	for _, l := range r.links {
		if l.CampaignID == campaignID {
			cp := *l
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].OriginalURL < res[j].OriginalURL
	})
	return res, nil
}

func (r *InMemoryLinkStore) IncrementClicks(ctx context.Context, campaignID, originalURL, contactID string) (*models.TrackedLink, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.links[linkKey(campaignID, originalURL)]
	if !ok {
		return nil, false, nil
	}

	unique := false
	if contactID != "" {
		key := guardKey(campaignID, originalURL, contactID)
		if _, seen := r.clicked[key]; !seen {
			r.clicked[key] = struct{}{}
			unique = true
		}
	}

	l.ClickCount++
	if unique {
		l.UniqueClickCount++
	}
	l.UpdatedAt = time.Now().UTC()

	cp := *l
	return &cp, unique, nil
}

// InMemoryClickGuard remembers counted triples for the life of the process.
type InMemoryClickGuard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewInMemoryClickGuard() *InMemoryClickGuard {
	return &InMemoryClickGuard{
		seen: make(map[string]struct{}),
	}
}

func (g *InMemoryClickGuard) Seen(ctx context.Context, campaignID, url, contactID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.seen[guardKey(campaignID, url, contactID)]
	return ok, nil
}

func (g *InMemoryClickGuard) Remember(ctx context.Context, campaignID, url, contactID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen[guardKey(campaignID, url, contactID)] = struct{}{}
	return nil
}

// InMemorySnapshotStore stores engagement snapshots in memory.
type InMemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]*models.EngagementSnapshot // campaign_id|date -> snapshot
}

func NewInMemorySnapshotStore() *InMemorySnapshotStore {
	return &InMemorySnapshotStore{
		snapshots: make(map[string]*models.EngagementSnapshot),
	}
}

func snapshotKey(campaignID string, day time.Time) string {
	return campaignID + "|" + models.DayOf(day).Format(models.DateLayout)
}

func (r *InMemorySnapshotStore) Upsert(ctx context.Context, s *models.EngagementSnapshot) error {
	if s == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.snapshots[snapshotKey(s.CampaignID, s.Date)] = &cp
	return nil
}

func (r *InMemorySnapshotStore) Get(ctx context.Context, campaignID string, day time.Time) (*models.EngagementSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.snapshots[snapshotKey(campaignID, day)]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *InMemorySnapshotStore) ListRange(ctx context.Context, campaignID string, from, to time.Time) ([]*models.EngagementSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	from, to = models.DayOf(from), models.DayOf(to)
	res := make([]*models.EngagementSnapshot, 0)
	for _, s := range r.snapshots {
		if s.CampaignID != campaignID || s.Date.Before(from) || s.Date.After(to) {
			continue
		}
		cp := *s
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Date.Before(res[j].Date) })
	return res, nil
}

// InMemoryHeatMapStore stores heat maps and interaction points in memory.
type InMemoryHeatMapStore struct {
	mu       sync.RWMutex
	heatMaps map[string]*models.HeatMap // email_id|campaign_id -> heat map
	points   []*models.InteractionDataPoint
	nextID   int64
}

func NewInMemoryHeatMapStore() *InMemoryHeatMapStore {
	return &InMemoryHeatMapStore{
		heatMaps: make(map[string]*models.HeatMap),
	}
}

func (r *InMemoryHeatMapStore) AppendPoint(ctx context.Context, p *models.InteractionDataPoint) (*models.HeatMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := p.EmailID + "|" + p.CampaignID
	hm, ok := r.heatMaps[key]
	if !ok {
		hm = &models.HeatMap{
			ID:         uuid.New().String(),
			EmailID:    p.EmailID,
			CampaignID: p.CampaignID,
			CreatedAt:  p.Timestamp,
		}
		r.heatMaps[key] = hm
	}
	hm.UpdatedAt = p.Timestamp

	r.nextID++
	p.ID = r.nextID
	p.HeatMapID = hm.ID

	cp := *p
	cp.Metadata = copyMetadata(p.Metadata)
	r.points = append(r.points, &cp)

	out := *hm
	return &out, nil
}

func (r *InMemoryHeatMapStore) PointsByEmail(ctx context.Context, emailID string) ([]*models.InteractionDataPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]*models.InteractionDataPoint, 0)
	for i := len(r.points) - 1; i >= 0; i-- {
		if r.points[i].EmailID == emailID {
			cp := *r.points[i]
			res = append(res, &cp)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Timestamp.After(res[j].Timestamp) })
	return res, nil
}

func (r *InMemoryHeatMapStore) ListByCampaign(ctx context.Context, campaignID string) ([]*models.HeatMap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]*models.HeatMap, 0)
	for _, hm := range r.heatMaps {
		if hm.CampaignID == campaignID {
			cp := *hm
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// InMemoryVariantStore stores variants and their analytics in memory.
type InMemoryVariantStore struct {
	mu         sync.RWMutex
	variants   map[string]*models.CampaignVariant
	analytics  map[string]*models.VariantAnalyticsSnapshot // variant_id|date -> snapshot
	selections map[string]*models.VariantSelection
}

func NewInMemoryVariantStore() *InMemoryVariantStore {
	return &InMemoryVariantStore{
		variants:   make(map[string]*models.CampaignVariant),
		analytics:  make(map[string]*models.VariantAnalyticsSnapshot),
		selections: make(map[string]*models.VariantSelection),
	}
}

func (r *InMemoryVariantStore) UpsertVariant(ctx context.Context, v *models.CampaignVariant) error {
	if v == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *v
	if existing, ok := r.variants[v.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	r.variants[v.ID] = &cp
	return nil
}

func (r *InMemoryVariantStore) GetVariant(ctx context.Context, id string) (*models.CampaignVariant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.variants[id]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (r *InMemoryVariantStore) ListVariants(ctx context.Context, campaignID string) ([]*models.CampaignVariant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*models.CampaignVariant, 0)
	for _, v := range r.variants {
		if v.CampaignID == campaignID {
			cp := *v
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})
	return res, nil
}

func (r *InMemoryVariantStore) IncrementCounter(ctx context.Context, variantID, campaignID string, day time.Time, counter VariantCounter, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	day = models.DayOf(day)
	key := variantID + "|" + day.Format(models.DateLayout)
	s, ok := r.analytics[key]
	if !ok {
		s = &models.VariantAnalyticsSnapshot{
			ID:         uuid.New().String(),
			VariantID:  variantID,
			CampaignID: campaignID,
			Date:       day,
		}
		r.analytics[key] = s
	}

	switch counter {
	case CounterRecipients:
		s.Recipients += delta
	case CounterOpens:
		s.Opens += delta
	case CounterClicks:
		s.Clicks += delta
	case CounterBounces:
		s.Bounces += delta
	case CounterUnsubscribes:
		s.Unsubscribes += delta
	}
	return nil
}

func (r *InMemoryVariantStore) ListAnalytics(ctx context.Context, campaignID string) ([]*models.VariantAnalyticsSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*models.VariantAnalyticsSnapshot, 0)
	for _, s := range r.analytics {
		if s.CampaignID == campaignID {
			cp := *s
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].Date.Equal(res[j].Date) {
			return res[i].Date.Before(res[j].Date)
		}
		return res[i].VariantID < res[j].VariantID
	})
	return res, nil
}

func (r *InMemoryVariantStore) GetSelection(ctx context.Context, campaignID string) (*models.VariantSelection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.selections[campaignID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (r *InMemoryVariantStore) DecideWinner(ctx context.Context, campaignID, variantID string, at time.Time) (*models.VariantSelection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.selections[campaignID]; ok && s.Status == models.SelectionDecided {
		cp := *s
		return &cp, nil
	}

	decidedAt := at.UTC()
	s := &models.VariantSelection{
		CampaignID:      campaignID,
		Status:          models.SelectionDecided,
		WinnerVariantID: variantID,
		DecidedAt:       &decidedAt,
	}
	r.selections[campaignID] = s

	cp := *s
	return &cp, nil
}
