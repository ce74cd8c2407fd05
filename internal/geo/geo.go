package geo

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radiusdt/pulse/internal/metrics"
)

// Info holds geo detection results.
type Info struct {
	Country     string
	CountryCode string
	Region      string
	City        string
}

// Provider looks up an IP address.
type Provider interface {
	Lookup(ip string) (*Info, error)
	Close() error
}

// Resolver resolves an IP to a location. Lookups never fail; unknown
// addresses yield nil.
type Resolver interface {
	Resolve(ip string) *Info
}

// CachedResolver fronts a Provider with a TTL cache.
type CachedResolver struct {
	provider Provider
	cache    *cache
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewCachedResolver creates a resolver with a bounded TTL cache.
func NewCachedResolver(provider Provider, cacheSize int, cacheTTL time.Duration, m *metrics.Metrics, logger *zap.Logger) *CachedResolver {
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	return &CachedResolver{
		provider: provider,
		cache: &cache{
			data:    make(map[string]*cacheEntry),
			maxSize: cacheSize,
			ttl:     cacheTTL,
			now:     time.Now,
		},
		metrics: m,
		logger:  logger,
	}
}

// Resolve performs a cached geo lookup.
func (r *CachedResolver) Resolve(ip string) *Info {
	if ip == "" || r.provider == nil {
		return nil
	}

	start := time.Now()
	if info, ok := r.cache.get(ip); ok {
		r.metrics.RecordGeoLookup(true, time.Since(start))
		return info
	}

	info, err := r.provider.Lookup(ip)
	if err != nil {
		r.logger.Debug("geo lookup failed", zap.String("ip", ip), zap.Error(err))
		return nil
	}

	r.cache.set(ip, info)
	r.metrics.RecordGeoLookup(false, time.Since(start))

	return info
}

// cache caches geo lookups.
type cache struct {
	mu      sync.RWMutex
	data    map[string]*cacheEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	info      *Info
	expiresAt time.Time
}

func (c *cache) get(ip string) (*Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[ip]
	if !ok {
		return nil, false
	}

	if c.now().After(entry.expiresAt) {
		return nil, false
	}

	return entry.info, true
}

func (c *cache) set(ip string, info *Info) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict if at capacity (simple FIFO)
	if _, exists := c.data[ip]; !exists && len(c.data) >= c.maxSize {
		for k := range c.data {
			delete(c.data, k)
			break
		}
	}

	c.data[ip] = &cacheEntry{
		info:      info,
		expiresAt: c.now().Add(c.ttl),
	}
}

// StaticProvider serves fixed answers. Used in tests and when no
// GeoIP database is configured.
type StaticProvider struct {
	mu   sync.RWMutex
	data map[string]*Info
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		data: make(map[string]*Info),
	}
}

func (p *StaticProvider) AddEntry(ip string, info *Info) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[ip] = info
}

func (p *StaticProvider) Lookup(ip string) (*Info, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data[ip], nil
}

func (p *StaticProvider) Close() error {
	return nil
}
