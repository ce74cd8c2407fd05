package middleware

import (
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/radiusdt/pulse/internal/config"
	"github.com/radiusdt/pulse/internal/metrics"
	"github.com/radiusdt/pulse/internal/tracking"
)

const trackingPrefix = "/api/track/"

// Limiter names, used as metric labels.
const (
	limiterTracking = "tracking"
	limiterMgmt     = "management"
	limiterIP       = "ip"
)

// RateLimitMiddleware applies token buckets: one for tracking hits, one for
// the management API, and an optional per-IP bucket for tracking.
type RateLimitMiddleware struct {
	cfg             config.RateLimitConfig
	logger          *zap.Logger
	metrics         *metrics.Metrics
	trackingLimiter *rate.Limiter
	mgmtLimiter     *rate.Limiter

	mu         sync.RWMutex
	ipLimiters map[string]*rate.Limiter
}

func NewRateLimitMiddleware(cfg config.RateLimitConfig, m *metrics.Metrics, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:             cfg,
		logger:          logger,
		metrics:         m,
		trackingLimiter: rate.NewLimiter(rate.Limit(cfg.TrackingRPS), cfg.TrackingBurst),
		mgmtLimiter:     rate.NewLimiter(rate.Limit(cfg.MgmtRPS), cfg.MgmtBurst),
		ipLimiters:      make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		limiter, name := rl.mgmtLimiter, limiterMgmt
		if isTrackingEndpoint(r.URL.Path) {
			limiter, name = rl.trackingLimiter, limiterTracking
		}

		if !limiter.Allow() {
			rl.reject(w, r, name)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// HandlerPerIP limits each client address to a tenth of the tracking budget.
func (rl *RateLimitMiddleware) HandlerPerIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.ipLimiter(tracking.ClientIP(r)).Allow() {
			rl.reject(w, r, limiterIP)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimitMiddleware) ipLimiter(ip string) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.ipLimiters[ip]
	rl.mu.RUnlock()
	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, ok = rl.ipLimiters[ip]; ok {
		return limiter
	}

	burst := rl.cfg.TrackingBurst / 10
	if burst < 1 {
		burst = 1
	}
	limiter = rate.NewLimiter(rate.Limit(rl.cfg.TrackingRPS/10), burst)
	rl.ipLimiters[ip] = limiter
	return limiter
}

func (rl *RateLimitMiddleware) reject(w http.ResponseWriter, r *http.Request, limiter string) {
	rl.logger.Warn("rate limit exceeded",
		zap.String("limiter", limiter),
		zap.String("path", r.URL.Path),
		zap.String("client_ip", tracking.ClientIP(r)),
	)
	rl.metrics.RecordRateLimitHit(limiter)

	w.Header().Set("Retry-After", "1")
	writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
}

// CleanupIPLimiters drops all per-IP limiters. Call it periodically.
func (rl *RateLimitMiddleware) CleanupIPLimiters() {
	rl.mu.Lock()
	n := len(rl.ipLimiters)
	rl.ipLimiters = make(map[string]*rate.Limiter)
	rl.mu.Unlock()
	rl.logger.Debug("cleaned up IP rate limiters", zap.Int("count", n))
}

func isTrackingEndpoint(path string) bool {
	return strings.HasPrefix(path, trackingPrefix)
}
