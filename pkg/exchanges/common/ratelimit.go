package common

import (
	"strconv"
	"sync"
	"time"

	"apex-core/pkg/logger"

	"go.uber.org/zap"
)

// RateTracker tracks API weight usage reported by venue response headers.
type RateTracker struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
}

// NewRateTracker creates a tracker for the given weight budget per window.
func NewRateTracker(limit int, resetInterval time.Duration) *RateTracker {
	return &RateTracker{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// UpdateFromHeader records the used weight from an API response header.
func (rt *RateTracker) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}

	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if time.Since(rt.lastReset) >= rt.resetInterval {
		rt.usedWeight = 0
		rt.lastReset = time.Now()
	}

	rt.usedWeight = weight

	percentage := float64(rt.usedWeight) / float64(rt.limit) * 100
	if percentage >= 95 {
		logger.Warn("rate limit critical, approaching ban threshold",
			zap.Int("used", rt.usedWeight), zap.Int("limit", rt.limit))
	} else if percentage >= 80 {
		logger.Warn("rate limit elevated",
			zap.Int("used", rt.usedWeight), zap.Int("limit", rt.limit))
	}
}

// Usage returns current usage information.
func (rt *RateTracker) Usage() (used int, limit int, percentage float64) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if time.Since(rt.lastReset) >= rt.resetInterval {
		return 0, rt.limit, 0
	}
	return rt.usedWeight, rt.limit, float64(rt.usedWeight) / float64(rt.limit) * 100
}

// ShouldDelay reports whether the next request should be deferred.
func (rt *RateTracker) ShouldDelay() bool {
	_, _, pct := rt.Usage()
	return pct >= 90
}
