package router

import (
	"context"
	"sync"

	"apex-core/pkg/exchanges/common"
	"apex-core/pkg/logger"

	"go.uber.org/zap"
)

// Permissive fallbacks used when the venue lookup fails; conservative enough
// for major USDT perpetuals.
var defaultInstrumentInfo = common.InstrumentInfo{
	TickSize:    0.01,
	QtyStep:     0.001,
	MinNotional: 5,
}

// precisionCache memoizes instrument precision per (venue, symbol) for the
// process lifetime. Re-fetch happens only on miss.
type precisionCache struct {
	mu    sync.RWMutex
	cache map[string]common.InstrumentInfo
}

func newPrecisionCache() *precisionCache {
	return &precisionCache{cache: make(map[string]common.InstrumentInfo)}
}

func (pc *precisionCache) get(ctx context.Context, venue common.Venue, symbol string) common.InstrumentInfo {
	key := venue.Name() + ":" + symbol

	pc.mu.RLock()
	info, ok := pc.cache[key]
	pc.mu.RUnlock()
	if ok {
		return info
	}

	info, err := venue.GetInstrumentInfo(ctx, symbol)
	if err != nil || info.TickSize <= 0 || info.QtyStep <= 0 {
		logger.Warn("instrument info lookup failed, using defaults",
			zap.String("venue", venue.Name()), zap.String("symbol", symbol), zap.Error(err))
		info = defaultInstrumentInfo
	}

	pc.mu.Lock()
	pc.cache[key] = info
	pc.mu.Unlock()
	return info
}
