package sentinel

import (
	"math"
	"sync"
	"time"

	"apex-core/pkg/exchanges/common"

	"github.com/google/uuid"
)

const (
	whaleWindow       = 5 * time.Minute
	whaleImbalanceMin = 0.20
)

// WhaleFlowDetector tracks large trades in a trailing window and combines
// them with live order-book whale levels to detect one-sided pressure.
type WhaleFlowDetector struct {
	mu        sync.Mutex
	threshold float64 // notional, quote units
	trades    []whaleTrade
}

type whaleTrade struct {
	notional float64
	isBuy    bool
	at       time.Time
}

// NewWhaleFlowDetector creates a detector with the given notional threshold.
func NewWhaleFlowDetector(threshold float64) *WhaleFlowDetector {
	if threshold <= 0 {
		threshold = 50000
	}
	return &WhaleFlowDetector{threshold: threshold}
}

// RecordTrade feeds one public trade; below-threshold trades are ignored.
func (d *WhaleFlowDetector) RecordTrade(price, qty float64, isBuy bool, at time.Time) {
	notional := price * qty
	if notional < d.threshold {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trades = append(d.trades, whaleTrade{notional: notional, isBuy: isBuy, at: at})
	d.prune(at)
}

func (d *WhaleFlowDetector) prune(now time.Time) {
	cutoff := now.Add(-whaleWindow)
	i := 0
	for ; i < len(d.trades); i++ {
		if d.trades[i].at.After(cutoff) {
			break
		}
	}
	d.trades = d.trades[i:]
}

// Detect aggregates whale-trade flow plus whale-sized book levels and emits
// a directional signal when combined pressure exceeds the threshold and the
// imbalance exceeds 20%.
func (d *WhaleFlowDetector) Detect(symbol string, book *common.OrderBook) *Signal {
	d.mu.Lock()
	d.prune(time.Now())
	var buy, sell float64
	for _, t := range d.trades {
		if t.isBuy {
			buy += t.notional
		} else {
			sell += t.notional
		}
	}
	d.mu.Unlock()

	levels := 0
	if book != nil {
		for _, lv := range book.Bids {
			if lv.Price*lv.Qty >= d.threshold {
				buy += lv.Price * lv.Qty
				levels++
			}
		}
		for _, lv := range book.Asks {
			if lv.Price*lv.Qty >= d.threshold {
				sell += lv.Price * lv.Qty
				levels++
			}
		}
	}

	total := buy + sell
	if total < d.threshold {
		return nil
	}
	imbalance := (buy - sell) / total
	if math.Abs(imbalance) < whaleImbalanceMin {
		return nil
	}

	dir := common.DirectionLong
	if imbalance < 0 {
		dir = common.DirectionShort
	}
	var price float64
	if book != nil {
		price = book.Mid()
	}
	if price <= 0 {
		return nil
	}

	// Confidence scales with how one-sided the flow is.
	prob := 0.55 + 0.2*math.Abs(imbalance)
	return &Signal{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		Strategy:        "whale_flow",
		Kind:            KindWhaleFlow,
		Direction:       dir,
		WinProbability:  math.Min(prob, 0.8),
		ExpectedMovePct: 1.0,
		Regime:          RegimeRanging,
		CurrentPrice:    price,
		Timestamp:       time.Now(),
		WhaleFlowMeta: &WhaleFlowMeta{
			BuyNotional:  buy,
			SellNotional: sell,
			Imbalance:    imbalance,
			WhaleLevels:  levels,
		},
	}
}
