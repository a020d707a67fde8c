package sentinel

import (
	"math"
	"time"

	"apex-core/pkg/exchanges/common"
	"apex-core/pkg/marketmath"

	"github.com/google/uuid"
)

// reversalBodyRatio is the minimum body-size multiple the reversal candle
// must reach over the setup candle.
const reversalBodyRatio = 1.5

// OrderBlock marks a candle whose range acted as a supply or demand zone.
type OrderBlock struct {
	High     float64
	Low      float64
	Bullish  bool // demand zone formed by a down candle before an up reversal
	FormedAt time.Time
	Broken   bool
}

// FindOrderBlocks scans adjacent candle pairs for the reversal body pattern:
// a down candle followed by an up candle with a body at least 1.5x larger
// marks a bullish block on the down candle, and the mirror marks a bearish
// block. Blocks invalidated by a later close through their boundary are
// flagged broken.
func FindOrderBlocks(candles []common.Candle) []OrderBlock {
	var blocks []OrderBlock
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1], candles[i]
		prevBody := math.Abs(prev.Close - prev.Open)
		curBody := math.Abs(cur.Close - cur.Open)
		if prevBody == 0 || curBody < prevBody*reversalBodyRatio {
			continue
		}

		prevDown := prev.Close < prev.Open
		prevUp := prev.Close > prev.Open
		curUp := cur.Close > cur.Open
		curDown := cur.Close < cur.Open
		if prevDown && curUp {
			blocks = append(blocks, OrderBlock{
				High: prev.High, Low: prev.Low, Bullish: true, FormedAt: prev.OpenTime,
			})
		} else if prevUp && curDown {
			blocks = append(blocks, OrderBlock{
				High: prev.High, Low: prev.Low, Bullish: false, FormedAt: prev.OpenTime,
			})
		}
	}

	// Mark blocks broken by any later close through the boundary.
	for i := range blocks {
		for _, c := range candles {
			if !c.OpenTime.After(blocks[i].FormedAt) {
				continue
			}
			if blocks[i].Bullish && c.Close < blocks[i].Low {
				blocks[i].Broken = true
				break
			}
			if !blocks[i].Bullish && c.Close > blocks[i].High {
				blocks[i].Broken = true
				break
			}
		}
	}
	return blocks
}

// DetectOrderBlockSignal emits a signal when the latest price retests an
// unbroken block's boundary: re-entering a bullish block from above suggests
// demand, the mirror suggests supply.
func DetectOrderBlockSignal(symbol string, candles []common.Candle) *Signal {
	if len(candles) < minCandles {
		return nil
	}
	price := candles[len(candles)-1].Close
	atr, _ := marketmath.ATR(candles, 14)
	blocks := FindOrderBlocks(candles[:len(candles)-1])

	// Walk newest-first so the most recent valid block wins.
	for i := len(blocks) - 1; i >= 0; i-- {
		b := blocks[i]
		if b.Broken {
			continue
		}
		if b.Bullish && price <= b.High && price >= b.Low {
			return orderBlockSignal(symbol, price, atr, common.DirectionLong, b)
		}
		if !b.Bullish && price >= b.Low && price <= b.High {
			return orderBlockSignal(symbol, price, atr, common.DirectionShort, b)
		}
	}
	return nil
}

func orderBlockSignal(symbol string, price, atr float64, dir common.Direction, b OrderBlock) *Signal {
	zone := b.High - b.Low
	var movePct float64
	if price > 0 {
		movePct = zone / price * 100
	}
	return &Signal{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		Strategy:        "order_block",
		Kind:            KindOrderBlock,
		Direction:       dir,
		WinProbability:  0.62,
		ExpectedMovePct: movePct,
		Regime:          RegimeRanging,
		CurrentPrice:    price,
		ATR:             atr,
		Timestamp:       time.Now(),
		OrderBlockMeta: &OrderBlockMeta{
			BlockHigh: b.High, BlockLow: b.Low, Bullish: b.Bullish, FormedAt: b.FormedAt,
		},
	}
}
