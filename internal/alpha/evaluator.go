// Package alpha turns candidate signals into economics-adjusted candidates:
// net ROI after spread and round-trip fees, expected value, and a capped
// Kelly fraction, then filters and ranks them.
package alpha

import (
	"math"
	"sort"

	"apex-core/internal/sentinel"
	"apex-core/pkg/exchanges/common"
	"apex-core/pkg/marketmath"
)

// kellyCap bounds the Kelly fraction conservatively.
const kellyCap = 0.25

// Config tunes evaluation economics.
type Config struct {
	SlippagePct  float64 // per side, percent
	TakerFeeRate float64 // decimal per side, e.g. 0.0006
	MinEVScore   float64
	MinKelly     float64
}

// EvaluatedSignal is a Signal enriched with trade economics. The transform
// is one-way; the underlying signal is never mutated.
type EvaluatedSignal struct {
	Signal sentinel.Signal `json:"signal"`

	EffectiveEntry float64 `json:"effective_entry"`
	SpreadPenalty  float64 `json:"spread_penalty"`  // percent
	GrossROI       float64 `json:"gross_roi"`       // percent
	RoundTripFees  float64 `json:"round_trip_fees"` // percent
	NetROI         float64 `json:"net_roi"`         // percent
	RiskPct        float64 `json:"risk_pct"`
	RewardToRisk   float64 `json:"reward_to_risk"`
	EVScore        float64 `json:"ev_score"`
	KellyScore     float64 `json:"kelly_score"`
}

// rankScore is the sort key: EV dominates, Kelly contributes.
func (e EvaluatedSignal) rankScore() float64 {
	return 0.6*e.EVScore + 0.4*(e.KellyScore*100)
}

// Evaluator scores and ranks signals for one cycle.
type Evaluator struct {
	cfg Config
}

// New creates an evaluator.
func New(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate enriches a single signal against the current book.
func (ev *Evaluator) Evaluate(sig sentinel.Signal, book *common.OrderBook) EvaluatedSignal {
	out := EvaluatedSignal{Signal: sig}

	mid := sig.CurrentPrice
	bestBid, bestAsk := mid, mid
	if book != nil && book.Mid() > 0 {
		mid = book.Mid()
		bestBid, bestAsk = book.BestBid(), book.BestAsk()
	}

	slip := ev.cfg.SlippagePct / 100
	if sig.Direction == common.DirectionLong {
		out.EffectiveEntry = bestAsk * (1 + slip)
	} else {
		out.EffectiveEntry = bestBid * (1 - slip)
	}

	if mid > 0 {
		out.SpreadPenalty = (bestAsk - bestBid) / mid * 100
	}
	out.RoundTripFees = 2 * ev.cfg.TakerFeeRate * 100

	out.GrossROI = sig.ExpectedMovePct
	out.NetROI = out.GrossROI - out.SpreadPenalty - out.RoundTripFees

	if sig.ATR > 0 && sig.CurrentPrice > 0 {
		out.RiskPct = sig.ATR / sig.CurrentPrice * 100
	} else {
		out.RiskPct = sig.ExpectedMovePct / 2
	}

	if out.RiskPct > 0 {
		out.RewardToRisk = out.NetROI / out.RiskPct
	}

	p := sig.WinProbability
	out.EVScore = p*out.NetROI - (1-p)*out.RiskPct
	out.KellyScore = KellyFraction(p, out.RewardToRisk)
	return out
}

// KellyFraction computes the capped Kelly bet fraction. Output is always in
// [0, 0.25].
func KellyFraction(winProbability, rewardToRisk float64) float64 {
	if rewardToRisk <= 0 {
		return 0
	}
	k := winProbability - (1-winProbability)/rewardToRisk
	return marketmath.Clamp(k, 0, kellyCap)
}

// EvaluateAndRank enriches every signal, drops those failing the EV, Kelly,
// and net-ROI gates, and sorts the rest descending by rank score. The sort
// is stable: ties keep input order.
func (ev *Evaluator) EvaluateAndRank(signals []sentinel.Signal, books map[string]*common.OrderBook) []EvaluatedSignal {
	kept := make([]EvaluatedSignal, 0, len(signals))
	for _, sig := range signals {
		es := ev.Evaluate(sig, books[sig.Symbol])
		if es.EVScore < ev.cfg.MinEVScore || es.KellyScore < ev.cfg.MinKelly || es.NetROI <= 0 {
			continue
		}
		if math.IsNaN(es.EVScore) || math.IsInf(es.EVScore, 0) {
			continue
		}
		kept = append(kept, es)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].rankScore() > kept[j].rankScore()
	})
	return kept
}

// Apex returns the top-ranked evaluated signal, or false when none survive
// the filters.
func (ev *Evaluator) Apex(signals []sentinel.Signal, books map[string]*common.OrderBook) (EvaluatedSignal, bool) {
	ranked := ev.EvaluateAndRank(signals, books)
	if len(ranked) == 0 {
		return EvaluatedSignal{}, false
	}
	return ranked[0], true
}
