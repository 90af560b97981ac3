// Package grid implements the rule-based grid composer: a stateful price
// lattice around either the previous price or a position's average entry,
// emitting orders when price crosses lattice lines. Parameters are
// optionally tuned by an LLM advisor on a slow refresh cadence.
package grid

import (
	"context"
	"fmt"
	"math"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nof0labs/stratrun/pkg/composer"
	"github.com/nof0labs/stratrun/pkg/composer/normalize"
	"github.com/nof0labs/stratrun/pkg/domain"
)

const (
	defaultStepPct                = 0.005
	defaultMaxSteps                = 3
	defaultBaseFraction            = 0.08
	defaultSlippageBps              = 25.0
	defaultAdviceRefreshSec        = 300
	defaultMarketChangeThresholdPct = 0.01
	defaultMinGridZonePct          = 0.10
	defaultMaxGridCountDelta       = 2
	quantityPrecision              = 1e-9
)

// Advisor periodically proposes refreshed grid parameters via an LLM call.
// Implemented by pkg/composer/grid's own llm-backed advisor, or stubbed out
// in tests.
type Advisor interface {
	Advise(ctx context.Context, cctx composer.Context) (Advice, error)
}

// Advice is the advisor's proposed parameter set.
type Advice struct {
	GridStepPct     float64
	GridMaxSteps    int
	GridBaseFraction float64
	GridLowerPct    float64
	GridUpperPct    float64
	GridCount       int
}

// Composer is the stateful grid planner. One instance is owned per
// strategy instance (its parameters are tuned, not reconstructed, every
// cycle).
type Composer struct {
	Advisor Advisor

	stepPct      float64
	maxSteps     int
	baseFraction float64

	gridLowerPct *float64
	gridUpperPct *float64
	gridCount    *int

	lastAdviceTsMs   int64
	llmParamsApplied bool

	adviceRefreshSec        int64
	marketChangeThresholdPct float64
	minGridZonePct          float64
	maxGridCountDelta       int

	logger logx.Logger
}

// New constructs a grid composer with the teacher-style defaults.
func New() *Composer {
	return &Composer{
		stepPct:                  defaultStepPct,
		maxSteps:                 defaultMaxSteps,
		baseFraction:             defaultBaseFraction,
		adviceRefreshSec:         defaultAdviceRefreshSec,
		marketChangeThresholdPct: defaultMarketChangeThresholdPct,
		minGridZonePct:           defaultMinGridZonePct,
		maxGridCountDelta:        defaultMaxGridCountDelta,
		logger:                   logx.WithContext(context.Background()),
	}
}

// featureRank implements the "1s > market_snapshot > 1m > other" ranking
// used to pick the best-available price observation for a symbol.
func featureRank(f domain.FeatureVector) int {
	switch {
	case f.MetaInterval() == "1s":
		return 0
	case f.IsMarketSnapshot():
		return 1
	case f.MetaInterval() == "1m":
		return 2
	default:
		return 3
	}
}

// resolvePrevCurrPrices picks the best-ranked feature for a symbol and
// returns its (open, close) pair, mirroring resolve_prev_curr_prices.
func resolvePrevCurrPrices(features []domain.FeatureVector, symbol string) (prev, curr float64, ok bool) {
	bestRank := math.MaxInt32
	var best domain.FeatureVector
	found := false
	for _, f := range features {
		if f.Instrument.Symbol != symbol {
			continue
		}
		r := featureRank(f)
		if r < bestRank {
			bestRank = r
			best = f
			found = true
		}
	}
	if !found {
		return 0, 0, false
	}
	open := best.Values["price.open"]
	last := best.Values["price.last"]
	if open == 0 {
		open = best.Values["open"]
	}
	if last == 0 {
		last = best.Values["price.close"]
	}
	if last == 0 {
		last = best.Values["close"]
	}
	if open <= 0 || last <= 0 {
		return 0, 0, false
	}
	return open, last, true
}

// maxAbsChangePct scans features for the configured symbols and returns the
// largest absolute observed change_pct, used to gate advice application.
func maxAbsChangePct(features []domain.FeatureVector, symbols []string) float64 {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	max := 0.0
	for _, f := range features {
		if _, ok := set[f.Instrument.Symbol]; !ok {
			continue
		}
		v := f.Values["change_pct"]
		if v == 0 {
			v = f.Values["price.change_pct"]
		}
		if math.Abs(v) > max {
			max = math.Abs(v)
		}
	}
	return max
}

func gridIndex(px, avg, stepPct float64) int {
	if avg <= 0 || stepPct <= 0 {
		return 0
	}
	return int(math.Floor((px/avg - 1) / stepPct))
}

// applyAdvice mirrors the clamping rules in grid_composer.py: zone widths
// floor at minGridZonePct, grid_count changes clamp to ±maxGridCountDelta,
// and when both zone and count are set, step/maxSteps are recomputed from
// the resulting span.
func (c *Composer) applyAdvice(a Advice) {
	if a.GridStepPct > 0 {
		c.stepPct = math.Max(1e-6, a.GridStepPct)
	}
	if a.GridMaxSteps > 0 {
		c.maxSteps = int(math.Max(1, float64(a.GridMaxSteps)))
	}
	if a.GridBaseFraction > 0 {
		c.baseFraction = math.Max(1e-6, a.GridBaseFraction)
	}

	if a.GridLowerPct > 0 {
		v := math.Max(c.minGridZonePct, a.GridLowerPct)
		c.gridLowerPct = &v
	}
	if a.GridUpperPct > 0 {
		v := math.Max(c.minGridZonePct, a.GridUpperPct)
		c.gridUpperPct = &v
	}
	if a.GridCount > 0 {
		newCount := a.GridCount
		if c.gridCount != nil {
			prev := *c.gridCount
			if newCount > prev+c.maxGridCountDelta {
				newCount = prev + c.maxGridCountDelta
			} else if newCount < prev-c.maxGridCountDelta {
				newCount = prev - c.maxGridCountDelta
			}
		}
		c.gridCount = &newCount
	}

	if c.gridLowerPct != nil && c.gridUpperPct != nil && c.gridCount != nil && *c.gridCount > 0 {
		totalSpan := *c.gridLowerPct + *c.gridUpperPct
		c.stepPct = totalSpan / float64(*c.gridCount)
		c.maxSteps = *c.gridCount
	}
}

type noopReason struct {
	symbol string
	reason string
}

// Compose implements composer.Composer for the grid strategy.
func (c *Composer) Compose(ctx context.Context, cctx composer.Context) (composer.Result, error) {
	if c.Advisor != nil {
		elapsed := (cctx.TsMs - c.lastAdviceTsMs) / 1000
		if !c.llmParamsApplied || elapsed >= c.adviceRefreshSec {
			advice, err := c.Advisor.Advise(ctx, cctx)
			if err != nil {
				c.logger.Errorf("grid param advisor failed: %v", err)
			} else if !c.llmParamsApplied || maxAbsChangePct(cctx.Features, cctx.Trading.Symbols) >= c.marketChangeThresholdPct {
				c.applyAdvice(advice)
				c.llmParamsApplied = true
			}
			c.lastAdviceTsMs = cctx.TsMs
		}
	}

	priceMap := composer.PriceMap(cctx.MarketSnapshot)
	var items []domain.PlanItem
	var reasons []noopReason

	for _, symbol := range cctx.Trading.Symbols {
		inst := domain.InstrumentRef{Symbol: symbol}
		px := priceMap[symbol]
		if px <= 0 {
			reasons = append(reasons, noopReason{symbol, "no_price"})
			continue
		}

		pos, hasPos := cctx.Portfolio.Positions[symbol]
		equity := cctx.Portfolio.FreeCash
		if cctx.Portfolio.TotalValue != nil {
			equity = *cctx.Portfolio.TotalValue
		}
		baseQty := math.Max(0, equity*c.baseFraction/px)
		if baseQty <= 0 {
			reasons = append(reasons, noopReason{symbol, "base_qty<=0"})
			continue
		}

		if !hasPos || math.Abs(pos.Quantity) <= quantityPrecision {
			prevPx, currPx, ok := resolvePrevCurrPrices(cctx.Features, symbol)
			if !ok {
				reasons = append(reasons, noopReason{symbol, "no_price_pair"})
				continue
			}
			movedDown := currPx <= prevPx*(1-c.stepPct)
			movedUp := currPx >= prevPx*(1+c.stepPct)
			switch {
			case movedDown:
				items = append(items, domain.PlanItem{
					Instrument: inst, Action: domain.ActionOpenLong, TargetQty: baseQty,
					Leverage: c.openLeverage(cctx), Confidence: 1.0,
				})
			case !cctx.IsSpot && movedUp:
				items = append(items, domain.PlanItem{
					Instrument: inst, Action: domain.ActionOpenShort, TargetQty: baseQty,
					Leverage: c.openLeverage(cctx), Confidence: 1.0,
				})
			default:
				reasons = append(reasons, noopReason{symbol, "no_crossing"})
			}
			continue
		}

		prevPx, currPx, ok := resolvePrevCurrPrices(cctx.Features, symbol)
		avg := pos.AvgPrice
		if !ok || avg <= 0 {
			reasons = append(reasons, noopReason{symbol, "no_avg_price"})
			continue
		}

		if c.gridLowerPct != nil && c.gridUpperPct != nil {
			lower := avg * (1 - *c.gridLowerPct)
			upper := avg * (1 + *c.gridUpperPct)
			if currPx < lower || currPx > upper {
				reasons = append(reasons, noopReason{symbol, "outside_zone"})
				continue
			}
		}

		giPrev := gridIndex(prevPx, avg, c.stepPct)
		giCurr := gridIndex(currPx, avg, c.stepPct)
		deltaIdx := giCurr - giPrev
		if deltaIdx == 0 {
			reasons = append(reasons, noopReason{symbol, "no_grid_move"})
			continue
		}

		appliedSteps := math.Min(math.Abs(float64(deltaIdx)), float64(c.maxSteps))
		if pos.Quantity > 0 {
			if deltaIdx < 0 {
				items = append(items, domain.PlanItem{
					Instrument: inst, Action: domain.ActionOpenLong,
					TargetQty: baseQty * appliedSteps, Leverage: 1.0,
					Confidence: math.Min(1.0, appliedSteps/float64(c.maxSteps)),
				})
			} else {
				qty := math.Min(math.Abs(pos.Quantity), baseQty*appliedSteps)
				items = append(items, domain.PlanItem{
					Instrument: inst, Action: domain.ActionCloseLong,
					TargetQty: qty, Leverage: 1.0,
				})
			}
		} else if !cctx.IsSpot {
			if deltaIdx > 0 {
				items = append(items, domain.PlanItem{
					Instrument: inst, Action: domain.ActionOpenShort,
					TargetQty: baseQty * appliedSteps, Leverage: 1.0,
					Confidence: math.Min(1.0, appliedSteps/float64(c.maxSteps)),
				})
			} else {
				qty := math.Min(math.Abs(pos.Quantity), baseQty*appliedSteps)
				items = append(items, domain.PlanItem{
					Instrument: inst, Action: domain.ActionCloseShort,
					TargetQty: qty, Leverage: 1.0,
				})
			}
		}
	}

	rationale := c.describe(reasons)
	if len(items) == 0 {
		return composer.Result{Rationale: rationale}, nil
	}

	plan := domain.PlanProposal{TsMs: cctx.TsMs, Items: items, Rationale: rationale}
	instructions := normalize.Normalize(normalize.Input{
		ComposeID:   cctx.ComposeID,
		Portfolio:   cctx.Portfolio,
		Constraints: cctx.Constraints,
		Plan:        plan,
		PriceMap:    priceMap,
		IsSpot:      cctx.IsSpot,
		MaxLeverage: cctx.Trading.MaxLeverage,
		CapFactor:   cctx.Trading.CapFactor,
		SlippageBps: defaultSlippageBps,
	})
	return composer.Result{Instructions: instructions, Rationale: rationale}, nil
}

func (c *Composer) openLeverage(cctx composer.Context) float64 {
	if cctx.IsSpot {
		return 1.0
	}
	lev := cctx.Trading.MaxLeverage
	if cctx.Constraints.MaxLeverage > 0 && cctx.Constraints.MaxLeverage < lev {
		lev = cctx.Constraints.MaxLeverage
	}
	if lev <= 0 {
		lev = 1.0
	}
	return lev
}

func (c *Composer) describe(reasons []noopReason) string {
	if len(reasons) == 0 {
		return "grid: emitted instructions from lattice crossings"
	}
	msg := "grid: no_action"
	for _, r := range reasons {
		msg += fmt.Sprintf(" %s=%s", r.symbol, r.reason)
	}
	return msg
}
