package prompt

import (
	"github.com/nof0labs/stratrun/pkg/composer"
	"github.com/nof0labs/stratrun/pkg/domain"
)

// summary is the compact account digest embedded in the prompt payload.
type summary struct {
	ActivePositions  int     `json:"active_positions"`
	MaxPositions     int     `json:"max_positions,omitempty"`
	TotalValue       float64 `json:"total_value,omitempty"`
	Cash             float64 `json:"cash"`
	UnrealizedPnl    float64 `json:"unrealized_pnl,omitempty"`
	UnrealizedPnlPct float64 `json:"unrealized_pnl_pct,omitempty"`
	WinRate          float64 `json:"win_rate,omitempty"`
	TradeCount       int     `json:"trade_count,omitempty"`
}

// riskFlags are derived warnings the planner should weigh, grounded on
// _build_llm_prompt's approaching_max_positions / low_buying_power /
// high_leverage_usage thresholds.
type riskFlags struct {
	ApproachingMaxPositions bool `json:"approaching_max_positions,omitempty"`
	LowBuyingPower          bool `json:"low_buying_power,omitempty"`
	HighLeverageUsage       bool `json:"high_leverage_usage,omitempty"`
}

type positionView struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price,omitempty"`
	Leverage float64 `json:"leverage,omitempty"`
}

// payload is the compact JSON body sent to the planner. Empty scalar,
// slice and map fields are dropped via omitempty; the struct-valued
// risk_flags and constraints fields are always rendered, even when empty.
type payload struct {
	StrategyPrompt string                       `json:"strategy_prompt"`
	Summary        summary                      `json:"summary"`
	RiskFlags      riskFlags                    `json:"risk_flags,omitempty"`
	Market         domain.MarketSnapshot        `json:"market,omitempty"`
	Features       map[string][]domain.FeatureVector `json:"features,omitempty"`
	Positions      []positionView               `json:"positions,omitempty"`
	Constraints    domain.Constraints            `json:"constraints,omitempty"`
	ComposeID      string                       `json:"compose_id"`
	TsMs           int64                        `json:"ts"`
}

// groupFeatures buckets features by their meta grouping key (interval, or
// "market_snapshot"), matching the Prompt Composer's "features grouped by
// meta.group_by" requirement.
func groupFeatures(features []domain.FeatureVector) map[string][]domain.FeatureVector {
	if len(features) == 0 {
		return nil
	}
	out := make(map[string][]domain.FeatureVector)
	for _, f := range features {
		key := f.Meta["group_by"]
		if key == "" {
			key = f.MetaInterval()
		}
		if key == "" {
			key = "other"
		}
		out[key] = append(out[key], f)
	}
	return out
}

// buildPayload assembles the pruned prompt payload from a compose context.
func buildPayload(cctx composer.Context) payload {
	pv := cctx.Portfolio

	activePositions := 0
	var positions []positionView
	for symbol, pos := range pv.Positions {
		if pos.Quantity == 0 {
			continue
		}
		activePositions++
		positions = append(positions, positionView{
			Symbol: symbol, Quantity: pos.Quantity, AvgPrice: pos.AvgPrice, Leverage: pos.Leverage,
		})
	}

	s := summary{
		ActivePositions: activePositions,
		MaxPositions:    cctx.Constraints.MaxPositions,
		Cash:            pv.FreeCash,
		WinRate:         cctx.Digest.WinRate,
		TradeCount:      cctx.Digest.TradeCount,
	}
	if pv.TotalValue != nil {
		s.TotalValue = *pv.TotalValue
	}
	if pv.TotalUnrealizedPnl != nil {
		s.UnrealizedPnl = *pv.TotalUnrealizedPnl
		if s.TotalValue != 0 {
			s.UnrealizedPnlPct = s.UnrealizedPnl / s.TotalValue
		}
	}

	var flags riskFlags
	if cctx.Constraints.MaxPositions > 0 {
		flags.ApproachingMaxPositions = float64(activePositions) >= 0.8*float64(cctx.Constraints.MaxPositions)
	}
	if pv.BuyingPower != nil && s.TotalValue > 0 {
		flags.LowBuyingPower = *pv.BuyingPower/s.TotalValue <= 0.10
	}
	if cctx.Trading.MaxLeverage > 0 {
		var maxUsed float64
		for _, pos := range pv.Positions {
			if pos.Leverage > maxUsed {
				maxUsed = pos.Leverage
			}
		}
		flags.HighLeverageUsage = maxUsed >= 0.8*cctx.Trading.MaxLeverage
	}

	return payload{
		StrategyPrompt: cctx.PromptText,
		Summary:        s,
		RiskFlags:      flags,
		Market:         cctx.MarketSnapshot,
		Features:       groupFeatures(cctx.Features),
		Positions:      positions,
		Constraints:    cctx.Constraints,
		ComposeID:      cctx.ComposeID,
		TsMs:           cctx.TsMs,
	}
}
