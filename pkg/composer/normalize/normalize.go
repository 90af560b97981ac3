// Package normalize implements the shared plan normalizer: the single,
// stateless guardrail pipeline both composers route their proposals
// through. It resolves target quantities, splits direction flips through
// zero, applies step/min/max/notional filters, caps notional exposure by
// leverage, and clamps against available buying power.
package normalize

import (
	"fmt"
	"math"

	"github.com/nof0labs/stratrun/pkg/domain"
)

const defaultSlippageBps = 25.0

// Input bundles everything the normalizer needs for one compose cycle.
type Input struct {
	ComposeID     string
	Portfolio     domain.PortfolioView
	Constraints   domain.Constraints
	Plan          domain.PlanProposal
	PriceMap      map[string]float64
	IsSpot        bool
	MaxLeverage   float64 // trading_config.max_leverage
	CapFactor     float64 // trading_config.cap_factor, default 1.5
	SlippageBps   float64 // default_slippage_bps, default 25
	QuantityPrecision float64
}

func (in Input) precision() float64 {
	if in.QuantityPrecision > 0 {
		return in.QuantityPrecision
	}
	return domain.QuantityPrecision
}

func (in Input) capFactor() float64 {
	cf := in.CapFactor
	if cf < 1.5 {
		cf = 1.5
	}
	return cf
}

func (in Input) slippageBps() float64 {
	if in.SlippageBps > 0 {
		return in.SlippageBps
	}
	return defaultSlippageBps
}

type buyingPowerContext struct {
	equity        float64
	allowedLev    float64
	projectedGross float64
}

// initBuyingPowerContext mirrors _init_buying_power_context: equity/allowed
// leverage depend on market type, projected gross seeds from the portfolio's
// own gross_exposure (or is summed from positions against the price map).
func initBuyingPowerContext(in Input) buyingPowerContext {
	pv := in.Portfolio
	var equity float64
	if in.IsSpot {
		equity = pv.FreeCash
	} else if pv.TotalValue != nil {
		equity = *pv.TotalValue
	} else {
		net := 0.0
		if pv.NetExposure != nil {
			net = *pv.NetExposure
		}
		equity = pv.FreeCash + net
	}

	allowedLev := 1.0
	if !in.IsSpot {
		allowedLev = in.Constraints.MaxLeverage
		if allowedLev <= 0 {
			allowedLev = 1.0
		}
	}

	var gross float64
	if pv.GrossExposure != nil {
		gross = *pv.GrossExposure
	} else {
		for symbol, pos := range pv.Positions {
			px := in.PriceMap[symbol]
			if px == 0 {
				px = pos.MarkPrice
			}
			gross += math.Abs(pos.Quantity) * px
		}
	}

	return buyingPowerContext{equity: equity, allowedLev: allowedLev, projectedGross: gross}
}

// resolveTargetQuantity mirrors _resolve_target_quantity: NOOP keeps the
// current quantity; otherwise the target is a signed magnitude derived from
// the action, clamped to max_position_qty.
func resolveTargetQuantity(item domain.PlanItem, currentQty, maxPositionQty float64) float64 {
	if item.Action == domain.ActionNoop {
		return currentQty
	}
	mag := math.Abs(item.TargetQty)
	var target float64
	switch item.Action {
	case domain.ActionOpenShort, domain.ActionCloseLong:
		target = -mag
	default: // OPEN_LONG, CLOSE_SHORT and any other open-like action
		target = mag
	}
	if maxPositionQty > 0 {
		abs := math.Abs(maxPositionQty)
		if target > abs {
			target = abs
		} else if target < -abs {
			target = -abs
		}
	}
	return target
}

// applyQuantityFilters mirrors _apply_quantity_filters: cap to max_order_qty,
// floor to quantity_step, reject below min_trade_qty or min_notional.
func applyQuantityFilters(qty, price float64, c domain.Constraints, precision float64) float64 {
	if c.MaxOrderQty > 0 && qty > c.MaxOrderQty {
		qty = c.MaxOrderQty
	}
	if c.QuantityStep > 0 {
		steps := math.Floor(qty / c.QuantityStep)
		qty = steps * c.QuantityStep
	}
	if qty <= precision {
		return 0
	}
	if c.MinTradeQty > 0 && qty < c.MinTradeQty {
		return 0
	}
	if c.MinNotional > 0 && price > 0 && qty*price < c.MinNotional {
		return 0
	}
	return qty
}

// normalizeQuantity mirrors _normalize_quantity: filters → notional/leverage
// cap → buying-power clamp with the "reductions always allowed" piecewise
// rule, with the filters applied once more to the clamped quantity. Returns
// the final quantity and the buying-power it consumes.
func normalizeQuantity(
	symbol string,
	qty float64,
	side domain.Side,
	currentQty float64,
	c domain.Constraints,
	bp buyingPowerContext,
	in Input,
) (finalQty float64, consumedBP float64) {
	price := in.PriceMap[symbol]

	qty = applyQuantityFilters(qty, price, c, in.precision())
	if qty <= in.precision() {
		return 0, 0
	}

	if price > 0 {
		cf := in.capFactor()
		maxAbsByFactor := cf * bp.equity / price
		maxAbsByLev := bp.allowedLev * bp.equity / price
		maxAbsFinal := math.Min(maxAbsByFactor, maxAbsByLev)

		desiredFinal := currentQty
		if side == domain.SideBuy {
			desiredFinal += qty
		} else {
			desiredFinal -= qty
		}
		if math.Abs(desiredFinal) > maxAbsFinal {
			newQty := math.Max(0, maxAbsFinal-math.Abs(currentQty))
			if newQty < qty {
				qty = newQty
			}
		}
		if qty <= in.precision() {
			return 0, 0
		}
	}

	absBefore := math.Abs(currentQty)
	final := qty
	if price > 0 {
		var availBP float64
		if in.IsSpot {
			availBP = math.Max(0, bp.equity)
		} else {
			availBP = math.Max(0, bp.equity*bp.allowedLev-bp.projectedGross)
		}
		slip := in.slippageBps() / 10000.0
		effectivePx := price * (1 + slip)
		apUnits := 0.0
		if availBP > 0 {
			apUnits = availBP / effectivePx
		}

		a := absBefore
		var qAllowed float64
		switch side {
		case domain.SideBuy:
			if currentQty >= 0 {
				qAllowed = apUnits
			} else if qty <= 2*a {
				qAllowed = qty
			} else {
				qAllowed = 2*a + apUnits
			}
		default: // SELL
			if currentQty <= 0 {
				qAllowed = apUnits
			} else if qty <= 2*a {
				qAllowed = qty
			} else {
				qAllowed = 2*a + apUnits
			}
		}
		final = math.Max(0, math.Min(qty, qAllowed))
		final = applyQuantityFilters(final, price, c, in.precision())
	}

	if final <= in.precision() {
		return 0, 0
	}

	var after float64
	if side == domain.SideBuy {
		after = currentQty + final
	} else {
		after = currentQty - final
	}
	deltaAbs := math.Abs(after) - absBefore
	if deltaAbs > 0 && price > 0 {
		consumedBP = deltaAbs * price
	}
	return final, consumedBP
}

func instructionID(composeID, symbol string, idx int) string {
	return fmt.Sprintf("%s:%s:%d", composeID, symbol, idx)
}

// Normalize runs the shared guardrail pipeline over one plan proposal and
// produces a deterministic, idempotent list of trade instructions.
func Normalize(in Input) []domain.TradeInstruction {
	var out []domain.TradeInstruction

	projected := make(map[string]float64, len(in.Portfolio.Positions))
	for symbol, pos := range in.Portfolio.Positions {
		projected[symbol] = pos.Quantity
	}

	activePositions := 0
	for _, qty := range projected {
		if math.Abs(qty) > in.precision() {
			activePositions++
		}
	}

	bp := initBuyingPowerContext(in)
	maxPositions := in.Constraints.MaxPositions
	if maxPositions <= 0 {
		maxPositions = math.MaxInt32
	}

	for idx, item := range in.Plan.Items {
		symbol := item.Instrument.Symbol
		localCurrent := projected[symbol]

		target := resolveTargetQuantity(item, localCurrent, in.Constraints.MaxPositionQty)
		if in.IsSpot && target < 0 {
			target = 0
		}

		var subTargets []float64
		if localCurrent*target < 0 {
			subTargets = []float64{0, target}
		} else {
			subTargets = []float64{target}
		}

		for subIdx, subTarget := range subTargets {
			delta := subTarget - localCurrent
			if math.Abs(delta) <= in.precision() {
				continue
			}

			isNewPosition := math.Abs(localCurrent) <= in.precision() && math.Abs(subTarget) > in.precision()
			if isNewPosition && activePositions >= maxPositions {
				continue
			}

			side := domain.SideSell
			if delta > 0 {
				side = domain.SideBuy
			}

			requestedLev := item.Leverage
			if requestedLev <= 0 {
				requestedLev = 1.0
			}
			allowedLevItem := in.Constraints.MaxLeverage
			if allowedLevItem <= 0 {
				allowedLevItem = requestedLev
			}
			if in.MaxLeverage > 0 && in.MaxLeverage < allowedLevItem {
				allowedLevItem = in.MaxLeverage
			}
			finalLeverage := 1.0
			if !in.IsSpot {
				finalLeverage = math.Max(1.0, math.Min(requestedLev, allowedLevItem))
			}

			quantity := math.Abs(delta)
			finalQty, consumedBP := normalizeQuantity(symbol, quantity, side, localCurrent, in.Constraints, bp, in)
			if finalQty <= in.precision() {
				continue
			}

			var newLocal float64
			if side == domain.SideBuy {
				newLocal = localCurrent + finalQty
			} else {
				newLocal = localCurrent - finalQty
			}
			projected[symbol] = newLocal
			bp.projectedGross += consumedBP

			wasActive := math.Abs(localCurrent) > in.precision()
			isActive := math.Abs(newLocal) > in.precision()
			if !wasActive && isActive {
				activePositions++
			} else if wasActive && !isActive {
				activePositions--
				if activePositions < 0 {
					activePositions = 0
				}
			}

			meta := map[string]any{
				"requested_target_qty": item.TargetQty,
				"current_qty":          localCurrent,
				"final_target_qty":     newLocal,
				"action":               string(item.Action),
			}
			if item.Confidence > 0 {
				meta["confidence"] = item.Confidence
			}
			if item.Rationale != "" {
				meta["rationale"] = item.Rationale
			}

			out = append(out, domain.TradeInstruction{
				InstructionID:  instructionID(in.ComposeID, symbol, idx*10+subIdx),
				ComposeID:      in.ComposeID,
				Instrument:     item.Instrument,
				Side:           side,
				Quantity:       finalQty,
				Leverage:       finalLeverage,
				PriceMode:      domain.PriceModeMarket,
				MaxSlippageBps: in.slippageBps(),
				Meta:           meta,
			})

			localCurrent = newLocal
		}
	}

	return out
}
