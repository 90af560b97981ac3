// Package portfolio implements the Portfolio Service (spec §4.5): it
// tracks cash, positions and exposure in memory, applies executed trades
// with VWAP/realized-P&L bookkeeping, and exposes a typed PortfolioView
// with computed buying power, gross/net exposure and total value.
package portfolio

import (
	"math"
	"sync"
	"time"

	"github.com/nof0labs/stratrun/pkg/domain"
)

// Service owns one strategy's in-memory book. Mutated only by the
// coordinator's apply step after each cycle's execution (spec §6); the
// mutex here guards against the rare concurrent read from a status
// endpoint rather than any expected write contention.
type Service struct {
	mu sync.Mutex

	strategyID  string
	marketType  domain.MarketType
	constraints domain.Constraints
	allowedLev  float64 // trading_config.max_leverage, used for buying-power when flat

	freeCash  float64
	positions map[string]domain.PositionSnapshot
}

// New constructs a portfolio seeded with the strategy's starting free cash.
func New(strategyID string, marketType domain.MarketType, constraints domain.Constraints, maxLeverage, initialCash float64) *Service {
	return &Service{
		strategyID:  strategyID,
		marketType:  marketType,
		constraints: constraints,
		allowedLev:  maxLeverage,
		freeCash:    initialCash,
		positions:   make(map[string]domain.PositionSnapshot),
	}
}

// FreeCash returns the current uncommitted cash balance.
func (s *Service) FreeCash() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freeCash
}

// View implements get_view(): a point-in-time snapshot with mark prices
// folded in from priceMap and buying_power/exposure/total_value computed.
func (s *Service) View(tsMs int64, priceMap map[string]float64) domain.PortfolioView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(tsMs, priceMap)
}

func (s *Service) viewLocked(tsMs int64, priceMap map[string]float64) domain.PortfolioView {
	positions := make(map[string]domain.PositionSnapshot, len(s.positions))
	var gross, netExposure, totalUnrealized float64

	for symbol, pos := range s.positions {
		if math.Abs(pos.Quantity) <= domain.QuantityPrecision {
			continue
		}
		mark := priceMap[symbol]
		if mark <= 0 {
			mark = pos.MarkPrice
		}
		if mark <= 0 {
			mark = pos.AvgPrice
		}
		notional := math.Abs(pos.Quantity) * mark
		var unrealized, unrealizedPct float64
		if pos.AvgPrice > 0 {
			unrealized = (mark - pos.AvgPrice) * pos.Quantity
			unrealizedPct = (mark - pos.AvgPrice) / pos.AvgPrice
			if pos.Quantity < 0 {
				unrealizedPct = -unrealizedPct
			}
		}

		updated := pos
		updated.MarkPrice = mark
		updated.Notional = notional
		updated.UnrealizedPnl = unrealized
		updated.UnrealizedPnlPct = unrealizedPct
		positions[symbol] = updated

		gross += notional
		netExposure += pos.Quantity * mark
		totalUnrealized += unrealized
	}

	totalValue := s.freeCash + netExposure
	allowedLev := s.allowedLev
	if s.constraints.MaxLeverage > 0 && (allowedLev <= 0 || s.constraints.MaxLeverage < allowedLev) {
		allowedLev = s.constraints.MaxLeverage
	}
	if allowedLev <= 0 {
		allowedLev = 1.0
	}

	var buyingPower float64
	if s.marketType.IsSpot() {
		buyingPower = math.Max(0, s.freeCash)
	} else {
		equity := totalValue
		buyingPower = math.Max(0, equity*allowedLev-gross)
	}

	constraints := s.constraints
	return domain.PortfolioView{
		TsMs:               tsMs,
		StrategyID:         s.strategyID,
		FreeCash:           s.freeCash,
		Positions:          positions,
		GrossExposure:      ptr(gross),
		NetExposure:        ptr(netExposure),
		TotalValue:         ptr(totalValue),
		TotalUnrealizedPnl: ptr(totalUnrealized),
		BuyingPower:        ptr(buyingPower),
		Constraints:        &constraints,
		MarketType:         s.marketType,
	}
}

// ApplyTrades updates positions monotonically from a cycle's realized
// fills: opening adds to quantity and recomputes VWAP avg_price; closing
// reduces quantity and the entry's realized P&L is whatever the trade
// history entry already carries (computed at fill time by the caller).
// If a reduction's magnitude exceeds the existing position (a case the
// normalizer's close-before-open ordering should never produce), the
// excess opens the opposite side as a robustness clamp.
func (s *Service) ApplyTrades(trades []domain.TradeHistoryEntry, priceMap map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range trades {
		s.applyTrade(t)
	}
}

func (s *Service) applyTrade(t domain.TradeHistoryEntry) {
	symbol := t.Instrument.Symbol
	pos, ok := s.positions[symbol]
	if !ok {
		pos = domain.PositionSnapshot{Instrument: t.Instrument}
	}

	signedQty := t.Quantity
	if t.Side == domain.SideSell {
		signedQty = -signedQty
	}

	current := pos.Quantity
	next := current + signedQty

	switch {
	case math.Abs(current) <= domain.QuantityPrecision || sameSign(current, signedQty):
		// Opening or adding to an existing position: cash moves by the
		// notional, and avg_price recomputes as a quantity-weighted VWAP.
		price := entryPrice(t)
		notional := math.Abs(signedQty) * price
		s.freeCash -= notional
		if t.FeeCost != nil {
			s.freeCash -= *t.FeeCost
		}
		totalQty := math.Abs(current) + math.Abs(signedQty)
		if totalQty > domain.QuantityPrecision {
			pos.AvgPrice = (pos.AvgPrice*math.Abs(current) + price*math.Abs(signedQty)) / totalQty
		} else {
			pos.AvgPrice = price
		}
		if math.Abs(current) <= domain.QuantityPrecision {
			pos.EntryTsMs = t.TradeTsMs
		}
	default:
		// Reducing or flipping through zero. The returned exit notional
		// (price * qty) already carries the gain/loss versus avg_price, so
		// realized_pnl is not added again on top.
		reduceQty := math.Min(math.Abs(signedQty), math.Abs(current))
		price := exitPrice(t)
		notional := reduceQty * price
		s.freeCash += notional
		if t.FeeCost != nil {
			s.freeCash -= *t.FeeCost
		}

		excess := math.Abs(signedQty) - reduceQty
		if excess > domain.QuantityPrecision {
			// Flip clamp: the reduction fully flattens, and the remainder
			// opens the opposite side at this fill's price.
			openSigned := excess
			if signedQty < 0 {
				openSigned = -excess
			}
			pos.AvgPrice = price
			pos.EntryTsMs = t.TradeTsMs
			next = openSigned
		}
	}

	pos.Quantity = next
	if math.Abs(next) <= domain.QuantityPrecision {
		pos.AvgPrice = 0
		pos.Quantity = 0
	}
	pos.Type = domain.TradeTypeLong
	if pos.Quantity < 0 {
		pos.Type = domain.TradeTypeShort
	}
	s.positions[symbol] = pos
}

func sameSign(a, b float64) bool {
	if a == 0 || b == 0 {
		return true
	}
	return (a > 0) == (b > 0)
}

func entryPrice(t domain.TradeHistoryEntry) float64 {
	if t.EntryPrice != nil {
		return *t.EntryPrice
	}
	return 0
}

func exitPrice(t domain.TradeHistoryEntry) float64 {
	if t.ExitPrice != nil {
		return *t.ExitPrice
	}
	if t.EntryPrice != nil {
		return *t.EntryPrice
	}
	return 0
}

func ptr(v float64) *float64 { return &v }

// TradeHistoryFromFill converts a gateway TxResult into a persisted
// TradeHistoryEntry, computing realized P&L when the fill reduces an
// existing position against its average entry price.
func TradeHistoryFromFill(composeID, strategyID string, tx domain.TxResult, current domain.PositionSnapshot, now time.Time) domain.TradeHistoryEntry {
	price := 0.0
	if tx.AvgExecPrice != nil {
		price = *tx.AvgExecPrice
	}

	signed := tx.FilledQty
	if tx.Side == domain.SideSell {
		signed = -signed
	}
	isReduction := math.Abs(current.Quantity) > domain.QuantityPrecision && !sameSign(current.Quantity, signed)

	entry := domain.TradeHistoryEntry{
		TradeID:       tx.InstructionID,
		ComposeID:     composeID,
		InstructionID: tx.InstructionID,
		StrategyID:    strategyID,
		Instrument:    tx.Instrument,
		Side:          tx.Side,
		Quantity:      tx.FilledQty,
		Leverage:      tx.Leverage,
		FeeCost:       tx.FeeCost,
		TradeTsMs:     now.UnixMilli(),
	}
	if current.Quantity < 0 {
		entry.Type = domain.TradeTypeShort
	} else {
		entry.Type = domain.TradeTypeLong
	}

	if isReduction {
		entry.ExitPrice = ptrOrNil(price)
		entry.ExitTsMs = now.UnixMilli()
		if current.EntryTsMs > 0 {
			entry.EntryTsMs = current.EntryTsMs
			entry.HoldingMs = now.UnixMilli() - current.EntryTsMs
		}
		notionalExit := price * math.Min(tx.FilledQty, math.Abs(current.Quantity))
		entry.NotionalExit = ptrOrNil(notionalExit)
		if current.AvgPrice > 0 {
			closedQty := math.Min(tx.FilledQty, math.Abs(current.Quantity))
			var pnl float64
			if current.Quantity > 0 {
				pnl = (price - current.AvgPrice) * closedQty
			} else {
				pnl = (current.AvgPrice - price) * closedQty
			}
			entry.RealizedPnl = ptrOrNil(pnl)
		}
	} else {
		entry.EntryPrice = ptrOrNil(price)
		entry.EntryTsMs = now.UnixMilli()
		entry.NotionalEntry = ptrOrNil(price * tx.FilledQty)
	}

	return entry
}

func ptrOrNil(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}
