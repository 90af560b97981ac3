// Package domain holds the typed value objects shared by every component of
// the trading strategy runtime: instruments, candles, features, portfolio
// state, plans, instructions, fills and trade history.
package domain

import "github.com/shopspring/decimal"

// InstrumentRef identifies a tradable symbol independent of exchange.
type InstrumentRef struct {
	Symbol     string `json:"symbol"`
	ExchangeID string `json:"exchange_id,omitempty"`
	QuoteCcy   string `json:"quote_ccy,omitempty"`
}

// Interval is a candle bucket width.
type Interval string

const (
	Interval1s  Interval = "1s"
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval60m Interval = "60m"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
	Interval1mo Interval = "1mo"
)

// Candle is a single OHLCV bar.
type Candle struct {
	TsMs       int64         `json:"ts_ms"`
	Instrument InstrumentRef `json:"instrument"`
	Open       float64       `json:"o"`
	High       float64       `json:"h"`
	Low        float64       `json:"l"`
	Close      float64       `json:"c"`
	Volume     float64       `json:"v"`
	Interval   Interval      `json:"interval"`
}

// PriceInfo is the price sub-bag of a symbol snapshot.
type PriceInfo struct {
	Last      float64 `json:"last,omitempty"`
	Close     float64 `json:"close,omitempty"`
	Open      float64 `json:"open,omitempty"`
	High      float64 `json:"high,omitempty"`
	Low       float64 `json:"low,omitempty"`
	Bid       float64 `json:"bid,omitempty"`
	Ask       float64 `json:"ask,omitempty"`
	ChangePct float64 `json:"change_pct,omitempty"`
	Volume    float64 `json:"volume,omitempty"`
}

// OpenInterestInfo is the open-interest sub-bag.
type OpenInterestInfo struct {
	Amount float64 `json:"amount"`
}

// FundingInfo is the funding-rate sub-bag.
type FundingInfo struct {
	Rate     float64 `json:"rate"`
	MarkPrice float64 `json:"mark_price,omitempty"`
}

// SymbolSnapshot is the per-symbol bag of the latest ticker/OI/funding.
type SymbolSnapshot struct {
	Price         *PriceInfo        `json:"price,omitempty"`
	OpenInterest  *OpenInterestInfo `json:"open_interest,omitempty"`
	FundingRate   *FundingInfo      `json:"funding_rate,omitempty"`
}

// MarketSnapshot is the per-symbol bundle fetched once per cycle.
type MarketSnapshot map[string]SymbolSnapshot

// ReferencePrice returns the best-effort price to value a symbol at, or 0 if
// the snapshot carries none.
func (m MarketSnapshot) ReferencePrice(symbol string) float64 {
	snap, ok := m[symbol]
	if !ok || snap.Price == nil {
		return 0
	}
	if snap.Price.Last != 0 {
		return snap.Price.Last
	}
	return snap.Price.Close
}

// FeatureVector is a tagged bag of computed numeric features for one
// instrument at one point in time.
type FeatureVector struct {
	Ts         int64             `json:"ts"`
	Instrument InstrumentRef     `json:"instrument"`
	Values     map[string]float64 `json:"values"`
	Meta       map[string]string  `json:"meta"`
}

// MetaInterval reports the meta.interval tag, if set.
func (f FeatureVector) MetaInterval() string { return f.Meta["interval"] }

// IsMarketSnapshot reports whether this feature vector is snapshot-derived.
func (f FeatureVector) IsMarketSnapshot() bool { return f.Meta["group_by"] == "market_snapshot" }

// TradeType distinguishes long vs short position direction.
type TradeType string

const (
	TradeTypeLong  TradeType = "LONG"
	TradeTypeShort TradeType = "SHORT"
)

// PositionSnapshot is the runtime's view of an open (or just-closed)
// position in one symbol.
type PositionSnapshot struct {
	Instrument       InstrumentRef `json:"instrument"`
	Quantity         float64       `json:"quantity"`
	AvgPrice         float64       `json:"avg_price,omitempty"`
	MarkPrice        float64       `json:"mark_price,omitempty"`
	UnrealizedPnl    float64       `json:"unrealized_pnl,omitempty"`
	UnrealizedPnlPct float64       `json:"unrealized_pnl_pct,omitempty"`
	Notional         float64       `json:"notional,omitempty"`
	Leverage         float64       `json:"leverage,omitempty"`
	EntryTsMs        int64         `json:"entry_ts,omitempty"`
	Type             TradeType     `json:"trade_type,omitempty"`
}

// Constraints are the risk/exchange filters applied by the normalizer.
type Constraints struct {
	MaxPositions    int     `json:"max_positions,omitempty"`
	MaxLeverage     float64 `json:"max_leverage,omitempty"`
	QuantityStep    float64 `json:"quantity_step,omitempty"`
	MinTradeQty     float64 `json:"min_trade_qty,omitempty"`
	MaxOrderQty     float64 `json:"max_order_qty,omitempty"`
	MinNotional     float64 `json:"min_notional,omitempty"`
	MaxPositionQty  float64 `json:"max_position_qty,omitempty"`
}

// MarketType is the exchange trading domain for a strategy.
type MarketType string

const (
	MarketTypeSpot   MarketType = "spot"
	MarketTypeFuture MarketType = "future"
	MarketTypeSwap   MarketType = "swap"
)

// IsSpot reports whether this market type is spot (long-only, leverage 1.0).
func (m MarketType) IsSpot() bool { return m == MarketTypeSpot }

// PortfolioView is the typed, point-in-time snapshot of a strategy's book.
type PortfolioView struct {
	TsMs               int64                       `json:"ts"`
	StrategyID         string                      `json:"strategy_id,omitempty"`
	FreeCash           float64                     `json:"free_cash"`
	Positions          map[string]PositionSnapshot `json:"positions"`
	GrossExposure      *float64                    `json:"gross_exposure,omitempty"`
	NetExposure        *float64                    `json:"net_exposure,omitempty"`
	TotalValue         *float64                    `json:"total_value,omitempty"`
	TotalUnrealizedPnl *float64                    `json:"total_unrealized_pnl,omitempty"`
	BuyingPower        *float64                    `json:"buying_power,omitempty"`
	Constraints        *Constraints                `json:"constraints,omitempty"`
	MarketType         MarketType                  `json:"-"`
}

// Action is a planner-proposed operation on a symbol.
type Action string

const (
	ActionOpenLong   Action = "OPEN_LONG"
	ActionOpenShort  Action = "OPEN_SHORT"
	ActionCloseLong  Action = "CLOSE_LONG"
	ActionCloseShort Action = "CLOSE_SHORT"
	ActionNoop       Action = "NOOP"
)

// IsClose reports whether the action reduces/closes exposure.
func (a Action) IsClose() bool { return a == ActionCloseLong || a == ActionCloseShort }

// PlanItem is one symbol-level intent from a composer.
type PlanItem struct {
	Instrument InstrumentRef `json:"instrument"`
	Action     Action        `json:"action"`
	TargetQty  float64       `json:"target_qty"`
	Leverage   float64       `json:"leverage,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Rationale  string        `json:"rationale,omitempty"`
}

// PlanProposal is a composer's raw output for one cycle.
type PlanProposal struct {
	TsMs      int64      `json:"ts"`
	Items     []PlanItem `json:"items"`
	Rationale string     `json:"rationale,omitempty"`
}

// Side is the order direction of a normalized instruction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PriceMode selects market vs limit execution.
type PriceMode string

const (
	PriceModeMarket PriceMode = "MARKET"
	PriceModeLimit  PriceMode = "LIMIT"
)

// TradeInstruction is a normalized, executable order.
type TradeInstruction struct {
	InstructionID  string            `json:"instruction_id"`
	ComposeID      string            `json:"compose_id"`
	Instrument     InstrumentRef     `json:"instrument"`
	Side           Side              `json:"side"`
	Quantity       float64           `json:"quantity"`
	Leverage       float64           `json:"leverage"`
	PriceMode      PriceMode         `json:"price_mode"`
	LimitPrice     *float64          `json:"limit_price,omitempty"`
	MaxSlippageBps float64           `json:"max_slippage_bps,omitempty"`
	Meta           map[string]any    `json:"meta,omitempty"`
}

// TxStatus is the outcome of submitting an instruction to a gateway.
type TxStatus string

const (
	TxStatusFilled   TxStatus = "FILLED"
	TxStatusPartial  TxStatus = "PARTIAL"
	TxStatusRejected TxStatus = "REJECTED"
	TxStatusError    TxStatus = "ERROR"
)

// TxResult is the gateway's report for one instruction.
type TxResult struct {
	InstructionID string        `json:"instruction_id"`
	Instrument    InstrumentRef `json:"instrument"`
	Side          Side          `json:"side"`
	RequestedQty  float64       `json:"requested_qty"`
	FilledQty     float64       `json:"filled_qty"`
	AvgExecPrice  *float64      `json:"avg_exec_price,omitempty"`
	SlippageBps   *float64      `json:"slippage_bps,omitempty"`
	FeeCost       *float64      `json:"fee_cost,omitempty"`
	Leverage      float64       `json:"leverage,omitempty"`
	Status        TxStatus      `json:"status"`
	Reason        string        `json:"reason,omitempty"`
}

// TradeHistoryEntry is a persisted, immutable record of a realized fill.
type TradeHistoryEntry struct {
	TradeID       string        `json:"trade_id"`
	ComposeID     string        `json:"compose_id"`
	InstructionID string        `json:"instruction_id"`
	StrategyID    string        `json:"strategy_id"`
	Instrument    InstrumentRef `json:"instrument"`
	Side          Side          `json:"side"`
	Type          TradeType     `json:"type"`
	Quantity      float64       `json:"quantity"`
	EntryPrice    *float64      `json:"entry_price,omitempty"`
	ExitPrice     *float64      `json:"exit_price,omitempty"`
	NotionalEntry *float64      `json:"notional_entry,omitempty"`
	NotionalExit  *float64      `json:"notional_exit,omitempty"`
	EntryTsMs     int64         `json:"entry_ts,omitempty"`
	ExitTsMs      int64         `json:"exit_ts,omitempty"`
	TradeTsMs     int64         `json:"trade_ts"`
	HoldingMs     int64         `json:"holding_ms,omitempty"`
	RealizedPnl   *float64      `json:"realized_pnl,omitempty"`
	FeeCost       *float64      `json:"fee_cost,omitempty"`
	Leverage      float64       `json:"leverage,omitempty"`
	Note          string        `json:"note,omitempty"`
}

// StrategySummary is the rolling per-strategy digest persisted alongside a
// cycle (win rate / avg holding time, bounded to recent closed trades).
type StrategySummary struct {
	TradeCount      int     `json:"trade_count"`
	WinCount        int     `json:"win_count"`
	WinRate         float64 `json:"win_rate"`
	AvgHoldingMs    float64 `json:"avg_holding_ms"`
	TotalRealizedPnl float64 `json:"total_realized_pnl"`
}

// DecisionCycleResult is the coordinator's output for one cycle.
type DecisionCycleResult struct {
	ComposeID       string              `json:"compose_id"`
	CycleIndex      int64               `json:"cycle_index"`
	TimestampMs     int64               `json:"timestamp_ms"`
	Rationale       string              `json:"rationale,omitempty"`
	Instructions    []TradeInstruction  `json:"instructions"`
	Trades          []TradeHistoryEntry `json:"trades"`
	PortfolioView   PortfolioView       `json:"portfolio_view"`
	StrategySummary StrategySummary     `json:"strategy_summary"`
}

// QuantityPrecision is the default absolute-tolerance comparison epsilon for
// in-memory float quantity math (§4.5, §9).
const QuantityPrecision = 1e-9

// DecimalFromFloat converts an in-memory float to the fixed-precision
// decimal representation used at persistence/exchange boundaries.
func DecimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}
