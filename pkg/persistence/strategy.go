// Package persistence implements the strategy runtime's storage schema
// (spec §4.8): strategies, strategy_cycles, strategy_instructions,
// strategy_details (trades), strategy_holdings, and
// strategy_portfolio_snapshots. Writes use raw SQL; all are upserts except
// the append-only portfolio snapshot INSERT and the initial_capital UPDATE.
// They are treated as best-effort — a failed write is logged and swallowed so the
// decision loop never stalls on persistence trouble.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"github.com/nof0labs/stratrun/pkg/domain"
)

// Service persists strategy lifecycle, cycle, trade and portfolio data.
type Service struct {
	conn sqlx.SqlConn
}

// New wires a persistence service against an existing SQL connection. A nil
// conn is valid and turns every call into a no-op, matching local/dry-run
// configurations that have no database configured.
func New(conn sqlx.SqlConn) *Service {
	return &Service{conn: conn}
}

func (s *Service) ok() bool { return s != nil && s.conn != nil }

// StrategyRunning reports whether persistence has marked the strategy's
// status as "running"; used by the stream controller's wait_running poll.
func (s *Service) StrategyRunning(ctx context.Context, strategyID string) bool {
	if !s.ok() {
		return false
	}
	var status string
	err := s.conn.QueryRowCtx(ctx, &status, `SELECT status FROM strategies WHERE strategy_id = $1`, strategyID)
	if err != nil {
		logx.WithContext(ctx).Errorf("persistence: strategy_running lookup strategy=%s err=%v", strategyID, err)
		return false
	}
	return strings.EqualFold(status, "running")
}

// SetStrategyStatus transitions the strategies.status column.
func (s *Service) SetStrategyStatus(ctx context.Context, strategyID, status string) error {
	if !s.ok() {
		return nil
	}
	_, err := s.conn.ExecCtx(ctx, `
INSERT INTO strategies (strategy_id, status, created_at, updated_at)
VALUES ($1, $2, NOW(), NOW())
ON CONFLICT (strategy_id) DO UPDATE SET
    status = EXCLUDED.status,
    updated_at = NOW();`, strategyID, status)
	if err != nil {
		logx.WithContext(ctx).Errorf("persistence: set_strategy_status strategy=%s err=%v", strategyID, err)
	}
	return err
}

// SetStopReason records the last stop reason/detail in strategy metadata so
// a restart can decide whether to resume or start clean.
func (s *Service) SetStopReason(ctx context.Context, strategyID, reason, detail string) error {
	if !s.ok() {
		return nil
	}
	meta := map[string]any{"stop_reason": reason}
	if detail != "" {
		meta["stop_reason_detail"] = detail
	}
	raw, _ := json.Marshal(meta)
	_, err := s.conn.ExecCtx(ctx, `
INSERT INTO strategies (strategy_id, metadata, created_at, updated_at)
VALUES ($1, $2, NOW(), NOW())
ON CONFLICT (strategy_id) DO UPDATE SET
    metadata = strategies.metadata || EXCLUDED.metadata,
    updated_at = NOW();`, strategyID, string(raw))
	if err != nil {
		logx.WithContext(ctx).Errorf("persistence: set_stop_reason strategy=%s err=%v", strategyID, err)
	}
	return err
}

// UpdateInitialCapital overwrites strategies.initial_capital; used once on a
// strategy's first snapshot when running in live mode, with the value the
// stream controller passes (the portfolio's free cash).
func (s *Service) UpdateInitialCapital(ctx context.Context, strategyID string, capital float64) error {
	if !s.ok() {
		return nil
	}
	_, err := s.conn.ExecCtx(ctx, `UPDATE strategies SET initial_capital = $2, updated_at = NOW() WHERE strategy_id = $1`, strategyID, capital)
	if err != nil {
		logx.WithContext(ctx).Errorf("persistence: update_initial_capital strategy=%s err=%v", strategyID, err)
	}
	return err
}

// HasInitialSnapshot reports whether a portfolio snapshot has ever been
// persisted for this strategy, making persist_initial_state idempotent
// across restarts.
func (s *Service) HasInitialSnapshot(ctx context.Context, strategyID string) bool {
	if !s.ok() {
		return false
	}
	var count int
	err := s.conn.QueryRowCtx(ctx, &count, `SELECT COUNT(*) FROM strategy_portfolio_snapshots WHERE strategy_id = $1`, strategyID)
	if err != nil {
		logx.WithContext(ctx).Errorf("persistence: has_initial_snapshot strategy=%s err=%v", strategyID, err)
		return false
	}
	return count > 0
}

// PersistCycle upserts one row into strategy_cycles.
func (s *Service) PersistCycle(ctx context.Context, strategyID, composeID string, cycleIndex, tsMs int64, rationale string) error {
	if !s.ok() {
		return nil
	}
	_, err := s.conn.ExecCtx(ctx, `
INSERT INTO strategy_cycles (strategy_id, compose_id, cycle_index, ts_ms, rationale, created_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (strategy_id, compose_id) DO UPDATE SET
    cycle_index = EXCLUDED.cycle_index,
    ts_ms = EXCLUDED.ts_ms,
    rationale = EXCLUDED.rationale;`, strategyID, composeID, cycleIndex, tsMs, rationale)
	if err != nil {
		logx.WithContext(ctx).Errorf("persistence: persist_cycle strategy=%s compose_id=%s err=%v", strategyID, composeID, err)
	}
	return err
}

// PersistInstructions upserts every instruction from one cycle (NOOP
// instructions included, matching the original's "persist everything,
// including no-ops" behavior so the audit trail is complete).
func (s *Service) PersistInstructions(ctx context.Context, strategyID, composeID string, instructions []domain.TradeInstruction) error {
	if !s.ok() || len(instructions) == 0 {
		return nil
	}
	for _, inst := range instructions {
		meta, _ := json.Marshal(inst.Meta)
		var limitPrice sql.NullFloat64
		if inst.LimitPrice != nil {
			limitPrice = sql.NullFloat64{Float64: *inst.LimitPrice, Valid: true}
		}
		_, err := s.conn.ExecCtx(ctx, `
INSERT INTO strategy_instructions (
    strategy_id, compose_id, instruction_id, symbol, side, quantity, leverage,
    price_mode, limit_price, max_slippage_bps, meta, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
ON CONFLICT (instruction_id) DO UPDATE SET
    quantity = EXCLUDED.quantity,
    meta = EXCLUDED.meta;`,
			strategyID, composeID, inst.InstructionID, inst.Instrument.Symbol, string(inst.Side),
			inst.Quantity, inst.Leverage, string(inst.PriceMode), limitPrice, inst.MaxSlippageBps, string(meta))
		if err != nil {
			logx.WithContext(ctx).Errorf("persistence: persist_instruction strategy=%s instruction=%s err=%v", strategyID, inst.InstructionID, err)
			return err
		}
	}
	return nil
}

// PersistTrade upserts one realized fill into strategy_details. Returns
// whether the write succeeded (used by callers that log on success only).
func (s *Service) PersistTrade(ctx context.Context, strategyID string, trade domain.TradeHistoryEntry) bool {
	if !s.ok() {
		return false
	}
	_, err := s.conn.ExecCtx(ctx, `
INSERT INTO strategy_details (
    trade_id, compose_id, instruction_id, strategy_id, symbol, side, trade_type,
    quantity, entry_price, exit_price, notional_entry, notional_exit,
    entry_ts_ms, exit_ts_ms, trade_ts_ms, holding_ms, realized_pnl, fee_cost, leverage, note
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
ON CONFLICT (trade_id) DO UPDATE SET
    exit_price = EXCLUDED.exit_price,
    notional_exit = EXCLUDED.notional_exit,
    exit_ts_ms = EXCLUDED.exit_ts_ms,
    holding_ms = EXCLUDED.holding_ms,
    realized_pnl = EXCLUDED.realized_pnl;`,
		trade.TradeID, trade.ComposeID, trade.InstructionID, strategyID, trade.Instrument.Symbol,
		string(trade.Side), string(trade.Type), trade.Quantity,
		nullFloat(trade.EntryPrice), nullFloat(trade.ExitPrice),
		nullFloat(trade.NotionalEntry), nullFloat(trade.NotionalExit),
		nullInt(trade.EntryTsMs), nullInt(trade.ExitTsMs), trade.TradeTsMs, nullInt(trade.HoldingMs),
		nullFloat(trade.RealizedPnl), nullFloat(trade.FeeCost), trade.Leverage, trade.Note)
	if err != nil {
		logx.WithContext(ctx).Errorf("persistence: persist_trade strategy=%s trade=%s err=%v", strategyID, trade.TradeID, err)
		return false
	}
	return true
}

// PersistPortfolioView upserts the point-in-time holdings and a portfolio
// snapshot row. Returns whether the write succeeded.
func (s *Service) PersistPortfolioView(ctx context.Context, view domain.PortfolioView) bool {
	if !s.ok() {
		return false
	}
	for symbol, pos := range view.Positions {
		_, err := s.conn.ExecCtx(ctx, `
INSERT INTO strategy_holdings (strategy_id, symbol, quantity, avg_price, mark_price, unrealized_pnl, leverage, trade_type, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
ON CONFLICT (strategy_id, symbol) DO UPDATE SET
    quantity = EXCLUDED.quantity,
    avg_price = EXCLUDED.avg_price,
    mark_price = EXCLUDED.mark_price,
    unrealized_pnl = EXCLUDED.unrealized_pnl,
    leverage = EXCLUDED.leverage,
    trade_type = EXCLUDED.trade_type,
    updated_at = NOW();`, view.StrategyID, symbol, pos.Quantity, pos.AvgPrice, pos.MarkPrice, pos.UnrealizedPnl, pos.Leverage, string(pos.Type))
		if err != nil {
			logx.WithContext(ctx).Errorf("persistence: persist_holding strategy=%s symbol=%s err=%v", view.StrategyID, symbol, err)
			return false
		}
	}

	raw, _ := json.Marshal(view)
	_, err := s.conn.ExecCtx(ctx, `
INSERT INTO strategy_portfolio_snapshots (strategy_id, ts_ms, free_cash, gross_exposure, net_exposure, total_value, buying_power, raw, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW());`,
		view.StrategyID, view.TsMs, view.FreeCash,
		nullFloat(view.GrossExposure), nullFloat(view.NetExposure), nullFloat(view.TotalValue), nullFloat(view.BuyingPower),
		string(raw))
	if err != nil {
		logx.WithContext(ctx).Errorf("persistence: persist_portfolio_snapshot strategy=%s err=%v", view.StrategyID, err)
		return false
	}
	return true
}

// PersistStrategySummary upserts the rolling digest alongside a strategy.
func (s *Service) PersistStrategySummary(ctx context.Context, strategyID string, summary domain.StrategySummary) bool {
	if !s.ok() {
		return false
	}
	raw, _ := json.Marshal(summary)
	_, err := s.conn.ExecCtx(ctx, `
INSERT INTO strategies (strategy_id, summary, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (strategy_id) DO UPDATE SET
    summary = EXCLUDED.summary,
    updated_at = NOW();`, strategyID, string(raw))
	if err != nil {
		logx.WithContext(ctx).Errorf("persistence: persist_summary strategy=%s err=%v", strategyID, err)
		return false
	}
	return true
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}
