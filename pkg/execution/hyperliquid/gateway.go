// Package hyperliquid implements the live Execution Gateway adapter for
// the Hyperliquid venue (spec §4.4.2): leverage/margin-mode caching per
// symbol, reduceOnly dispatch by action, a margin check against the
// venue-reported account value, and IOC-market submission with fill
// parsing into the shared TxResult contract. The only check made before any
// network call rejects a non-positive notional; venue minimum size and
// minimum notional are not checked, and the margin check runs after the
// leverage update.
package hyperliquid

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nof0labs/stratrun/pkg/domain"
	"github.com/nof0labs/stratrun/pkg/exchange"
)

// TradingClient is the subset of the Hyperliquid trading provider the
// gateway depends on; satisfied by *hyperliquid.Provider, narrowed here so
// the gateway can be tested against a fake.
type TradingClient interface {
	IOCMarket(ctx context.Context, coin string, isBuy bool, qty float64, slippage float64, reduceOnly bool) (*exchange.OrderResponse, error)
	UpdateLeverage(ctx context.Context, asset int, isCross bool, leverage int) error
	GetAssetIndex(ctx context.Context, coin string) (int, error)
	GetAccountValue(ctx context.Context) (float64, error)
}

// Gateway adapts normalized TradeInstructions to the Hyperliquid venue.
type Gateway struct {
	Client     TradingClient
	MarginMode domain.MarginMode
	FeeBps     float64

	mu            sync.Mutex
	leverageCache map[string]int // symbol -> leverage already set on the venue
}

// New constructs a live Hyperliquid gateway.
func New(client TradingClient, marginMode domain.MarginMode, feeBps float64) *Gateway {
	return &Gateway{
		Client:        client,
		MarginMode:    marginMode,
		FeeBps:        feeBps,
		leverageCache: make(map[string]int),
	}
}

// Execute implements execution.Gateway.
func (g *Gateway) Execute(ctx context.Context, instructions []domain.TradeInstruction, snapshot domain.MarketSnapshot) ([]domain.TxResult, error) {
	results := make([]domain.TxResult, 0, len(instructions))
	for _, inst := range instructions {
		results = append(results, g.executeOne(ctx, inst, snapshot))
	}
	return results, nil
}

func (g *Gateway) executeOne(ctx context.Context, inst domain.TradeInstruction, snapshot domain.MarketSnapshot) domain.TxResult {
	symbol := inst.Instrument.Symbol
	refPrice := snapshot.ReferencePrice(symbol)

	// Precheck: reject a non-positive notional against the best-available
	// reference price, before any network call. Venue minimums are not
	// checked.
	if refPrice > 0 && inst.Quantity*refPrice <= 0 {
		return rejected(inst, "notional<=0")
	}

	reduceOnly := isReduceOnly(inst)

	if !reduceOnly && inst.Leverage > 0 {
		if err := g.ensureLeverage(ctx, symbol, inst.Leverage); err != nil {
			return errored(inst, fmt.Sprintf("set_leverage: %v", err))
		}
	}

	if !reduceOnly && refPrice > 0 && inst.Leverage > 0 {
		if err := g.precheckMargin(ctx, inst, refPrice); err != nil {
			return rejected(inst, err.Error())
		}
	}

	isBuy := inst.Side == domain.SideBuy
	slippage := inst.MaxSlippageBps / 10000.0
	if slippage <= 0 {
		slippage = 0.01
	}

	resp, err := g.Client.IOCMarket(ctx, symbol, isBuy, inst.Quantity, slippage, reduceOnly)
	if err != nil {
		logx.WithContext(ctx).Errorf("hyperliquid gateway: order failed instruction=%s err=%v", inst.InstructionID, err)
		return errored(inst, err.Error())
	}

	return parseFill(inst, resp, g.FeeBps)
}

func isReduceOnly(inst domain.TradeInstruction) bool {
	action, _ := inst.Meta["action"].(string)
	return strings.HasPrefix(action, "CLOSE")
}

func (g *Gateway) ensureLeverage(ctx context.Context, symbol string, leverage float64) error {
	lev := int(math.Round(leverage))
	if lev < 1 {
		lev = 1
	}

	g.mu.Lock()
	cached, ok := g.leverageCache[symbol]
	g.mu.Unlock()
	if ok && cached == lev {
		return nil
	}

	asset, err := g.Client.GetAssetIndex(ctx, symbol)
	if err != nil {
		return err
	}
	isCross := g.MarginMode != domain.MarginModeIsolated
	if err := g.Client.UpdateLeverage(ctx, asset, isCross, lev); err != nil {
		return err
	}

	g.mu.Lock()
	g.leverageCache[symbol] = lev
	g.mu.Unlock()
	return nil
}

// precheckMargin estimates required margin for a derivatives open and
// rejects locally if the account's equity cannot cover it, per spec
// §4.4.2's margin precheck (1.02x safety buffer).
func (g *Gateway) precheckMargin(ctx context.Context, inst domain.TradeInstruction, refPrice float64) error {
	required := inst.Quantity * refPrice / inst.Leverage * 1.02
	balance, err := g.Client.GetAccountValue(ctx)
	if err != nil {
		// Margin precheck is best-effort; an unreadable balance doesn't
		// block the order, it only disables this particular guard.
		logx.WithContext(ctx).Infof("hyperliquid gateway: margin precheck skipped, account value unavailable: %v", err)
		return nil
	}
	if balance < required {
		return fmt.Errorf("insufficient_margin")
	}
	return nil
}

func rejected(inst domain.TradeInstruction, reason string) domain.TxResult {
	return domain.TxResult{
		InstructionID: inst.InstructionID,
		Instrument:    inst.Instrument,
		Side:          inst.Side,
		RequestedQty:  inst.Quantity,
		Status:        domain.TxStatusRejected,
		Reason:        reason,
	}
}

func errored(inst domain.TradeInstruction, reason string) domain.TxResult {
	return domain.TxResult{
		InstructionID: inst.InstructionID,
		Instrument:    inst.Instrument,
		Side:          inst.Side,
		RequestedQty:  inst.Quantity,
		Status:        domain.TxStatusError,
		Reason:        reason,
	}
}

func parseFill(inst domain.TradeInstruction, resp *exchange.OrderResponse, feeBps float64) domain.TxResult {
	if resp == nil || resp.Status != "ok" {
		reason := "gateway rejected order"
		if resp != nil && len(resp.Response.Data.Statuses) > 0 && resp.Response.Data.Statuses[0].Error != "" {
			reason = resp.Response.Data.Statuses[0].Error
		}
		return rejected(inst, reason)
	}

	var filledQty, avgPrice float64
	for _, status := range resp.Response.Data.Statuses {
		if status.Filled == nil {
			continue
		}
		qty, _ := strconv.ParseFloat(status.Filled.TotalSz, 64)
		px, _ := strconv.ParseFloat(status.Filled.AvgPx, 64)
		filledQty += qty
		if px > 0 {
			avgPrice = px
		}
	}

	result := domain.TxResult{
		InstructionID: inst.InstructionID,
		Instrument:    inst.Instrument,
		Side:          inst.Side,
		RequestedQty:  inst.Quantity,
		FilledQty:     filledQty,
		Leverage:      inst.Leverage,
	}
	if avgPrice > 0 {
		result.AvgExecPrice = &avgPrice
		fee := avgPrice * filledQty * (feeBps / 10000.0)
		result.FeeCost = &fee
	}

	switch {
	case filledQty <= 0:
		result.Status = domain.TxStatusRejected
		result.Reason = "unfilled"
	case filledQty < inst.Quantity*0.99:
		result.Status = domain.TxStatusPartial
	default:
		result.Status = domain.TxStatusFilled
	}
	return result
}
