// Package binance implements the live Execution Gateway adapter for
// Binance USD-M futures, demonstrating the Gateway contract against a
// second venue alongside pkg/execution/hyperliquid: market-order IOC
// dispatch, per-symbol leverage caching, and fill parsing into the shared
// TxResult contract.
package binance

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nof0labs/stratrun/pkg/domain"
)

// TradingClient is the subset of the Binance futures client the gateway
// depends on, narrowed here so the gateway can be tested against a fake.
type TradingClient interface {
	NewCreateOrderService() *futures.CreateOrderService
	NewChangeLeverageService() *futures.ChangeLeverageService
	NewGetAccountService() *futures.GetAccountService
}

// Gateway adapts normalized TradeInstructions to Binance USD-M futures.
type Gateway struct {
	Client TradingClient
	FeeBps float64

	mu            sync.Mutex
	leverageCache map[string]int
}

// New constructs a live Binance futures gateway.
func New(client TradingClient, feeBps float64) *Gateway {
	return &Gateway{Client: client, FeeBps: feeBps, leverageCache: make(map[string]int)}
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
	if refPrice > 0 && inst.Quantity*refPrice <= 0 {
		return rejected(inst, "notional<=0")
	}

	reduceOnly := isReduceOnly(inst)
	if !reduceOnly && inst.Leverage > 0 {
		if err := g.ensureLeverage(ctx, symbol, inst.Leverage); err != nil {
			return errored(inst, fmt.Sprintf("set_leverage: %v", err))
		}
	}

	side := futures.SideTypeBuy
	if inst.Side == domain.SideSell {
		side = futures.SideTypeSell
	}
	qtyStr := strconv.FormatFloat(inst.Quantity, 'f', -1, 64)

	svc := g.Client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qtyStr)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		logx.WithContext(ctx).Errorf("binance gateway: order failed instruction=%s err=%v", inst.InstructionID, err)
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
	if _, err := g.Client.NewChangeLeverageService().Symbol(symbol).Leverage(lev).Do(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	g.leverageCache[symbol] = lev
	g.mu.Unlock()
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

func parseFill(inst domain.TradeInstruction, resp *futures.CreateOrderResponse, feeBps float64) domain.TxResult {
	if resp == nil {
		return rejected(inst, "empty response")
	}
	filledQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	avgPrice, _ := strconv.ParseFloat(resp.AvgPrice, 64)

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
		result.Reason = string(resp.Status)
	case filledQty < inst.Quantity*0.99:
		result.Status = domain.TxStatusPartial
	default:
		result.Status = domain.TxStatusFilled
	}
	return result
}
