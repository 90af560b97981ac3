package hyperliquid

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nof0labs/stratrun/pkg/domain"
	"github.com/nof0labs/stratrun/pkg/exchange"
)

type stubClient struct {
	orderResp     *exchange.OrderResponse
	orderErr      error
	assetIndex    int
	assetErr      error
	updateLevErr  error
	accountValue  float64
	accountErr    error
	updateLevCall int
}

func (s *stubClient) IOCMarket(ctx context.Context, coin string, isBuy bool, qty, slippage float64, reduceOnly bool) (*exchange.OrderResponse, error) {
	return s.orderResp, s.orderErr
}

func (s *stubClient) UpdateLeverage(ctx context.Context, asset int, isCross bool, leverage int) error {
	s.updateLevCall++
	return s.updateLevErr
}

func (s *stubClient) GetAssetIndex(ctx context.Context, coin string) (int, error) {
	return s.assetIndex, s.assetErr
}

func (s *stubClient) GetAccountValue(ctx context.Context) (float64, error) {
	return s.accountValue, s.accountErr
}

func filledResponse(qty, price string) *exchange.OrderResponse {
	return &exchange.OrderResponse{
		Status: "ok",
		Response: exchange.OrderResponseData{
			Data: exchange.OrderResponseDataDetail{
				Statuses: []exchange.OrderStatusResponse{
					{Filled: &exchange.FilledOrder{TotalSz: qty, AvgPx: price}},
				},
			},
		},
	}
}

func TestExecute_RejectsZeroNotional(t *testing.T) {
	g := New(&stubClient{}, domain.MarginModeCross, 10)
	inst := domain.TradeInstruction{InstructionID: "i1", Instrument: domain.InstrumentRef{Symbol: "BTC-USDT"}, Quantity: 0}
	snap := domain.MarketSnapshot{"BTC-USDT": {Price: &domain.PriceInfo{Last: 50000}}}

	results, err := g.Execute(context.Background(), []domain.TradeInstruction{inst}, snap)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, domain.TxStatusRejected, results[0].Status)
}

func TestExecute_FilledOrderComputesFeeAndCachesLeverage(t *testing.T) {
	client := &stubClient{orderResp: filledResponse("1", "50000"), assetIndex: 3, accountValue: 100000}
	g := New(client, domain.MarginModeCross, 5)
	inst := domain.TradeInstruction{
		InstructionID: "i1", Instrument: domain.InstrumentRef{Symbol: "BTC-USDT"},
		Side: domain.SideBuy, Quantity: 1, Leverage: 10,
	}
	snap := domain.MarketSnapshot{"BTC-USDT": {Price: &domain.PriceInfo{Last: 50000}}}

	results, err := g.Execute(context.Background(), []domain.TradeInstruction{inst}, snap)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, domain.TxStatusFilled, results[0].Status)
	require.InDelta(t, 50000, *results[0].AvgExecPrice, 1e-6)
	require.InDelta(t, 50000*1*(5.0/10000.0), *results[0].FeeCost, 1e-6)
	require.Equal(t, 1, client.updateLevCall)

	// A second order at the same leverage should hit the cache, not call
	// UpdateLeverage again.
	_, err = g.Execute(context.Background(), []domain.TradeInstruction{inst}, snap)
	require.NoError(t, err)
	require.Equal(t, 1, client.updateLevCall)
}

func TestExecute_ReduceOnlySkipsLeverageAndMarginChecks(t *testing.T) {
	client := &stubClient{orderResp: filledResponse("1", "50000")}
	g := New(client, domain.MarginModeCross, 0)
	inst := domain.TradeInstruction{
		InstructionID: "i1", Instrument: domain.InstrumentRef{Symbol: "BTC-USDT"},
		Side: domain.SideSell, Quantity: 1, Leverage: 10,
		Meta: map[string]any{"action": "CLOSE_LONG"},
	}
	snap := domain.MarketSnapshot{"BTC-USDT": {Price: &domain.PriceInfo{Last: 50000}}}

	results, err := g.Execute(context.Background(), []domain.TradeInstruction{inst}, snap)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusFilled, results[0].Status)
	require.Equal(t, 0, client.updateLevCall)
}

func TestExecute_InsufficientMarginRejectsLocally(t *testing.T) {
	client := &stubClient{assetIndex: 1, accountValue: 10}
	g := New(client, domain.MarginModeCross, 0)
	inst := domain.TradeInstruction{
		InstructionID: "i1", Instrument: domain.InstrumentRef{Symbol: "BTC-USDT"},
		Side: domain.SideBuy, Quantity: 1, Leverage: 10,
	}
	snap := domain.MarketSnapshot{"BTC-USDT": {Price: &domain.PriceInfo{Last: 50000}}}

	results, err := g.Execute(context.Background(), []domain.TradeInstruction{inst}, snap)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusRejected, results[0].Status)
	require.Equal(t, "insufficient_margin", results[0].Reason)
}

func TestExecute_AccountValueErrorSkipsMarginPrecheck(t *testing.T) {
	client := &stubClient{assetIndex: 1, accountErr: errors.New("unavailable"), orderResp: filledResponse("1", "50000")}
	g := New(client, domain.MarginModeCross, 0)
	inst := domain.TradeInstruction{
		InstructionID: "i1", Instrument: domain.InstrumentRef{Symbol: "BTC-USDT"},
		Side: domain.SideBuy, Quantity: 1, Leverage: 10,
	}
	snap := domain.MarketSnapshot{"BTC-USDT": {Price: &domain.PriceInfo{Last: 50000}}}

	results, err := g.Execute(context.Background(), []domain.TradeInstruction{inst}, snap)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusFilled, results[0].Status)
}

func TestExecute_OrderErrorReturnsErroredStatus(t *testing.T) {
	client := &stubClient{orderErr: errors.New("network down")}
	g := New(client, domain.MarginModeCross, 0)
	inst := domain.TradeInstruction{InstructionID: "i1", Instrument: domain.InstrumentRef{Symbol: "BTC-USDT"}, Side: domain.SideBuy, Quantity: 1}
	snap := domain.MarketSnapshot{}

	results, err := g.Execute(context.Background(), []domain.TradeInstruction{inst}, snap)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusError, results[0].Status)
	require.Equal(t, "network down", results[0].Reason)
}

func TestIsReduceOnly(t *testing.T) {
	require.True(t, isReduceOnly(domain.TradeInstruction{Meta: map[string]any{"action": "CLOSE_SHORT"}}))
	require.False(t, isReduceOnly(domain.TradeInstruction{Meta: map[string]any{"action": "OPEN_LONG"}}))
	require.False(t, isReduceOnly(domain.TradeInstruction{}))
}

func TestParseFill_PartialAndRejected(t *testing.T) {
	inst := domain.TradeInstruction{InstructionID: "i1", Quantity: 1}

	partial := parseFill(inst, filledResponse("0.5", "50000"), 0)
	require.Equal(t, domain.TxStatusPartial, partial.Status)

	rejected := parseFill(inst, &exchange.OrderResponse{Status: "err"}, 0)
	require.Equal(t, domain.TxStatusRejected, rejected.Status)

	unfilled := parseFill(inst, &exchange.OrderResponse{Status: "ok"}, 0)
	require.Equal(t, domain.TxStatusRejected, unfilled.Status)
	require.Equal(t, "unfilled", unfilled.Reason)
}
