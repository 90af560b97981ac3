package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nof0labs/stratrun/pkg/composer"
	"github.com/nof0labs/stratrun/pkg/domain"
	"github.com/nof0labs/stratrun/pkg/portfolio"
)

var assertErr = errors.New("boom")

func portfolioService(t *testing.T) *portfolio.Service {
	t.Helper()
	return portfolio.New("strat-1", domain.MarketTypeFuture, domain.Constraints{MaxPositions: 5, MaxLeverage: 10}, 10, 10000)
}

type fixedClock struct{ ms int64 }

func (c fixedClock) NowMs() int64 { return c.ms }

type stubComposer struct {
	result composer.Result
	err    error
}

func (s stubComposer) Compose(ctx context.Context, cctx composer.Context) (composer.Result, error) {
	return s.result, s.err
}

type stubGateway struct {
	results []domain.TxResult
	err     error
}

func (g stubGateway) Execute(ctx context.Context, instructions []domain.TradeInstruction, snapshot domain.MarketSnapshot) ([]domain.TxResult, error) {
	return g.results, g.err
}

func newTestCoordinator(t *testing.T, comp composer.Composer, gw *stubGateway) *Coordinator {
	t.Helper()
	pf := portfolioService(t)
	co := New("strat-1", fixedClock{ms: 1_700_000_000_000}, nil, comp, gw, pf, domain.Constraints{}, domain.TradingConfig{}, false)
	return co
}

func TestRunOnce_NoComposer_RecordsRationale(t *testing.T) {
	co := newTestCoordinator(t, nil, nil)

	result := co.RunOnce(context.Background())

	require.Equal(t, "no composer configured", result.Rationale)
	require.Empty(t, result.Instructions)
	require.Empty(t, result.Trades)
	require.EqualValues(t, 1, result.CycleIndex)
}

func TestRunOnce_ComposeError_AbsorbedIntoRationale(t *testing.T) {
	comp := stubComposer{err: assertErr}
	co := newTestCoordinator(t, comp, nil)

	result := co.RunOnce(context.Background())

	require.Contains(t, result.Rationale, "compose failed")
	require.Empty(t, result.Instructions)
}

func TestRunOnce_ExecutesAndAppliesFills(t *testing.T) {
	inst := domain.TradeInstruction{
		InstructionID: "c1:BTC-USDT:0",
		Instrument:    domain.InstrumentRef{Symbol: "BTC-USDT"},
		Side:          domain.SideBuy,
		Quantity:      1,
	}
	price := 50000.0
	gw := &stubGateway{results: []domain.TxResult{{
		InstructionID: inst.InstructionID,
		Instrument:    inst.Instrument,
		Side:          inst.Side,
		RequestedQty:  1,
		FilledQty:     1,
		AvgExecPrice:  &price,
		Status:        domain.TxStatusFilled,
	}}}
	comp := stubComposer{result: composer.Result{Instructions: []domain.TradeInstruction{inst}, Rationale: "buy the dip"}}
	co := newTestCoordinator(t, comp, gw)

	result := co.RunOnce(context.Background())

	require.Contains(t, result.Rationale, "buy the dip")
	require.Len(t, result.Instructions, 1)
	require.Len(t, result.Trades, 1)
	require.Contains(t, result.PortfolioView.Positions, "BTC-USDT")

	second := co.RunOnce(context.Background())
	require.EqualValues(t, 2, second.CycleIndex)
}

func TestRunOnce_ExecuteError_NoTradesRecorded(t *testing.T) {
	inst := domain.TradeInstruction{InstructionID: "c1:BTC-USDT:0", Instrument: domain.InstrumentRef{Symbol: "BTC-USDT"}, Side: domain.SideBuy, Quantity: 1}
	comp := stubComposer{result: composer.Result{Instructions: []domain.TradeInstruction{inst}}}
	gw := &stubGateway{err: assertErr}
	co := newTestCoordinator(t, comp, gw)

	result := co.RunOnce(context.Background())

	require.Contains(t, result.Rationale, "execution error")
	require.Empty(t, result.Trades)
}
