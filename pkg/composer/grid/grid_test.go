package grid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nof0labs/stratrun/pkg/composer"
	"github.com/nof0labs/stratrun/pkg/domain"
)

func featureAt(symbol string, open, last float64, interval domain.Interval) domain.FeatureVector {
	return domain.FeatureVector{
		Instrument: domain.InstrumentRef{Symbol: symbol},
		Values:     map[string]float64{"price.open": open, "price.last": last},
		Meta:       map[string]string{"interval": string(interval)},
	}
}

func TestGrid_OpensLongOnDownMove(t *testing.T) {
	// Scenario 2: step_pct=0.01, base_fraction=0.1, spot, equity 10_000,
	// p_prev=50_000, p_curr=49_500 (a 1% down move) with no existing position.
	c := New()
	c.stepPct = 0.01
	c.baseFraction = 0.1

	cctx := composer.Context{
		TsMs:       1,
		ComposeID:  "g1",
		Portfolio:  domain.PortfolioView{FreeCash: 10000, Positions: map[string]domain.PositionSnapshot{}},
		Constraints: domain.Constraints{QuantityStep: 1e-3, MinNotional: 1},
		MarketSnapshot: domain.MarketSnapshot{
			"BTC-USDT": {Price: &domain.PriceInfo{Last: 49500}},
		},
		Features: []domain.FeatureVector{featureAt("BTC-USDT", 50000, 49500, domain.Interval1s)},
		Trading:  domain.TradingConfig{Symbols: []string{"BTC-USDT"}, MaxLeverage: 1, CapFactor: 1.5},
		IsSpot:   true,
	}

	res, err := c.Compose(context.Background(), cctx)
	require.NoError(t, err)
	require.Len(t, res.Instructions, 1)
	require.Equal(t, domain.SideBuy, res.Instructions[0].Side)
	require.InDelta(t, 0.020, res.Instructions[0].Quantity, 1e-9)
}

func TestGrid_ReducesAfterUpMove(t *testing.T) {
	// Scenario 3: existing long 0.030 @ avg 49_000, price moves 49_500 -> 50_000.
	c := New()
	c.stepPct = 0.01
	c.baseFraction = 0.1
	c.maxSteps = 3

	cctx := composer.Context{
		TsMs:      1,
		ComposeID: "g2",
		Portfolio: domain.PortfolioView{
			FreeCash: 10000,
			Positions: map[string]domain.PositionSnapshot{
				"BTC-USDT": {Instrument: domain.InstrumentRef{Symbol: "BTC-USDT"}, Quantity: 0.030, AvgPrice: 49000},
			},
		},
		Constraints: domain.Constraints{QuantityStep: 1e-3, MinNotional: 1},
		MarketSnapshot: domain.MarketSnapshot{
			"BTC-USDT": {Price: &domain.PriceInfo{Last: 50000}},
		},
		Features: []domain.FeatureVector{featureAt("BTC-USDT", 49500, 50000, domain.Interval1s)},
		Trading:  domain.TradingConfig{Symbols: []string{"BTC-USDT"}, MaxLeverage: 1, CapFactor: 1.5},
		IsSpot:   true,
	}

	res, err := c.Compose(context.Background(), cctx)
	require.NoError(t, err)
	require.Len(t, res.Instructions, 1)
	require.Equal(t, domain.SideSell, res.Instructions[0].Side)
	require.InDelta(t, 0.030, res.Instructions[0].Quantity, 1e-6)
}
