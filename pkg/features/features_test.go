package features

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nof0labs/stratrun/pkg/domain"
)

type stubSource struct {
	candles  []domain.Candle
	snapshot domain.MarketSnapshot
	candlErr error
	snapErr  error
}

func (s stubSource) GetRecentCandles(ctx context.Context, symbols []string, interval domain.Interval, lookback int) ([]domain.Candle, error) {
	return s.candles, s.candlErr
}

func (s stubSource) GetMarketSnapshot(ctx context.Context, symbols []string) (domain.MarketSnapshot, error) {
	return s.snapshot, s.snapErr
}

func TestBuild_ReturnsLatestCandlePerSymbolAndSnapshotFeatures(t *testing.T) {
	src := stubSource{
		candles: []domain.Candle{
			{TsMs: 1000, Instrument: domain.InstrumentRef{Symbol: "BTC-USDT"}, Open: 100, Close: 110},
			{TsMs: 2000, Instrument: domain.InstrumentRef{Symbol: "BTC-USDT"}, Open: 110, Close: 121},
		},
		snapshot: domain.MarketSnapshot{
			"BTC-USDT": {Price: &domain.PriceInfo{Last: 121}},
		},
	}
	p := New(src)
	p.Configs = []CandleConfig{{Interval: domain.Interval1m, Lookback: 10}}

	vectors, snap, err := p.Build(context.Background(), []string{"BTC-USDT"})
	require.NoError(t, err)
	require.Equal(t, src.snapshot, snap)
	require.Len(t, vectors, 2)

	var candleVec, snapVec *domain.FeatureVector
	for i := range vectors {
		v := vectors[i]
		if v.Meta["interval"] == string(domain.Interval1m) {
			candleVec = &v
		}
		if v.Meta["group_by"] == "market_snapshot" {
			snapVec = &v
		}
	}
	require.NotNil(t, candleVec)
	require.Equal(t, int64(2000), candleVec.Ts)
	require.InDelta(t, (121.0-110.0)/110.0, candleVec.Values["change_pct"], 1e-9)

	require.NotNil(t, snapVec)
	require.Equal(t, 121.0, snapVec.Values["price.last"])
}

func TestBuild_DefaultsConfigsWhenEmpty(t *testing.T) {
	src := stubSource{}
	p := &Pipeline{Source: src}
	_, _, err := p.Build(context.Background(), []string{"BTC-USDT"})
	require.NoError(t, err)
}

func TestBuild_CandleFetchErrorYieldsNoCandleFeatures(t *testing.T) {
	src := stubSource{candlErr: assertErrFeatures}
	p := New(src)
	p.Configs = []CandleConfig{{Interval: domain.Interval1m, Lookback: 5}}
	vectors, _, err := p.Build(context.Background(), []string{"BTC-USDT"})
	require.NoError(t, err)
	require.Empty(t, vectors)
}

func TestSnapshotFeatures_SkipsEmptySymbols(t *testing.T) {
	snap := domain.MarketSnapshot{"BTC-USDT": {}}
	out := snapshotFeatures(snap)
	require.Empty(t, out)
}

func TestSnapshotFeatures_IncludesFundingAndOpenInterest(t *testing.T) {
	snap := domain.MarketSnapshot{
		"BTC-USDT": {
			OpenInterest: &domain.OpenInterestInfo{Amount: 500},
			FundingRate:  &domain.FundingInfo{Rate: 0.0001, MarkPrice: 50000},
		},
	}
	out := snapshotFeatures(snap)
	require.Len(t, out, 1)
	require.Equal(t, 500.0, out[0].Values["open_interest"])
	require.Equal(t, 0.0001, out[0].Values["funding.rate"])
	require.Equal(t, 50000.0, out[0].Values["funding.mark_price"])
}

var assertErrFeatures = errFeatures("boom")

type errFeatures string

func (e errFeatures) Error() string { return string(e) }
