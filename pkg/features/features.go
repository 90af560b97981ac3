// Package features implements the Feature Pipeline (spec §4.2): it fires
// all configured candle-interval fetches plus the market snapshot fetch
// concurrently, then computes a flat, ordered list of per-symbol feature
// vectors tagged with group metadata so downstream composers can select by
// meta instead of position.
package features

import (
	"context"
	"sync"

	"github.com/nof0labs/stratrun/pkg/domain"
	"github.com/nof0labs/stratrun/pkg/marketdata"
)

// CandleConfig is one interval/lookback pair the pipeline fetches per cycle.
type CandleConfig struct {
	Interval domain.Interval
	Lookback int
}

// DefaultCandleConfigs returns the default candle windows: medium (1m, 240
// bars) first, then micro (1s, 180 bars), so Build emits medium-interval
// features before micro ones.
func DefaultCandleConfigs() []CandleConfig {
	return []CandleConfig{
		{Interval: domain.Interval1m, Lookback: 240},
		{Interval: domain.Interval1s, Lookback: 180},
	}
}

// Pipeline computes feature vectors for a configured symbol set.
type Pipeline struct {
	Source  marketdata.Source
	Configs []CandleConfig
}

// New constructs a pipeline with the default candle configuration.
func New(source marketdata.Source) *Pipeline {
	return &Pipeline{Source: source, Configs: DefaultCandleConfigs()}
}

type fetchResult struct {
	config  CandleConfig
	candles []domain.Candle
}

// Build fans out every configured candle fetch plus the snapshot fetch
// concurrently, then reduces each to feature vectors. The returned slice
// holds the candle features of each config in the order the configs are
// supplied (with the defaults: medium interval, then micro), then snapshot
// features — ordering is observational only, consumers select by meta.
func (p *Pipeline) Build(ctx context.Context, symbols []string) ([]domain.FeatureVector, domain.MarketSnapshot, error) {
	configs := p.Configs
	if len(configs) == 0 {
		configs = DefaultCandleConfigs()
	}

	candleResults := make([]fetchResult, len(configs))
	var snapshot domain.MarketSnapshot
	var wg sync.WaitGroup

	wg.Add(len(configs) + 1)
	for i, cfg := range configs {
		go func(i int, cfg CandleConfig) {
			defer wg.Done()
			candles, err := p.Source.GetRecentCandles(ctx, symbols, cfg.Interval, cfg.Lookback)
			if err != nil {
				candles = nil
			}
			candleResults[i] = fetchResult{config: cfg, candles: candles}
		}(i, cfg)
	}
	go func() {
		defer wg.Done()
		snap, err := p.Source.GetMarketSnapshot(ctx, symbols)
		if err != nil {
			snap = domain.MarketSnapshot{}
		}
		snapshot = snap
	}()
	wg.Wait()

	var out []domain.FeatureVector
	for _, r := range candleResults {
		out = append(out, candleFeatures(r.candles, r.config.Interval)...)
	}
	out = append(out, snapshotFeatures(snapshot)...)

	return out, snapshot, nil
}

// candleFeatures computes the last-bar change_pct per symbol for one
// interval's candle set (spec §4.2: only change_pct is load-bearing).
func candleFeatures(candles []domain.Candle, interval domain.Interval) []domain.FeatureVector {
	latest := make(map[string]domain.Candle, len(candles))
	for _, c := range candles {
		cur, ok := latest[c.Instrument.Symbol]
		if !ok || c.TsMs > cur.TsMs {
			latest[c.Instrument.Symbol] = c
		}
	}

	out := make([]domain.FeatureVector, 0, len(latest))
	for symbol, c := range latest {
		values := map[string]float64{
			"open":  c.Open,
			"close": c.Close,
			"high":  c.High,
			"low":   c.Low,
			"volume": c.Volume,
		}
		if c.Open != 0 {
			values["change_pct"] = (c.Close - c.Open) / c.Open
		}
		out = append(out, domain.FeatureVector{
			Ts:         c.TsMs,
			Instrument: domain.InstrumentRef{Symbol: symbol},
			Values:     values,
			Meta:       map[string]string{"interval": string(interval)},
		})
	}
	return out
}

// snapshotFeatures flattens the market snapshot bag into the per-symbol
// feature vectors named in spec §4.2 (price.*, open_interest, funding.*).
func snapshotFeatures(snapshot domain.MarketSnapshot) []domain.FeatureVector {
	out := make([]domain.FeatureVector, 0, len(snapshot))
	for symbol, sym := range snapshot {
		values := map[string]float64{}
		if sym.Price != nil {
			if sym.Price.Last != 0 {
				values["price.last"] = sym.Price.Last
			}
			if sym.Price.Close != 0 {
				values["price.close"] = sym.Price.Close
			}
			if sym.Price.Open != 0 {
				values["price.open"] = sym.Price.Open
			}
			if sym.Price.High != 0 {
				values["price.high"] = sym.Price.High
			}
			if sym.Price.Low != 0 {
				values["price.low"] = sym.Price.Low
			}
			if sym.Price.Bid != 0 {
				values["price.bid"] = sym.Price.Bid
			}
			if sym.Price.Ask != 0 {
				values["price.ask"] = sym.Price.Ask
			}
			if sym.Price.ChangePct != 0 {
				values["price.change_pct"] = sym.Price.ChangePct
			}
			if sym.Price.Volume != 0 {
				values["price.volume"] = sym.Price.Volume
			}
		}
		if sym.OpenInterest != nil {
			values["open_interest"] = sym.OpenInterest.Amount
		}
		if sym.FundingRate != nil {
			values["funding.rate"] = sym.FundingRate.Rate
			if sym.FundingRate.MarkPrice != 0 {
				values["funding.mark_price"] = sym.FundingRate.MarkPrice
			}
		}
		if len(values) == 0 {
			continue
		}
		out = append(out, domain.FeatureVector{
			Instrument: domain.InstrumentRef{Symbol: symbol},
			Values:     values,
			Meta:       map[string]string{"group_by": "market_snapshot"},
		})
	}
	return out
}
