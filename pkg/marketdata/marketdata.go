// Package marketdata implements the Market Data Source (spec §4.1): it
// pulls multi-interval OHLCV candles and a per-symbol snapshot (ticker,
// open interest, funding) from an exchange, normalizing symbols and
// fanning per-symbol fetches out concurrently. A per-symbol failure never
// aborts the batch — it simply yields an empty result for that symbol.
package marketdata

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nof0labs/stratrun/pkg/domain"
	"github.com/nof0labs/stratrun/pkg/market/exchanges/hyperliquid"
)

const (
	defaultCallTimeout = 10 * time.Second
	defaultSnapshotTTL = 30 * time.Second
)

// Source is the exchange-agnostic market data contract the decision
// coordinator and feature pipeline consume.
type Source interface {
	GetRecentCandles(ctx context.Context, symbols []string, interval domain.Interval, lookback int) ([]domain.Candle, error)
	GetMarketSnapshot(ctx context.Context, symbols []string) (domain.MarketSnapshot, error)
}

// HyperliquidSource is the stateless Hyperliquid-backed Market Data Source.
// It is safe for concurrent use; each call creates a fresh exchange handle
// internally as the spec requires, rather than holding one across calls.
type HyperliquidSource struct {
	// Timeout bounds each per-symbol sub-fetch. Defaults to 10s.
	Timeout time.Duration
	// NewClient builds a fresh client handle; overridable in tests.
	NewClient func() *hyperliquid.Client
	// Testnet routes the constructed client at the testnet endpoints.
	Testnet bool

	// Cache fronts GetMarketSnapshot; nil disables caching entirely.
	Cache SnapshotCache
	// CacheTTL bounds how long a cached snapshot is served before the next
	// fetch bypasses it. Defaults to one decide interval's worth (30s).
	CacheTTL time.Duration
}

// NewHyperliquidSource constructs a source with teacher defaults.
func NewHyperliquidSource(testnet bool) *HyperliquidSource {
	return &HyperliquidSource{Timeout: defaultCallTimeout, Testnet: testnet}
}

func (s *HyperliquidSource) newClient() *hyperliquid.Client {
	if s.NewClient != nil {
		return s.NewClient()
	}
	var opts []hyperliquid.Option
	if s.Testnet {
		opts = append(opts, hyperliquid.WithTestnet())
	}
	return hyperliquid.NewClient(opts...)
}

func (s *HyperliquidSource) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return defaultCallTimeout
}

// normalizeSymbol converts an exchange-agnostic symbol ("BTC-USDT") into
// the Hyperliquid coin naming convention ("BTC"); Hyperliquid trades
// single-coin perps/spot pairs rather than quote-currency pairs.
func normalizeSymbol(symbol string) string {
	up := strings.ToUpper(strings.TrimSpace(symbol))
	for _, suffix := range []string{"-USDT", "-USDC", "-USD", "/USDT", "/USDC", "/USD"} {
		if strings.HasSuffix(up, suffix) {
			return strings.TrimSuffix(up, suffix)
		}
	}
	return up
}

// GetRecentCandles implements Source: for each symbol, fetch up to
// lookback most recent candles at the given interval. Per-symbol fetches
// run concurrently; a failed symbol contributes nothing to the result.
// Results are flattened into one ordered sequence (symbol order preserved,
// each symbol's candles ascending by time).
func (s *HyperliquidSource) GetRecentCandles(ctx context.Context, symbols []string, interval domain.Interval, lookback int) ([]domain.Candle, error) {
	if len(symbols) == 0 || lookback <= 0 {
		return nil, nil
	}
	client := s.newClient()
	defer client.Close()

	results := make([][]domain.Candle, len(symbols))
	var wg sync.WaitGroup
	for i, symbol := range symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, s.timeout())
			defer cancel()

			canonical := normalizeSymbol(symbol)
			wireInterval := hyperliquid.HyperliquidInterval(string(interval))
			klines, err := client.GetKlines(cctx, canonical, wireInterval, lookback)
			if err != nil {
				logx.WithContext(ctx).Infof("marketdata: candles fetch failed symbol=%s interval=%s err=%v", symbol, interval, err)
				return
			}
			out := make([]domain.Candle, 0, len(klines))
			for _, k := range klines {
				out = append(out, domain.Candle{
					TsMs:       k.OpenTime,
					Instrument: domain.InstrumentRef{Symbol: symbol},
					Open:       k.Open,
					High:       k.High,
					Low:        k.Low,
					Close:      k.Close,
					Volume:     k.Volume,
					Interval:   interval,
				})
			}
			results[i] = out
		}(i, symbol)
	}
	wg.Wait()

	var flat []domain.Candle
	for _, r := range results {
		flat = append(flat, r...)
	}
	return flat, nil
}

// GetMarketSnapshot implements Source: for each symbol not served from
// Cache, one GetMarketInfo call supplies ticker, open interest and funding
// together. When that call fails the symbol is left out of the result; the
// three parts are not fetched or dropped separately, except that a zero
// value leaves its part unset. All underlying connections are closed before
// returning.
func (s *HyperliquidSource) GetMarketSnapshot(ctx context.Context, symbols []string) (domain.MarketSnapshot, error) {
	snapshot := make(domain.MarketSnapshot, len(symbols))
	if len(symbols) == 0 {
		return snapshot, nil
	}

	var toFetch []string
	if s.Cache != nil {
		for _, symbol := range symbols {
			if cached, ok := s.Cache.Get(ctx, symbol); ok {
				snapshot[symbol] = cached
				continue
			}
			toFetch = append(toFetch, symbol)
		}
	} else {
		toFetch = symbols
	}
	if len(toFetch) == 0 {
		return snapshot, nil
	}

	client := s.newClient()
	defer client.Close()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, symbol := range toFetch {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, s.timeout())
			defer cancel()

			canonical := normalizeSymbol(symbol)
			info, err := client.GetMarketInfo(cctx, canonical)
			if err != nil {
				logx.WithContext(ctx).Infof("marketdata: snapshot fetch failed symbol=%s err=%v", symbol, err)
				return
			}

			sym := domain.SymbolSnapshot{}
			if info.MidPrice > 0 || info.MarkPrice > 0 {
				last := info.MidPrice
				if last == 0 {
					last = info.MarkPrice
				}
				sym.Price = &domain.PriceInfo{Last: last, Volume: info.DayVolume}
			}
			if info.OpenInterest != 0 {
				sym.OpenInterest = &domain.OpenInterestInfo{Amount: info.OpenInterest}
			}
			if info.FundingRate != 0 || info.MarkPrice != 0 {
				sym.FundingRate = &domain.FundingInfo{Rate: info.FundingRate, MarkPrice: info.MarkPrice}
			}

			if s.Cache != nil {
				s.Cache.Put(ctx, symbol, sym, s.cacheTTL())
			}

			mu.Lock()
			snapshot[symbol] = sym
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	return snapshot, nil
}

func (s *HyperliquidSource) cacheTTL() time.Duration {
	if s.CacheTTL > 0 {
		return s.CacheTTL
	}
	return defaultSnapshotTTL
}
