package hyperliquid

import (
	"context"
	"fmt"
	"sort"
	"time"
)

var intervalDurations = map[string]time.Duration{
	"1s":  time.Second,
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour,
}

// HyperliquidInterval maps a spec-level domain.Interval string to the wire
// interval Hyperliquid's candleSnapshot endpoint accepts. Hyperliquid has no
// native 1s bars; the nearest supported granularity (1m) is substituted and
// the caller's own lookback/lastbar semantics still apply on top of it.
func HyperliquidInterval(specInterval string) string {
	switch specInterval {
	case "1s":
		return "1m"
	case "1m":
		return "1m"
	case "5m":
		return "5m"
	case "15m":
		return "15m"
	case "30m":
		return "30m"
	case "60m":
		return "1h"
	case "1d":
		return "1d"
	case "1w":
		return "1w"
	case "1mo":
		return "1M"
	default:
		return specInterval
	}
}

// GetKlines fetches OHLCV data for the given interval.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]Kline, error) {
	duration, ok := intervalDurations[interval]
	if !ok {
		return nil, fmt.Errorf("hyperliquid: unsupported interval %q", interval)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("hyperliquid: limit must be positive")
	}

	canonical, err := c.canonicalSymbolFor(ctx, symbol)
	if err != nil {
		return nil, err
	}
	endTime := time.Now().UTC()
	startTime := endTime.Add(-duration * time.Duration(limit+10))

	var response CandleResponse
	request := InfoRequest{
		Type: "candleSnapshot",
		Req: CandleSnapshotRequest{
			Coin:      canonical,
			Interval:  interval,
			StartTime: startTime.UnixMilli(),
			EndTime:   endTime.UnixMilli(),
		},
	}

	if err := c.doRequest(ctx, request, &response); err != nil {
		return nil, err
	}
	if len(response) == 0 {
		return nil, fmt.Errorf("hyperliquid: empty kline response for %s %s", canonical, interval)
	}

	klines := make([]Kline, 0, len(response))
	for _, item := range response {
		klines = append(klines, Kline{
			OpenTime:  item.T,
			Open:      item.O,
			High:      item.H,
			Low:       item.L,
			Close:     item.C,
			Volume:    item.V,
			CloseTime: item.TClose,
		})
	}

	sort.Slice(klines, func(i, j int) bool {
		return klines[i].OpenTime < klines[j].OpenTime
	})

	if len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}

	return klines, nil
}
