// Package composer defines the shared contract both planner variants
// (prompt-based and grid-based) implement, plus the digest type fed to
// them each cycle.
package composer

import (
	"context"

	"github.com/nof0labs/stratrun/pkg/domain"
)

// Digest is the rolling history summary built from the last N closed
// trades (win rate / average holding time), handed to composers as
// read-only context. It aggregates over all instruments; it holds no
// per-instrument breakdown.
type Digest struct {
	TradeCount   int     `json:"trade_count"`
	WinRate      float64 `json:"win_rate"`
	AvgHoldingMs float64 `json:"avg_holding_ms"`
}

// Context is the read-only bundle handed to a composer for one cycle.
type Context struct {
	TsMs           int64
	ComposeID      string
	StrategyID     string
	Features       []domain.FeatureVector
	Portfolio      domain.PortfolioView
	Digest         Digest
	PromptText     string
	MarketSnapshot domain.MarketSnapshot
	Constraints    domain.Constraints
	Trading        domain.TradingConfig
	IsSpot         bool
}

// Result is what a composer returns: already-normalized instructions plus
// a human-readable rationale (persisted regardless of whether any
// instructions were emitted).
type Result struct {
	Instructions []domain.TradeInstruction
	Rationale    string
}

// Composer is the shared planner contract: compose(context) -> Result.
type Composer interface {
	Compose(ctx context.Context, cctx Context) (Result, error)
}

// PriceMap extracts a symbol->reference-price lookup from a market
// snapshot, the shape the normalizer consumes.
func PriceMap(snapshot domain.MarketSnapshot) map[string]float64 {
	out := make(map[string]float64, len(snapshot))
	for symbol := range snapshot {
		out[symbol] = snapshot.ReferencePrice(symbol)
	}
	return out
}
