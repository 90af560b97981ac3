// Package coordinator implements the Decision Coordinator (spec §4.6): it
// orchestrates one cycle end-to-end — features, digest, portfolio view,
// compose, execute, apply — and produces a DecisionCycleResult that never
// aborts the loop on a non-fatal error. It does not persist anything itself.
package coordinator

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nof0labs/stratrun/pkg/composer"
	"github.com/nof0labs/stratrun/pkg/domain"
	"github.com/nof0labs/stratrun/pkg/execution"
	"github.com/nof0labs/stratrun/pkg/features"
	"github.com/nof0labs/stratrun/pkg/portfolio"
)

var tracer = otel.Tracer("github.com/nof0labs/stratrun/pkg/coordinator")

var (
	cycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "stratrun_cycle_duration_seconds",
		Help: "Wall-clock duration of one decision cycle, by strategy.",
	}, []string{"strategy_id"})
	instructionsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stratrun_instructions_emitted_total",
		Help: "Trade instructions emitted per cycle, by strategy.",
	}, []string{"strategy_id"})
	cycleErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stratrun_cycle_errors_total",
		Help: "Non-fatal errors absorbed into a cycle rationale, by strategy and stage.",
	}, []string{"strategy_id", "stage"})
)

func init() {
	prometheus.MustRegister(cycleDuration, instructionsEmitted, cycleErrors)
}

// Clock abstracts wall-clock time so tests can drive deterministic ticks.
type Clock interface {
	NowMs() int64
}

// SystemClock is the production Clock.
type SystemClock struct{}

// NowMs implements Clock.
func (SystemClock) NowMs() int64 { return time.Now().UnixMilli() }

const maxDigestTrades = 200

// Coordinator runs the per-strategy decision cycle.
type Coordinator struct {
	StrategyID  string
	Clock       Clock
	Features    *features.Pipeline
	Composer    composer.Composer
	Gateway     execution.Gateway
	Portfolio   *portfolio.Service
	Constraints domain.Constraints
	Trading     domain.TradingConfig
	IsSpot      bool

	cycleIndex  int64
	closedTrades []domain.TradeHistoryEntry
}

// New constructs a coordinator wired with the per-strategy collaborators.
func New(strategyID string, clock Clock, fp *features.Pipeline, c composer.Composer, gw execution.Gateway, pf *portfolio.Service, constraints domain.Constraints, trading domain.TradingConfig, isSpot bool) *Coordinator {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Coordinator{
		StrategyID:  strategyID,
		Clock:       clock,
		Features:    fp,
		Composer:    c,
		Gateway:     gw,
		Portfolio:   pf,
		Constraints: constraints,
		Trading:     trading,
		IsSpot:      isSpot,
	}
}

// RunOnce executes one decision cycle (spec §4.6, 7 steps). Every step
// absorbs its own errors into the returned rationale; the coordinator
// never returns an error that should stop the caller's loop.
func (co *Coordinator) RunOnce(ctx context.Context) domain.DecisionCycleResult {
	ctx, span := tracer.Start(ctx, "coordinator.RunOnce", trace.WithAttributes(
		attribute.String("strategy_id", co.StrategyID),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		cycleDuration.WithLabelValues(co.StrategyID).Observe(time.Since(start).Seconds())
	}()

	tsMs := co.Clock.NowMs()
	composeID := uuid.NewString()
	cycleIndex := atomic.AddInt64(&co.cycleIndex, 1)

	var rationaleParts []string
	addStep := func(msg string) {
		if msg != "" {
			rationaleParts = append(rationaleParts, msg)
		}
	}

	// Step 2: feature pipeline (market data + snapshot fan-out inside).
	var featureVectors []domain.FeatureVector
	var snapshot domain.MarketSnapshot
	if co.Features != nil {
		fv, snap, err := co.Features.Build(ctx, co.Trading.Symbols)
		if err != nil {
			cycleErrors.WithLabelValues(co.StrategyID, "features").Inc()
			addStep(fmt.Sprintf("feature pipeline failed: %v", err))
		}
		featureVectors = fv
		snapshot = snap
	}
	priceMap := composer.PriceMap(snapshot)

	// Step 3: digest (rolling per-instrument stats, closed trades only).
	digest := co.buildDigest()

	// Step 4: portfolio view with mark prices folded in.
	view := co.Portfolio.View(tsMs, priceMap)

	cctx := composer.Context{
		TsMs:           tsMs,
		ComposeID:      composeID,
		StrategyID:     co.StrategyID,
		Features:       featureVectors,
		Portfolio:      view,
		Digest:         digest,
		PromptText:     co.Trading.ResolvedPrompt(),
		MarketSnapshot: snapshot,
		Constraints:    co.Constraints,
		Trading:        co.Trading,
		IsSpot:         co.IsSpot,
	}

	// Step 5: compose.
	var instructions []domain.TradeInstruction
	var rationale string
	if co.Composer == nil {
		addStep("no composer configured")
	} else {
		result, err := co.Composer.Compose(ctx, cctx)
		if err != nil {
			cycleErrors.WithLabelValues(co.StrategyID, "compose").Inc()
			addStep(fmt.Sprintf("compose failed: %v", err))
		} else {
			instructions = result.Instructions
			rationale = result.Rationale
		}
	}
	addStep(rationale)
	instructionsEmitted.WithLabelValues(co.StrategyID).Add(float64(len(instructions)))

	// Step 6: execute + apply.
	var trades []domain.TradeHistoryEntry
	if len(instructions) > 0 && co.Gateway != nil {
		results, err := co.Gateway.Execute(ctx, instructions, snapshot)
		if err != nil {
			cycleErrors.WithLabelValues(co.StrategyID, "execute").Inc()
			addStep(fmt.Sprintf("execution error: %v", err))
		} else {
			trades = co.applyResults(results, view, composeID, tsMs)
		}
	}

	// Step 7: assemble result.
	finalView := co.Portfolio.View(tsMs, priceMap)
	summary := co.summary()

	return domain.DecisionCycleResult{
		ComposeID:       composeID,
		CycleIndex:      cycleIndex,
		TimestampMs:     tsMs,
		Rationale:       joinRationale(rationaleParts),
		Instructions:    instructions,
		Trades:          trades,
		PortfolioView:   finalView,
		StrategySummary: summary,
	}
}

func (co *Coordinator) applyResults(results []domain.TxResult, priorView domain.PortfolioView, composeID string, tsMs int64) []domain.TradeHistoryEntry {
	now := time.UnixMilli(tsMs)
	entries := make([]domain.TradeHistoryEntry, 0, len(results))
	for _, r := range results {
		if r.Status != domain.TxStatusFilled && r.Status != domain.TxStatusPartial {
			continue
		}
		current := priorView.Positions[r.Instrument.Symbol]
		entry := portfolio.TradeHistoryFromFill(composeID, co.StrategyID, r, current, now)
		entries = append(entries, entry)
	}
	if len(entries) > 0 {
		co.Portfolio.ApplyTrades(entries, nil)
		co.recordClosed(entries)
	}
	return entries
}

func (co *Coordinator) recordClosed(entries []domain.TradeHistoryEntry) {
	for _, e := range entries {
		if e.RealizedPnl != nil {
			co.closedTrades = append(co.closedTrades, e)
		}
	}
	if len(co.closedTrades) > maxDigestTrades {
		co.closedTrades = co.closedTrades[len(co.closedTrades)-maxDigestTrades:]
	}
}

// buildDigest computes the rolling summary from the last N closed trades:
// win rate and average holding time, never from open positions (spec §4.6
// step 3). It is one aggregate over all instruments; no per-instrument
// breakdown is kept.
func (co *Coordinator) buildDigest() composer.Digest {
	if len(co.closedTrades) == 0 {
		return composer.Digest{}
	}
	var wins int
	var totalHolding float64
	for _, t := range co.closedTrades {
		if t.RealizedPnl != nil && *t.RealizedPnl > 0 {
			wins++
		}
		totalHolding += float64(t.HoldingMs)
	}
	n := len(co.closedTrades)
	return composer.Digest{
		TradeCount:   n,
		WinRate:      float64(wins) / float64(n),
		AvgHoldingMs: totalHolding / float64(n),
	}
}

func (co *Coordinator) summary() domain.StrategySummary {
	d := co.buildDigest()
	var totalPnl float64
	for _, t := range co.closedTrades {
		if t.RealizedPnl != nil {
			totalPnl += *t.RealizedPnl
		}
	}
	return domain.StrategySummary{
		TradeCount:       d.TradeCount,
		WinCount:         int(math.Round(d.WinRate * float64(d.TradeCount))),
		WinRate:          d.WinRate,
		AvgHoldingMs:     d.AvgHoldingMs,
		TotalRealizedPnl: totalPnl,
	}
}

func joinRationale(parts []string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += "; "
		}
		out += p
	}
	return out
}
