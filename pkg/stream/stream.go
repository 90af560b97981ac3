// Package stream implements the Stream Controller (spec §4.7): the
// lifecycle state machine around a strategy's decision loop. It waits for
// an external "running" signal, persists initial and per-cycle state, and
// finalizes the strategy on cancellation or error with a recorded stop
// reason. Ported near line-for-line from the original stream controller,
// with persistence/exceptions swapped for Go's context and error idioms.
package stream

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nof0labs/stratrun/pkg/coordinator"
	"github.com/nof0labs/stratrun/pkg/domain"
	"github.com/nof0labs/stratrun/pkg/eventbus"
	"github.com/nof0labs/stratrun/pkg/persistence"
	"github.com/nof0labs/stratrun/pkg/portfolio"
)

// State is one of the controller's lifecycle states.
type State string

const (
	StateInitializing  State = "INITIALIZING"
	StateWaitingRunning State = "WAITING_RUNNING"
	StateRunning       State = "RUNNING"
	StateStopped       State = "STOPPED"
)

// StopReason records why a strategy's stream was finalized.
type StopReason string

const (
	StopReasonNormalExit StopReason = "normal_exit"
	StopReasonCancelled  StopReason = "cancelled"
	StopReasonError      StopReason = "error"
)

const defaultWaitRunningTimeout = 300 * time.Second

// Controller orchestrates one strategy's lifecycle, persistence and event
// publishing around its decision coordinator.
type Controller struct {
	StrategyID  string
	Timeout     time.Duration
	Coordinator Coordinator
	Store       *persistence.Service
	Events      *eventbus.Publisher
	IsLive      bool
	InitialCash float64

	state State
}

// Coordinator is the subset of *coordinator.Coordinator the stream
// controller depends on, narrowed for testability.
type Coordinator interface {
	RunOnce(ctx context.Context) domain.DecisionCycleResult
}

var _ Coordinator = (*coordinator.Coordinator)(nil)

// New constructs a controller in the INITIALIZING state.
func New(strategyID string, co *coordinator.Coordinator, store *persistence.Service, events *eventbus.Publisher) *Controller {
	return &Controller{
		StrategyID:  strategyID,
		Timeout:     defaultWaitRunningTimeout,
		Coordinator: co,
		Store:       store,
		Events:      events,
		state:       StateInitializing,
	}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State { return c.state }

func (c *Controller) transitionTo(ctx context.Context, next State) {
	logx.WithContext(ctx).Infof("stream controller strategy=%s: %s -> %s", c.StrategyID, c.state, next)
	c.state = next
	if c.Events != nil {
		c.Events.PublishStatus(ctx, eventbus.StatusEvent{
			StrategyID: c.StrategyID,
			State:      string(next),
			TsMs:       time.Now().UnixMilli(),
		})
	}
}

// WaitRunning polls persistence once per second until the strategy is
// marked running or the timeout elapses, then transitions to RUNNING
// regardless — a timed-out wait still runs, matching the original's
// fail-open behavior, since persistence trouble shouldn't block a strategy
// that was otherwise asked to start.
func (c *Controller) WaitRunning(ctx context.Context) {
	c.transitionTo(ctx, StateWaitingRunning)
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultWaitRunningTimeout
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

loop:
	for {
		if c.Store == nil || c.Store.StrategyRunning(ctx, c.StrategyID) {
			break loop
		}
		if time.Now().After(deadline) {
			logx.WithContext(ctx).Errorf("stream controller: timeout waiting for strategy=%s to be marked running (%s)", c.StrategyID, timeout)
			break loop
		}
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			logx.WithContext(ctx).Infof("stream controller: waiting for strategy=%s to be marked running", c.StrategyID)
		}
	}
	c.transitionTo(ctx, StateRunning)
}

// PersistInitialState persists the starting portfolio snapshot and an empty
// summary, and — in live mode, on the very first snapshot only — records
// the portfolio's free cash (InitialCash when that is zero) as the
// strategy's initial_capital. The exchange balance is not queried; the
// value comes from the in-memory portfolio.
func (c *Controller) PersistInitialState(ctx context.Context, pf *portfolio.Service) {
	if c.Store == nil || pf == nil {
		return
	}
	isFirst := !c.Store.HasInitialSnapshot(ctx, c.StrategyID)

	view := pf.View(time.Now().UnixMilli(), nil)
	view.StrategyID = c.StrategyID
	if c.Store.PersistPortfolioView(ctx, view) {
		logx.WithContext(ctx).Infof("stream controller: persisted initial portfolio view strategy=%s", c.StrategyID)
	}
	if c.Store.PersistStrategySummary(ctx, c.StrategyID, domain.StrategySummary{}) {
		logx.WithContext(ctx).Infof("stream controller: persisted initial strategy summary strategy=%s", c.StrategyID)
	}

	if c.IsLive && isFirst {
		initialCash := pf.FreeCash()
		if initialCash == 0 {
			initialCash = c.InitialCash
		}
		if initialCash != 0 {
			if err := c.Store.UpdateInitialCapital(ctx, c.StrategyID, initialCash); err != nil {
				logx.WithContext(ctx).Errorf("stream controller: update_initial_capital failed strategy=%s err=%v", c.StrategyID, err)
			} else {
				logx.WithContext(ctx).Infof("stream controller: updated initial_capital=%v strategy=%s (live mode)", initialCash, c.StrategyID)
			}
		}
	}
}

// PersistCycleResults persists one cycle's compose record, instructions,
// trades, portfolio view and summary, and publishes a CycleEvent. Every
// step is independently best-effort.
func (c *Controller) PersistCycleResults(ctx context.Context, result domain.DecisionCycleResult) {
	if c.Store != nil {
		if err := c.Store.PersistCycle(ctx, c.StrategyID, result.ComposeID, result.CycleIndex, result.TimestampMs, result.Rationale); err != nil {
			logx.WithContext(ctx).Errorf("stream controller: persist_cycle failed strategy=%s compose_id=%s err=%v", c.StrategyID, result.ComposeID, err)
		}
		if err := c.Store.PersistInstructions(ctx, c.StrategyID, result.ComposeID, result.Instructions); err != nil {
			logx.WithContext(ctx).Errorf("stream controller: persist_instructions failed strategy=%s compose_id=%s err=%v", c.StrategyID, result.ComposeID, err)
		}
		for _, trade := range result.Trades {
			if c.Store.PersistTrade(ctx, c.StrategyID, trade) {
				logx.WithContext(ctx).Infof("stream controller: persisted trade=%s strategy=%s", trade.TradeID, c.StrategyID)
			}
		}
		if c.Store.PersistPortfolioView(ctx, result.PortfolioView) {
			logx.WithContext(ctx).Infof("stream controller: persisted portfolio view strategy=%s", c.StrategyID)
		}
		if c.Store.PersistStrategySummary(ctx, c.StrategyID, result.StrategySummary) {
			logx.WithContext(ctx).Infof("stream controller: persisted strategy summary strategy=%s", c.StrategyID)
		}
	}

	if c.Events != nil {
		c.Events.PublishCycle(ctx, eventbus.CycleEvent{
			StrategyID:       c.StrategyID,
			ComposeID:        result.ComposeID,
			CycleIndex:       result.CycleIndex,
			InstructionCount: len(result.Instructions),
			TradeCount:       len(result.Trades),
			TsMs:             result.TimestampMs,
		})
	}
}

// IsRunning reports whether persistence still marks the strategy running;
// the run loop polls this to decide whether to keep cycling.
func (c *Controller) IsRunning(ctx context.Context) bool {
	if c.Store == nil {
		return true
	}
	return c.Store.StrategyRunning(ctx, c.StrategyID)
}

// Finalize transitions to STOPPED, marks persistence, and records the stop
// reason. Errors are logged, not returned, so a shutdown sequence always
// runs to completion.
func (c *Controller) Finalize(ctx context.Context, reason StopReason, detail string) {
	c.transitionTo(ctx, StateStopped)

	if c.Store == nil {
		return
	}
	if err := c.Store.SetStrategyStatus(ctx, c.StrategyID, "stopped"); err != nil {
		logx.WithContext(ctx).Errorf("stream controller: failed to mark strategy=%s stopped reason=%s err=%v", c.StrategyID, reason, err)
	} else {
		logx.WithContext(ctx).Infof("stream controller: marked strategy=%s stopped reason=%s", c.StrategyID, reason)
	}
	if err := c.Store.SetStopReason(ctx, c.StrategyID, string(reason), detail); err != nil {
		logx.WithContext(ctx).Errorf("stream controller: failed to record stop reason strategy=%s err=%v", c.StrategyID, err)
	}
}

// Run drives the full lifecycle: wait for the running signal, persist
// initial state, then cycle the coordinator at decideInterval until the
// context is cancelled or persistence marks the strategy stopped.
func (c *Controller) Run(ctx context.Context, pf *portfolio.Service, decideInterval time.Duration) {
	c.transitionTo(ctx, StateInitializing)
	c.WaitRunning(ctx)
	c.PersistInitialState(ctx, pf)

	if decideInterval <= 0 {
		decideInterval = time.Second
	}
	ticker := time.NewTicker(decideInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Finalize(ctx, StopReasonCancelled, ctx.Err().Error())
			return
		case <-ticker.C:
			if !c.IsRunning(ctx) {
				c.Finalize(ctx, StopReasonNormalExit, "")
				return
			}
			result := c.Coordinator.RunOnce(ctx)
			c.PersistCycleResults(ctx, result)
		}
	}
}
