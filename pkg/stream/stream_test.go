package stream

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nof0labs/stratrun/pkg/domain"
	"github.com/nof0labs/stratrun/pkg/portfolio"
)

type stubCoordinator struct {
	calls int32
}

func (s *stubCoordinator) RunOnce(ctx context.Context) domain.DecisionCycleResult {
	atomic.AddInt32(&s.calls, 1)
	return domain.DecisionCycleResult{ComposeID: "c1", CycleIndex: int64(s.calls)}
}

func TestController_WaitRunning_NoStoreTransitionsImmediately(t *testing.T) {
	c := &Controller{StrategyID: "strat-1", state: StateInitializing}
	c.WaitRunning(context.Background())
	require.Equal(t, StateRunning, c.State())
}

func TestController_PersistInitialState_NoStoreIsNoop(t *testing.T) {
	c := &Controller{StrategyID: "strat-1"}
	pf := portfolio.New("strat-1", domain.MarketTypeSpot, domain.Constraints{}, 1, 1000)
	require.NotPanics(t, func() { c.PersistInitialState(context.Background(), pf) })
}

func TestController_IsRunning_DefaultsTrueWithoutStore(t *testing.T) {
	c := &Controller{StrategyID: "strat-1"}
	require.True(t, c.IsRunning(context.Background()))
}

func TestController_Finalize_TransitionsToStopped(t *testing.T) {
	c := &Controller{StrategyID: "strat-1", state: StateRunning}
	c.Finalize(context.Background(), StopReasonNormalExit, "")
	require.Equal(t, StateStopped, c.State())
}

func TestController_Run_StopsOnCancellation(t *testing.T) {
	co := &stubCoordinator{}
	c := &Controller{StrategyID: "strat-1", Coordinator: co, state: StateInitializing}

	pf := portfolio.New("strat-1", domain.MarketTypeSpot, domain.Constraints{}, 1, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c.Run(ctx, pf, 5*time.Millisecond)

	require.Equal(t, StateStopped, c.State())
	require.Greater(t, atomic.LoadInt32(&co.calls), int32(0))
}
