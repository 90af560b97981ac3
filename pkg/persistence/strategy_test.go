package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nof0labs/stratrun/pkg/domain"
)

func TestService_NilConn_EverythingIsANoop(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.False(t, s.StrategyRunning(ctx, "strat-1"))
	require.NoError(t, s.SetStrategyStatus(ctx, "strat-1", "running"))
	require.NoError(t, s.SetStopReason(ctx, "strat-1", "normal_exit", ""))
	require.NoError(t, s.UpdateInitialCapital(ctx, "strat-1", 1000))
	require.False(t, s.HasInitialSnapshot(ctx, "strat-1"))
	require.NoError(t, s.PersistCycle(ctx, "strat-1", "c1", 1, 0, "rationale"))
	require.NoError(t, s.PersistInstructions(ctx, "strat-1", "c1", []domain.TradeInstruction{{InstructionID: "i1"}}))
	require.False(t, s.PersistTrade(ctx, "strat-1", domain.TradeHistoryEntry{TradeID: "t1"}))
	require.False(t, s.PersistPortfolioView(ctx, domain.PortfolioView{StrategyID: "strat-1"}))
	require.False(t, s.PersistStrategySummary(ctx, "strat-1", domain.StrategySummary{}))
}

func TestService_NilService_EverythingIsANoop(t *testing.T) {
	var s *Service
	ctx := context.Background()

	require.False(t, s.StrategyRunning(ctx, "strat-1"))
	require.NoError(t, s.SetStrategyStatus(ctx, "strat-1", "running"))
	require.False(t, s.PersistTrade(ctx, "strat-1", domain.TradeHistoryEntry{}))
}

func TestService_PersistInstructions_EmptyIsNoop(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.PersistInstructions(context.Background(), "strat-1", "c1", nil))
}

func TestNullFloat(t *testing.T) {
	require.False(t, nullFloat(nil).Valid)
	v := 1.5
	nf := nullFloat(&v)
	require.True(t, nf.Valid)
	require.Equal(t, 1.5, nf.Float64)
}

func TestNullInt(t *testing.T) {
	require.False(t, nullInt(0).Valid)
	ni := nullInt(42)
	require.True(t, ni.Valid)
	require.EqualValues(t, 42, ni.Int64)
}
