// Package paper implements the simulated fill gateway (§4.4.1): it values
// instructions off the latest market snapshot, applies a slippage/fee
// scalar, and rejects instructions lacking a reference price. An optional
// Redis-backed idempotency cache makes re-submission of the same
// instruction_id safe, matching the §5 idempotency invariant.
package paper

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nof0labs/stratrun/pkg/domain"
)

const defaultFeeBps = 10.0

// IdempotencyCache records instruction_ids already executed so a retried
// submission returns the prior result instead of filling twice.
type IdempotencyCache interface {
	Get(ctx context.Context, instructionID string) (domain.TxResult, bool)
	Put(ctx context.Context, instructionID string, result domain.TxResult, ttl time.Duration)
}

// Gateway is the paper-trading execution backend.
type Gateway struct {
	FeeBps float64
	Cache  IdempotencyCache

	mu sync.Mutex
}

// New constructs a paper gateway with the teacher's default fee schedule.
func New(cache IdempotencyCache) *Gateway {
	return &Gateway{FeeBps: defaultFeeBps, Cache: cache}
}

// Execute implements execution.Gateway.
func (g *Gateway) Execute(ctx context.Context, instructions []domain.TradeInstruction, snapshot domain.MarketSnapshot) ([]domain.TxResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	feeBps := g.FeeBps
	if feeBps <= 0 {
		feeBps = defaultFeeBps
	}

	results := make([]domain.TxResult, 0, len(instructions))
	for _, inst := range instructions {
		if g.Cache != nil {
			if cached, ok := g.Cache.Get(ctx, inst.InstructionID); ok {
				results = append(results, cached)
				continue
			}
		}

		result := g.fill(inst, snapshot, feeBps)

		if g.Cache != nil {
			g.Cache.Put(ctx, inst.InstructionID, result, 24*time.Hour)
		}
		results = append(results, result)
	}
	return results, nil
}

func (g *Gateway) fill(inst domain.TradeInstruction, snapshot domain.MarketSnapshot, feeBps float64) domain.TxResult {
	refPrice := snapshot.ReferencePrice(inst.Instrument.Symbol)
	if refPrice <= 0 {
		logx.Infof("paper gateway: rejecting %s, no reference price for %s", inst.InstructionID, inst.Instrument.Symbol)
		return domain.TxResult{
			InstructionID: inst.InstructionID,
			Instrument:    inst.Instrument,
			Side:          inst.Side,
			RequestedQty:  inst.Quantity,
			FilledQty:     0,
			Status:        domain.TxStatusRejected,
			Reason:        "no_price",
		}
	}

	slip := inst.MaxSlippageBps / 10000.0
	execPrice := refPrice * (1 + slip)
	if inst.Side == domain.SideSell {
		execPrice = refPrice * (1 - slip)
	}

	notional := execPrice * inst.Quantity
	feeCost := notional * (feeBps / 10000.0)

	return domain.TxResult{
		InstructionID: inst.InstructionID,
		Instrument:    inst.Instrument,
		Side:          inst.Side,
		RequestedQty:  inst.Quantity,
		FilledQty:     inst.Quantity,
		AvgExecPrice:  &execPrice,
		SlippageBps:   &inst.MaxSlippageBps,
		FeeCost:       &feeCost,
		Leverage:      inst.Leverage,
		Status:        domain.TxStatusFilled,
	}
}

// RedisIdempotencyCache is the Redis-backed IdempotencyCache implementation,
// grounded on ice444999-Bazil's use of go-redis for cross-process caching.
type RedisIdempotencyCache struct {
	Client *redis.Client
	Prefix string
}

func (c *RedisIdempotencyCache) key(instructionID string) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "paper:tx:"
	}
	return prefix + instructionID
}

// Get implements IdempotencyCache.
func (c *RedisIdempotencyCache) Get(ctx context.Context, instructionID string) (domain.TxResult, bool) {
	var out domain.TxResult
	raw, err := c.Client.Get(ctx, c.key(instructionID)).Result()
	if err != nil {
		return out, false
	}
	if err := unmarshalTxResult(raw, &out); err != nil {
		return out, false
	}
	return out, true
}

// Put implements IdempotencyCache.
func (c *RedisIdempotencyCache) Put(ctx context.Context, instructionID string, result domain.TxResult, ttl time.Duration) {
	raw, err := marshalTxResult(result)
	if err != nil {
		return
	}
	if err := c.Client.Set(ctx, c.key(instructionID), raw, ttl).Err(); err != nil {
		logx.Errorf("paper gateway: idempotency cache write failed: %v", err)
	}
}

func marshalTxResult(result domain.TxResult) (string, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("paper gateway: marshal tx result: %w", err)
	}
	return string(b), nil
}

func unmarshalTxResult(raw string, out *domain.TxResult) error {
	return json.Unmarshal([]byte(raw), out)
}
