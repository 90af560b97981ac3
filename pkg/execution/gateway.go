// Package execution defines the shared Execution Gateway contract and the
// concrete paper/live adapters that satisfy it.
package execution

import (
	"context"

	"github.com/nof0labs/stratrun/pkg/domain"
)

// Gateway submits normalized instructions and reports fills. Implemented by
// the paper simulator and by each live venue adapter, sharing one contract
// so the coordinator never branches on venue.
type Gateway interface {
	Execute(ctx context.Context, instructions []domain.TradeInstruction, snapshot domain.MarketSnapshot) ([]domain.TxResult, error)
}
