// Package prompt implements the LLM prompt-based composer: it builds a
// compact JSON payload from the cycle context, invokes the configured
// planner with a deterministic system prompt, validates the structured
// response, and routes the resulting plan through the shared normalizer.
package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/nof0labs/stratrun/pkg/composer"
	"github.com/nof0labs/stratrun/pkg/composer/normalize"
	"github.com/nof0labs/stratrun/pkg/domain"
	"github.com/nof0labs/stratrun/pkg/llm"
)

const systemPromptSuffix = `
You control one trading strategy. Respond only with a JSON plan proposal.
Rules:
- action must be one of: open_long, open_short, close_long, close_short, noop.
- target_qty is always a positive magnitude (the size of the operation), never a signed position target.
- Spot strategies may only use open_long and close_long.
- Emit at most one item per symbol.
- Never emit a direct flip between long and short on the same symbol; the executor splits flips into a close followed by an open on its own.
`

// planItemSchema is the wire shape the model is asked to fill per symbol.
type planItemSchema struct {
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"`
	TargetQty  float64 `json:"target_qty"`
	Leverage   float64 `json:"leverage,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Rationale  string  `json:"rationale,omitempty"`
}

// planSchema is the full structured-output contract for one cycle.
type planSchema struct {
	Items     []planItemSchema `json:"items"`
	Rationale string           `json:"rationale,omitempty"`
}

func parseAction(raw string) (domain.Action, bool) {
	switch raw {
	case "open_long":
		return domain.ActionOpenLong, true
	case "open_short":
		return domain.ActionOpenShort, true
	case "close_long":
		return domain.ActionCloseLong, true
	case "close_short":
		return domain.ActionCloseShort, true
	case "noop", "":
		return domain.ActionNoop, true
	default:
		return "", false
	}
}

// Composer is the LLM-driven planner.
type Composer struct {
	Client llm.LLMClient
	Model  string
}

// Compose implements composer.Composer.
func (c *Composer) Compose(ctx context.Context, cctx composer.Context) (composer.Result, error) {
	if c.Client == nil {
		return composer.Result{}, fmt.Errorf("prompt composer: llm client not configured")
	}

	pl := buildPayload(cctx)
	body, err := json.Marshal(pl)
	if err != nil {
		return composer.Result{}, fmt.Errorf("prompt composer: marshal payload: %w", err)
	}

	digest := llm.DigestString(string(body))
	req := &llm.ChatRequest{
		Model: c.Model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPromptSuffix},
			{Role: "user", Content: string(body)},
		},
	}

	logx.WithContext(ctx).Infof("prompt composer: invoking planner digest=%s compose_id=%s symbols=%d", digest, cctx.ComposeID, len(cctx.Trading.Symbols))

	start := time.Now()
	var out planSchema
	raw, err := c.Client.ChatStructured(ctx, req, &out)
	if err != nil {
		logx.WithContext(ctx).Errorf("prompt composer: llm invocation failed digest=%s duration=%s err=%v", digest, time.Since(start), err)
		return composer.Result{Rationale: fmt.Sprintf("LLM invocation failed: %v", err)}, nil
	}

	items := make([]domain.PlanItem, 0, len(out.Items))
	for _, it := range out.Items {
		action, ok := parseAction(it.Action)
		if !ok {
			continue
		}
		if cctx.IsSpot && (action == domain.ActionOpenShort || action == domain.ActionCloseShort) {
			continue
		}
		if it.TargetQty < 0 {
			it.TargetQty = -it.TargetQty
		}
		items = append(items, domain.PlanItem{
			Instrument: domain.InstrumentRef{Symbol: it.Symbol},
			Action:     action,
			TargetQty:  it.TargetQty,
			Leverage:   it.Leverage,
			Confidence: it.Confidence,
			Rationale:  it.Rationale,
		})
	}

	if len(items) == 0 {
		rationale := out.Rationale
		if rationale == "" {
			rationale = fmt.Sprintf("empty plan, raw response: %v", raw)
		}
		return composer.Result{Rationale: rationale}, nil
	}

	plan := domain.PlanProposal{TsMs: cctx.TsMs, Items: items, Rationale: out.Rationale}
	instructions := normalize.Normalize(normalize.Input{
		ComposeID:   cctx.ComposeID,
		Portfolio:   cctx.Portfolio,
		Constraints: cctx.Constraints,
		Plan:        plan,
		PriceMap:    composer.PriceMap(cctx.MarketSnapshot),
		IsSpot:      cctx.IsSpot,
		MaxLeverage: cctx.Trading.MaxLeverage,
		CapFactor:   cctx.Trading.CapFactor,
	})

	return composer.Result{Instructions: instructions, Rationale: out.Rationale}, nil
}
