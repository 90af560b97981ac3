package grid

import (
	"context"
	"fmt"

	"github.com/nof0labs/stratrun/pkg/composer"
	"github.com/nof0labs/stratrun/pkg/llm"
)

// llmAdviceSchema is the structured-output shape the parameter advisor
// asks the model to fill in. Field names mirror the original Python
// llm_param_advisor.py output contract.
type llmAdviceSchema struct {
	GridStepPct      float64 `json:"grid_step_pct" description:"fractional price spacing between grid lines, e.g. 0.005 for 0.5%"`
	GridMaxSteps     int     `json:"grid_max_steps" description:"maximum number of grid steps to apply in one cycle"`
	GridBaseFraction float64 `json:"grid_base_fraction" description:"fraction of equity committed per grid step"`
	GridLowerPct     float64 `json:"grid_lower_pct,omitempty" description:"lower zone bound as a fraction below average entry"`
	GridUpperPct     float64 `json:"grid_upper_pct,omitempty" description:"upper zone bound as a fraction above average entry"`
	GridCount        int     `json:"grid_count,omitempty" description:"total number of grid lines across the zone"`
}

// LLMAdvisor calls the configured LLM to propose refreshed grid parameters.
type LLMAdvisor struct {
	Client llm.LLMClient
	Model  string
}

// Advise implements Advisor.
func (a *LLMAdvisor) Advise(ctx context.Context, cctx composer.Context) (Advice, error) {
	if a == nil || a.Client == nil {
		return Advice{}, fmt.Errorf("grid: llm advisor not configured")
	}

	prompt := fmt.Sprintf(
		"Given recent market features for symbols %v and the current portfolio, "+
			"propose grid trading parameters (step size, max steps per cycle, "+
			"base position fraction, and optional zone bounds/grid count) that "+
			"balance capturing oscillation against overtrading.",
		cctx.Trading.Symbols,
	)

	req := &llm.ChatRequest{
		Model: a.Model,
		Messages: []llm.Message{
			{Role: "system", Content: "You are a conservative grid-trading parameter advisor. Respond with structured JSON only."},
			{Role: "user", Content: prompt},
		},
	}

	var out llmAdviceSchema
	if _, err := a.Client.ChatStructured(ctx, req, &out); err != nil {
		return Advice{}, fmt.Errorf("grid: advisor call failed: %w", err)
	}

	return Advice{
		GridStepPct:      out.GridStepPct,
		GridMaxSteps:     out.GridMaxSteps,
		GridBaseFraction: out.GridBaseFraction,
		GridLowerPct:     out.GridLowerPct,
		GridUpperPct:     out.GridUpperPct,
		GridCount:        out.GridCount,
	}, nil
}
