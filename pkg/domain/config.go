package domain

import (
	"fmt"
	"strings"
)

// TradingMode selects whether a strategy executes against the paper
// simulator or a live exchange gateway.
type TradingMode string

const (
	TradingModeVirtual TradingMode = "virtual"
	TradingModeLive    TradingMode = "live"
)

// MarginMode is the exchange margin discipline for derivatives.
type MarginMode string

const (
	MarginModeCross    MarginMode = "cross"
	MarginModeIsolated MarginMode = "isolated"
)

// LLMModelConfig names the planner backend for a strategy.
type LLMModelConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	ModelID  string `yaml:"model_id" json:"model_id"`
	APIKey   string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
}

// ExchangeConfig describes venue credentials and mode for a strategy.
type ExchangeConfig struct {
	ExchangeID   string      `yaml:"exchange_id,omitempty" json:"exchange_id,omitempty"`
	TradingMode  TradingMode `yaml:"trading_mode" json:"trading_mode"`
	APIKey       string      `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	SecretKey    string      `yaml:"secret_key,omitempty" json:"secret_key,omitempty"`
	Passphrase   string      `yaml:"passphrase,omitempty" json:"passphrase,omitempty"`
	Testnet      bool        `yaml:"testnet" json:"testnet"`
	MarketType   MarketType  `yaml:"market_type,omitempty" json:"market_type,omitempty"`
	MarginMode   MarginMode  `yaml:"margin_mode,omitempty" json:"margin_mode,omitempty"`
	FeeBps       float64     `yaml:"fee_bps" json:"fee_bps"`
}

const defaultFeeBps = 10.0

// TradingConfig carries the per-strategy trading parameters named in §6.
type TradingConfig struct {
	StrategyName     string   `yaml:"strategy_name,omitempty" json:"strategy_name,omitempty"`
	InitialCapital   float64  `yaml:"initial_capital" json:"initial_capital"`
	MaxLeverage      float64  `yaml:"max_leverage" json:"max_leverage"`
	MaxPositions     int      `yaml:"max_positions" json:"max_positions"`
	Symbols          []string `yaml:"symbols" json:"symbols"`
	DecideIntervalSec int     `yaml:"decide_interval_sec" json:"decide_interval_sec"`
	TemplateID       string   `yaml:"template_id,omitempty" json:"template_id,omitempty"`
	PromptText       string   `yaml:"prompt_text,omitempty" json:"prompt_text,omitempty"`
	CustomPrompt     string   `yaml:"custom_prompt,omitempty" json:"custom_prompt,omitempty"`
	CapFactor        float64  `yaml:"cap_factor" json:"cap_factor"`
}

const defaultCapFactor = 1.5

// ResolvedPrompt implements the §6 prompt-resolution rule: custom_prompt and
// prompt_text concatenate with "\n\n" when both present; else whichever is
// present; else a default mentioning the configured symbols.
func (t TradingConfig) ResolvedPrompt() string {
	switch {
	case t.CustomPrompt != "" && t.PromptText != "":
		return t.CustomPrompt + "\n\n" + t.PromptText
	case t.CustomPrompt != "":
		return t.CustomPrompt
	case t.PromptText != "":
		return t.PromptText
	default:
		return fmt.Sprintf("Trade the following symbols conservatively: %s.", strings.Join(t.Symbols, ", "))
	}
}

// UserRequest is the full external configuration for one strategy.
type UserRequest struct {
	LLMModelConfig LLMModelConfig `yaml:"llm_model_config" json:"llm_model_config"`
	ExchangeConfig ExchangeConfig `yaml:"exchange_config" json:"exchange_config"`
	TradingConfig  TradingConfig  `yaml:"trading_config" json:"trading_config"`
}

// Validate checks the invariants named in §6 and fills in defaults/inferred
// fields (market_type inference, fee_bps / cap_factor defaults).
func (u *UserRequest) Validate() error {
	tc := &u.TradingConfig
	if tc.InitialCapital <= 0 {
		return fmt.Errorf("trading_config: initial_capital must be > 0")
	}
	if tc.MaxLeverage <= 0 {
		return fmt.Errorf("trading_config: max_leverage must be > 0")
	}
	if tc.MaxPositions <= 0 {
		return fmt.Errorf("trading_config: max_positions must be > 0")
	}
	if tc.DecideIntervalSec <= 0 {
		return fmt.Errorf("trading_config: decide_interval_sec must be > 0")
	}
	if len(tc.Symbols) == 0 || len(tc.Symbols) > 5 {
		return fmt.Errorf("trading_config: symbols must contain 1..5 entries, got %d", len(tc.Symbols))
	}
	seen := make(map[string]struct{}, len(tc.Symbols))
	for i, sym := range tc.Symbols {
		up := strings.ToUpper(strings.TrimSpace(sym))
		if up == "" {
			return fmt.Errorf("trading_config: symbols[%d] is empty", i)
		}
		if _, dup := seen[up]; dup {
			return fmt.Errorf("trading_config: duplicate symbol %q", up)
		}
		seen[up] = struct{}{}
		tc.Symbols[i] = up
	}
	if tc.CapFactor <= 0 {
		tc.CapFactor = defaultCapFactor
	}

	ec := &u.ExchangeConfig
	if ec.TradingMode == "" {
		ec.TradingMode = TradingModeVirtual
	}
	if ec.TradingMode != TradingModeVirtual && ec.TradingMode != TradingModeLive {
		return fmt.Errorf("exchange_config: trading_mode must be virtual or live, got %q", ec.TradingMode)
	}
	if ec.TradingMode == TradingModeLive && (ec.APIKey == "" || ec.SecretKey == "") {
		return fmt.Errorf("exchange_config: api_key and secret_key are required in live trading_mode")
	}
	if ec.MarketType == "" {
		if tc.MaxLeverage <= 1.0 {
			ec.MarketType = MarketTypeSpot
		} else {
			ec.MarketType = MarketTypeSwap
		}
	}
	if ec.MarginMode == "" {
		ec.MarginMode = MarginModeCross
	}
	if ec.FeeBps <= 0 {
		ec.FeeBps = defaultFeeBps
	}
	return nil
}

// IsSpot reports whether this request's resolved market type is spot.
func (u UserRequest) IsSpot() bool { return u.ExchangeConfig.MarketType.IsSpot() }
