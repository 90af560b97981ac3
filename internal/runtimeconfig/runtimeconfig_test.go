package runtimeconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const minimalConfig = `
strategy_id: strat-1
composer: prompt
request:
  trading_config:
    initial_capital: 10000
    max_leverage: 5
    max_positions: 3
    decide_interval_sec: 60
    symbols: ["BTC-USDT"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "runner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MinimalConfig(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "strat-1", cfg.StrategyID)
	require.Equal(t, ComposerPrompt, cfg.Composer)
	require.Equal(t, []string{"BTC-USDT"}, cfg.Request.TradingConfig.Symbols)
	require.Nil(t, cfg.LLM.Value)
}

func TestLoad_DefaultsComposerToPrompt(t *testing.T) {
	body := `
strategy_id: strat-1
request:
  trading_config:
    initial_capital: 10000
    max_leverage: 5
    max_positions: 3
    decide_interval_sec: 60
    symbols: ["BTC-USDT"]
`
	path := writeConfig(t, body)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ComposerPrompt, cfg.Composer)
}

func TestLoad_MissingStrategyIDFails(t *testing.T) {
	path := writeConfig(t, `
request:
  trading_config:
    initial_capital: 10000
    max_leverage: 5
    max_positions: 3
    decide_interval_sec: 60
    symbols: ["BTC-USDT"]
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_InvalidTradingConfigFails(t *testing.T) {
	path := writeConfig(t, `
strategy_id: strat-1
request:
  trading_config:
    initial_capital: 0
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
