package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
app:
  symbol: BTC-USD
  venue_buy: coinbase
  venue_sell: gemini
  sandbox: true
venues:
  coinbase:
    maker_fee_rate: 0.005
    taker_fee_rate: 0.006
  gemini:
    maker_fee_rate: 0.0025
    taker_fee_rate: 0.0025
strategy:
  bid_amount: "0.5"
  profit_target: "0.10"
  order_update_threshold: "0.05"
  poll_period_seconds: 5
credentials:
  file: api_credentials.json
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "coinbase", cfg.App.VenueBuy)
	assert.Equal(t, "gemini", cfg.App.VenueSell)
	assert.True(t, cfg.App.Sandbox)
	assert.Equal(t, 0.0025, cfg.Venues["gemini"].TakerFeeRate)
	assert.Equal(t, "0.5", cfg.Strategy.BidAmount)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.System.LogLevel)
	assert.Equal(t, 9090, cfg.Telemetry.MetricsPort)
	assert.Equal(t, "5s", cfg.Strategy.PollPeriod().String())
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"same venue both sides", func(c *Config) { c.App.VenueSell = c.App.VenueBuy }},
		{"missing venue config", func(c *Config) { delete(c.Venues, "gemini") }},
		{"fee out of range", func(c *Config) {
			v := c.Venues["gemini"]
			v.TakerFeeRate = 1.5
			c.Venues["gemini"] = v
		}},
		{"no bid amount", func(c *Config) { c.Strategy.BidAmount = "" }},
		{"no profit target", func(c *Config) { c.Strategy.ProfitTarget = "" }},
		{"no credentials file", func(c *Config) { c.Credentials.File = "" }},
		{"zero poll period", func(c *Config) { c.Strategy.PollPeriodSeconds = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, validConfig))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/does/not/exist.yaml")
	assert.Error(t, err)
}
