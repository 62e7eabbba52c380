// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	App         AppConfig               `yaml:"app"`
	Venues      map[string]VenueConfig  `yaml:"venues"`
	Strategy    StrategyConfig          `yaml:"strategy"`
	Credentials CredentialsConfig       `yaml:"credentials"`
	System      SystemConfig            `yaml:"system"`
	Telemetry   TelemetryConfig         `yaml:"telemetry"`
	Alerts      AlertsConfig            `yaml:"alerts"`
}

// AppConfig selects the venues and symbol the engine trades.
type AppConfig struct {
	Symbol    string `yaml:"symbol"`
	VenueBuy  string `yaml:"venue_buy"`
	VenueSell string `yaml:"venue_sell"`
	Sandbox   bool   `yaml:"sandbox"`
}

// VenueConfig is the per-venue connection and fee configuration.
type VenueConfig struct {
	BaseURL      string  `yaml:"base_url"`      // optional REST override
	StreamURL    string  `yaml:"stream_url"`    // optional websocket override
	MakerFeeRate float64 `yaml:"maker_fee_rate"`
	TakerFeeRate float64 `yaml:"taker_fee_rate"`
	Owner        string  `yaml:"owner"` // credential owner filter, optional
}

// StrategyConfig holds the arbitrage parameters.
type StrategyConfig struct {
	BidAmount            string `yaml:"bid_amount"`             // BTC, decimal string
	ProfitTarget         string `yaml:"profit_target"`          // fraction, e.g. "0.1"
	OrderUpdateThreshold string `yaml:"order_update_threshold"` // profit-factor drift tolerance
	PollPeriodSeconds    int    `yaml:"poll_period_seconds"`
}

// PollPeriod returns the strategy tick period.
func (s StrategyConfig) PollPeriod() time.Duration {
	return time.Duration(s.PollPeriodSeconds) * time.Second
}

// CredentialsConfig locates the credential file.
type CredentialsConfig struct {
	File          string `yaml:"file"`
	Encrypted     bool   `yaml:"encrypted"`
	PassphraseEnv string `yaml:"passphrase_env"` // env var holding the passphrase
}

// SystemConfig contains process-level settings.
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// AlertsConfig configures operator notification channels. Channels with
// empty credentials stay disabled.
type AlertsConfig struct {
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Symbol == "" {
		c.App.Symbol = "BTC-USD"
	}
	if c.Strategy.PollPeriodSeconds == 0 {
		c.Strategy.PollPeriodSeconds = 5
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9090
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.App.VenueBuy == "" || c.App.VenueSell == "" {
		return fmt.Errorf("config: venue_buy and venue_sell are required")
	}
	if c.App.VenueBuy == c.App.VenueSell {
		return fmt.Errorf("config: venue_buy and venue_sell must differ")
	}
	for _, id := range []string{c.App.VenueBuy, c.App.VenueSell} {
		v, ok := c.Venues[id]
		if !ok {
			return fmt.Errorf("config: venue %q is selected but not configured", id)
		}
		if v.MakerFeeRate < 0 || v.MakerFeeRate >= 1 {
			return fmt.Errorf("config: venue %q maker_fee_rate out of range", id)
		}
		if v.TakerFeeRate < 0 || v.TakerFeeRate >= 1 {
			return fmt.Errorf("config: venue %q taker_fee_rate out of range", id)
		}
	}
	if c.Strategy.BidAmount == "" {
		return fmt.Errorf("config: strategy.bid_amount is required")
	}
	if c.Strategy.ProfitTarget == "" {
		return fmt.Errorf("config: strategy.profit_target is required")
	}
	if c.Strategy.OrderUpdateThreshold == "" {
		return fmt.Errorf("config: strategy.order_update_threshold is required")
	}
	if c.Strategy.PollPeriodSeconds < 1 {
		return fmt.Errorf("config: strategy.poll_period_seconds must be at least 1")
	}
	if c.Credentials.File == "" {
		return fmt.Errorf("config: credentials.file is required")
	}
	return nil
}
