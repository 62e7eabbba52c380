// Package bootstrap assembles the engine from configuration: logger,
// telemetry, credentials, venue clients, strategy, and coordinator.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"arb_engine/internal/alert"
	"arb_engine/internal/config"
	"arb_engine/internal/coordinator"
	"arb_engine/internal/core"
	"arb_engine/internal/credentials"
	"arb_engine/internal/strategy"
	"arb_engine/internal/venue"
	"arb_engine/internal/venue/coinbase"
	"arb_engine/internal/venue/gemini"
	apperrors "arb_engine/pkg/errors"
	"arb_engine/pkg/logging"
	"arb_engine/pkg/telemetry"
)

// App holds the assembled engine.
type App struct {
	Cfg    *config.Config
	Logger core.ILogger

	coordinator *coordinator.Coordinator
	metrics     *telemetry.MetricsServer
	telemetry   *telemetry.Telemetry
	notifier    *alert.Notifier
}

// NewApp loads configuration and wires every component.
func NewApp(configPath string) (*App, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	// Telemetry first: the logger's OTel bridge reads the global
	// provider at construction.
	tel, err := telemetry.Setup("arb_engine")
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	creds, err := loadCredentials(cfg.Credentials)
	if err != nil {
		return nil, err
	}

	strat, err := buildStrategy(cfg, logger)
	if err != nil {
		return nil, err
	}

	clients, err := buildClients(cfg, creds, logger)
	if err != nil {
		return nil, err
	}

	app := &App{
		Cfg:         cfg,
		Logger:      logger,
		coordinator: coordinator.New(clients, strat, logger),
		telemetry:   tel,
		notifier:    buildNotifier(cfg.Alerts, logger),
	}
	if cfg.Telemetry.EnableMetrics {
		app.metrics = telemetry.NewMetricsServer(cfg.Telemetry.MetricsPort, logger)
	}
	return app, nil
}

func buildNotifier(cfg config.AlertsConfig, logger core.ILogger) *alert.Notifier {
	notifier := alert.NewNotifier(logger)
	if cfg.SlackWebhookURL.Value() != "" {
		notifier.AddChannel(alert.NewSlackChannel(cfg.SlackWebhookURL.Value()))
	}
	if cfg.TelegramBotToken.Value() != "" {
		notifier.AddChannel(alert.NewTelegramChannel(cfg.TelegramBotToken.Value(), cfg.TelegramChatID))
	}
	return notifier
}

// Run drives the engine until a signal arrives or a component fails.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Logger.Info("starting engine",
		"symbol", a.Cfg.App.Symbol,
		"venue_buy", a.Cfg.App.VenueBuy,
		"venue_sell", a.Cfg.App.VenueSell,
		"sandbox", a.Cfg.App.Sandbox)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.coordinator.Run(ctx) })
	if a.metrics != nil {
		g.Go(func() error { return a.metrics.Run(ctx) })
	}

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if terr := a.telemetry.Shutdown(shutdownCtx); terr != nil {
		a.Logger.Warn("telemetry shutdown", "error", terr.Error())
	}

	if err != nil && err != context.Canceled {
		a.Logger.Error("engine stopped with error", "error", err.Error())
		a.notifier.Notify(shutdownCtx, alert.SeverityCritical,
			"arbitrage engine down", err.Error(), map[string]string{
				"symbol":     a.Cfg.App.Symbol,
				"venue_buy":  a.Cfg.App.VenueBuy,
				"venue_sell": a.Cfg.App.VenueSell,
			})
		return err
	}
	a.Logger.Info("engine shut down")
	return nil
}

func loadCredentials(cfg config.CredentialsConfig) (*credentials.Store, error) {
	if !cfg.Encrypted {
		return credentials.Load(cfg.File)
	}
	passphrase := os.Getenv(cfg.PassphraseEnv)
	if passphrase == "" {
		return nil, fmt.Errorf("bootstrap: %s is empty, cannot decrypt %s", cfg.PassphraseEnv, cfg.File)
	}
	return credentials.LoadEncrypted(cfg.File, passphrase)
}

func buildStrategy(cfg *config.Config, logger core.ILogger) (*strategy.OneWayPairArbitrage, error) {
	bidAmount, err := decimal.NewFromString(cfg.Strategy.BidAmount)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: bid_amount %q: %w", cfg.Strategy.BidAmount, err)
	}
	profitTarget, err := decimal.NewFromString(cfg.Strategy.ProfitTarget)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: profit_target %q: %w", cfg.Strategy.ProfitTarget, err)
	}
	threshold, err := decimal.NewFromString(cfg.Strategy.OrderUpdateThreshold)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: order_update_threshold %q: %w", cfg.Strategy.OrderUpdateThreshold, err)
	}

	buyCfg := cfg.Venues[cfg.App.VenueBuy]
	sellCfg := cfg.Venues[cfg.App.VenueSell]

	return strategy.New(strategy.Config{
		VenueBuy:             cfg.App.VenueBuy,
		VenueSell:            cfg.App.VenueSell,
		BidAmount:            bidAmount,
		ProfitTarget:         profitTarget,
		OrderUpdateThreshold: threshold,
		PollPeriod:           cfg.Strategy.PollPeriod(),
		BuyMakerFeeRate:      decimal.NewFromFloat(buyCfg.MakerFeeRate),
		SellTakerFeeRate:     decimal.NewFromFloat(sellCfg.TakerFeeRate),
	}, logger), nil
}

func buildClients(cfg *config.Config, creds *credentials.Store, logger core.ILogger) ([]venue.Client, error) {
	clients := make([]venue.Client, 0, 2)
	for _, id := range []string{cfg.App.VenueBuy, cfg.App.VenueSell} {
		vcfg := cfg.Venues[id]
		cred, ok := creds.Lookup(id, vcfg.Owner)
		if !ok {
			return nil, fmt.Errorf("bootstrap: no credentials for venue %q", id)
		}

		switch id {
		case coinbase.VenueID:
			client, err := coinbase.New(coinbase.Options{
				Symbol:      cfg.App.Symbol,
				Sandbox:     cfg.App.Sandbox,
				StreamURL:   vcfg.StreamURL,
				BaseURL:     vcfg.BaseURL,
				Credentials: cred,
			}, logger)
			if err != nil {
				return nil, err
			}
			clients = append(clients, client)
		case gemini.VenueID:
			clients = append(clients, gemini.New(gemini.Options{
				Symbol:      geminiSymbol(cfg.App.Symbol),
				Sandbox:     cfg.App.Sandbox,
				StreamURL:   vcfg.StreamURL,
				BaseURL:     vcfg.BaseURL,
				Credentials: cred,
			}, logger))
		default:
			return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownVenue, id)
		}
	}
	return clients, nil
}

// geminiSymbol maps the dashed app symbol onto the venue's compact form.
func geminiSymbol(symbol string) string {
	out := make([]byte, 0, len(symbol))
	for i := 0; i < len(symbol); i++ {
		if symbol[i] != '-' {
			out = append(out, symbol[i])
		}
	}
	return string(out)
}
