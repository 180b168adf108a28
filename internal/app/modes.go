package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowtrader/flowtrader/internal/book"
	"github.com/flowtrader/flowtrader/internal/domain"
	"github.com/flowtrader/flowtrader/internal/exchange"
	"github.com/flowtrader/flowtrader/internal/exec"
	"github.com/flowtrader/flowtrader/internal/feed"
	"github.com/flowtrader/flowtrader/internal/flow"
	"github.com/flowtrader/flowtrader/internal/ledger"
	"github.com/flowtrader/flowtrader/internal/orchestrator"
	"github.com/flowtrader/flowtrader/internal/regime"
	"github.com/flowtrader/flowtrader/internal/risk"
)

// archiveInterval is how often the stats archiver runs after the startup
// pass.
const archiveInterval = 24 * time.Hour

// simStartingBalance seeds the simulated broker.
const simStartingBalance = 10_000

// runTrade runs the engine against the live exchange.
func (a *App) runTrade(ctx context.Context, deps *Dependencies) error {
	secret, err := exchange.LoadSecret(exchange.SecretConfig{
		RawSecret:     a.cfg.Exchange.ApiSecret,
		EncryptedPath: a.cfg.Exchange.EncryptedSecretPath,
		Password:      a.cfg.Exchange.SecretPassword,
	})
	if err != nil {
		return fmt.Errorf("app: resolve api secret: %w", err)
	}

	broker := exchange.NewRESTBroker(exchange.RESTConfig{
		Host:              a.cfg.Exchange.RestHost,
		ApiKey:            a.cfg.Exchange.ApiKey,
		ApiSecret:         secret,
		RecvWindowMs:      a.cfg.Exchange.RecvWindowMs,
		RequestsPerSecond: a.cfg.Exchange.RequestsPerSecond,
		RequestBurst:      a.cfg.Exchange.RequestBurst,
	}, a.logger)

	return a.runEngine(ctx, deps, broker)
}

// runSim runs the engine with a simulated broker: same pipeline, no exchange.
func (a *App) runSim(ctx context.Context, deps *Dependencies) error {
	return a.runEngine(ctx, deps, exchange.NewSimBroker(simStartingBalance, a.logger))
}

// runEngine assembles the trading pipeline around the given broker and runs
// the feed, the orchestrator, and the periodic archiver until ctx cancels.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, broker domain.BrokerClient) error {
	cfg := a.cfg
	logger := a.logger

	books := book.NewStream(logger)
	analyzer := flow.NewAnalyzer(flow.Config{
		HistorySize: cfg.Flow.HistorySize,
		MinSamples:  cfg.Flow.MinSamples,
		ZThreshold:  cfg.Flow.ZThreshold,
		StrongZ:     cfg.Flow.StrongZ,
		MomentumZ:   cfg.Flow.MomentumZ,
		StopPct:     cfg.Flow.StopPct,
		TargetPct:   cfg.Flow.TargetPct,
	}, logger)
	vwap := flow.NewVWAPTracker(cfg.Flow.VWAPWindowSize)

	engine := exec.NewEngine(broker, books.BestPrice, exec.Config{
		ChaseTimeout: cfg.Exec.ChaseTimeout.Duration,
		PollInterval: cfg.Exec.PollInterval.Duration,
		MaxRetries:   cfg.Exec.MaxRetries,
	}, logger)

	led := ledger.NewLedger(ledger.Config{
		MaxPositions:        cfg.Risk.MaxPositions,
		RiskFraction:        cfg.Risk.RiskFraction,
		MaxPositionFraction: cfg.Risk.MaxPositionFraction,
		DrawdownCeiling:     cfg.Risk.DrawdownCeiling,
		DrawdownBaseline:    cfg.Risk.DrawdownBaseline,
		StopPct:             cfg.Flow.StopPct,
	}, deps.Store, deps.StatsPub, logger)
	if err := led.Load(ctx); err != nil {
		return fmt.Errorf("app: load ledger state: %w", err)
	}

	var detector domain.RegimeDetector
	if cfg.Regime.Enabled {
		detector = regime.NewHeuristic(regime.Config{}, logger)
	}

	var advisor domain.RiskAdvisor = risk.BalancedAdvisor{}
	if cfg.Risk.Advisor == "threshold" {
		advisor = risk.ThresholdAdvisor{}
	}

	orch := orchestrator.New(orchestrator.Config{
		Symbols:          cfg.Exchange.Symbols,
		Cooldown:         cfg.Risk.Cooldown.Duration,
		MinHold:          cfg.Risk.MinHold.Duration,
		MaxHold:          cfg.Risk.MaxHold.Duration,
		TimeExitInterval: cfg.Risk.TimeExitInterval.Duration,
		MinStrength:      cfg.Risk.MinStrength,
		MaxSpreadPct:     cfg.Flow.MaxSpreadPct,
		ReversalZ:        cfg.Flow.ReversalZ,
		RegimeEnabled:    cfg.Regime.Enabled,
		BlockSideways:    cfg.Regime.BlockSideways,
		BarHistory:       cfg.Regime.BarHistory,
		RetrainInterval:  cfg.Regime.RetrainInterval.Duration,
	}, orchestrator.Deps{
		Books:    books,
		Analyzer: analyzer,
		VWAP:     vwap,
		Engine:   engine,
		Ledger:   led,
		Broker:   broker,
		Detector: detector,
		Advisor:  advisor,
		Feed:     deps.Feed,
		Notifier: deps.Notifier,
	}, logger)

	g, ctx := errgroup.WithContext(ctx)

	ws := feed.NewWSClient(
		cfg.Exchange.WsHost,
		cfg.Exchange.Symbols,
		"1m",
		func(snap domain.BookSnapshot) { orch.OnBook(ctx, snap) },
		func(bar domain.Bar) { orch.OnBar(ctx, bar) },
		orch.OnFeedReset,
		logger,
	)

	g.Go(func() error { return ws.Run(ctx) })
	g.Go(func() error { return orch.Run(ctx) })
	if deps.Archiver != nil {
		g.Go(func() error { return a.runArchiver(ctx, deps) })
	}

	return g.Wait()
}

// runArchiver archives aged stats once at startup and then daily. Archive
// failures are logged and retried on the next tick.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	run := func() {
		if _, err := deps.Archiver.Run(ctx); err != nil {
			a.logger.Error("stats archive failed", slog.String("error", err.Error()))
		}
	}
	run()

	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}
