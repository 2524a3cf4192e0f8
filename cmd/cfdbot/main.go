package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/alejandrodnm/cfdbot/config"
	"github.com/alejandrodnm/cfdbot/internal/adapters/broker"
	"github.com/alejandrodnm/cfdbot/internal/adapters/feed"
	"github.com/alejandrodnm/cfdbot/internal/adapters/fxrates"
	"github.com/alejandrodnm/cfdbot/internal/adapters/notify"
	"github.com/alejandrodnm/cfdbot/internal/adapters/paper"
	"github.com/alejandrodnm/cfdbot/internal/adapters/storage"
	"github.com/alejandrodnm/cfdbot/internal/application/classifier"
	"github.com/alejandrodnm/cfdbot/internal/application/engine"
	"github.com/alejandrodnm/cfdbot/internal/application/execution"
	"github.com/alejandrodnm/cfdbot/internal/application/fx"
	"github.com/alejandrodnm/cfdbot/internal/application/marketdata"
	"github.com/alejandrodnm/cfdbot/internal/application/positions"
	"github.com/alejandrodnm/cfdbot/internal/application/resolver"
	"github.com/alejandrodnm/cfdbot/internal/application/security"
	"github.com/alejandrodnm/cfdbot/internal/application/sizing"
	"github.com/alejandrodnm/cfdbot/internal/domain"
	"github.com/alejandrodnm/cfdbot/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	message := flag.String("message", "", "process a single message and exit (default: read stdin)")
	dryRun := flag.Bool("dry-run", false, "classify and resolve only, no broker calls")
	paperMode := flag.Bool("paper", false, "simulate orders in memory (quotes from the broker if credentials are set)")
	marketsPath := flag.String("markets", "", "paper mode: YAML file with local quotes")
	feedMode := flag.String("feed", "", "stdin format: lines|blocks|json (overrides config)")
	verbose := flag.Bool("verbose", false, "set log level to debug and print skipped messages")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print the attempt trail of every signal")
	history := flag.Duration("history", 0, "print the signal journal of the last period (e.g. 24h) and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *dryRun {
		cfg.Execution.DryRun = true
	}
	if *feedMode != "" {
		cfg.Feed.Mode = *feedMode
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	notifier := notify.NewConsole(*table, *verbose)

	if *history > 0 {
		to := time.Now()
		from := to.Add(-*history)
		outs, err := store.GetOutcomes(ctx, from, to)
		if err != nil {
			slog.Error("failed to read journal", "err", err)
			os.Exit(1)
		}
		notifier.PrintHistory(outs, from, to)
		return
	}

	slog.Info("cfdbot starting",
		"config", *configPath,
		"dry_run", cfg.Execution.DryRun,
		"paper", *paperMode,
		"target_risk", cfg.Risk.TargetRisk,
		"feed", cfg.Feed.Mode,
	)

	eng, err := build(ctx, cfg, store, notifier, *paperMode, *marketsPath)
	if err != nil {
		slog.Error("failed to start", "err", err)
		os.Exit(1)
	}

	if *message != "" {
		out := eng.InterpretAndAct(ctx, *message, domain.MessageMeta{ChatID: cfg.Feed.ChatID, Timestamp: time.Now().UTC()})
		if out.Status == domain.StatusError {
			os.Exit(2)
		}
		return
	}

	mode, err := feed.ParseMode(cfg.Feed.Mode)
	if err != nil {
		slog.Error("invalid feed mode", "err", err)
		os.Exit(1)
	}
	n, err := feed.New(os.Stdin, mode, cfg.Feed.ChatID).Run(ctx, func(ctx context.Context, msg feed.Message) error {
		eng.InterpretAndAct(ctx, msg.Text, msg.Meta)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("feed stopped with error", "err", err, "processed", n)
		os.Exit(1)
	}
	slog.Info("cfdbot stopped cleanly", "processed", n)
}

// build conecta broker, FX, sizing, cascada, cierre y auditoría en un Engine.
func build(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage, notifier ports.Notifier, paperMode bool, marketsPath string) (*engine.Engine, error) {
	instruments, err := config.LoadInstruments(cfg.InstrumentsPath)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	brk, home, err := connectBroker(ctx, cfg, paperMode, marketsPath)
	if err != nil {
		return nil, err
	}

	rates := fx.NewConverter(fxrates.NewClient(cfg.FX.BaseURL, home), storage.NewMemoryRateStore(nil), home, cfg.FXTTL())
	sizer := sizing.New(rates, cfg.SizingParams())
	fetch := marketdata.New(brk)
	gate := security.New(security.Config{
		MaxRiskMultiple:   cfg.Risk.MaxRiskMultiple,
		FloorWarnMultiple: cfg.Risk.FloorWarnMultiple,
		AllowList:         cfg.Risk.AllowList,
	}, brk, fetch, sizer)
	ctrl := execution.New(brk, fetch, sizer, gate, execution.Config{
		MaxAlternatives: cfg.Execution.MaxAlternatives,
		ConfirmAttempts: cfg.Execution.ConfirmAttempts,
		ConfirmDelay:    cfg.ConfirmDelay(),
	})
	// las posiciones simuladas mueren con el proceso: su metadata también
	var tracker ports.PositionTracker = store.Tracker(cfg.TrackerMaxAge())
	if paperMode {
		tracker = storage.NewMemoryTracker(cfg.TrackerMaxAge(), nil)
	}
	closer := positions.NewCloser(brk, tracker, positions.CloseConfig{
		StopBuffer:      cfg.Execution.StopBuffer,
		TargetBuffer:    cfg.Execution.TargetBuffer,
		ConfirmAttempts: cfg.Execution.ConfirmAttempts,
		ConfirmDelay:    cfg.ConfirmDelay(),
	})

	eng := engine.New(engine.Deps{
		Classifier: classifier.New(classifier.Config{
			OilSymbols:   cfg.Risk.Oil.Symbols,
			OilThreshold: cfg.Risk.Oil.Threshold,
			OilFactor:    cfg.Risk.Oil.Factor,
		}),
		Resolver:  resolver.New(instruments, resolver.WithLocation(loc)),
		Executor:  ctrl,
		Closer:    closer,
		Positions: brk,
		Tracker:   tracker,
		Audit:     store,
		Notifier:  notifier,
		Breakers:  store,
	}, engine.Config{
		DryRun:          cfg.Execution.DryRun,
		MaxFailures:     cfg.Execution.MaxFailures,
		BreakerCooldown: cfg.BreakerCooldown(),
	})
	if err := eng.RestoreBreaker(ctx); err != nil {
		slog.Warn("breaker state not restored", "err", err)
	}
	slog.Info("engine ready", "instruments", len(instruments), "home_currency", home, "timezone", loc.String())
	return eng, nil
}

// connectBroker elige el broker según el modo y devuelve la divisa de la cuenta.
//
//	dry-run: broker simulado vacío, nunca se llama.
//	paper:   broker simulado; cotiza contra el broker real si hay credenciales.
//	live:    broker real, credenciales obligatorias.
func connectBroker(ctx context.Context, cfg *config.Config, paperMode bool, marketsPath string) (ports.Broker, string, error) {
	home := strings.ToUpper(cfg.FX.HomeCurrency)
	if cfg.Execution.DryRun && !paperMode {
		return paper.New(nil), home, nil
	}

	var live *broker.Client
	if cfg.HasCredentials() {
		live = broker.NewClient(broker.Config{
			BaseURL:    cfg.Broker.BaseURL,
			APIKey:     cfg.Broker.APIKey,
			Identifier: cfg.Broker.Identifier,
			Password:   cfg.Broker.Password,
			AccountID:  cfg.Broker.AccountID,
			Timeout:    cfg.BrokerTimeout(),
		})
		if err := live.Authenticate(ctx); err != nil {
			return nil, "", err
		}
		if cur := live.AccountCurrency(); cur != "" {
			home = strings.ToUpper(cur)
		}
	}

	if paperMode {
		var source paper.MarketSource
		if live != nil {
			source = live
		}
		pb := paper.New(source)
		if marketsPath != "" {
			if err := loadPaperMarkets(pb, marketsPath); err != nil {
				return nil, "", err
			}
		} else if live == nil {
			slog.Warn("paper mode without credentials nor -markets: every quote will fail")
		}
		return pb, home, nil
	}

	if live == nil {
		return nil, "", fmt.Errorf("broker credentials missing: set BROKER_API_KEY, BROKER_IDENTIFIER and BROKER_PASSWORD or use -paper")
	}
	return live, home, nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// stdout queda para el registro de auditoría de la consola.
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
