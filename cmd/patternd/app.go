package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/broker"
	"github.com/fyrsmithlabs/patternd/internal/config"
	"github.com/fyrsmithlabs/patternd/internal/detection"
	"github.com/fyrsmithlabs/patternd/internal/lifecycle"
	"github.com/fyrsmithlabs/patternd/internal/logging"
	"github.com/fyrsmithlabs/patternd/internal/mining"
	"github.com/fyrsmithlabs/patternd/internal/sqlite"
	"github.com/fyrsmithlabs/patternd/internal/surfacing"
	"github.com/fyrsmithlabs/patternd/internal/telemetry"
)

// app holds the dependencies shared by the subcommands.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	tel     *telemetry.Telemetry
	store   *sqlite.Store
	nc      *nats.Conn
	manager *lifecycle.Manager
	miner   *mining.Miner
}

// newApp loads configuration and builds the core services:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Opens the SQLite store
//  4. Connects to NATS when enabled
//  5. Builds the pattern manager and the miner
//
// The caller must Close the returned app.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	lcfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.NewLogger(lcfg, global.GetLoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := logger.Underlying()

	a := &app{cfg: cfg, logger: logger}

	a.tel, err = telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version), telemetry.WithLogger(zl))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	dbPath, err := config.ExpandPath(cfg.Database.Path)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("invalid database path: %w", err)
	}
	a.store, err = sqlite.Open(dbPath)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var managerOpts []lifecycle.ManagerOption
	if cfg.NATS.Enabled {
		var natsOpts []nats.Option
		if cfg.NATS.Token.IsSet() {
			natsOpts = append(natsOpts, nats.Token(cfg.NATS.Token.Value()))
		}
		a.nc, err = broker.Connect(cfg.NATS.URL, zl.Named("nats"), natsOpts...)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		pub, err := broker.NewNATSPublisher(a.nc, cfg.NATS.SubjectPrefix, zl.Named("broker"))
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		managerOpts = append(managerOpts, lifecycle.WithPublisher(pub))
		logger.Info(ctx, "publishing pattern events",
			zap.String("url", cfg.NATS.URL),
			logging.Secret("token", cfg.NATS.Token),
			zap.String("subject_prefix", cfg.NATS.SubjectPrefix))
	}

	a.manager, err = lifecycle.NewManager(a.store, logger.Named("lifecycle"), managerOpts...)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create pattern manager: %w", err)
	}

	a.miner, err = mining.NewMiner(a.store, a.manager, logger.Named("mining"),
		mining.WithUserDirectory(a.store),
		mining.WithConfig(miningConfig(cfg.Mining)),
	)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create miner: %w", err)
	}
	return a, nil
}

// Close releases the app's resources in reverse order of creation.
func (a *app) Close(ctx context.Context) {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn(ctx, "failed to drain nats connection", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn(ctx, "failed to close database", zap.Error(err))
		}
	}
	if a.tel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.tel.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn(ctx, "failed to shut down telemetry", zap.Error(err))
		}
	}
	_ = a.logger.Sync() // Best-effort sync on shutdown
}

// newSurfacer builds the surfacing service with configured overrides.
func (a *app) newSurfacer() (*surfacing.Service, error) {
	opts, err := surfacingOptions(a.cfg.Surfacing)
	if err != nil {
		return nil, err
	}
	logger := a.logger.Named("surfacing")
	return surfacing.NewService(a.manager, a.store, a.store, surfacing.NewScorer(logger.Underlying(), opts...), logger)
}

func miningConfig(c config.MiningConfig) mining.Config {
	return mining.Config{
		WindowDays:                c.WindowDays,
		MinEvents:                 c.MinEvents,
		ReevaluationDays:          c.ReevaluationDays,
		ReevaluationMinConfidence: c.ReevaluationMinConfidence,
		RunHour:                   c.RunHour,
		Workers:                   c.Workers,
		UserTimeout:               c.UserTimeout.Duration(),
		Tick:                      c.Tick.Duration(),
	}
}

// surfacingOptions maps the per-type overrides, rejecting unknown types.
func surfacingOptions(c config.SurfacingConfig) ([]surfacing.Option, error) {
	var opts []surfacing.Option
	for name, v := range c.Thresholds {
		t, err := patternType(name)
		if err != nil {
			return nil, fmt.Errorf("surfacing.thresholds: %w", err)
		}
		opts = append(opts, surfacing.WithThreshold(t, v))
	}
	for name, d := range c.FrequencyLimits {
		t, err := patternType(name)
		if err != nil {
			return nil, fmt.Errorf("surfacing.frequency_limits: %w", err)
		}
		opts = append(opts, surfacing.WithFrequencyLimit(t, d.Duration()))
	}
	return opts, nil
}

func patternType(name string) (detection.PatternType, error) {
	for _, t := range detection.AllPatternTypes {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown pattern type %q", name)
}
