package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	phttp "github.com/fyrsmithlabs/patternd/internal/http"
	"github.com/fyrsmithlabs/patternd/internal/mining"
	"github.com/fyrsmithlabs/patternd/internal/workflows"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the mining scheduler and the HTTP API",
		Long: `Run the nightly mining scheduler and the HTTP API until interrupted.

When temporal.enabled is set, a backfill worker is started on the
configured task queue as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *configPath)
		},
	}
}

// runServe starts every long-running component and blocks until ctx is
// cancelled or one of them fails.
func runServe(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	cfg := a.cfg
	a.logger.Info(ctx, "starting patternd",
		zap.String("version", version),
		zap.String("database", cfg.Database.Path),
		zap.Bool("mining", cfg.Mining.Enabled),
		zap.Bool("nats", cfg.NATS.Enabled),
		zap.Bool("temporal", cfg.Temporal.Enabled))

	surfacer, err := a.newSurfacer()
	if err != nil {
		return fmt.Errorf("failed to create surfacing service: %w", err)
	}

	srv, err := phttp.NewServer(phttp.Deps{
		Patterns:  a.manager,
		Surfacer:  surfacer,
		Miner:     a.miner,
		Ping:      a.store.Ping,
		Telemetry: a.tel.Health,
	}, a.logger.Named("http"), &phttp.Config{Host: cfg.Server.Host, Port: cfg.Server.Port})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	var scheduler *mining.Scheduler
	if cfg.Mining.Enabled {
		scheduler, err = mining.NewScheduler(a.miner, a.store, a.logger.Named("scheduler"),
			mining.WithSchedulerConfig(miningConfig(cfg.Mining)))
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() { _ = scheduler.Stop() }()
	}

	var w worker.Worker
	if cfg.Temporal.Enabled {
		c, err := client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
		})
		if err != nil {
			return fmt.Errorf("unable to create Temporal client: %w", err)
		}
		defer c.Close()

		acts, err := workflows.NewActivities(a.miner, a.logger.Named("workflows"))
		if err != nil {
			return err
		}
		w = workflows.NewWorker(c, cfg.Temporal.TaskQueue, acts)
		if err := w.Start(); err != nil {
			return fmt.Errorf("failed to start temporal worker: %w", err)
		}
		a.logger.Info(ctx, "temporal worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info(ctx, "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if scheduler != nil {
			if err := scheduler.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
			}
		}
		if w != nil {
			w.Stop()
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info(ctx, "server shutdown complete")
	return nil
}
