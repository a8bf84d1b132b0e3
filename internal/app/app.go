// Package app wires configuration, the catalog and queue clients, the
// ranking pipeline and the tool registry into a runnable daemon, and backs
// the one-shot CLI commands.
package app

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"falforge/internal/infra/config"
	"falforge/internal/infra/telemetry"
)

type App struct {
	logger *zap.Logger
	// level, when set, lets the config file's logging.level take effect
	// after load. A forced --debug run passes nil and keeps its level.
	level *zap.AtomicLevel
}

// Options configures an App.
type Options struct {
	Logger      *zap.Logger
	LevelHandle *zap.AtomicLevel
}

func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		logger: logger.Named("app"),
		level:  opts.LevelHandle,
	}
}

type ServeConfig struct {
	ConfigPath string
	// Prime loads the full catalog once at startup for local keyword
	// search before the first query arrives.
	Prime bool
}

// Serve runs the MCP gateway over stdio, plus the metrics listener when
// one is configured, until the context ends.
func (a *App) Serve(ctx context.Context, sc ServeConfig) error {
	cfg, err := config.NewLoader(a.logger).Load(ctx, sc.ConfigPath)
	if err != nil {
		return err
	}
	a.applyLogLevel(cfg)

	pipe, err := a.buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}

	if sc.Prime {
		if err := pipe.Catalog.Prime(ctx); err != nil {
			a.logger.Warn("catalog prime failed", zap.Error(err))
		}
	}
	pipe.Curated.Watch(ctx)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Observability.ListenAddress != "" {
		g.Go(func() error {
			return telemetry.StartHTTPServer(gctx, telemetry.HTTPServerOptions{
				Addr:     cfg.Observability.ListenAddress,
				Registry: pipe.Gatherer,
			}, a.logger)
		})
	}
	g.Go(func() error {
		return pipe.Gateway.Run(gctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) applyLogLevel(cfg config.Config) {
	if a.level == nil {
		return
	}
	a.level.SetLevel(cfg.Logging.ZapLevel())
}
