package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"falforge/internal/app"
)

type rootOptions struct {
	configPath string
	debug      bool
	logger     *zap.Logger
	level      zap.AtomicLevel
}

func main() {
	opts := &rootOptions{logger: zap.NewNop()}

	root := newRootCmd(opts)
	if err := root.Execute(); err != nil {
		opts.logger.Fatal("command failed", zap.Error(err))
	}
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "falforged",
		Short: "MCP server that forges fal.ai models into callable tools on demand",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return opts.initLogger()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to falforge.yaml (built-in defaults when omitted)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "force debug logging regardless of config")

	root.AddCommand(
		newServeCmd(opts),
		newValidateCmd(opts),
		newSearchCmd(opts),
		newSynthCmd(opts),
		newVersionCmd(),
	)

	return root
}

// initLogger builds the process logger. Logs go to stderr; stdout belongs
// to the MCP transport.
func (o *rootOptions) initLogger() error {
	o.level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if o.debug {
		o.level.SetLevel(zapcore.DebugLevel)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = o.level
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	o.logger = logger
	return nil
}

func (o *rootOptions) newApp() *app.App {
	appOpts := app.Options{Logger: o.logger}
	if !o.debug {
		appOpts.LevelHandle = &o.level
	}
	return app.New(appOpts)
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
