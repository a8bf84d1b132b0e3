package app

import (
	"context"

	"go.uber.org/zap"

	"falforge/internal/infra/config"
)

type ValidateConfig struct {
	ConfigPath string
}

// ValidateConfig loads and validates the configuration at the provided path.
func (a *App) ValidateConfig(ctx context.Context, vc ValidateConfig) error {
	cfg, err := config.NewLoader(a.logger).Load(ctx, vc.ConfigPath)
	if err != nil {
		return err
	}
	a.logger.Info("configuration validated",
		zap.String("config", vc.ConfigPath),
		zap.String("server", cfg.Gateway.ServerName),
		zap.String("catalog", cfg.Catalog.BaseURL),
		zap.String("queue", cfg.Queue.BaseURL),
	)
	return nil
}
