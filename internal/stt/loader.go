package stt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-stt/internal/config"
)

// NewLoader returns the Loader for the configured engine mode. Nothing is
// started until the loader is invoked.
func NewLoader(cfg config.STTConfig, logger *slog.Logger) (Loader, error) {
	switch cfg.Mode {
	case "mock":
		return func(context.Context) (Engine, error) {
			return NewMockEngine(), nil
		}, nil
	case "exec":
		return func(context.Context) (Engine, error) {
			return NewExecEngine(cfg)
		}, nil
	case "worker":
		return func(ctx context.Context) (Engine, error) {
			return NewWorkerEngine(ctx, cfg, logger)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}
