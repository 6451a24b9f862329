package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"stockease/internal/config"
	"stockease/internal/logger"
	"stockease/internal/processor"
)

func main() {
	configDir := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		logger.Init("info")
		logger.Logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := processor.New(cfg)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to create processor")
	}

	if err := p.Run(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("processor exited")
		os.Exit(1)
	}
	logger.Logger.Info().Msg("exited")
}
