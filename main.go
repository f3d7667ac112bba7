package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"age-classifier/src/config"
	"age-classifier/src/logging"
	"age-classifier/src/migrations"
	"age-classifier/src/server"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	_ = godotenv.Load()

	cmd := "server"
	if len(os.Args) >= 2 {
		cmd = strings.ToLower(os.Args[1])
	}

	if cmd == "version" {
		fmt.Println(version)
		return
	}

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, closer, err := logging.New(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "server":
		err = runServer(ctx, cfg, logger)
	case "migrate":
		err = runMigrate(ctx, cfg, logger)
	default:
		fmt.Println("unsupported command")
		return
	}

	if err != nil {
		logger.Error().Err(err).Str("command", cmd).Msg("command failed")
		closer.Close()
		os.Exit(1)
	}
}

func runServer(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	s, err := server.New(cfg, logger, server.Deps{})
	if err != nil {
		return err
	}
	defer s.Close()

	logger.Info().
		Str("version", version).
		Strs("endpoints", cfg.ModelEndpoints).
		Str("predict_path", cfg.PredictPath).
		Msg("starting age classification service")

	return s.Run(ctx)
}

func runMigrate(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	if err := cfg.RequireDB(); err != nil {
		return err
	}
	return migrations.Up(ctx, cfg.DSN(), logger)
}
