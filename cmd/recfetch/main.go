package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jgivc/recfetch/internal/app"
	"github.com/jgivc/recfetch/internal/cli"
	"github.com/jgivc/recfetch/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}
	defer application.Close()

	deps := &cli.Dependencies{
		App:    application,
		Config: cfg,
	}

	return cli.NewRootCmd(deps).ExecuteContext(ctx)
}
