package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
)

// Run is the entrypoint used by cmd/tether. It returns instead of exiting so defers run.
func Run() error {
	if err := loadEnvFile(); err != nil {
		return err
	}

	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// loadEnvFile loads TETHER_ENV_FILE when set. Variables already in the environment win.
func loadEnvFile() error {
	path := strings.TrimSpace(os.Getenv("TETHER_ENV_FILE"))
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}
