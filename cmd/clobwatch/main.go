// Command clobwatch is the entry point for the order-book monitor. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and starts the application in the configured mode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/clobwatch/internal/app"
	"github.com/alanyoungcy/clobwatch/internal/config"
	"github.com/alanyoungcy/clobwatch/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptKeyPath := flag.String("encrypt-key", "", "encrypt the wallet key from the environment into this file and exit")
	flag.Parse()

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Utility mode: produce an encrypted key file and exit.
	if *encryptKeyPath != "" {
		if err := encryptKeyFile(*encryptKeyPath); err != nil {
			logger.Error("key encryption failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("encrypted key written", slog.String("path", *encryptKeyPath))
		return
	}

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("clobwatch starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	// Create the application.
	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run the application.
	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if err == context.Canceled {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("clobwatch stopped")
}

// encryptKeyFile reads CLOBWATCH_WALLET_PRIVATE_KEY and
// CLOBWATCH_WALLET_KEY_PASSWORD (a .env file works too) and writes the
// encrypted blob to path, so the raw key never has to appear in argv or the
// TOML file.
func encryptKeyFile(path string) error {
	_ = godotenv.Load()

	key := os.Getenv("CLOBWATCH_WALLET_PRIVATE_KEY")
	if key == "" {
		return fmt.Errorf("CLOBWATCH_WALLET_PRIVATE_KEY is not set")
	}
	password := os.Getenv("CLOBWATCH_WALLET_KEY_PASSWORD")
	if password == "" {
		return fmt.Errorf("CLOBWATCH_WALLET_KEY_PASSWORD is not set")
	}

	blob, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
