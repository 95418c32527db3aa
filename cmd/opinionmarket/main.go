// Command opinionmarket runs the opinion market backend in the mode named by
// its configuration (server, archive or full).
//
// With -encrypt-key it instead seals WALLET_PRIVATE_KEY under
// WALLET_KEY_PASSWORD into the given file for wallet.encrypted_key_path.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/opinionmarket/internal/app"
	"github.com/alanyoungcy/opinionmarket/internal/config"
	"github.com/alanyoungcy/opinionmarket/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty for defaults and env only)")
	encryptTo := flag.String("encrypt-key", "", "write an encrypted operator key file and exit")
	flag.Parse()

	if *encryptTo != "" {
		if err := encryptKey(*encryptTo); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	logger := newLogger(slog.LevelInfo)
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("path", configPath), slog.String("error", err.Error()))
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger = newLogger(level)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return err
	}
	logger.Info("opinion market starting", slog.String("mode", cfg.Mode), slog.String("config", configPath))
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	defer application.Close()

	err = application.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("opinion market stopped")
		return nil
	default:
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func encryptKey(path string) error {
	key, password := os.Getenv("WALLET_PRIVATE_KEY"), os.Getenv("WALLET_KEY_PASSWORD")
	if key == "" || password == "" {
		return errors.New("WALLET_PRIVATE_KEY and WALLET_KEY_PASSWORD must be set")
	}
	blob, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o600)
}
