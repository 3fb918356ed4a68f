package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"reqscope/internal/config"
)

func main() {
	cmd := &cli.Command{
		Name:  "reqscope",
		Usage: "request timeline and dashboard backend for a local HTTP traffic inspector",
		Commands: []*cli.Command{
			serveCommand(),
			replayCommand(),
			rangesCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	switch level {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "info":
		lvl.Set(slog.LevelInfo)
	case "warn", "warning":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

func logConfig(logger *slog.Logger, cfg config.Config) {
	logger.Info("configuration",
		"listen_addr", cfg.ListenAddr,
		"inspector_url", cfg.InspectorURL,
		"feed_url", cfg.FeedURL,
		"default_range", cfg.DefaultRange,
		"max_events", cfg.MaxEvents,
		"storage", string(cfg.Storage),
		"storage_path", cfg.StoragePath,
		"redis_addr", cfg.RedisAddr,
		"session_id", cfg.SessionID,
		"session_ttl", cfg.SessionTTL,
		"save_interval", cfg.SaveInterval,
		"reconnect_delay", cfg.ReconnectDelay,
		"reconnect_max_attempts", cfg.ReconnectMaxAttempts,
		"status_interval", cfg.StatusInterval,
		"notifications_max", cfg.NotificationsMax,
		"cors_allow_origin", cfg.CORSAllowOrigin,
		"log_level", cfg.LogLevel,
	)
}
