package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/openmirror/treesync/internal/config"
	"github.com/openmirror/treesync/internal/utils"
	"github.com/openmirror/treesync/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "treesync",
	Short:   "Keeps file trees in sync across storage backends",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		if env := os.Getenv("TREESYNC_CONFIG"); env != "" && !cmd.Flag("config").Changed {
			cfgPath = env
		}

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); cmd.Flag("log-level").Changed {
			cfg.Log.Level = lvl
		}
		if err := setupLogging(&cfg.Log); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showHeader()

		d, err := newDaemon(cfg)
		if err != nil {
			return err
		}
		defer slog.Info("bye")
		return d.run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("config", "c", config.DefaultConfigPath, "config file")
	rootCmd.Flags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
}

func main() {
	// .env is optional; values feed TREESYNC_* lookups
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cfg *config.LogConfig) error {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if err := utils.EnsureParent(cfg.File); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	rotated := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    max(cfg.MaxSizeMB, 10),
		MaxBackups: max(cfg.MaxBackups, 3),
		MaxAge:     max(cfg.MaxAgeDays, 14),
		Compress:   true,
	}

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	fileHandler := slog.NewTextHandler(rotated, &slog.HandlerOptions{Level: level})

	slog.SetDefault(slog.New(utils.NewFanoutLogHandler(stdoutHandler, fileHandler)))
	return nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Printf("%s %s\n", version.AppName, version.Short())
}
