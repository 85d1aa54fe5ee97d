package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/reysq/internal/config"
)

var version = "dev"

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "reysq",
		Short: "WhatsApp health companion gateway",
		Long: strings.TrimSpace(`reysq answers WhatsApp (and optionally Discord) messages as a warm health
companion that remembers each user through a bounded, summarized memory.`),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml, .yml or .toml); defaults to $REYSQ_CONFIG")

	load := func() (config.Config, error) {
		path := configPath
		if path == "" {
			path = os.Getenv("REYSQ_CONFIG")
		}
		cfg, err := config.Load(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(newServeCommand(load))
	root.AddCommand(newChatCommand(load))
	root.AddCommand(newMemoryCommand(load))
	root.AddCommand(newConfigCommand(load, &configPath))
	return root
}

type configLoader func() (config.Config, error)

func setupLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
