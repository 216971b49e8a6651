// Package main provides the spacegraph server and trace tools.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"spacegraph/internal/config"
)

// Version is the current spacegraph version
var Version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "spacegraph",
	Short:   "spacegraph - live truth graph of host activity",
	Long:    `spacegraph ingests deltas from host agents, merges them into one graph, and serves queries, explanations and the timeline over HTTP.`,
	Version: Version,

	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search SPACEGRAPH_CONFIG and standard locations)")
	rootCmd.AddCommand(serveCmd, replayCmd, exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves --config or the standard search path
func loadConfig() (*config.Config, string, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// setupLogger builds the process logger and installs it as the default
func setupLogger(cfg *config.Config) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	logger := cfg.NewLogger(os.Stderr, level)
	slog.SetDefault(logger)
	return logger, level
}

func requireTrace(cfg *config.Config, dbPath string) (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	if cfg.Trace.Path != "" {
		return cfg.Trace.Path, nil
	}
	return "", fmt.Errorf("no trace database: set trace.path or pass --db")
}
