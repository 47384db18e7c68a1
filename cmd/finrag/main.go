package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kalambet/finrag/internal/config"
)

var version = "dev"

var (
	noColor bool
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "finrag",
	Short: "Verified question answering over company annual filings",
	Long: `finrag indexes a company's annual filing, builds a knowledge graph of its
key metrics and answers questions with cited sources and a verification-based
confidence score.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			color.NoColor = true
		}
		setupLogging(os.Getenv("FINRAG_LOG_LEVEL"))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.Version = version

	rootCmd.AddCommand(serveCmd, mcpCmd)
	rootCmd.AddCommand(loadCmd, resetCmd, jobCmd, askCmd, batchCmd, compareCmd, compareModelsCmd, summaryCmd, auditCmd, kgCmd)
	rootCmd.AddCommand(configCmd)
}

// setupLogging installs a text handler on stderr as the default logger.
func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if debug || strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	} else if strings.EqualFold(level, "warn") {
		logLevel = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// loadConfig loads configuration and applies its log level.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
