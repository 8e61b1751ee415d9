// CLAUDE:SUMMARY Entry point for boothcrawl: cobra CLI over the crawl service (serve, run, run-source, sources, booths, metrics, reset, mcp).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hazyhaar/boothcrawl/crawl"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	logLevel   string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "boothcrawl",
		Short: "Crawl booth listings from configured sources into a deduplicated directory",
		Long: `boothcrawl fetches pages from configured sources, extracts booth records
with an LLM, validates and deduplicates them, and keeps per-source health.

Configuration comes from a YAML file (--config) with environment overrides:
  BOOTHCRAWL_DB, SCRAPE_ENDPOINT, SCRAPE_API_KEY,
  ANTHROPIC_API_KEY or GEMINI_API_KEY (by llm.provider).`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newRunSourceCmd(),
		newSourcesCmd(),
		newBoothsCmd(),
		newMetricsCmd(),
		newResetCmd(),
		newMCPCmd(),
	)
	return root
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func loadConfig() (*crawl.Config, error) {
	var cfg *crawl.Config
	if configPath == "" {
		cfg = crawl.DefaultConfig()
	} else {
		var err error
		if cfg, err = crawl.LoadConfigFile(configPath); err != nil {
			return nil, err
		}
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

// openService loads configuration, opens the service and seeds the declared
// sources. Logs go to stderr; stdout is reserved for command output.
func openService(ctx context.Context) (*crawl.Service, *slog.Logger, error) {
	logger := newLogger(logLevel, os.Stderr)
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	svc, err := crawl.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if len(cfg.Sources) > 0 {
		n, err := svc.SeedSources(ctx, cfg.Sources)
		if err != nil {
			svc.Close()
			return nil, nil, err
		}
		logger.Info("boothcrawl: sources seeded", "count", n)
	}
	return svc, logger, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
