package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/boothcrawl/crawl"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, logger, err := openService(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			svc.Start(ctx)

			srv := &http.Server{
				Addr:              svc.Config().HTTP.Addr,
				Handler:           svc.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			errc := make(chan error, 1)
			go func() {
				logger.Info("boothcrawl: listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("boothcrawl: shutdown", "error", err)
			}
			logger.Info("boothcrawl: server stopped")
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var opts crawl.RunOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every due source once and print the batch summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, logger, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			sum, err := svc.RunDue(cmd.Context(), opts, progressLogger(logger))
			return printSummary(cmd, sum, err)
		},
	}
	runFlags(cmd, &opts)
	return cmd
}

func newRunSourceCmd() *cobra.Command {
	var opts crawl.RunOptions
	cmd := &cobra.Command{
		Use:   "run-source <id>",
		Short: "Run one source now, regardless of its cadence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			sum, err := svc.RunSource(cmd.Context(), args[0], opts, progressLogger(logger))
			return printSummary(cmd, sum, err)
		},
	}
	runFlags(cmd, &opts)
	return cmd
}

func runFlags(cmd *cobra.Command, opts *crawl.RunOptions) {
	cmd.Flags().BoolVar(&opts.Force, "force", false, "re-extract unchanged content; also runs disabled sources")
	cmd.Flags().BoolVar(&opts.Replay, "replay", false, "extract the latest stored content without fetching")
}

// printSummary prints whatever summary the run produced before returning its
// error, so an aborted batch still reports what ran.
func printSummary(cmd *cobra.Command, sum *crawl.Summary, runErr error) error {
	if sum != nil {
		if err := printJSON(cmd.OutOrStdout(), sum); err != nil {
			return err
		}
	}
	return runErr
}

func progressLogger(logger *slog.Logger) crawl.Sink {
	return func(e crawl.Event) {
		switch e.Type {
		case crawl.EventSourceFinished:
			if e.Report != nil {
				logger.Info("boothcrawl: source finished", "source_id", e.SourceID,
					"status", e.Report.Status, "added", e.Report.Added, "updated", e.Report.Updated)
			}
		case crawl.EventSummary:
		default:
			logger.Debug("boothcrawl: progress", "type", e.Type, "source_id", e.SourceID)
		}
	}
}

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List sources with their health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			sources, err := svc.ListSources(cmd.Context())
			if err != nil {
				return err
			}
			type row struct {
				*crawl.Source
				State string `json:"state"`
			}
			out := make([]row, 0, len(sources))
			for _, s := range sources {
				out = append(out, row{Source: s, State: s.State()})
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newBoothsCmd() *cobra.Command {
	var (
		limit, offset int
		review        bool
	)
	cmd := &cobra.Command{
		Use:   "booths",
		Short: "List stored booths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			var needsReview *bool
			if cmd.Flags().Changed("review") {
				needsReview = &review
			}
			booths, err := svc.ListBooths(cmd.Context(), limit, offset, needsReview)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), booths)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max booths")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many booths")
	cmd.Flags().BoolVar(&review, "review", false, "only booths flagged (true) or not flagged (false) for review")
	return cmd
}

func newMetricsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "metrics <id>",
		Short: "Show recent run records of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			metrics, err := svc.SourceMetrics(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), metrics)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs")
	return cmd
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <id>",
		Short: "Clear a source's failures and review flag and re-enable it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := openService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			src, err := svc.ResetSource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), src)
		},
	}
}

func newMCPCmd() *cobra.Command {
	var schedule bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the crawl tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, _, err := openService(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			if schedule {
				svc.Start(ctx)
			}
			srv := mcp.NewServer(&mcp.Implementation{Name: "boothcrawl", Version: version}, nil)
			svc.RegisterMCP(srv)
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&schedule, "schedule", false, "also run the background scheduler")
	return cmd
}
