// Package cmd defines the CLI commands of the scraper executable.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/async-scrapers/internal/pipeline"
	pubsubpublisher "github.com/JakeFAU/async-scrapers/internal/publisher/pubsub"
)

// summaryPublisher is a pipeline.Publisher that must be closed.
type summaryPublisher interface {
	pipeline.Publisher
	Close() error
}

// app carries what commands need from the process. Tests swap the writer,
// the Prometheus registerer and the publisher factory.
type app struct {
	out          io.Writer
	registerer   prometheus.Registerer
	newPublisher func(ctx context.Context, projectID string) (summaryPublisher, error)
}

func defaultApp() *app {
	return &app{
		out:        os.Stdout,
		registerer: prometheus.DefaultRegisterer,
		newPublisher: func(ctx context.Context, projectID string) (summaryPublisher, error) {
			return pubsubpublisher.Open(ctx, projectID)
		},
	}
}

// newRootCmd creates the root command and its site subcommands.
func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Concurrent site scrapers with bounded fan-out.",
		Long: `scraper crawls a site from a seed URL through a fixed chain of
link-discovery levels, fetching every level under one concurrency budget,
and either extracts product records or downloads images.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (YAML)")
	flags.Int("concurrency", 0, "maximum requests in flight (required)")
	flags.Int("max-attempts", 5, "tries per request before giving up")
	flags.String("seed", "", "seed URL overriding the site default")
	flags.String("output-dir", "out", "directory for record files")
	flags.String("user-agent", "random", `User-Agent header, or "random"`)
	flags.String("storage", "local", "image destination: local, gcs, s3 or memory")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.Bool("dev", true, "development logging")
	flags.String("log-level", "", "log level override")

	for _, s := range sites() {
		cmd.AddCommand(newSiteCmd(a, s))
	}
	return cmd
}

// Execute runs the CLI until it finishes or SIGINT/SIGTERM cancels the run.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(defaultApp()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
