package cmd

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/async-scrapers/internal/clock/system"
	"github.com/JakeFAU/async-scrapers/internal/config"
	"github.com/JakeFAU/async-scrapers/internal/export"
	"github.com/JakeFAU/async-scrapers/internal/export/postgres"
	"github.com/JakeFAU/async-scrapers/internal/fetcher"
	collyfetcher "github.com/JakeFAU/async-scrapers/internal/fetcher/colly"
	"github.com/JakeFAU/async-scrapers/internal/fetcher/stream"
	"github.com/JakeFAU/async-scrapers/internal/id/uuid"
	"github.com/JakeFAU/async-scrapers/internal/logging"
	"github.com/JakeFAU/async-scrapers/internal/metrics"
	"github.com/JakeFAU/async-scrapers/internal/orchestrator"
	"github.com/JakeFAU/async-scrapers/internal/pipeline"
	"github.com/JakeFAU/async-scrapers/internal/policy/ratelimit"
	"github.com/JakeFAU/async-scrapers/internal/policy/robots"
	"github.com/JakeFAU/async-scrapers/internal/progress"
	"github.com/JakeFAU/async-scrapers/internal/progress/sinks"
	"github.com/JakeFAU/async-scrapers/internal/scrapers/images"
	"github.com/JakeFAU/async-scrapers/internal/scrapers/metro"
	"github.com/JakeFAU/async-scrapers/internal/scrapers/watches"
	"github.com/JakeFAU/async-scrapers/internal/sink"
	"github.com/JakeFAU/async-scrapers/internal/storage"
)

// site is one subcommand.
type site struct {
	name  string
	short string
	run   func(ctx context.Context, env *runEnv) (report, error)
}

// report is what a site run hands to the summary.
type report struct {
	agg      pipeline.RunAggregate
	outputs  []string
	location string
}

func sites() []site {
	return []site{
		{name: metro.Name, short: "Scrape products from an online.metro-cc.ru category", run: runMetro},
		{name: watches.Name, short: "Scrape the parsinger.ru watch catalogue", run: runWatches},
		{name: images.Name, short: "Download every image of a gallery", run: runImages},
	}
}

func newSiteCmd(a *app, s site) *cobra.Command {
	return &cobra.Command{
		Use:   s.name,
		Short: s.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSite(cmd, s)
		},
	}
}

// runEnv is the per-run wiring shared by all sites.
type runEnv struct {
	cfg       config.Config
	logger    *zap.Logger
	transport *http.Transport
	userAgent string
	gate      *ratelimit.Limiter
	fetcher   *collyfetcher.Fetcher
	deps      orchestrator.Deps
}

func (a *app) runSite(cmd *cobra.Command, s site) error {
	ctx := cmd.Context()
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logging.ForPlan(logger, s.name)

	metrics.Init()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	env, hub, err := a.newRunEnv(cfg, logger)
	if err != nil {
		return err
	}
	defer env.transport.CloseIdleConnections()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("progress hub close failed", zap.Error(cerr))
		}
	}()

	rep, runErr := s.run(ctx, env)
	if rep.agg.RunID == "" && runErr != nil {
		return runErr
	}
	printSummary(a.out, rep)
	a.publishSummary(context.WithoutCancel(ctx), cfg, logger, rep.agg)
	return runErr
}

func (a *app) newRunEnv(cfg config.Config, logger *zap.Logger) (*runEnv, *progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(a.registerer)
	if err != nil {
		return nil, nil, err
	}
	hub := progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.Progress.MaxBatchWait,
		Logger:         logger,
	}, sinks.NewLogSink(logger), promSink)

	transport := fetcher.NewTransport(cfg.Transport())
	ua := fetcher.ResolveUserAgent(cfg.HTTP.UserAgent)
	gate := ratelimit.New(cfg.HTTP.RateLimit)
	opts := []collyfetcher.Option{collyfetcher.WithRateLimit(gate)}
	if cfg.HTTP.RespectRobots {
		client := &http.Client{Transport: transport, Timeout: cfg.HTTP.Timeout}
		opts = append(opts, collyfetcher.WithRobots(robots.New(client, ua, logger)))
	}
	f := collyfetcher.New(transport, collyfetcher.Config{
		UserAgent:   ua,
		Timeout:     cfg.HTTP.Timeout,
		MaxBodySize: cfg.HTTP.MaxBodySize,
	}, opts...)

	logger.Debug("transport ready", zap.String("user_agent", ua), zap.Int("concurrency", cfg.Run.Concurrency))
	return &runEnv{
		cfg:       cfg,
		logger:    logger,
		transport: transport,
		userAgent: ua,
		gate:      gate,
		fetcher:   f,
		deps: orchestrator.Deps{
			Fetcher:          f,
			Emitter:          hub,
			Logger:           logger,
			Clock:            system.New(),
			IDs:              uuid.New(),
			BaseDelay:        cfg.Run.BaseDelay,
			MaxDelay:         cfg.Run.MaxDelay,
			ProgressInterval: cfg.Run.ProgressInterval,
		},
	}, hub, nil
}

func (env *runEnv) execute(ctx context.Context, plan orchestrator.Plan, seed string) (pipeline.RunAggregate, error) {
	o, err := orchestrator.New(plan, env.deps)
	if err != nil {
		return pipeline.RunAggregate{}, err
	}
	return o.Run(ctx, seed, env.cfg.Run.Concurrency, env.cfg.Run.MaxAttempts)
}

func runMetro(ctx context.Context, env *runEnv) (report, error) {
	records := sink.NewCollection[metro.Product]()
	plan := metro.Plan(env.fetcher, records)
	return runRecords(ctx, env, plan, env.cfg.SeedFor(metro.Name), "metro_products", records)
}

func runWatches(ctx context.Context, env *runEnv) (report, error) {
	records := sink.NewCollection[watches.Watch]()
	plan := watches.Plan(env.fetcher, records)
	return runRecords(ctx, env, plan, env.cfg.SeedFor(watches.Name), "watches", records)
}

// runRecords runs a record plan and exports whatever was collected. A
// canceled run still exports its partial records; a failed run exports
// nothing.
func runRecords[R any](
	ctx context.Context,
	env *runEnv,
	plan orchestrator.Plan,
	seed, base string,
	records *sink.Collection[R],
) (report, error) {
	agg, runErr := env.execute(ctx, plan, seed)
	rep := report{agg: agg}
	if runErr != nil {
		return rep, runErr
	}
	items := records.Items()
	formats, err := export.ParseFormats(env.cfg.Output.Formats)
	if err != nil {
		return rep, err
	}
	rep.outputs, err = export.WriteFiles(env.cfg.Output.Dir, base, formats, items)
	if err != nil {
		return rep, err
	}
	rep.location = filepath.Clean(env.cfg.Output.Dir)
	env.logger.Info("records exported", zap.Int("records", len(items)), zap.Strings("files", rep.outputs))

	if env.cfg.Postgres.DSN != "" {
		if err := exportPostgres(context.WithoutCancel(ctx), env.cfg.Postgres, agg, items); err != nil {
			return rep, fmt.Errorf("postgres export: %w", err)
		}
		rep.outputs = append(rep.outputs, "postgres:"+env.cfg.Postgres.RecordTable)
	}
	return rep, nil
}

func exportPostgres[R any](ctx context.Context, cfg postgres.Config, agg pipeline.RunAggregate, items []R) error {
	exp, err := postgres.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer exp.Close()
	if err := exp.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := postgres.WriteRecords(ctx, exp, agg.RunID, agg.Plan, items); err != nil {
		return err
	}
	return exp.WriteRun(ctx, agg)
}

func runImages(ctx context.Context, env *runEnv) (report, error) {
	opened, err := storage.Open(ctx, env.cfg.Storage)
	if err != nil {
		return report{}, err
	}
	defer func() {
		if cerr := opened.Close(); cerr != nil {
			env.logger.Warn("close storage failed", zap.Error(cerr))
		}
	}()
	streamer := stream.New(env.transport, stream.Config{
		UserAgent: env.userAgent,
		Timeout:   env.cfg.HTTP.StreamTimeout,
	}, env.gate)
	plan := images.Plan(streamer, opened.Sink, env.cfg.ImageOptions())

	agg, err := env.execute(ctx, plan, env.cfg.SeedFor(images.Name))
	return report{agg: agg, location: opened.Location}, err
}

func (a *app) publishSummary(ctx context.Context, cfg config.Config, logger *zap.Logger, agg pipeline.RunAggregate) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.Topic == "" || a.newPublisher == nil {
		return
	}
	pub, err := a.newPublisher(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Warn("pubsub unavailable; summary not published", zap.Error(err))
		return
	}
	defer func() {
		if cerr := pub.Close(); cerr != nil {
			logger.Warn("pubsub close failed", zap.Error(cerr))
		}
	}()
	id, err := pub.Publish(ctx, cfg.PubSub.Topic, agg)
	if err != nil {
		logger.Warn("publish summary failed", zap.Error(err))
		return
	}
	logger.Info("summary published", zap.String("topic", cfg.PubSub.Topic), zap.String("message_id", id))
}

