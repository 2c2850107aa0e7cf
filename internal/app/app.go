// Package app builds the long-lived services from configuration and holds
// them for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/research-report-crawler/internal/api"
	"github.com/JakeFAU/research-report-crawler/internal/clock/system"
	"github.com/JakeFAU/research-report-crawler/internal/config"
	"github.com/JakeFAU/research-report-crawler/internal/crawler"
	reportapi "github.com/JakeFAU/research-report-crawler/internal/fetcher/api"
	collyfetcher "github.com/JakeFAU/research-report-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/research-report-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/research-report-crawler/internal/hash/sha256"
	"github.com/JakeFAU/research-report-crawler/internal/headless/detector"
	"github.com/JakeFAU/research-report-crawler/internal/id/uuid"
	"github.com/JakeFAU/research-report-crawler/internal/metrics"
	"github.com/JakeFAU/research-report-crawler/internal/parser/detail"
	"github.com/JakeFAU/research-report-crawler/internal/parser/listing"
	"github.com/JakeFAU/research-report-crawler/internal/pipeline"
	"github.com/JakeFAU/research-report-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/research-report-crawler/internal/progress"
	"github.com/JakeFAU/research-report-crawler/internal/progress/sinks"
	pubmemory "github.com/JakeFAU/research-report-crawler/internal/publisher/memory"
	"github.com/JakeFAU/research-report-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/research-report-crawler/internal/queue/memory"
	"github.com/JakeFAU/research-report-crawler/internal/retry"
	"github.com/JakeFAU/research-report-crawler/internal/snapshot"
	"github.com/JakeFAU/research-report-crawler/internal/storage/gcs"
	"github.com/JakeFAU/research-report-crawler/internal/storage/local"
	"github.com/JakeFAU/research-report-crawler/internal/storage/memory"
	"github.com/JakeFAU/research-report-crawler/internal/storage/postgres"
	"github.com/JakeFAU/research-report-crawler/internal/worker"
)

// App holds the shared services for one process.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Pipeline  *pipeline.Pipeline
	Runner    *worker.Runner
	Queue     *queuememory.Queue
	JobStore  crawler.JobStore
	Reports   crawler.ReportStore
	Publisher crawler.Publisher
	// Progress is nil when the event stream is disabled.
	Progress *progress.Hub

	closers []func() error
}

// New builds every service described by cfg. Partially built services are
// closed when a later step fails.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{Config: cfg, Logger: logger}

	if err := a.buildStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}
	snapshots, err := a.buildSnapshots(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := a.buildProgress(); err != nil {
		a.Close()
		return nil, err
	}

	a.Pipeline = pipeline.New(a.providers(snapshots), PipelineConfig(cfg), logger.Named("pipeline"))
	a.Queue = queuememory.NewQueue(cfg.Worker.QueueDepth)
	a.closers = append(a.closers, func() error {
		a.Queue.Close()
		return nil
	})
	limiter := ratelimit.New(ratelimit.Config{Interval: cfg.Worker.DetailInterval, Burst: 1})
	a.Runner = worker.New(
		a.Queue,
		a.JobStore,
		a.Reports,
		a.Publisher,
		uuid.New(),
		system.New(),
		a.Pipeline,
		limiter,
		worker.Config{
			ListingURL:      cfg.Worker.ListingURL,
			MaxReports:      cfg.Worker.MaxReports,
			MinContentRunes: cfg.Worker.MinContentRunes,
			Topic:           cfg.Worker.Topic,
		},
		logger.Named("worker"),
	)
	if a.Progress != nil {
		a.Runner.WithProgress(a.Progress)
	}
	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Backend),
		zap.String("publisher", cfg.Publisher.Backend),
		zap.String("snapshots", cfg.Snapshot.Backend),
	)
	return a, nil
}

// Server returns the job API bound to the runner and job store.
func (a *App) Server() *api.Server {
	return api.NewServer(a.Runner, a.JobStore, api.Config{
		APIKey:         a.Config.Server.APIKey,
		RequestTimeout: a.Config.Server.RequestTimeout,
	}, a.Logger.Named("api"))
}

// Close releases services in reverse build order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}

// PipelineConfig maps configuration onto the pipeline stages.
func PipelineConfig(cfg config.Config) pipeline.Config {
	listingCfg := listing.DefaultConfig()
	if len(cfg.Listing.DetailPatterns) > 0 {
		listingCfg.DetailPatterns = cfg.Listing.DetailPatterns
	}
	if len(cfg.Listing.BroadPatterns) > 0 {
		listingCfg.BroadPatterns = cfg.Listing.BroadPatterns
	}
	if cfg.Listing.MinTitleRunes > 0 {
		listingCfg.MinTitleRunes = cfg.Listing.MinTitleRunes
	}
	if cfg.Listing.MaxIndustryRunes > 0 {
		listingCfg.MaxIndustryRunes = cfg.Listing.MaxIndustryRunes
	}
	if cfg.Listing.BaseURL != "" {
		listingCfg.DefaultBaseURL = cfg.Listing.BaseURL
	}
	if cfg.Listing.API.DetailURLTemplate != "" {
		listingCfg.APILinkTemplate = cfg.Listing.API.DetailURLTemplate
	}

	detailCfg := detail.DefaultConfig()
	if cfg.Detail.MinTextRunes > 0 {
		detailCfg.MinTextRunes = cfg.Detail.MinTextRunes
	}
	if cfg.Detail.MinParagraphs > 0 {
		detailCfg.MinParagraphs = cfg.Detail.MinParagraphs
	}
	if cfg.Detail.BaseURL != "" {
		detailCfg.DefaultBaseURL = cfg.Detail.BaseURL
	}

	return pipeline.Config{
		Retry: retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Backoff:     cfg.Retry.Backoff,
		},
		ListingRender: crawler.RenderOptions{
			Settle:      cfg.Headless.Settle,
			Scroll:      cfg.Headless.ListingScroll,
			ScrollPause: cfg.Headless.ScrollPause,
		},
		DetailRender: crawler.RenderOptions{
			Settle:      cfg.Headless.Settle,
			Scroll:      cfg.Headless.DetailScroll,
			ScrollPause: cfg.Headless.ScrollPause,
		},
		AlternateURLs: cfg.Listing.AlternateURLs,
		Listing:       listingCfg,
		Detail:        detailCfg,
	}
}

func (a *App) providers(snapshots *snapshot.Writer) pipeline.Providers {
	cfg := a.Config
	headers := cfg.HTTP.HTTPHeaders()
	p := pipeline.Providers{
		HTTP: collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Headers:   headers,
			Timeout:   cfg.HTTP.Timeout,
		}),
		Renderer: headless.New(cfg.Headless.Backend, headless.Config{
			BrowserPath:       cfg.Headless.BrowserPath,
			UserAgent:         cfg.HTTP.UserAgent,
			Headers:           headers,
			NavigationTimeout: cfg.Headless.Timeout,
		}, a.Logger.Named("headless")),
		Detector: detector.NewHeuristic(0),
	}
	if cfg.Listing.API.Enabled {
		p.API = reportapi.New(reportapi.Config{
			Endpoint:  cfg.Listing.API.Endpoint,
			UserAgent: cfg.HTTP.UserAgent,
			Headers:   headers,
			Timeout:   cfg.Listing.API.Timeout,
			PageSize:  cfg.Listing.API.PageSize,
			Window:    cfg.Listing.API.Window,
			Params:    cfg.Listing.API.Params,
		})
	}
	if snapshots != nil {
		p.Snapshots = snapshots
	}
	return p
}

func (a *App) buildStores(ctx context.Context) error {
	cfg := a.Config.Store
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:             cfg.DSN,
			ReportsTable:    cfg.ReportsTable,
			MaxConns:        cfg.MaxConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		if cfg.Migrate {
			if err := postgres.Migrate(ctx, pool, cfg.ReportsTable); err != nil {
				return err
			}
		}
		reports, err := postgres.NewReportStore(pool, cfg.ReportsTable)
		if err != nil {
			return err
		}
		jobs, err := postgres.NewJobStore(pool)
		if err != nil {
			return err
		}
		a.Reports, a.JobStore = reports, jobs
		a.Logger.Info("using postgres stores", zap.String("reports_table", cfg.ReportsTable))
	case config.BackendMemory, "":
		a.Reports, a.JobStore = memory.NewReportStore(), memory.NewJobStore()
		a.Logger.Info("using in-memory stores; results are lost on exit")
	default:
		return fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
	return nil
}

func (a *App) buildPublisher(ctx context.Context) error {
	cfg := a.Config.Publisher
	switch cfg.Backend {
	case config.BackendPubSub:
		pub, err := pubsub.New(ctx, pubsub.Config{ProjectID: cfg.ProjectID}, a.Logger.Named("pubsub"))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pub.Close)
		if cfg.VerifyTopic {
			if err := pub.EnsureTopic(ctx, a.Config.Worker.Topic); err != nil {
				return err
			}
		}
		a.Publisher = pub
	case config.BackendMemory, "":
		a.Publisher = pubmemory.New()
	default:
		return fmt.Errorf("unknown publisher backend: %s", cfg.Backend)
	}
	return nil
}

func (a *App) buildProgress() error {
	cfg := a.Config.Progress
	if !cfg.Enabled {
		return nil
	}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	hubSinks := []progress.Sink{promSink}
	if cfg.LogEvents {
		hubSinks = append(hubSinks, sinks.NewLogSink(a.Logger.Named("progress")))
	}
	a.Progress = progress.NewHub(progress.Config{
		BufferSize:    cfg.BufferSize,
		FlushInterval: cfg.FlushInterval,
	}, a.Logger.Named("progress"), hubSinks...)
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.Progress.Close(ctx)
	})
	return nil
}

func (a *App) buildSnapshots(ctx context.Context) (*snapshot.Writer, error) {
	cfg := a.Config.Snapshot
	var store crawler.BlobStore
	switch cfg.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		store = memory.NewBlobStore()
	case config.BackendLocal:
		s, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, err
		}
		store = s
	case config.BackendGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		s, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, errors.Join(err, client.Close())
		}
		a.closers = append(a.closers, s.Close)
		store = s
	default:
		return nil, fmt.Errorf("unknown snapshot backend: %s", cfg.Backend)
	}
	return snapshot.New(store, sha256.New(), snapshot.Config{Prefix: cfg.Prefix})
}
