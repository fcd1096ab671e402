// Package app wires the ingestor's long-lived services together and owns their
// lifecycle, including the final filter snapshot on shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/feed-ingestor/internal/api"
	"github.com/JakeFAU/feed-ingestor/internal/clock"
	"github.com/JakeFAU/feed-ingestor/internal/config"
	"github.com/JakeFAU/feed-ingestor/internal/coordinator"
	"github.com/JakeFAU/feed-ingestor/internal/directory"
	"github.com/JakeFAU/feed-ingestor/internal/feed"
	"github.com/JakeFAU/feed-ingestor/internal/filter"
	"github.com/JakeFAU/feed-ingestor/internal/id/uuid"
	"github.com/JakeFAU/feed-ingestor/internal/ingest"
	"github.com/JakeFAU/feed-ingestor/internal/policy/ratelimit"
	"github.com/JakeFAU/feed-ingestor/internal/retry"
	"github.com/JakeFAU/feed-ingestor/internal/scheduler"
	"github.com/JakeFAU/feed-ingestor/internal/storage/memory"
	"github.com/JakeFAU/feed-ingestor/internal/storage/postgres"
)

// Backend is the article storage the app drives.
type Backend interface {
	ingest.ArticleStore
	ingest.TopicSyncer
	Ping(ctx context.Context) error
	Close()
}

// Option customizes New, mostly for tests.
type Option func(*options)

type options struct {
	backend    Backend
	provider   ingest.SourceProvider
	httpClient *http.Client
	clock      ingest.Clock
}

// WithBackend replaces the configured article storage.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithSourceProvider replaces the configured source provider.
func WithSourceProvider(p ingest.SourceProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithHTTPClient sets the client used for feeds and the directory.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithClock sets the clock used to stamp articles.
func WithClock(c ingest.Clock) Option {
	return func(o *options) { o.clock = c }
}

// App holds all the shared, long-lived services for the ingestor.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	filters   *filter.Store
	backend   Backend
	scheduler *scheduler.Scheduler
	server    *api.Server
	sources   []ingest.FeedSource

	closeOnce sync.Once
	closeErr  error
}

// New initializes every service and lists the initial sources. It fails fast on
// authentication, the initial source listing and schema setup; everything else
// is contained at runtime.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			if closeErr := a.Close(); closeErr != nil {
				logger.Warn("cleanup after failed start", zap.Error(closeErr))
			}
		}
	}()

	a.filters, err = filter.Open(cfg.Filter.SnapshotPath, filter.Params{
		InitialCapacity: cfg.Filter.InitialCapacity,
		ErrorRate:       cfg.Filter.ErrorRate,
		Growth:          cfg.Filter.Growth,
		Tightening:      cfg.Filter.Tightening,
	}, logger.Named("filter"))
	if err != nil {
		return nil, fmt.Errorf("open filter: %w", err)
	}

	a.backend = o.backend
	if a.backend == nil {
		if a.backend, err = openBackend(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	provider := o.provider
	if provider == nil {
		provider = newProvider(cfg, o.httpClient, logger)
	}
	a.sources, err = provider.Sources(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial source listing: %w", err)
	}
	logger.Info("sources loaded", zap.Int("feeds", len(a.sources)))

	backoffInitial, backoffMax := cfg.Backoff()
	fetcher := feed.NewFetcher(feed.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	},
		o.httpClient,
		retry.NewExponentialPolicy(cfg.Fetch.MaxRetries, backoffInitial, backoffMax),
		ratelimit.New(ratelimit.Config{HostRPS: cfg.Fetch.HostRPS, HostBurst: cfg.Fetch.HostBurst}),
		o.clock,
		logger.Named("fetch"),
	)
	coord := coordinator.New(fetcher, a.filters.Filter(), a.backend, o.clock, coordinator.Config{
		AuditUser:        cfg.Storage.AuditUser,
		ConfirmConflicts: cfg.Dedup.ConfirmConflicts,
		StatementTimeout: cfg.StatementTimeout(),
	}, logger.Named("coordinator"))
	pool := scheduler.NewPool(coord, cfg.Scheduler.Workers, uuid.New(), o.clock, logger.Named("pool"))

	var topics ingest.TopicSyncer
	if cfg.Storage.SyncTopics {
		topics = a.backend
	}
	var refresh ingest.SourceProvider
	if cfg.Directory.RefreshEveryPass {
		refresh = provider
	}
	a.scheduler = scheduler.New(pool, refresh, topics, a.filters, scheduler.Config{
		PollInterval:        cfg.PollInterval(),
		ShutdownGrace:       cfg.ShutdownGrace(),
		RefreshEveryPass:    cfg.Directory.RefreshEveryPass,
		CheckpointEveryPass: cfg.Filter.CheckpointEveryPass,
	}, logger.Named("scheduler"))

	if cfg.Server.Enabled {
		a.server = api.NewServer(a.scheduler, a.filters.Filter(), a.backend, logger.Named("api"))
	}
	return a, nil
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Storage.Provider {
	case config.StorageMemory:
		logger.Info("using in-memory article store; articles are not persisted")
		return memory.NewArticleStore(), nil
	case config.StoragePostgres:
		if cfg.Storage.Migrate {
			version, err := postgres.Migrate(cfg.Storage.DSN)
			if err != nil {
				return nil, fmt.Errorf("schema setup: %w", err)
			}
			logger.Info("schema ready", zap.Uint("version", version))
		}
		store, err := postgres.NewArticleStore(ctx, postgres.Config{
			DSN:             cfg.Storage.DSN,
			MaxConns:        cfg.Storage.MaxConns,
			MinConns:        cfg.Storage.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime(),
		}, logger.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("open article store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Storage.Provider)
	}
}

func newProvider(cfg config.Config, client *http.Client, logger *zap.Logger) ingest.SourceProvider {
	if cfg.Directory.Provider == config.DirectoryStatic {
		return directory.NewStatic(cfg.Directory.Sources)
	}
	backoffInitial, backoffMax := cfg.Backoff()
	return directory.NewClient(directory.Config{
		BaseURL:   cfg.Directory.BaseURL,
		Username:  cfg.Directory.Username,
		Password:  cfg.Directory.Password,
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.DirectoryTimeout(),
	}, client, retry.NewExponentialPolicy(cfg.Fetch.MaxRetries, backoffInitial, backoffMax), logger.Named("directory"))
}

// Sources returns the sources listed at startup.
func (a *App) Sources() []ingest.FeedSource {
	return a.sources
}

// Scheduler exposes the pass loop.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Filter exposes the membership filter.
func (a *App) Filter() *filter.Filter {
	return a.filters.Filter()
}

// RunOnce performs a single pass.
func (a *App) RunOnce(ctx context.Context) ingest.PassSummary {
	return a.scheduler.RunOnce(ctx, a.sources)
}

// Run polls until ctx is cancelled, serving the ops API alongside. Only the
// scheduler can fail the run; an ops server error is logged and ingestion
// continues without it.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scheduler.RunForever(gctx, a.sources)
	})
	if a.server != nil {
		addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
		g.Go(func() error {
			if err := a.server.ListenAndServe(gctx, addr); err != nil {
				a.logger.Error("ops server unavailable; continuing without it",
					zap.String("addr", addr), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

// Close writes the filter snapshot and releases storage. It is safe to call
// more than once; only the first call does work.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down")
		var errs []error
		if a.filters != nil {
			if err := a.filters.Close(); err != nil {
				errs = append(errs, fmt.Errorf("save filter: %w", err))
			}
		}
		if a.backend != nil {
			a.backend.Close()
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
