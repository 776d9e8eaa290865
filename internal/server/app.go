// Package server builds the application's dependency graph from
// configuration and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/pinellas-property-scraper/internal/address"
	"github.com/JakeFAU/pinellas-property-scraper/internal/api"
	"github.com/JakeFAU/pinellas-property-scraper/internal/clock/system"
	"github.com/JakeFAU/pinellas-property-scraper/internal/config"
	"github.com/JakeFAU/pinellas-property-scraper/internal/extract"
	"github.com/JakeFAU/pinellas-property-scraper/internal/fetcher/auto"
	collyfetcher "github.com/JakeFAU/pinellas-property-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/pinellas-property-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/pinellas-property-scraper/internal/hash/sha256"
	"github.com/JakeFAU/pinellas-property-scraper/internal/headless/detector"
	"github.com/JakeFAU/pinellas-property-scraper/internal/id/uuid"
	"github.com/JakeFAU/pinellas-property-scraper/internal/lookup"
	"github.com/JakeFAU/pinellas-property-scraper/internal/metrics"
	"github.com/JakeFAU/pinellas-property-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/pinellas-property-scraper/internal/property"
	memorypublisher "github.com/JakeFAU/pinellas-property-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/pinellas-property-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/pinellas-property-scraper/internal/resolver"
	gcsstorage "github.com/JakeFAU/pinellas-property-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/pinellas-property-scraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/pinellas-property-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/pinellas-property-scraper/internal/storage/postgres"
)

// HistoryStore is the full lookup history surface: writes from the lookup
// service, reads from the API.
type HistoryStore interface {
	property.LookupStore
	property.LookupLister
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	service   *lookup.Service
	apiServer *api.Server
	history   HistoryStore
	ready     []api.Pinger

	pgStore      *pgstore.LookupStore
	pubsubClient *pubsub.Client
	gcpPublisher *gcppublisher.Publisher
	storage      *storage.Client
}

// Service exposes the lookup service for one-shot CLI use.
func (a *App) Service() *lookup.Service {
	return a.service
}

// Lookup runs a single lookup outside the HTTP surface.
func (a *App) Lookup(ctx context.Context, raw string) lookup.Result {
	return a.service.Lookup(ctx, raw)
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves HTTP until ctx is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	var serveErr error
	select {
	case serveErr = <-errCh:
	default:
	}
	return errors.Join(serveErr, a.Close(shutdownCtx))
}

// Close releases clients and pools.
func (a *App) Close(_ context.Context) error {
	var errs []error
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	return errors.Join(errs...)
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.String("county", cfg.Site.County),
		zap.String("fetch_mode", cfg.Fetch.Mode),
	)

	archive, err := setupArchive(ctx, app)
	if err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	if err := setupHistory(ctx, app); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	opener, err := setupOpener(app)
	if err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	app.service, err = setupService(app, opener, archive, publisher)
	if err != nil {
		_ = app.Close(ctx)
		return nil, err
	}

	app.apiServer = api.NewServer(app.service, app.history, api.Options{
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		TestAddress:    cfg.Lookup.TestAddress,
		Ready:          app.ready,
	}, logger.Named("api"))
	return app, nil
}

// setupArchive returns nil when snapshots are disabled.
func setupArchive(ctx context.Context, app *App) (property.BlobStore, error) {
	cfg := app.cfg.Archive
	if !cfg.Enabled {
		app.logger.Info("snapshot archive disabled")
		return nil, nil
	}
	switch cfg.Backend {
	case config.BackendGCS:
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(app.storage, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS snapshot archive", zap.String("bucket", cfg.Bucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local snapshot archive", zap.String("path", cfg.LocalDir))
		return store, nil
	default:
		app.logger.Info("using in-memory snapshot archive")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupHistory(ctx context.Context, app *App) error {
	cfg := app.cfg.History
	if cfg.Backend != config.BackendPostgres {
		app.logger.Info("using in-memory lookup history")
		app.history = memorystorage.NewLookupStore()
		return nil
	}
	store, err := pgstore.NewLookupStore(ctx, pgstore.Config{
		DSN:             cfg.DSN,
		Table:           cfg.Table,
		MaxConns:        cfg.MaxConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("lookup store init failed: %w", err)
	}
	app.pgStore = store
	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("lookup store migrate failed: %w", err)
		}
	}
	app.history = store
	app.ready = append(app.ready, store)
	app.logger.Info("lookup history initialized", zap.String("table", cfg.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) (property.Publisher, error) {
	cfg := app.cfg.Events
	if cfg.Backend != config.BackendPubSub {
		app.logger.Info("using in-memory event publisher", zap.String("topic", cfg.Topic))
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.gcpPublisher, err = gcppublisher.New(app.pubsubClient, map[string]string{"county": app.cfg.Site.County})
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.Topic),
	)
	return app.gcpPublisher, nil
}

func setupOpener(app *App) (property.SessionOpener, error) {
	cfg := app.cfg.Fetch
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.UserAgent,
		RespectRobots: cfg.RespectRobots,
		Timeout:       cfg.Timeout,
	})

	var opener property.SessionOpener
	switch cfg.Mode {
	case config.ModeStatic:
		opener = static
	case config.ModeHeadless, config.ModeAuto:
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.HeadlessMaxParallel,
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: cfg.NavigationTimeout,
			WaitSelector:      cfg.WaitSelector,
			SettleDelay:       cfg.SettleDelay,
			ExecPath:          cfg.ChromePath,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		opener = headless
		if cfg.Mode == config.ModeAuto {
			opener = auto.New(static, headless, detector.NewHeuristic(cfg.PromotionThreshold, nil), app.logger.Named("auto"))
		}
	default:
		return nil, fmt.Errorf("unknown fetch mode %q", cfg.Mode)
	}
	app.logger.Info("page fetcher configured",
		zap.String("mode", cfg.Mode),
		zap.Duration("timeout", cfg.Timeout),
		zap.Float64("rate_per_second", cfg.RatePerSecond),
	)

	if cfg.RatePerSecond <= 0 {
		return opener, nil
	}
	return ratelimit.Wrap(opener, ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RatePerSecond,
		DefaultBurst: cfg.RateBurst,
	})), nil
}

func setupService(
	app *App,
	opener property.SessionOpener,
	archive property.BlobStore,
	publisher property.Publisher,
) (*lookup.Service, error) {
	site := app.cfg.Site
	res, err := resolver.New(resolver.Config{
		BaseURL:           site.BaseURL,
		SearchPath:        site.SearchPath,
		SearchQuery:       site.SearchQuery,
		SearchParam:       site.SearchParam,
		DetailLinkPattern: site.DetailLinkPattern,
		ParcelMarkers:     site.ParcelMarkers,
	}, app.logger.Named("resolver"))
	if err != nil {
		return nil, fmt.Errorf("resolver init failed: %w", err)
	}

	svc, err := lookup.New(lookup.Dependencies{
		Normalizer: address.NewNormalizer(app.cfg.Address.StripTokens),
		Resolver:   res,
		Extractor:  extract.New(app.logger.Named("extract")),
		Fields:     extract.DefaultFields(),
		Opener:     opener,
		Store:      app.history,
		Archive:    archive,
		Publisher:  publisher,
		Hasher:     sha256.New(),
		Clock:      system.New(),
		IDs:        uuid.New(),
		Logger:     app.logger.Named("lookup"),
	}, lookup.Config{
		County:        site.County,
		FetchTimeout:  app.cfg.Fetch.Timeout,
		Budget:        app.cfg.Lookup.Budget,
		ArchivePrefix: app.cfg.Archive.Prefix,
		Topic:         app.cfg.Events.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("lookup service init failed: %w", err)
	}
	return svc, nil
}
