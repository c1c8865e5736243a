// Package app provides the core application server and dependency injection.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/webreport/scrapetask/internal/api"
	"github.com/webreport/scrapetask/internal/clock/system"
	"github.com/webreport/scrapetask/internal/config"
	"github.com/webreport/scrapetask/internal/fetch"
	"github.com/webreport/scrapetask/internal/id/uuid"
	"github.com/webreport/scrapetask/internal/logging"
	memorypublisher "github.com/webreport/scrapetask/internal/publisher/memory"
	gcppublisher "github.com/webreport/scrapetask/internal/publisher/pubsub"
	"github.com/webreport/scrapetask/internal/report"
	memorystate "github.com/webreport/scrapetask/internal/state/memory"
	pgstate "github.com/webreport/scrapetask/internal/state/postgres"
	redisstate "github.com/webreport/scrapetask/internal/state/redis"
	gcsstorage "github.com/webreport/scrapetask/internal/storage/gcs"
	localstorage "github.com/webreport/scrapetask/internal/storage/local"
	memorystorage "github.com/webreport/scrapetask/internal/storage/memory"
	"github.com/webreport/scrapetask/internal/task"
)

// App contains the application's long-lived dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	registry        *task.Registry
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storageClient   *storage.Client
	pgStore         *pgstate.Store
	redisStore      *redisstate.Store
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	type SanitizedConfig struct {
		ServerPort      int    `json:"server_port"`
		StateProvider   string `json:"state_provider"`
		StorageProvider string `json:"storage_provider"`
		PublishProvider string `json:"publisher_provider"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:      cfg.Server.Port,
		StateProvider:   cfg.State.Provider,
		StorageProvider: cfg.Storage.Provider,
		PublishProvider: cfg.Publisher.Provider,
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Registry exposes the task registry, mostly for tests.
func (a *App) Registry() *task.Registry {
	return a.registry
}

// Handler exposes the HTTP handler, mostly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(_ context.Context) error {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.redisStore != nil {
		if err := a.redisStore.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	app.logger.Info("building application dependencies")

	stateStore, err := setupState(ctx, app)
	if err != nil {
		return nil, err
	}

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	var generator task.Generator
	if cfg.Report.SummaryEnabled {
		generator = report.NewTemplateGenerator()
	}

	deps := task.Deps{
		Fetcher:   fetch.New(fetch.Config{Timeout: cfg.FetchTimeout()}),
		Blob:      blobStore,
		Publisher: publisher,
		Topic:     cfg.Publisher.Topic,
		Generator: generator,
		Clock:     system.New(),
	}
	app.registry = task.NewRegistry(stateStore, deps, logger.Named("task"))

	app.apiServer = api.NewServer(
		app.registry,
		blobStore,
		uuid.New(),
		*cfg,
		logger.Named("api"),
	)

	return app, nil
}

func setupState(ctx context.Context, app *App) (task.StateStore, error) {
	switch app.cfg.State.Provider {
	case "postgres":
		app.logger.Info("using postgres state provider")
		store, err := pgstate.NewStore(ctx, pgstate.Config{
			DSN:      app.cfg.State.Postgres.DSN,
			Table:    app.cfg.State.Postgres.Table,
			MaxConns: app.cfg.State.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres state init failed: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres schema init failed: %w", err)
		}
		app.pgStore = store
		return store, nil
	case "redis":
		app.logger.Info("using redis state provider")
		store, err := redisstate.New(ctx, app.cfg.State.Redis.URL, app.cfg.State.Redis.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("redis state init failed: %w", err)
		}
		app.redisStore = store
		return store, nil
	default:
		app.logger.Info("using in-memory state provider")
		return memorystate.NewStore(), nil
	}
}

func setupStorage(ctx context.Context, app *App) (task.BlobStore, error) {
	switch app.cfg.Storage.Provider {
	case "gcs":
		app.logger.Info("using GCS storage provider")
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storageClient = client
		blobStore, err := gcsstorage.New(ctx, client, gcsstorage.Config{
			Bucket: app.cfg.Storage.GCSBucket,
			Prefix: app.cfg.Storage.GCSPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage provider", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return blobStore, nil
	case "local":
		app.logger.Info("using local storage provider")
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage provider", zap.String("path", app.cfg.Storage.LocalDir))
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage provider")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (task.Publisher, error) {
	switch app.cfg.Publisher.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, app.cfg.Publisher.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubClient = client
		app.pubsubPublisher = client.Publisher(app.cfg.Publisher.Topic)
		app.logger.Info(
			"Pub/Sub publisher initialized",
			zap.String("project", app.cfg.Publisher.ProjectID),
			zap.String("topic", app.cfg.Publisher.Topic),
		)
		return gcppublisher.New(app.pubsubPublisher), nil
	case "memory":
		app.logger.Info("using in-memory publisher")
		return memorypublisher.New(), nil
	default:
		app.logger.Info("terminal event publishing disabled")
		return nil, nil
	}
}
