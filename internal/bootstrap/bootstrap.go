package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mwhitmore/docuvault/internal/config"
	"github.com/mwhitmore/docuvault/internal/core/ports"
	"github.com/mwhitmore/docuvault/internal/core/processor"
	"github.com/mwhitmore/docuvault/internal/core/usecase"
	"github.com/mwhitmore/docuvault/internal/infrastructure/antivirus"
	"github.com/mwhitmore/docuvault/internal/infrastructure/docintel"
	"github.com/mwhitmore/docuvault/internal/infrastructure/pdftext"
	natsqueue "github.com/mwhitmore/docuvault/internal/infrastructure/queue/nats"
	"github.com/mwhitmore/docuvault/internal/infrastructure/resilience"

	memqueue "github.com/mwhitmore/docuvault/internal/infrastructure/queue/memory"
	memrepo "github.com/mwhitmore/docuvault/internal/infrastructure/repository/memory"
	"github.com/mwhitmore/docuvault/internal/infrastructure/repository/postgres"
	"github.com/mwhitmore/docuvault/internal/infrastructure/storage/localfs"
	memstore "github.com/mwhitmore/docuvault/internal/infrastructure/storage/memory"
	miniostore "github.com/mwhitmore/docuvault/internal/infrastructure/storage/minio"
)

// App holds every wired component. The api, scan worker and processing
// worker binaries all build the same App and pick what they serve.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue   ports.MessageQueue
	Store   ports.BlobStore
	Repo    ports.DocumentRepository
	Results ports.ProcessorResultRepository
	Scanner ports.VirusScanner

	UploadUC     *usecase.UploadDocumentUseCase
	ProcessingUC *usecase.DocumentProcessingUseCase
	ScanUC       *usecase.AntivirusScanUseCase
	StatusUC     *usecase.ScanStatusUseCase
	Registry     *processor.Registry

	// NATS is the concrete queue when not in dev mode; the dead-letter
	// forwarder needs it. Nil when the in-memory queue is active.
	NATS *natsqueue.Queue

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{Config: cfg, Logger: logger, closeFn: func() {}}
	executor := resilience.NewExecutor(resilience.DefaultConfig())
	if cfg.DevMode {
		if err := wireDev(cfg, app); err != nil {
			return nil, err
		}
	} else if err := wireExternal(ctx, cfg, logger, executor, app); err != nil {
		return nil, err
	}

	app.StatusUC = usecase.NewScanStatusUseCase(app.Store)
	app.UploadUC = usecase.NewUploadDocumentUseCase(app.Store, app.Repo, app.Queue,
		cfg.AllowedMIMEList(), cfg.AllowedOctetExtList())
	app.ScanUC = usecase.NewAntivirusScanUseCase(app.Store, app.Scanner)

	tokens, err := wireTokens(ctx, cfg, logger, app)
	if err != nil {
		app.Close()
		return nil, err
	}
	client := docintel.NewClient(cfg.DocIntelURL, tokens).WithExecutor(executor)
	app.Registry = processor.NewRegistry(
		docintel.NewQualityProcessor(client, app.Store, app.StatusUC),
		docintel.NewIDProofingProcessor(client, app.Store, app.StatusUC),
		pdftext.New(app.Store, app.StatusUC),
	)
	app.ProcessingUC = usecase.NewDocumentProcessingUseCase(app.Queue, app.Results, app.Registry, app.StatusUC)

	return app, nil
}

// wireTokens picks the credential source for the document-intelligence API:
// a background-refreshed token when a token endpoint is configured, the raw
// API key as a static bearer otherwise.
func wireTokens(ctx context.Context, cfg config.Config, logger *slog.Logger, app *App) (ports.TokenSource, error) {
	if cfg.DocIntelTokenURL == "" {
		return docintel.StaticToken(cfg.DocIntelAPIKey), nil
	}

	provider := docintel.NewTokenProvider(
		docintel.FetchFromEndpoint(cfg.DocIntelTokenURL, cfg.DocIntelAPIKey),
		time.Duration(cfg.DocIntelTokenRefreshSeconds)*time.Second,
		logger,
	)
	if err := provider.Start(ctx); err != nil {
		return nil, fmt.Errorf("start token provider: %w", err)
	}
	prev := app.closeFn
	app.closeFn = func() {
		provider.Stop()
		prev()
	}
	return provider, nil
}

// wireDev swaps every external service for its in-memory twin so the whole
// stack runs in one process with no infrastructure. With StoragePath set,
// blobs go to the local filesystem and survive restarts.
func wireDev(cfg config.Config, app *App) error {
	if cfg.StoragePath != "" {
		store, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		app.Store = store
	} else {
		app.Store = memstore.New()
	}
	app.Queue = memqueue.New()
	app.Repo = memrepo.NewDocumentRepository()
	app.Results = memrepo.NewResultRepository()
	app.Scanner = antivirus.NewFake()
	return nil
}

func wireExternal(ctx context.Context, cfg config.Config, logger *slog.Logger, executor *resilience.Executor, app *App) error {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}

	docs := postgres.NewDocumentRepository(db)
	if err := docs.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure documents schema: %w", err)
	}
	results := postgres.NewResultRepository(db)
	if err := results.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure results schema: %w", err)
	}

	store, err := miniostore.New(miniostore.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
		Region:    cfg.MinioRegion,

		UnscannedBucket:  cfg.UnscannedBucket,
		QuarantineBucket: cfg.QuarantineBucket,
		ScannedBucket:    cfg.ScannedBucket,
	})
	if err != nil {
		return fmt.Errorf("init object storage: %w", err)
	}
	if err := store.EnsureBuckets(ctx); err != nil {
		return fmt.Errorf("ensure buckets: %w", err)
	}

	queue, err := natsqueue.New(ctx, natsqueue.Config{
		URL:        cfg.NATSURL,
		StreamName: cfg.NATSStream,
	}, executor, logger)
	if err != nil {
		return fmt.Errorf("init message queue: %w", err)
	}

	app.Store = store
	app.Queue = queue
	app.Repo = docs
	app.Results = results
	app.Scanner = antivirus.NewClamAV(cfg.ClamdAddress)
	app.NATS = queue
	app.closeFn = func() {
		queue.Close()
		_ = db.Close()
	}
	return nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
