// Package app provides the unified application lifecycle for the Anvilchain
// service: it wires the signer, batch pipeline, alarm detector, journal,
// archive, ingest, and HTTP API, and owns startup and graceful shutdown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/anvilchain/anvilchain/internal/alarm"
	"github.com/anvilchain/anvilchain/internal/anchor"
	httpapi "github.com/anvilchain/anvilchain/internal/api/http"
	"github.com/anvilchain/anvilchain/internal/batch"
	"github.com/anvilchain/anvilchain/internal/config"
	"github.com/anvilchain/anvilchain/internal/digest"
	"github.com/anvilchain/anvilchain/internal/event"
	"github.com/anvilchain/anvilchain/internal/ingest"
	"github.com/anvilchain/anvilchain/internal/journal"
	"github.com/anvilchain/anvilchain/internal/observability"
	"github.com/anvilchain/anvilchain/internal/server"
	"github.com/anvilchain/anvilchain/internal/storage"
	"github.com/anvilchain/anvilchain/pkg/types"
)

// App manages the Anvilchain service lifecycle.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	signer       digest.Signer
	builder      *event.Builder
	store        *batch.SQLiteStore
	manager      *batch.Manager
	journal      *journal.Journal
	detector     *alarm.Detector
	orchestrator *anchor.Orchestrator
	pipeline     *observability.PipelineStats
	mqttSource   *ingest.MQTTSource
	httpServer   *http.Server
	shutdown     *server.ShutdownManager

	retryStop chan struct{}
	stopPrune func()
}

// Pipeline statistics keep an hour of per-tag history; pruning on a fixed
// cadence keeps churning tag names from growing the tracker without bound.
const (
	statsWindow        = time.Hour
	statsPruneInterval = 10 * time.Minute
)

// New creates an App with the given configuration.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		shutdown:  server.NewShutdownManager(server.ShutdownConfig{}),
		retryStop: make(chan struct{}),
	}, nil
}

// Start wires and starts all components. Journal recovery runs before the
// ingest surfaces open, so recovered events precede new arrivals in the
// batch order.
func (a *App) Start(ctx context.Context) error {
	if err := a.initSigner(); err != nil {
		return err
	}

	store, err := batch.NewSQLiteStore(a.cfg.BatchDBPath())
	if err != nil {
		return fmt.Errorf("failed to open batch store: %w", err)
	}
	a.store = store
	a.manager = batch.NewManager(a.cfg.AccumulatorConfig(), store, a.logger)

	jnl, err := journal.Open(a.cfg.Journal.Dir, a.cfg.Journal.MaxSegmentSize)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	a.journal = jnl

	a.pipeline = observability.NewPipelineStats(statsWindow)
	a.stopPrune = a.pipeline.StartPruning(statsPruneInterval)

	submitter, err := a.initSubmitter()
	if err != nil {
		return err
	}
	a.orchestrator = anchor.NewOrchestrator(a.cfg.Anchor.Policy, a.manager, submitter, jnl, a.logger)

	archiveStore, err := a.initArchiveStore(ctx)
	if err != nil {
		return err
	}
	if archiveStore != nil {
		a.orchestrator.Subscribe(storage.NewArchiver(archiveStore, a.logger))
	}

	a.detector = alarm.NewDetector(a.cfg.SiteID, a.builder, a.logger)
	for _, rule := range a.cfg.Alarms {
		a.detector.Register(rule.Definition())
	}
	a.detector.Subscribe(a.orchestrator)
	a.detector.Subscribe(alarm.EventSinkFunc(func(ev *types.Event) {
		if ev.Payload.Alarm != nil {
			a.pipeline.RecordEvent(ev.Payload.Alarm.TagName, string(ev.EventType))
		}
	}))

	// Re-enqueue journaled events that never reached a stored batch.
	recovered, err := journal.Recover(ctx, a.cfg.Journal.Dir, store, func(ev *types.Event) error {
		return a.manager.AddEvent(ctx, ev)
	}, a.logger)
	if err != nil {
		return fmt.Errorf("journal recovery failed: %w", err)
	}
	if recovered > 0 {
		a.logger.Info("recovered unbatched events from journal", zap.Int("count", recovered))
	}

	if a.cfg.MQTT.Enabled {
		a.mqttSource = ingest.NewMQTTSource(a.cfg.MQTT.MQTTConfig, func(r types.TagReading) {
			a.detector.ProcessReading(r)
		}, a.logger)
		if err := a.mqttSource.Start(); err != nil {
			return fmt.Errorf("failed to start MQTT ingest: %w", err)
		}
	}

	a.startHTTPServer()
	a.startRetryLoop(ctx)
	a.registerClosers()

	a.logger.Info("anvilchain started",
		zap.String("site_id", a.cfg.SiteID),
		zap.String("http_addr", a.cfg.HTTP.Addr),
		zap.Bool("mqtt_enabled", a.cfg.MQTT.Enabled),
		zap.Bool("ledger_enabled", a.cfg.Anchor.GatewayURL != ""))
	return nil
}

// initSigner derives the HMAC key from the configured seed, or generates an
// ephemeral key with a loud warning.
func (a *App) initSigner() error {
	var key []byte
	if a.cfg.SigningSeed != "" {
		key = digest.DeriveKey(a.cfg.SigningSeed)
	} else {
		var err error
		key, err = digest.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate signing key: %w", err)
		}
		a.logger.Warn("no signing seed configured, using ephemeral key; signatures will not survive restart")
	}

	signer, err := digest.NewHMACSigner(a.cfg.SiteID, key)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}
	a.signer = signer
	a.builder = event.NewBuilder(signer)
	return nil
}

// initSubmitter builds the ledger submitter, instrumented with latency
// recording. Returns nil when no gateway is configured.
func (a *App) initSubmitter() (anchor.Submitter, error) {
	if a.cfg.Anchor.GatewayURL == "" {
		a.logger.Warn("no ledger gateway configured; batches will stay PENDING")
		return nil, nil
	}

	inner := anchor.NewHTTPSubmitter(a.cfg.Anchor.GatewayURL, a.cfg.Anchor.APIKey, a.cfg.Anchor.SubmitTimeout)
	pipeline := a.pipeline
	return anchor.SubmitterFunc(func(ctx context.Context, batchID, merkleRoot string, eventCount int) (string, error) {
		start := time.Now()
		txRef, err := inner.Submit(ctx, batchID, merkleRoot, eventCount)
		pipeline.RecordAnchor(time.Since(start), err == nil)
		return txRef, err
	}), nil
}

// initArchiveStore builds the manifest archive backend.
func (a *App) initArchiveStore(ctx context.Context) (storage.ObjectStore, error) {
	switch a.cfg.Storage.Type {
	case "s3":
		return storage.NewS3Store(ctx, a.cfg.Storage.S3.Bucket, storage.S3Config{
			Region:       a.cfg.Storage.S3.Region,
			Endpoint:     a.cfg.Storage.S3.Endpoint,
			UsePathStyle: a.cfg.Storage.S3.Endpoint != "",
		})
	default:
		return storage.NewLocalStore(a.cfg.Storage.Path)
	}
}

// startHTTPServer starts the API server with shutdown-aware middleware.
func (a *App) startHTTPServer() {
	router := httpapi.NewRouter(httpapi.RouterDeps{
		Builder:      a.builder,
		Signer:       a.signer,
		Manager:      a.manager,
		Orchestrator: a.orchestrator,
		Detector:     a.detector,
		Pipeline:     a.pipeline,
		Logger:       a.logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.healthHandler)
	mux.Handle("/", server.ShutdownMiddleware(a.shutdown)(router))

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("http server failed", zap.Error(err))
		}
	}()
}

// healthHandler reports liveness and pending pipeline depth.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if a.shutdown.IsShuttingDown() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"status":%q,"pending_events":%d}`+"\n", status, a.manager.PendingEvents())
}

// startRetryLoop re-submits FAILED batches on the configured interval.
func (a *App) startRetryLoop(ctx context.Context) {
	interval := a.cfg.Anchor.RetryInterval
	if interval <= 0 || a.cfg.Anchor.GatewayURL == "" {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := a.orchestrator.RetryFailed(ctx); err != nil {
					a.logger.Warn("batch retry pass failed", zap.Error(err))
				} else if n > 0 {
					a.logger.Info("re-anchored failed batches", zap.Int("count", n))
				}
			case <-a.retryStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// registerClosers orders shutdown: stop ingest, drain the pipeline, stop the
// HTTP server, then close the journal and store. Closers run LIFO.
func (a *App) registerClosers() {
	a.shutdown.RegisterCloser(server.CloserFunc(a.store.Close))
	a.shutdown.RegisterCloser(server.CloserFunc(a.journal.Close))
	a.shutdown.RegisterCloser(&server.HTTPServerCloser{Server: a.httpServer})
	a.shutdown.RegisterCloser(server.CloserFunc(a.orchestrator.Stop))
	a.shutdown.RegisterCloser(server.CloserFunc(func() error {
		close(a.retryStop)
		a.stopPrune()
		if a.mqttSource != nil {
			a.mqttSource.Stop()
		}
		return nil
	}))
}

// Run starts the app and blocks until a shutdown signal.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	return a.shutdown.ListenForSignals(ctx)
}

// Stop triggers graceful shutdown.
func (a *App) Stop(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx, "stop requested")
}
