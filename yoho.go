// Package yoho is the public API for embedding the yoho forecast query
// engine.
//
// Callers construct an App, start it, and then either drive the selection
// engine directly or hand it to a presentation adapter:
//
//	app, err := yoho.New(ctx,
//	    yoho.WithBaseURL("https://forecasts.example.org"),
//	    yoho.WithLogger(logger),
//	)
//	if err != nil { ... }
//	defer app.Close(ctx)
//	if err := app.Start(ctx); err != nil { ... }
//	result, err := app.Query(ctx, yoho.Request{Country: "840", Metrics: []string{"MAP"}})
//
// The import graph is one-way: yoho (root) imports internal/*, but
// internal/* never imports yoho (root). Public types are aliases of the
// internal model so values pass across the boundary without conversion.
package yoho

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/yoho/internal/backend"
	"github.com/ashita-ai/yoho/internal/config"
	"github.com/ashita-ai/yoho/internal/mcp"
	"github.com/ashita-ai/yoho/internal/model"
	"github.com/ashita-ai/yoho/internal/ratelimit"
	"github.com/ashita-ai/yoho/internal/selection"
	"github.com/ashita-ai/yoho/internal/service/forecasts"
	"github.com/ashita-ai/yoho/internal/service/options"
	"github.com/ashita-ai/yoho/internal/storage"
	"github.com/ashita-ai/yoho/internal/telemetry"
	"github.com/ashita-ai/yoho/migrations"
)

// ErrNoExporter is returned by Export when no export target is configured.
var ErrNoExporter = errors.New("yoho: no exporter configured")

// App is the engine lifecycle. Construct with New(), then Start().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	engine       *selection.Engine
	exporter     storage.Exporter // nil when no export target is configured
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New loads configuration, wires the transport, the option resolver, the
// forecast fetcher, the selection engine and any configured exporters. It
// does NOT issue any backend request; call Start().
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.pathPrefix != "" {
		cfg.PathPrefix = o.pathPrefix
	}
	if o.scope != (model.Scope{}) {
		cfg.DefaultScope = o.scope
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	otelShutdown, err := telemetry.Init(ctx, telemetry.Settings{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	resolver, fetcher := o.resolver, o.fetcher
	if resolver == nil || fetcher == nil {
		client, err := backend.NewClient(backend.Config{
			BaseURL:    cfg.BaseURL,
			PathPrefix: cfg.PathPrefix,
			HTTPClient: o.httpClient,
			Timeout:    cfg.HTTPTimeout,
			UserAgent:  "yoho/" + version,
		})
		if err != nil {
			_ = otelShutdown(ctx)
			return nil, err
		}
		if resolver == nil {
			resolver = options.New(client, logger)
		}
		if fetcher == nil {
			fetcher = forecasts.New(client, logger)
		}
	}

	engine, err := selection.New(selection.Config{
		Resolver: resolver,
		Fetcher:  fetcher,
		Logger:   logger,
		Defaults: cfg.DefaultScope,
		Catalog:  cfg.Catalog,
	})
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}

	exporter := o.exporter
	if exporter == nil {
		exporter, err = newExporter(ctx, cfg, logger)
		if err != nil {
			engine.Close()
			_ = otelShutdown(ctx)
			return nil, err
		}
	}

	var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	logger.Info("yoho ready",
		"version", version,
		"base_url", cfg.BaseURL,
		"scope", cfg.DefaultScope.String(),
		"exports", exporter != nil,
	)

	return &App{
		cfg:          cfg,
		engine:       engine,
		exporter:     exporter,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// newExporter opens every export target named in cfg. It returns nil when
// none is configured.
func newExporter(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Exporter, error) {
	var targets storage.Multi
	fail := func(err error) (storage.Exporter, error) {
		_ = targets.Close()
		return nil, err
	}

	if cfg.ExportSQLitePath != "" {
		e, err := storage.NewSQLiteExporter(ctx, cfg.ExportSQLitePath, logger)
		if err != nil {
			return fail(err)
		}
		targets = append(targets, e)
	}
	if cfg.DatabaseURL != "" {
		e, err := storage.NewPostgresExporter(ctx, cfg.DatabaseURL, migrations.FS, logger)
		if err != nil {
			return fail(err)
		}
		targets = append(targets, e)
	}
	if cfg.MinIO.Enabled() {
		e, err := storage.NewObjectExporter(ctx, storage.ObjectConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Region:    cfg.MinIO.Region,
			UseSSL:    cfg.MinIO.UseSSL,
			Bucket:    cfg.MinIO.Bucket,
			Prefix:    cfg.MinIO.Prefix,
		}, logger)
		if err != nil {
			return fail(err)
		}
		targets = append(targets, e)
	}

	switch len(targets) {
	case 0:
		return nil, nil
	case 1:
		return targets[0], nil
	default:
		return targets, nil
	}
}

// Start issues the initial option resolution for the default scope.
func (a *App) Start(ctx context.Context) error {
	return a.engine.Start(ctx)
}

// Engine returns the selection engine for callers that drive selections
// themselves.
func (a *App) Engine() *selection.Engine {
	return a.engine
}

// Snapshot returns the current engine state.
func (a *App) Snapshot() Snapshot {
	return a.engine.Snapshot()
}

// Version returns the version the App was built with.
func (a *App) Version() string {
	return a.version
}

// Settle waits until no option load or retrieval is in flight and returns
// the state. A failed state is returned together with its error.
func (a *App) Settle(ctx context.Context) (Snapshot, error) {
	snap, err := a.engine.Wait(ctx)
	if err != nil {
		return snap, err
	}
	if snap.Failure != nil {
		return snap, failureError(snap.Failure)
	}
	return snap, nil
}

// Query applies req to the engine field by field, highest first, waiting for
// dependent option lists between steps, then retrieves forecasts for the
// resulting selection. Fields left empty in req are cleared. A previously
// failed operation is retried first.
func (a *App) Query(ctx context.Context, req Request) (Result, error) {
	if a.engine.Snapshot().Status == selection.StatusFailed {
		if err := a.engine.Retry(); err != nil {
			return Result{}, err
		}
	}
	if req.Scope != (model.Scope{}) {
		if err := a.engine.SetScope(req.Scope); err != nil {
			return Result{}, err
		}
	}
	if _, err := a.Settle(ctx); err != nil {
		return Result{}, err
	}

	if req.Country != "" {
		if err := a.engine.SetCountry(req.Country); err != nil {
			return Result{}, err
		}
	} else if err := a.engine.ClearCountry(); err != nil {
		return Result{}, err
	}
	if _, err := a.Settle(ctx); err != nil {
		return Result{}, err
	}

	if err := a.engine.SetMonths(req.Months...); err != nil {
		return Result{}, err
	}
	if err := a.engine.SetCells(req.Cells...); err != nil {
		return Result{}, err
	}
	if err := a.engine.SetMetrics(req.Metrics...); err != nil {
		return Result{}, err
	}

	if err := a.engine.Submit(); err != nil {
		return Result{}, err
	}
	snap, err := a.Settle(ctx)
	if err != nil {
		return Result{}, err
	}
	if snap.Result == nil {
		return Result{}, fmt.Errorf("yoho: retrieval finished without a result")
	}
	return *snap.Result, nil
}

// ExportsEnabled reports whether Export has a target.
func (a *App) ExportsEnabled() bool {
	return a.exporter != nil
}

// Export persists result to every configured export target.
func (a *App) Export(ctx context.Context, result Result) (ExportReceipt, error) {
	if a.exporter == nil {
		return ExportReceipt{}, ErrNoExporter
	}
	receipt, err := a.exporter.Export(ctx, result)
	if err != nil {
		return receipt, fmt.Errorf("yoho: export: %w", err)
	}
	a.logger.Info("result exported",
		"result_id", result.ID,
		"export_id", receipt.ExportID,
		"records", receipt.Records,
		"location", receipt.Location,
	)
	return receipt, nil
}

// ServeMCP serves the MCP tool server over in/out until ctx is cancelled
// or the client disconnects. The engine must have been started.
func (a *App) ServeMCP(ctx context.Context, in io.Reader, out io.Writer) error {
	srv := mcp.New(a.engine, a.exporter, a.limiter, a.logger, a.version)
	a.logger.Info("mcp server listening on stdio")
	return srv.ServeStdio(ctx, in, out)
}

// Close stops the engine and releases exporters, the rate limiter and
// telemetry. It is safe to call once; ctx bounds the telemetry flush.
func (a *App) Close(ctx context.Context) error {
	a.engine.Close()

	var errs []error
	if a.exporter != nil {
		errs = append(errs, a.exporter.Close())
	}
	errs = append(errs, a.limiter.Close())

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.otelShutdown(flushCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// failureError returns the cause of a failed engine state.
func failureError(f *selection.Failure) error {
	if f.Err != nil {
		return f.Err
	}
	return fmt.Errorf("yoho: %s failed: %s", f.Operation, f.Message)
}
