package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	"github.com/leenhawk/gproxy/internal/app"
	"github.com/leenhawk/gproxy/internal/auth"
	"github.com/leenhawk/gproxy/internal/cache"
	"github.com/leenhawk/gproxy/internal/config"
	"github.com/leenhawk/gproxy/internal/provider"
	"github.com/leenhawk/gproxy/internal/server"
	"github.com/leenhawk/gproxy/internal/sink"
	"github.com/leenhawk/gproxy/internal/storage/sqlite"
	"github.com/leenhawk/gproxy/internal/telemetry"
	"github.com/leenhawk/gproxy/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting gproxy", "version", version, "addr", cfg.Server.Addr())

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	dsnLog := cfg.Database.DSN
	if i := strings.IndexByte(dsnLog, '?'); i >= 0 {
		dsnLog = dsnLog[:i]
	}
	slog.Info("database opened", "dsn", dsnLog)

	ctx := context.Background()
	if cfg.Auth.AdminKey == "" {
		cfg.Auth.AdminKey = config.GenerateAdminKey()
		slog.Warn("no admin_key configured, generated one for this run -- set auth.admin_key to persist it", "admin_key", cfg.Auth.AdminKey)
	}
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}
	for _, k := range cfg.Keys {
		if k.Key == "" {
			continue
		}
		slog.Info("api key configured", "role", k.Role, "org_id", k.OrgID)
	}

	// Shared DNS cache for all provider HTTP clients.
	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()

	// Prometheus metrics, needed before the sink and the registry so both
	// can report through the same collector set.
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	// The storage bus: the only writer that ever reaches TrafficStore /
	// ProviderStateStore. Providers and pools hold it by interface only.
	var sinkOpts []sink.Option
	if metrics != nil {
		sinkOpts = append(sinkOpts, sink.WithMetrics(metrics))
	}
	storageBus := sink.New(store, store, sinkOpts...)

	reg := provider.NewRegistry()
	if err := buildRegistry(ctx, store, dnsResolver, cfg.ForwardProxyURL, storageBus, reg); err != nil {
		return err
	}
	slog.Info("providers registered", "names", reg.List())

	apiKeyAuth, err := auth.NewAPIKeyAuth(ctx, store)
	if err != nil {
		return err
	}
	keys := app.NewKeyManager(store)

	// reload rebuilds every provider's pool from the store and refreshes
	// the auth snapshot, under reloadMu so two concurrent admin mutations
	// never interleave their rebuilds.
	var reloadMu sync.Mutex
	reload := func(ctx context.Context) error {
		reloadMu.Lock()
		defer reloadMu.Unlock()
		if err := buildRegistry(ctx, store, dnsResolver, cfg.ForwardProxyURL, storageBus, reg); err != nil {
			return err
		}
		return apiKeyAuth.Reload(ctx)
	}

	var responseCache server.Cache
	if cfg.Cache.Enabled {
		mc, cacheErr := cache.NewMemory(cfg.Cache.MaxSize, cfg.Cache.DefaultTTL)
		if cacheErr != nil {
			return cacheErr
		}
		responseCache = mc
		slog.Info("response cache enabled", "max_size", cfg.Cache.MaxSize, "default_ttl", cfg.Cache.DefaultTTL)
	}

	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		shutdown, err := telemetry.SetupTracing(ctx, endpoint, sampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("gproxy/server")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint, "sample_rate", sampleRate)
		}
	}

	handler := server.New(server.Deps{
		Auth:           apiKeyAuth,
		Registry:       reg,
		Store:          store,
		Keys:           keys,
		AuthKeys:       apiKeyAuth,
		Reload:         reload,
		Sink:           storageBus,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
		ReadyCheck:     store.Ping,
		Cache:          responseCache,
		CacheTTL:       cfg.Cache.DefaultTTL,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// Background workers: only the storage bus drain loop today, run
	// through the same supervised Runner so a future worker slots in
	// without touching the shutdown sequencing below.
	runner := worker.NewRunner(storageBus)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("gproxy ready", "addr", cfg.Server.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	// Shutdown HTTP first, then workers, so in-flight requests finish
	// recording before the storage bus stops draining.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("gproxy stopped")
	return nil
}
