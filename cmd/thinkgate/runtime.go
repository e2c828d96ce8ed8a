package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/zen-systems/thinkgate/pkg/adapter"
	"github.com/zen-systems/thinkgate/pkg/budget"
	"github.com/zen-systems/thinkgate/pkg/config"
	"github.com/zen-systems/thinkgate/pkg/dispatch"
	"github.com/zen-systems/thinkgate/pkg/metrics"
	"github.com/zen-systems/thinkgate/pkg/mode"
	"github.com/zen-systems/thinkgate/pkg/record"
	"github.com/zen-systems/thinkgate/pkg/search"
	"github.com/zen-systems/thinkgate/pkg/stepgen"
	"github.com/zen-systems/thinkgate/pkg/store"
	"github.com/zen-systems/thinkgate/pkg/telemetry"
)

// runtime is the fully wired scheduler for one process.
type runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher
	store      record.Store
	sink       *record.AsyncSink
	telemetry  telemetry.Shutdown
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if jsonLogs {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadWithSchedulerFile(configFile)
	}
	return config.Load()
}

// openStore opens only the session store, for commands that read history.
func openStore(logger *slog.Logger) (record.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return store.OpenFromConfig(cfg, logger)
}

func newRuntime(ctx context.Context, logger *slog.Logger) (rt *runtime, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	sc := cfg.Scheduler
	if adapterFlag != "" {
		sc.Generation.Adapter = adapterFlag
	}
	if modelFlag != "" {
		sc.Generation.Model = modelFlag
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "thinkgate",
		ServiceVersion: version,
		TraceExporter:  sc.Telemetry.TraceExporter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init telemetry: %w", err)
	}

	// Undo whatever was started if a later step fails.
	var cleanup []func(context.Context) error
	cleanup = append(cleanup, shutdownTelemetry)
	defer func() {
		if err == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(cleanup) - 1; i >= 0; i-- {
			if cerr := cleanup[i](ctx); cerr != nil {
				logger.Warn("cleanup after failed startup", slog.String("error", cerr.Error()))
			}
		}
	}()

	aliases, err := config.LoadAliasesFromDir(cfg.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load model aliases: %w", err)
	}
	model, err := aliases.ResolveGeneration(sc.Generation)
	if err != nil {
		return nil, err
	}
	a, err := adapter.NewFromConfig(sc.Generation.Adapter, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapter: %w", err)
	}

	engine, err := search.NewEngine(stepgen.New(a, model, stepgen.WithLogger(logger)), sc, search.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	allocator, err := budget.NewAllocator(sc, budget.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	st, err := store.OpenFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	cleanup = append(cleanup, func(context.Context) error { return st.Close() })
	sink := record.NewAsyncSink(st,
		record.WithLogger(logger),
		record.WithQueueSize(sc.Sink.QueueSize),
		record.WithRetry(sc.Sink.MaxRetries,
			time.Duration(sc.Sink.BaseBackoffMs)*time.Millisecond,
			time.Duration(sc.Sink.MaxBackoffMs)*time.Millisecond),
		record.WithResultHook(func(_ *record.Session, err error) { metrics.SinkWrite(err) }),
	)
	cleanup = append(cleanup, sink.Close)

	d, err := dispatch.New(mode.NewSelector(sc.Mode, mode.WithLogger(logger)), allocator, engine, sink, sc.Dispatch,
		dispatch.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	logger.Debug("runtime ready",
		slog.String("adapter", a.Name()),
		slog.String("model", model),
		slog.String("sink", sc.Sink.Kind),
		slog.String("sink_path", cfg.SinkPath()))

	return &runtime{
		cfg:        cfg,
		logger:     logger,
		dispatcher: d,
		store:      st,
		sink:       sink,
		telemetry:  shutdownTelemetry,
	}, nil
}

// Close stops sessions, drains the sink and releases the store.
func (r *runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var errs []error
	if err := r.dispatcher.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher: %w", err))
	}
	if err := r.sink.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sink: %w", err))
	}
	if err := r.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := r.telemetry(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}
