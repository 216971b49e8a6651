package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"spacegraph/internal/config"
	"spacegraph/internal/core"
	"spacegraph/internal/core/bootstrap"
	"spacegraph/internal/domain"
	"spacegraph/internal/handler"
	"spacegraph/internal/hub"
	"spacegraph/internal/loader"
	"spacegraph/internal/metrics"
	"spacegraph/internal/repository/sqlite"
	"spacegraph/internal/service"
	"spacegraph/internal/telemetry"
	"spacegraph/internal/watcher"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion and query server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	logger, level := setupLogger(cfg)
	if path != "" {
		logger.Info("config loaded", "path", path)
	}
	logger.Info("starting spacegraph", "version", Version, "tunables", cfg.Summary())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(cfg.Tracing(Version))
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	deps := core.Deps{Logger: logger, Metrics: m}
	if cfg.Trace.Path != "" {
		repo, err := sqlite.New(cfg.Trace.Path)
		if err != nil {
			return err
		}
		defer repo.Close()
		deps.Recorder = repo
		logger.Info("recording trace", "path", cfg.Trace.Path)
	}

	bus := service.NewEventBus()
	deps.Notify = bus.Notify
	c := core.New(cfg.CoreOptions(), deps)
	svc := service.NewGraphService(c, bus, cfg.ServiceLimits())
	if _, err := loader.LoadAll(ctx, c, cfg.Graph.SeedFiles, time.Now(), logger); err != nil {
		return err
	}
	runner := core.NewRunner(c, cfg.Ingest.TickInterval.Duration(), cfg.GC.Interval.Duration(), logger)

	events := hub.New(logger)
	eventCh := make(chan service.Event, 256)
	bus.Subscribe(eventCh)

	mux := handler.NewMux(handler.Routes{
		Graph:  handler.NewGraphHandler(svc, logger),
		Events: events,
		Ingest: handler.NewIngestHandler(c.Registry(), m, logger, handler.IngestOptions{
			MaxMessageSize: cfg.Ingest.MaxMessageSize,
			AllowedOrigins: cfg.Ingest.AllowedOrigins,
		}),
		Gatherer: reg,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:  cfg.Server.IdleTimeout.Duration(),
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error {
		events.Run(gctx)
		return nil
	})
	g.Go(func() error {
		events.Forward(gctx, eventCh)
		return nil
	})
	if src := cfg.Graph.SelfSource; src != "" {
		// refresh well inside the TTL so the host never expires
		every := cfg.GC.TTL.Duration() / 3
		g.Go(func() error {
			return bootstrap.Keep(gctx, c, domain.NodeKey(src), bootstrap.DefaultProbe(), every, time.Now, logger)
		})
	}
	if path != "" {
		reload := func() {
			next, _, err := config.LoadFromPath(path)
			if err != nil {
				logger.Warn("config reload rejected", "path", path, "error", err)
				return
			}
			c.SetOptions(next.CoreOptions())
			svc.SetLimits(next.ServiceLimits())
			runner.SetIntervals(next.Ingest.TickInterval.Duration(), next.GC.Interval.Duration())
			level.Set(next.Logging.SlogLevel())
			logger.Info("config reloaded", "tunables", next.Summary())
		}
		w := watcher.New(path, reload, logger)
		g.Go(func() error { return w.Watch(gctx) })
	}
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return server.Shutdown(sctx)
	})

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
