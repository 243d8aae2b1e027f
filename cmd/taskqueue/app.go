package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	taskqueue "github.com/Swind/go-task-queue"
	"github.com/Swind/go-task-queue/config"
	"github.com/Swind/go-task-queue/core"
	"github.com/Swind/go-task-queue/observability/events"
	obs "github.com/Swind/go-task-queue/observability/prometheus"
	"github.com/Swind/go-task-queue/observer"
	"github.com/Swind/go-task-queue/operation"
	"github.com/Swind/go-task-queue/pipeline"
)

// shutdownTimeout bounds how long cancelled tasks get to wind down.
const shutdownTimeout = 10 * time.Second

type runOptions struct {
	configPath  string
	logLevel    string
	metricsAddr string
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, opts runOptions, out io.Writer) error {
	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(opts.logLevel)}))
	slog.SetDefault(slogger)
	logger := core.NewSlogLogger(slogger)

	cfg, err := config.LoadFromFile(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	reg := prom.NewRegistry()
	exporter, err := obs.NewMetricsExporter(cfg.Metrics.Namespace, reg, obs.ExporterOptions{})
	if err != nil {
		return fmt.Errorf("create metrics exporter: %w", err)
	}
	poller, err := obs.NewSnapshotPoller(cfg.Metrics.Namespace, reg, cfg.Metrics.PollInterval)
	if err != nil {
		return fmt.Errorf("create snapshot poller: %w", err)
	}

	pool := taskqueue.NewGoroutineThreadPoolWithConfig(cfg.Queue.Name+"-pool", cfg.Workers, &core.TaskSchedulerConfig{
		PanicHandler:        &core.DefaultPanicHandler{Logger: logger},
		Metrics:             exporter,
		RejectedTaskHandler: &core.DefaultRejectedTaskHandler{Logger: logger},
	})
	// Workers outlive ctx so cancelled tasks can still wind down.
	pool.Start(context.Background())
	defer pool.Stop()

	exclusivity := operation.NewExclusivityController(logger)
	defer exclusivity.Close()

	queueConfig := &operation.QueueConfig{
		Name:            cfg.Queue.Name,
		Logger:          logger,
		Metrics:         exporter,
		Exclusivity:     exclusivity,
		HistoryCapacity: cfg.Queue.HistoryCapacity,
	}
	queue := operation.NewQueue(pool, queueConfig)
	defer queue.Close()

	poller.AddPool(pool.ID(), pool)
	poller.AddQueue(queue.Name(), queue)
	poller.Start(ctx)
	defer poller.Stop()

	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr, reg, slogger)
		defer stop()
	}

	observers := []operation.Observer{observer.Logging(logger)}
	if cfg.Events.Enabled {
		conn, err := events.Connect(cfg.Events.URL, appName)
		if err != nil {
			return err
		}
		defer conn.Close()
		observers = append(observers, events.NewObserver(conn, events.Options{
			SubjectPrefix: cfg.Events.SubjectPrefix,
			Logger:        logger,
		}))
	}

	builder := &pipeline.Builder{Pool: pool, QueueConfig: queueConfig, Observers: observers}
	units, err := builder.Build(cfg.Tasks)
	if err != nil {
		return err
	}

	slogger.Info("Pipeline starting", "queue", queue.Name(), "tasks", len(units), "workers", cfg.Workers)
	queue.SubmitAll(units, false)

	if err := queue.WaitUntilAllTasksAreFinished(ctx); err != nil {
		slogger.Warn("Interrupted, cancelling remaining tasks")
		queue.CancelAll()
		waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := queue.WaitUntilAllTasksAreFinished(waitCtx); err != nil {
			return fmt.Errorf("tasks did not stop within %s: %w", shutdownTimeout, err)
		}
	}

	return report(out, queue.Stats(), units)
}

func report(out io.Writer, stats core.QueueStats, units []operation.Runnable) error {
	fmt.Fprintf(out, "%s: %d succeeded, %d failed, %d cancelled\n",
		stats.Name, stats.Succeeded, stats.Failed, stats.Cancelled)

	var failed []string
	for _, u := range units {
		t, ok := u.(interface{ Errors() []error })
		if !ok {
			continue
		}
		errs := t.Errors()
		if len(errs) == 0 {
			continue
		}
		failed = append(failed, u.Name())
		for _, err := range errs {
			fmt.Fprintf(out, "  %s: %v\n", u.Name(), err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d task(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

func serveMetrics(addr string, reg *prom.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("Serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}
