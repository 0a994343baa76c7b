// Command trackevent sends analytics events through the configured
// invocation channel.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	app "github.com/okian/trackbridge/internal/app"
	"github.com/okian/trackbridge/internal/config"
	"github.com/okian/trackbridge/internal/emitter"
	"github.com/okian/trackbridge/pkg/logger"
	"github.com/okian/trackbridge/pkg/metrics"
)

const (
	metricsReadHeaderTimeout = 5 * time.Second
	metricsShutdownTimeout   = 5 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run executes the command and returns the process exit code.
func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("trackevent", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var props emitter.PropFlag
	var (
		name        = fs.String("name", "", "Event name to send once")
		stringProps = fs.Bool("string-props", false, "Send every property value as text")
		file        = fs.String("file", "", "NDJSON file of events to replay")
		generate    = fs.Int("generate", 0, "Number of synthetic events to replay")
		logFile     = fs.String("log", "", "Also write logs to this file")
		verbose     = fs.Bool("verbose", false, "Enable verbose logging")
		help        = fs.Bool("help", false, "Show help")
	)
	fs.Var(&props, "prop", "Event property key=value, repeatable")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *help {
		emitter.ShowHelp(stderr)
		return 0
	}

	closer, err := emitter.SetupLogging(*logFile, *verbose)
	if err != nil {
		_, _ = io.WriteString(stderr, "failed to setup logging: "+err.Error()+"\n")
		return 1
	}
	defer func() { _ = closer.Close() }()
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Error(ctx, "failed to load config", logger.Error(err))
		return 1
	}
	if !*verbose {
		if err := logger.SetLevelString(cfg.LogLevel); err != nil {
			log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
			_ = logger.SetLevelString("info")
		}
	}

	if cfg.MetricsAddr != "" {
		shutdown := serveMetrics(ctx, cfg.MetricsAddr, log)
		defer shutdown()
	}

	svc := app.New(append(app.OptionsFromConfig(cfg), app.WithLogger(log))...)
	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		return 1
	}
	defer svc.Stop()
	defer svc.Client().TrackPanic(ctx)

	_, err = emitter.Run(ctx, &emitter.Config{
		Name:        *name,
		Props:       props,
		StringProps: *stringProps,
		File:        *file,
		Generate:    *generate,
		LogFile:     *logFile,
		Verbose:     *verbose,
	}, svc)
	switch {
	case errors.Is(err, emitter.ErrNothingToSend):
		emitter.ShowHelp(stderr)
		return 2
	case err != nil:
		log.Error(ctx, "trackevent failed", logger.Error(err))
		return 1
	}
	return 0
}

// serveMetrics exposes the metrics registry on addr until the returned func
// is called.
func serveMetrics(ctx context.Context, addr string, log logger.Logger) func() {
	if err := metrics.RegisterRuntimeCollectors(); err != nil {
		log.Warn(ctx, "runtime metrics unavailable", logger.Error(err))
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: metricsReadHeaderTimeout}

	go func() {
		log.Info(ctx, "serving metrics", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(ctx, "metrics server failed", logger.Error(err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
