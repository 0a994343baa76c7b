// Command devhost is a local host for the HTTP invocation channel. It
// acknowledges track_event invocations by logging them and, when a PostHog
// key is configured, forwards them.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/trackbridge/internal/adapters/channel/posthogch"
	"github.com/okian/trackbridge/internal/adapters/channel/router"
	"github.com/okian/trackbridge/internal/adapters/http/api"
	"github.com/okian/trackbridge/internal/adapters/http/swagger"
	app "github.com/okian/trackbridge/internal/app"
	"github.com/okian/trackbridge/internal/config"
	"github.com/okian/trackbridge/pkg/logger"
	"github.com/okian/trackbridge/pkg/metrics"
	"github.com/okian/trackbridge/pkg/tracking"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	loggerInstance := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	if err := metrics.RegisterRuntimeCollectors(); err != nil {
		loggerInstance.Warn(ctx, "runtime metrics unavailable", logger.Error(err))
	}

	var forwarder api.Forwarder
	if cfg.PostHogAPIKey != "" {
		svc := app.New(
			app.WithLogger(loggerInstance.Named("forward")),
			app.WithPostHog(posthogch.Config{
				APIKey:     cfg.PostHogAPIKey,
				Endpoint:   cfg.PostHogEndpoint,
				DistinctID: cfg.DistinctID,
			}),
		)
		if err := svc.Start(ctx); err != nil {
			loggerInstance.Error(ctx, "failed to start posthog forwarding", logger.Error(err))
			os.Exit(1)
		}
		defer svc.Stop()
		forwarder = svc
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(ctx, loggerInstance, forwarder),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		loggerInstance.Info(ctx, "starting dev host",
			logger.String("addr", cfg.Addr),
			logger.String("invoke", api.InvokePrefix+"/{command}"),
			logger.Bool("forwarding", forwarder != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggerInstance.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	loggerInstance.Info(context.Background(), "shutting down dev host...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	loggerInstance.Info(shutdownCtx, "dev host stopped")
}

// newHandler builds the dev host routes. fwd may be nil.
func newHandler(ctx context.Context, l logger.Logger, fwd api.Forwarder) http.Handler {
	opts := []api.ReceiverOption{api.WithLogger(l.Named("events"))}
	if fwd != nil {
		opts = append(opts, api.WithForwarder(fwd))
	}
	recv := api.NewReceiver(opts...)

	invoker := router.New(router.WithLogger(l.Named("router")))
	invoker.Handle(tracking.TrackEventCommand, router.TrackEventHandler(recv.Receive))

	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(invoker, recv).Register(ctx, mux)
	return mux
}
