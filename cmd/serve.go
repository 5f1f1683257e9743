package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/fplcache/internal/domain/model"
	"github.com/okian/fplcache/internal/domain/syncer"
	"github.com/okian/fplcache/pkg/logger"
	"github.com/okian/fplcache/pkg/tracing"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API and run timer-driven syncs",
		Long: `Start the HTTP server.

Reads are answered from the latest committed snapshot. A sync cycle runs
every sync_interval, on POST /api/v1/sync, and optionally on start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd)
		},
	}
}

func serve(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := setup(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	log := logger.Get()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "fplcache",
		ServiceVersion: version,
		UseStdout:      cfg.TracingStdout,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Error(ctx, "tracing shutdown failed", logger.Error(err))
		}
	}()

	svc, err := newService(cfg, true)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	if cfg.SyncOnStart && cfg.SyncInterval == 0 {
		if _, err := svc.TriggerSync(ctx, model.TriggerTimer); err != nil && !errors.Is(err, syncer.ErrSyncAlreadyInProgress) {
			log.Warn(ctx, "initial sync not started", logger.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(ctx, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		log.Error(ctx, "HTTP server failed", logger.Error(err))
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(serr))
	}
	if serr := svc.Stop(shutdownCtx); serr != nil {
		log.Error(ctx, "service shutdown failed", logger.Error(serr))
	}

	log.Info(ctx, "server stopped")
	return err
}
