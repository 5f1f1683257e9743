package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/okian/fplcache/internal/adapters/http/api"
	"github.com/okian/fplcache/internal/adapters/http/swagger"
	"github.com/okian/fplcache/internal/adapters/repository"
	"github.com/okian/fplcache/internal/adapters/scheduler"
	"github.com/okian/fplcache/internal/adapters/upstream"
	app "github.com/okian/fplcache/internal/app"
	"github.com/okian/fplcache/internal/config"
	"github.com/okian/fplcache/internal/domain/syncer"
	"github.com/okian/fplcache/pkg/logger"
)

// version is set at build time.
var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "fplcache",
		Short:        "Versioned cache of Fantasy Premier League data",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newSyncCmd())
	return root
}

// setup loads configuration and initializes logging on w.
func setup(ctx context.Context, w io.Writer) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithWriter(w)); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

// newService wires the store, upstream client and service from cfg. The
// timer is attached only when schedule is set.
func newService(cfg *config.Config, schedule bool) (*app.Service, error) {
	categories, err := cfg.FetchCategories()
	if err != nil {
		return nil, err
	}
	store, err := repository.Open(cfg.StoreDriver, cfg.StorePath,
		repository.WithRetention(cfg.RetentionGenerations, cfg.RetentionGrace),
	)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	client := upstream.New(
		upstream.WithBaseURL(cfg.UpstreamBaseURL),
		upstream.WithTimeout(cfg.UpstreamTimeout),
		upstream.WithMaxAttempts(cfg.UpstreamMaxAttempts),
		upstream.WithBackoff(cfg.UpstreamBackoffBase, cfg.UpstreamBackoffMax),
		upstream.WithUserAgent("fplcache/"+version),
	)

	opts := []app.Option{
		app.WithAPIKey(cfg.SyncAPIKey),
		app.WithStaleAfter(cfg.StaleAfter),
		app.WithMaxQueryLimit(cfg.MaxQueryLimit),
		app.WithSyncOptions(
			syncer.WithCategories(categories...),
			syncer.WithTimeout(cfg.SyncTimeout),
			syncer.WithCarryForward(cfg.CarryForward),
			syncer.WithHistorySize(cfg.RunHistory),
		),
	}
	if schedule && cfg.SyncInterval > 0 {
		opts = append(opts, app.WithScheduler(
			scheduler.WithInterval(cfg.SyncInterval),
			scheduler.WithSyncOnStart(cfg.SyncOnStart),
		))
	}
	return app.New(store, client, opts...), nil
}

// newHandler registers every route and wraps the mux for tracing.
func newHandler(ctx context.Context, svc *app.Service) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc).Register(ctx, mux)
	return otelhttp.NewHandler(mux, "fplcache")
}
