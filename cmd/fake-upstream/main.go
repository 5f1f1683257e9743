// Command fake-upstream serves a generated season in the shape of the public
// FPL API, for local runs and load tests of fplcache.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/fplcache/internal/fakefpl"
	"github.com/okian/fplcache/pkg/logger"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

type flags struct {
	addr   string
	prefix string
	format string
	cfg    fakefpl.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := flags{cfg: fakefpl.DefaultConfig()}
	cmd := &cobra.Command{
		Use:   "fake-upstream",
		Short: "Serve a generated FPL season over HTTP",
		Long: `Serve bootstrap-static and fixtures documents for a deterministic
generated season. Point upstream_base_url at http://<addr><prefix>.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, f)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&f.addr, "addr", ":9090", "listen address")
	fs.StringVar(&f.prefix, "prefix", "/api", "path prefix of the API")
	fs.StringVar(&f.format, "log-format", logger.FormatText, "log format: text or json")
	fs.IntVar(&f.cfg.Teams, "teams", f.cfg.Teams, "number of teams")
	fs.IntVar(&f.cfg.PlayersPerTeam, "players", f.cfg.PlayersPerTeam, "players per team")
	fs.IntVar(&f.cfg.Gameweeks, "gameweeks", f.cfg.Gameweeks, "number of gameweeks")
	fs.IntVar(&f.cfg.CurrentGameweek, "current", f.cfg.CurrentGameweek, "current gameweek")
	fs.Uint64Var(&f.cfg.Seed, "seed", f.cfg.Seed, "generator seed")
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, f flags) error {
	if err := logger.Init(logger.WithFormat(f.format), logger.WithWriter(cmd.ErrOrStderr())); err != nil {
		return err
	}
	log := logger.Get().Named("fake-upstream")

	data := fakefpl.Generate(f.cfg)
	handler := fakefpl.NewServer(data, fakefpl.WithPrefix(f.prefix), fakefpl.WithServerLogger(log))
	srv := &http.Server{
		Addr:              f.addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "serving generated season",
			logger.String("addr", f.addr),
			logger.String("prefix", f.prefix),
			logger.Int("teams", len(data.Teams)),
			logger.Int("players", len(data.Players)),
			logger.Int("fixtures", len(data.Fixtures)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		err = fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		log.Error(ctx, "shutdown failed", logger.Error(serr))
	}
	return err
}
