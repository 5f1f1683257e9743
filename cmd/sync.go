package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/okian/fplcache/internal/domain/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle and print its run record",
		Long: `Fetch every configured category, publish a new snapshot and exit.

Useful with store_driver=sqlite to seed a store before serving.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return syncOnce(ctx, cmd)
		},
	}
}

func syncOnce(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := setup(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	svc, err := newService(cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Stop(context.WithoutCancel(ctx)) }()

	run, runErr := svc.Coordinator().Run(ctx, model.TriggerCLI)
	out, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if runErr != nil {
		return fmt.Errorf("sync %s: %w", run.ID, runErr)
	}
	return nil
}
