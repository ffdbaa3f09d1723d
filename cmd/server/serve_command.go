package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fperellaholfeld/Episode-Information-Completion/internal/config"
	"github.com/fperellaholfeld/Episode-Information-Completion/internal/web"
)

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the upload API and the ingestion worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// serve runs the HTTP server and the worker until ctx is cancelled or either
// of them fails. Jobs still queued at shutdown are dropped; their uploads
// stay Pending.
func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := web.NewServer(cfg, web.Deps{
		Uploads:  a.store,
		Queue:    a.queue,
		Health:   a.store,
		Recorder: a.metrics,
		Registry: a.registry,
	})

	slog.Info("server starting",
		"addr", cfg.Server.Addr(),
		"queue_capacity", cfg.Queue.Capacity,
		"catalog", cfg.Catalog.BaseURL,
		"upload_dir", cfg.Upload.Dir,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		return a.worker.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		a.queue.Close()
		return err
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		slog.Info("server stopped")
		return nil
	}
	return err
}
